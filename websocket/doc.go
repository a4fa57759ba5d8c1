// Package websocket implements the server side of RFC 6455: the
// per-connection frame parser, fragment assembler, permessage-deflate
// pipeline, outbound queue and the two-phase close handshake.
//
// The package is built around non-blocking I/O: every read and write goes
// through a [ByteTransport], and a [Connection] is driven by readiness
// callbacks from an event loop (see package eventloop) rather than a
// blocking read loop. The HTTP Upgrade handshake, TLS, and the event loop
// implementation itself are kept separate so the core can be embedded in
// hosts with their own I/O model.
package websocket
