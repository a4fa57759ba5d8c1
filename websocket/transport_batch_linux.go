//go:build linux

package websocket

import (
	"net"

	"golang.org/x/sys/unix"
)

// corkBatcher sets/clears TCP_CORK around a burst of writes produced by a
// single readable event, batching them into fewer outbound TCP segments.
// Grounded on the same "best-effort platform hint" shape as uWebSockets'
// TCP_CORK usage around its parse-and-reply loop.
type corkBatcher struct {
	fd int
}

func newRawBatcher(conn *net.TCPConn) rawBatcher {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil
	}

	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return nil
	}
	return &corkBatcher{fd: fd}
}

func (b *corkBatcher) begin() {
	_ = unix.SetsockoptInt(b.fd, unix.IPPROTO_TCP, unix.TCP_CORK, 1)
}

func (b *corkBatcher) end() {
	_ = unix.SetsockoptInt(b.fd, unix.IPPROTO_TCP, unix.TCP_CORK, 0)
}
