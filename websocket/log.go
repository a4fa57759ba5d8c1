package websocket

import "github.com/rs/zerolog"

// connLogger binds the fields every log line for a connection should
// carry, the way pkg/metrics in the logging-reference project takes a
// zerolog.Logger by value rather than reaching for a package-global.
func connLogger(base zerolog.Logger, id uint64, remoteAddr string) zerolog.Logger {
	return base.With().
		Uint64("conn_id", id).
		Str("remote_addr", remoteAddr).
		Logger()
}
