package websocket

import (
	"errors"
	"syscall"
)

// isWouldBlock reports whether err wraps EAGAIN/EWOULDBLOCK, which a
// non-blocking socket read or write returns instead of actually blocking.
func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
