//go:build !linux

package websocket

import "net"

// newRawBatcher returns nil on platforms without a TCP_CORK equivalent;
// tcpTransport treats a nil rawBatcher as "no coalescing hint available".
func newRawBatcher(_ *net.TCPConn) rawBatcher {
	return nil
}
