package websocket

import (
	"crypto/tls"
	"errors"
	"net"
)

// IOStatus is the outcome of a non-blocking ByteTransport operation.
type IOStatus int

const (
	// IOOk indicates the operation completed; n carries the byte count.
	IOOk IOStatus = iota
	// IOWouldBlock indicates the operation did not complete; the caller
	// must register for the relevant readiness interest and retry later.
	IOWouldBlock
	// IOClosed indicates the peer closed the stream (read) or the local
	// side already shut it down (write).
	IOClosed
	// IOError indicates an unrecoverable transport error.
	IOError
)

// ByteTransport is an abstract non-blocking duplex byte stream. Plain TCP
// and TLS are both concrete transports; neither Connection nor FrameParser
// know which one they are talking to.
type ByteTransport interface {
	// Read copies into dst and reports how much was read and the status.
	// n == 0 with status IOClosed means the peer sent FIN.
	Read(dst []byte) (n int, status IOStatus)

	// Write attempts to send src and reports how much was accepted.
	// A partial write (0 <= n < len(src)) with status IOWouldBlock means
	// the caller must queue the remaining src[n:] and retry on writability.
	Write(src []byte) (n int, status IOStatus)

	// ShutdownWrite half-closes the write side (used by the graceful
	// close handshake so the peer observes EOF after the CLOSE frame).
	ShutdownWrite() error

	// Close releases the underlying OS resources (and TLS session, if any).
	Close() error

	// BeginBatch/EndBatch bracket a burst of writes produced from a
	// single readable event, so the transport can apply a platform
	// write-coalescing hint (TCP_CORK on Linux) around them. Both are
	// no-ops on transports or platforms without such a hint.
	BeginBatch()
	EndBatch()
}

// tcpTransport wraps a non-blocking *net.TCPConn.
type tcpTransport struct {
	conn *net.TCPConn
	raw  rawBatcher // platform write-coalescing hook, may be nil
}

// NewTCPTransport adapts an already-accepted TCP connection (e.g. the
// connection returned by an HTTP hijack) into a ByteTransport. Read and
// Write call the *net.TCPConn methods directly and map the result through
// classifyIO; neither NewTCPTransport nor event loop registration changes
// how those calls block.
func NewTCPTransport(conn *net.TCPConn) ByteTransport {
	return &tcpTransport{conn: conn, raw: newRawBatcher(conn)}
}

func (t *tcpTransport) Read(dst []byte) (int, IOStatus) {
	n, err := t.conn.Read(dst)
	return classifyIO(n, err)
}

func (t *tcpTransport) Write(src []byte) (int, IOStatus) {
	n, err := t.conn.Write(src)
	return classifyIO(n, err)
}

func (t *tcpTransport) ShutdownWrite() error {
	return t.conn.CloseWrite()
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

// Fd returns the connection's raw file descriptor for event-loop
// registration.
func (t *tcpTransport) Fd() (int, error) {
	raw, err := t.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := raw.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

func (t *tcpTransport) BeginBatch() {
	if t.raw != nil {
		t.raw.begin()
	}
}

func (t *tcpTransport) EndBatch() {
	if t.raw != nil {
		t.raw.end()
	}
}

// tlsTransport wraps a *tls.Conn. TLS_ERROR_WANT_READ/WRITE surfaces as
// IOWouldBlock exactly like a short TCP read/write.
type tlsTransport struct {
	conn *tls.Conn
}

// NewTLSTransport adapts an established TLS connection into a ByteTransport.
func NewTLSTransport(conn *tls.Conn) ByteTransport {
	return &tlsTransport{conn: conn}
}

func (t *tlsTransport) Read(dst []byte) (int, IOStatus) {
	n, err := t.conn.Read(dst)
	return classifyIO(n, err)
}

func (t *tlsTransport) Write(src []byte) (int, IOStatus) {
	n, err := t.conn.Write(src)
	return classifyIO(n, err)
}

func (t *tlsTransport) ShutdownWrite() error {
	// TLS has no half-close; closing the record layer is the closest
	// equivalent and still lets the close watchdog reclaim the connection.
	return t.conn.CloseWrite()
}

func (t *tlsTransport) Close() error {
	return t.conn.Close()
}

// Fd returns the underlying TCP descriptor beneath the TLS record layer.
func (t *tlsTransport) Fd() (int, error) {
	tcpConn, ok := t.conn.NetConn().(*net.TCPConn)
	if !ok {
		return 0, ErrTransportClosed
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := raw.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

func (t *tlsTransport) BeginBatch() {}
func (t *tlsTransport) EndBatch()   {}

// classifyIO maps a stdlib net.Conn read/write result onto IOStatus.
func classifyIO(n int, err error) (int, IOStatus) {
	if err == nil {
		return n, IOOk
	}
	if errors.Is(err, net.ErrClosed) {
		return n, IOClosed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return n, IOWouldBlock
	}
	if isWouldBlock(err) {
		return n, IOWouldBlock
	}
	if isEOF(err) {
		return n, IOClosed
	}
	return n, IOError
}
