package websocket

import (
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/coregx/wsengine/eventloop"
)

// connState is Connection's lifecycle state machine:
// state transitions monotonically OPEN -> CLOSING -> CLOSED.
type connState int

const (
	stateOpen connState = iota
	stateClosing
	stateClosed
)

// closeWatchdogTimeout bounds how long a graceful close may wait for the
// peer to end the connection before it is force-closed. Inbound frames
// (including the peer's echoing CLOSE) are discarded while CLOSING; only
// the peer's EOF completes the handshake early.
const closeWatchdogTimeout = 15 * time.Second

// recvBufferSize is the scratch buffer Connection reads into on every
// readable event.
const recvBufferSize = 64 * 1024

// spillBufferSize bounds the unconsumed tail carried to the next read: at
// most a full extended frame header (2 base + 8 length + 4 mask bytes).
const spillBufferSize = 14

// auxKind tags Connection.aux, replacing a reinterpreted pointer slot
// with an explicit discriminated union.
type auxKind int

const (
	auxNone auxKind = iota
	auxWatchdog
)

type auxSlot struct {
	kind  auxKind
	timer eventloop.TimerHandle
}

// ConnectionSink receives application-facing events from a Connection:
// Server is the production implementation.
type ConnectionSink interface {
	OnMessage(c *Connection, msgType MessageType, payload []byte)
	OnDisconnect(c *Connection, closeErr *CloseError)
}

// fder is satisfied by transports that can hand back a raw descriptor for
// event-loop registration (tcpTransport and tlsTransport's underlying
// net.Conn both do, via SyscallConn).
type fder interface {
	Fd() (int, error)
}

// Connection owns one upgraded WebSocket's transport, parser, assembler
// and send path, and implements the close state machine and readiness
// callback contract. Affine to exactly one EventLoop; no
// field is safe for concurrent access from another loop or goroutine.
type Connection struct {
	id         uint64
	sessionID  string
	remoteAddr string

	transport ByteTransport
	fd        int
	loop      eventloop.EventLoop

	parser    FrameParser
	assembler *MessageAssembler
	send      *SendPath

	state connState
	aux   auxSlot

	closeCode   CloseCode
	closeReason string
	closeSent   bool
	disconnectFired bool

	spill    [spillBufferSize]byte
	spillLen int

	// recvBuf is the shared scratch buffer this connection's loop hands
	// it on every readable event, owned by Server and reused across
	// connections since only one runs at a time per loop.
	recvBuf []byte

	userData any

	// prev/next hold sibling connection ids for Server's intrusive
	// doubly-linked client list (ids, not pointers, per the resolved
	// pointer-reuse design note).
	prev, next uint64
	hasPrev, hasNext bool

	sink ConnectionSink
	log  zerolog.Logger
}

// NewConnection wires a freshly-upgraded transport into the non-blocking
// core. It does not register the connection with loop (Server.Accept does
// that); the send path re-registers interest on loop whenever its queue
// becomes non-empty or drains. deflateEnabled/contextTakeover must match
// what Upgrade negotiated for this connection.
func NewConnection(
	id uint64,
	transport ByteTransport,
	remoteAddr string,
	loop eventloop.EventLoop,
	recvBuf []byte,
	cfg AssemblerConfig,
	deflateEnabled bool,
	sink ConnectionSink,
	log zerolog.Logger,
) *Connection {
	c := &Connection{
		id:         id,
		remoteAddr: remoteAddr,
		transport:  transport,
		loop:       loop,
		recvBuf:    recvBuf,
		sink:       sink,
		log:        connLogger(log, id, remoteAddr),
	}
	c.assembler = NewMessageAssembler(cfg, deflateEnabled, c)
	c.send = NewSendPath(transport)
	if deflateEnabled {
		c.send.SetDeflater(NewDeflater(cfg.ContextTakeover))
	}
	c.send.onQueueNonEmpty = func() { c.updateInterest() }
	c.send.onQueueDrained = func() { c.updateInterest() }

	if f, ok := transport.(fder); ok {
		if fd, err := f.Fd(); err == nil {
			c.fd = fd
		}
	}
	return c
}

// UserData returns a pointer to the application-defined slot attached to
// this connection, avoiding an external map[*Connection]T.
func (c *Connection) UserData() *any { return &c.userData }

// ID returns the connection's opaque handle.
func (c *Connection) ID() uint64 { return c.id }

// SessionID returns the session id bound on first application send, or
// the empty string if none has been sent yet.
func (c *Connection) SessionID() string { return c.sessionID }

// Address reports the peer's address as (ip, port, family), family being
// "IPv4" or "IPv6". ok is false if remoteAddr could not be parsed as a
// host:port pair (e.g. a fake transport in tests using a non-IP string).
func (c *Connection) Address() (ip string, port int, family string, ok bool) {
	host, portStr, err := net.SplitHostPort(c.remoteAddr)
	if err != nil {
		return "", 0, "", false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return "", 0, "", false
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, "", false
	}
	family = "IPv6"
	if addr.Is4() || addr.Is4In6() {
		family = "IPv4"
	}
	return addr.String(), p, family, true
}

func (c *Connection) updateInterest() {
	interest := eventloop.Readable
	if c.send.Pending() {
		interest = eventloop.ReadWritable
	}
	_ = c.loop.Register(c.fd, interest, c.onReady)
}

// onReady is the callback registered with the event loop; it demultiplexes
// readable/writable notifications into OnReadable/flush calls.
func (c *Connection) onReady(readable, writable bool) {
	if writable {
		if err := c.send.Flush(); err != nil {
			c.forceClose(CloseAbnormalClosure, err)
			return
		}
		c.updateInterest()
	}
	if readable {
		c.OnReadable()
	}
}

// OnReadable is the single entry point the event loop calls when this
// connection's descriptor has data to read: copy the spill
// buffer to the head of the scratch recv buffer, read up to its capacity,
// apply the closed/error rules, and otherwise hand the combined range to
// FrameParser.Consume.
func (c *Connection) OnReadable() {
	if c.state == stateClosed {
		return
	}

	buf := c.recvBuf
	n := copy(buf, c.spill[:c.spillLen])
	c.spillLen = 0

	read, status := c.transport.Read(buf[n:])
	switch status {
	case IOOk:
		if read == 0 {
			c.handlePeerEOF()
			return
		}
	case IOWouldBlock:
		if read == 0 {
			return
		}
	case IOClosed:
		c.handlePeerEOF()
		return
	case IOError:
		c.forceClose(CloseAbnormalClosure, ErrTransportClosed)
		return
	}

	total := n + read

	if c.state == stateClosing {
		return
	}

	c.transport.BeginBatch()
	err := c.parser.Consume(buf[:total], c.assembler)
	c.transport.EndBatch()
	if err != nil {
		code := CloseAbnormalClosure
		if err == ErrMessageTooLarge {
			code = CloseMessageTooBig
		}
		c.forceClose(code, err)
	}
}

// handlePeerEOF implements the peer-FIN semantics: if a
// graceful close is already in flight and our CLOSE frame's send callback
// has run (closeSent), this is the clean end of the handshake; otherwise,
// including while that frame is still queued, it is an abnormal closure.
func (c *Connection) handlePeerEOF() {
	if c.state == stateClosing && c.closeSent {
		c.forceClose(c.closeCode, nil)
		return
	}
	c.forceClose(CloseAbnormalClosure, ErrTransportClosed)
}

// --- AssemblerSink ---

func (c *Connection) OnMessage(msgType MessageType, payload []byte) error {
	if c.state != stateOpen {
		return nil
	}
	if c.sink != nil {
		c.sink.OnMessage(c, msgType, payload)
	}
	return nil
}

func (c *Connection) OnClose(code CloseCode, reason []byte) error {
	if code == CloseNoStatusReceived {
		code = CloseNormalClosure
	}
	return c.Close(code, string(reason))
}

func (c *Connection) OnPing(payload []byte) error {
	if c.state != stateOpen {
		return nil
	}
	return c.send.Send(opcodePong, payload, nil)
}

func (c *Connection) OnPong(payload []byte) error {
	return nil
}

// --- Application-facing send operations ---

// Send queues a complete message for writing.
func (c *Connection) Send(msgType MessageType, data []byte) error {
	if c.state != stateOpen {
		return ErrClosed
	}
	opcode := byte(opcodeBinary)
	if msgType == TextMessage {
		opcode = opcodeText
	}
	return c.send.Send(opcode, data, nil)
}

// SendFragment streams one chunk of a fragmented outbound message;
// remaining==0 marks the final chunk (see SendPath.SendFragment).
func (c *Connection) SendFragment(msgType MessageType, chunk []byte, remaining int) error {
	if c.state != stateOpen {
		return ErrClosed
	}
	opcode := byte(opcodeBinary)
	if msgType == TextMessage {
		opcode = opcodeText
	}
	return c.send.SendFragment(opcode, chunk, remaining, false)
}

// WriteSome binds sessionID on first call and sends data as a BIN
// message; it always reports the full length accepted since SendPath's
// queue absorbs backpressure.
func (c *Connection) WriteSome(sessionID string, data []byte) (int, error) {
	if c.sessionID == "" {
		c.sessionID = sessionID
	}
	if err := c.Send(BinaryMessage, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// --- Close handling ---

// Close begins the graceful close handshake: unlink from the
// server's client list, enter CLOSING, fire on_disconnect exactly once,
// arm the watchdog, and enqueue a CLOSE frame.
func (c *Connection) Close(code CloseCode, reason string) error {
	if c.state == stateClosing || c.state == stateClosed {
		return ErrOverlappedClose
	}

	c.state = stateClosing
	c.closeCode = code
	c.closeReason = reason
	c.fireDisconnect(&CloseError{Code: code, Reason: reason})

	c.aux = auxSlot{kind: auxWatchdog, timer: c.loop.Timer(closeWatchdogTimeout, c.onWatchdogExpired)}

	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], reason)

	return c.send.Send(opcodeClose, payload, func(err error) {
		c.closeSent = true
		if err == nil {
			_ = c.transport.ShutdownWrite()
		}
	})
}

func (c *Connection) onWatchdogExpired() {
	if c.state == stateClosed {
		return
	}
	c.forceClose(CloseAbnormalClosure, nil)
}

// forceClose implements the forced-close cleanup: drop queued
// writes, deregister from the loop, close the transport, cancel the
// watchdog, and fire on_disconnect if a graceful close never got to. Every
// forced close is logged at warn level with the connection's bound fields
// and the CloseError that reached (or would have reached) on_disconnect.
func (c *Connection) forceClose(code CloseCode, cause error) {
	if c.state == stateClosed {
		return
	}

	reason := c.closeReason
	if cause != nil {
		reason = cause.Error()
	}
	closeErr := &CloseError{Code: code, Reason: reason, Err: cause}
	c.log.Warn().Err(closeErr).Msg("connection force-closed")
	c.fireDisconnect(closeErr)

	c.send.dropAll(ErrClosed)

	if c.aux.kind == auxWatchdog {
		c.loop.CancelTimer(c.aux.timer)
		c.aux = auxSlot{}
	}

	_ = c.loop.Deregister(c.fd)
	_ = c.transport.Close()

	c.state = stateClosed
}

func (c *Connection) fireDisconnect(closeErr *CloseError) {
	if c.disconnectFired {
		return
	}
	c.disconnectFired = true
	if c.sink != nil {
		c.sink.OnDisconnect(c, closeErr)
	}
}
