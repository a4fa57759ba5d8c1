package websocket

import (
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/coregx/wsengine/eventloop"
)

// Config configures a Server, in the withDefaults style: zero-value-safe
// fields defaulted by Config.withDefaults rather than functional options.
type Config struct {
	UpgradeOptions

	// MaxMessagePayload bounds an assembled message's size (0 = unbounded).
	MaxMessagePayload int
	// StrictMaxPayload turns an oversized message into a close with 1009
	// instead of the default silent-truncate-and-deliver behavior.
	StrictMaxPayload bool
	// DeflateContextTakeover enables a persisted compression window across
	// messages on connections that negotiate permessage-deflate.
	DeflateContextTakeover bool

	Logger zerolog.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = defaultWriteBufferSize
	}
	return cfg
}

// Server is the registry of Connections and the dispatcher of
// application callbacks: an id->*Connection map, an
// intrusive doubly-linked client list (by id, not pointer), a shared
// scratch read buffer, and the on_message/on_disconnect callback set.
type Server struct {
	cfg  Config
	loop eventloop.EventLoop

	nextID    uint64
	conns     map[uint64]*Connection
	headID    uint64
	hasHead   bool

	recvBuf []byte

	onMessage    func(c *Connection, msgType MessageType, payload []byte)
	onDisconnect func(c *Connection, closeErr *CloseError)
}

// NewServer constructs a Server driven by loop. loop must already be
// running (or about to be run) on the goroutine that will call Accept.
func NewServer(loop eventloop.EventLoop, cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:     cfg,
		loop:    loop,
		conns:   make(map[uint64]*Connection),
		recvBuf: make([]byte, recvBufferSize),
	}
}

// OnMessage registers the application's inbound message callback.
func (s *Server) OnMessage(fn func(c *Connection, msgType MessageType, payload []byte)) {
	s.onMessage = fn
}

// OnDisconnect registers the application's disconnect callback, invoked
// exactly once per connection regardless of which close path triggered it.
// closeErr is never nil and supports errors.As/errors.Unwrap to recover
// the underlying transport or protocol error, if any.
func (s *Server) OnDisconnect(fn func(c *Connection, closeErr *CloseError)) {
	s.onDisconnect = fn
}

// Accept upgrades an HTTP request to a WebSocket connection and registers
// it with the server's event loop.
func (s *Server) Accept(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	hs, err := upgrade(w, r, &s.cfg.UpgradeOptions)
	if err != nil {
		return nil, err
	}

	id := atomic.AddUint64(&s.nextID, 1)
	transport := NewTCPTransport(hs.tcpConn)

	assemblerCfg := AssemblerConfig{
		MaxPayload:       s.cfg.MaxMessagePayload,
		StrictMaxPayload: s.cfg.StrictMaxPayload,
		ContextTakeover:  s.cfg.DeflateContextTakeover && hs.deflateContextTakeover,
	}

	c := NewConnection(id, transport, hs.remoteAddr, s.loop, s.recvBuf, assemblerCfg, hs.deflate, s, s.cfg.Logger)
	s.link(c)

	if err := s.loop.Register(c.fd, eventloop.Readable, c.onReady); err != nil {
		s.unlink(c)
		_ = transport.Close()
		return nil, err
	}
	return c, nil
}

func (s *Server) link(c *Connection) {
	s.conns[c.id] = c
	if s.hasHead {
		c.next, c.hasNext = s.headID, true
		head := s.conns[s.headID]
		head.prev, head.hasPrev = c.id, true
	}
	s.headID, s.hasHead = c.id, true
}

func (s *Server) unlink(c *Connection) {
	delete(s.conns, c.id)

	if c.hasPrev {
		s.conns[c.prev].next, s.conns[c.prev].hasNext = c.next, c.hasNext
	} else if s.hasHead && s.headID == c.id {
		if c.hasNext {
			s.headID = c.next
		} else {
			s.hasHead = false
		}
	}
	if c.hasNext {
		s.conns[c.next].prev, s.conns[c.next].hasPrev = c.prev, c.hasPrev
	}
}

// Lookup returns the connection registered under id, if any.
func (s *Server) Lookup(id uint64) (*Connection, bool) {
	c, ok := s.conns[id]
	return c, ok
}

// Broadcast formats payload once for every plain (non-deflating)
// recipient and enqueues the same backing bytes into each of their send
// queues (SendPath never mutates queued bytes, only its own read offset
// into them, so the single formatted frame is safely shared rather than
// copied per recipient). A connection with permessage-deflate negotiated
// compresses its own copy instead, since with context takeover enabled
// each connection's compressor carries its own sliding window and two
// connections' compressed output for the same payload can legitimately
// differ.
func (s *Server) Broadcast(opcode byte, payload []byte) {
	var plain []byte
	for _, c := range s.conns {
		if c.state != stateOpen {
			continue
		}
		if c.send.Compresses() {
			_ = c.send.Send(opcode, payload, nil)
			continue
		}
		if plain == nil {
			plain = FormatMessage(opcode, payload, false)
		}
		_ = c.send.enqueueOrWrite(plain, nil)
	}
}

// --- ConnectionSink ---

func (s *Server) OnMessage(c *Connection, msgType MessageType, payload []byte) {
	if s.onMessage != nil {
		s.onMessage(c, msgType, payload)
	}
}

func (s *Server) OnDisconnect(c *Connection, closeErr *CloseError) {
	s.unlink(c)
	if s.onDisconnect != nil {
		s.onDisconnect(c, closeErr)
	}
}
