package websocket

// queuedBytes is one pending write: a formatted frame (complete message or
// one SendFragment chunk) plus how much of it has already been written.
type queuedBytes struct {
	data     []byte
	offset   int
	callback func(error)
}

func (q *queuedBytes) remaining() []byte { return q.data[q.offset:] }
func (q *queuedBytes) done() bool        { return q.offset >= len(q.data) }

// sendFragmentState drives SendPath's fragmented-streaming-send state
// machine (FRAGMENT_START -> FRAGMENT_MID -> ... -> FRAGMENT_START),
// used when an application streams a large payload as it is produced
// instead of buffering the whole message first.
type sendFragmentState int

const (
	fragmentIdle sendFragmentState = iota
	fragmentStarted
	fragmentMid
)

// SendPath is a per-connection outbound frame formatter and non-blocking
// writer: a FIFO queue of queuedBytes, drained against a ByteTransport,
// with partial-write handling and a readiness callback hook so Connection
// can ask the event loop for writability only while the queue is
// non-empty.
type SendPath struct {
	transport ByteTransport
	queue     []*queuedBytes

	fragState  sendFragmentState
	fragOpcode byte

	// deflater, when non-nil, compresses every complete (non-fragmented)
	// data message Send formats, mirroring the connection's negotiated
	// permessage-deflate outbound capability. Fragmented streaming sends
	// (SendFragment) are never compressed: RFC 7692 would require the
	// encoder to sync-flush per chunk and set RSV1 only on the first
	// frame, and no caller in this engine streams large enough outbound
	// messages to need it yet.
	deflater *Deflater

	// onQueueNonEmpty/onQueueDrained let Connection keep the event loop's
	// write-interest registration in sync with queue occupancy.
	onQueueNonEmpty func()
	onQueueDrained  func()
}

// NewSendPath constructs a SendPath writing to transport.
func NewSendPath(transport ByteTransport) *SendPath {
	return &SendPath{transport: transport}
}

// SetDeflater attaches (or clears, if d is nil) the outbound compressor
// Send uses for complete data messages.
func (s *SendPath) SetDeflater(d *Deflater) { s.deflater = d }

// Compresses reports whether this SendPath deflates outbound data
// messages, i.e. whether Send's output depends on per-connection
// compressor state and so cannot be shared verbatim across connections.
func (s *SendPath) Compresses() bool { return s.deflater != nil }

// FormatMessage builds a complete, unfragmented frame for payload with
// the given opcode, setting RSV1 when compressed is true.
func FormatMessage(opcode byte, payload []byte, compressed bool) []byte {
	hdr := encodeHeader(opcode, true, compressed, len(payload))
	out := make([]byte, len(hdr)+len(payload))
	copy(out, hdr)
	copy(out[len(hdr):], payload)
	return out
}

// Send enqueues (or writes directly, if the queue is empty) a complete
// message, compressing it first when a Deflater is attached and opcode is
// a (non-continuation) data frame. callback, if non-nil, is invoked once
// the bytes are fully written or the connection errors out before that
// happens.
func (s *SendPath) Send(opcode byte, payload []byte, callback func(error)) error {
	if s.deflater != nil && isDataFrame(opcode) && opcode != opcodeContinuation {
		compressed, err := s.deflater.Compress(payload)
		if err != nil {
			return err
		}
		return s.enqueueOrWrite(FormatMessage(opcode, compressed, true), callback)
	}
	return s.enqueueOrWrite(FormatMessage(opcode, payload, false), callback)
}

// SendFragment drives the FRAGMENT_START -> FRAGMENT_MID -> ... state
// machine: every call sends its chunk as one complete frame whose length
// field is len(chunk). The first call's frame carries opcode; later calls
// send CONTINUATION frames. remaining is only compared with zero: 0 sets
// FIN and returns to FRAGMENT_START. The total message size is not
// declared up front, and no chunk is written without its own frame header.
func (s *SendPath) SendFragment(opcode byte, chunk []byte, remaining int, compressed bool) error {
	switch s.fragState {
	case fragmentIdle:
		s.fragOpcode = opcode
		fin := remaining == 0
		hdr := encodeHeader(opcode, fin, compressed, len(chunk))
		buf := append(hdr, chunk...)
		if fin {
			s.fragState = fragmentIdle
		} else {
			s.fragState = fragmentMid
		}
		return s.enqueueOrWrite(buf, nil)

	case fragmentMid, fragmentStarted:
		fin := remaining == 0
		hdr := encodeHeader(opcodeContinuation, fin, false, len(chunk))
		buf := append(hdr, chunk...)
		if fin {
			s.fragState = fragmentIdle
		}
		return s.enqueueOrWrite(buf, nil)
	}
	return nil
}

// enqueueOrWrite attempts a direct write when the queue is empty (the
// common case); on a would-block or partial write it enqueues the
// residual and requests writability.
func (s *SendPath) enqueueOrWrite(buf []byte, callback func(error)) error {
	if len(s.queue) > 0 {
		s.push(buf, callback)
		return nil
	}

	n, status := s.transport.Write(buf)
	switch status {
	case IOOk:
		if n == len(buf) {
			if callback != nil {
				callback(nil)
			}
			return nil
		}
		s.push(buf[n:], callback)
		return nil
	case IOWouldBlock:
		s.push(buf[n:], callback)
		return nil
	default:
		if callback != nil {
			callback(ErrTransportClosed)
		}
		return ErrTransportClosed
	}
}

func (s *SendPath) push(remaining []byte, callback func(error)) {
	wasEmpty := len(s.queue) == 0
	s.queue = append(s.queue, &queuedBytes{data: remaining, callback: callback})
	if wasEmpty && s.onQueueNonEmpty != nil {
		s.onQueueNonEmpty()
	}
}

// Flush drains as much of the queue as the transport currently accepts.
// Call this on writability readiness. Returns an error only for a
// transport failure that is not IOWouldBlock; the caller must force-close
// the connection with 1006 in that case.
func (s *SendPath) Flush() error {
	s.transport.BeginBatch()
	defer s.transport.EndBatch()

	for len(s.queue) > 0 {
		q := s.queue[0]
		n, status := s.transport.Write(q.remaining())
		q.offset += n

		switch status {
		case IOOk:
			if q.done() {
				s.queue = s.queue[1:]
				if q.callback != nil {
					q.callback(nil)
				}
				continue
			}
			// Short write without an explicit would-block: transport
			// accepted fewer bytes than asked but is still writable;
			// try again on the next loop tick rather than spin here.
			return nil
		case IOWouldBlock:
			return nil
		default:
			s.dropAll(ErrTransportClosed)
			return ErrTransportClosed
		}
	}

	if s.onQueueDrained != nil {
		s.onQueueDrained()
	}
	return nil
}

// Pending reports whether the queue has unwritten bytes (Connection uses
// this to decide whether it needs writable interest registered).
func (s *SendPath) Pending() bool { return len(s.queue) > 0 }

// dropAll discards all queued messages, invoking each callback with err.
// Used when the connection is force-closed with writes still pending.
func (s *SendPath) dropAll(err error) {
	pending := s.queue
	s.queue = nil
	for _, q := range pending {
		if q.callback != nil {
			q.callback(err)
		}
	}
}
