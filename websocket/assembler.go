package websocket

import "encoding/binary"

// AssemblerSink receives fully reassembled messages and control events from
// a MessageAssembler. Connection is the production implementation; tests
// supply fakes.
type AssemblerSink interface {
	OnMessage(msgType MessageType, payload []byte) error
	OnClose(code CloseCode, reason []byte) error
	OnPing(payload []byte) error
	OnPong(payload []byte) error
}

// AssemblerConfig controls MessageAssembler's max_payload policy: by
// default an oversized message is silently truncated to MaxPayload and
// still delivered; StrictMaxPayload instead fails the message with
// ErrMessageTooLarge (close code 1009).
type AssemblerConfig struct {
	MaxPayload        int // 0 means unlimited
	StrictMaxPayload  bool
	ContextTakeover   bool
}

// MessageAssembler implements FragmentSink: it accumulates the fragments
// FrameParser emits into complete messages (data_buffer/control_buffer),
// gates delivery on fin, runs UTF-8 validation for TEXT messages,
// inflates compressed payloads, and dispatches control frames
// (CLOSE/PING/PONG) immediately.
type MessageAssembler struct {
	cfg  AssemblerConfig
	sink AssemblerSink

	inflater *Inflater
	utf8     Utf8Validator

	msgOpcode  byte
	compressed bool
	dataBuf    []byte
	truncated  bool

	controlBuf [maxControlPayload]byte
	controlLen int
}

// NewMessageAssembler constructs an assembler. deflateEnabled must match
// whether permessage-deflate was negotiated at Upgrade time; when false,
// compressed is never consulted and no Inflater is allocated.
func NewMessageAssembler(cfg AssemblerConfig, deflateEnabled bool, sink AssemblerSink) *MessageAssembler {
	a := &MessageAssembler{cfg: cfg, sink: sink}
	if deflateEnabled {
		a.inflater = NewInflater(cfg.ContextTakeover)
	}
	return a
}

// OnFragment implements FragmentSink.
func (a *MessageAssembler) OnFragment(opcode byte, payload []byte, fin bool, remainingInFrame uint64, compressed bool) error {
	if isControlFrame(opcode) {
		return a.onControlFragment(opcode, payload, remainingInFrame)
	}
	return a.onDataFragment(opcode, payload, fin, remainingInFrame, compressed)
}

// onControlFragment accumulates a control frame's payload (FrameParser
// guarantees fin=1 for every control frame, so remainingInFrame reaching
// 0 always means the frame, and the message, is complete) and dispatches
// once it is.
func (a *MessageAssembler) onControlFragment(opcode byte, payload []byte, remainingInFrame uint64) error {
	n := copy(a.controlBuf[a.controlLen:], payload)
	a.controlLen += n

	if remainingInFrame != 0 {
		return nil
	}
	defer func() { a.controlLen = 0 }()

	payload := a.controlBuf[:a.controlLen]
	switch opcode {
	case opcodeClose:
		code, reason := parseCloseFrame(payload)
		return a.sink.OnClose(code, reason)
	case opcodePing:
		return a.sink.OnPing(payload)
	case opcodePong:
		// PONG is passed to the sink's OnPong but never answered; only
		// PING gets an automatic reply.
		return a.sink.OnPong(payload)
	}
	return nil
}

// parseCloseFrame extracts the status code and reason from a CLOSE
// frame's payload. An empty payload means no status code was sent, which
// RFC 6455 Section 7.1.5 distinguishes from an abnormal closure.
func parseCloseFrame(payload []byte) (CloseCode, []byte) {
	if len(payload) < 2 {
		return CloseNoStatusReceived, nil
	}
	code := CloseCode(binary.BigEndian.Uint16(payload[:2]))
	return code, payload[2:]
}

func (a *MessageAssembler) onDataFragment(opcode byte, payload []byte, fin bool, remainingInFrame uint64, compressed bool) error {
	if opcode == opcodeContinuation {
		opcode = a.msgOpcode
	} else {
		a.msgOpcode = opcode
		a.compressed = compressed && a.inflater != nil
		a.dataBuf = a.dataBuf[:0]
		a.truncated = false
		a.utf8 = Utf8Validator{}
	}
	isText := a.msgOpcode == opcodeText

	// Fast path: a whole, single-frame, uncompressed message delivers
	// straight from the caller's buffer without touching data_buffer, as
	// long as it fits within max_payload.
	withinMax := a.cfg.MaxPayload <= 0 || len(payload) <= a.cfg.MaxPayload
	if fin && remainingInFrame == 0 && len(a.dataBuf) == 0 && !a.compressed && withinMax {
		if isText {
			a.utf8.Write(payload)
		}
		return a.deliver(opcode, payload)
	}

	if a.compressed {
		a.inflater.SetInput(payload)
	} else if isText {
		a.utf8.Write(a.appendData(payload))
	} else {
		a.appendData(payload)
	}

	if remainingInFrame != 0 {
		return nil
	}
	if !fin {
		return nil
	}

	if a.compressed {
		a.inflater.SetInput(deflateTail)
		if err := a.inflater.Finish(); err != nil {
			return err
		}
		var out [4096]byte
		for {
			n := a.inflater.Inflate(out[:])
			if n == 0 {
				break
			}
			if isText {
				a.utf8.Write(a.appendData(out[:n]))
			} else {
				a.appendData(out[:n])
			}
		}
	}

	msg := a.dataBuf
	a.dataBuf = nil
	return a.deliver(opcode, msg)
}

// appendData grows data_buffer by b, honoring max_payload
// (append_len = min(len, max_payload - current_len)), and returns the
// slice actually appended so callers validating alongside (e.g. UTF-8)
// stay in sync with what was kept rather than what arrived.
func (a *MessageAssembler) appendData(b []byte) []byte {
	if a.cfg.MaxPayload <= 0 {
		a.dataBuf = append(a.dataBuf, b...)
		return b
	}
	room := a.cfg.MaxPayload - len(a.dataBuf)
	if room <= 0 {
		if len(b) > 0 {
			a.truncated = true
		}
		return nil
	}
	if len(b) > room {
		b = b[:room]
		a.truncated = true
	}
	a.dataBuf = append(a.dataBuf, b...)
	return b
}

// deliver runs final validation for a completed message and hands it to
// the sink, or returns a protocol error for the caller to force-close on.
// UTF-8 is validated incrementally as fragments/inflated chunks arrive
// (see onDataFragment), so by the time a message reaches here a.utf8
// already reflects the whole payload; Incomplete distinguishes a message
// that ends mid-codepoint only because max_payload cut it short (not a
// protocol violation) from one that genuinely stops mid-sequence.
func (a *MessageAssembler) deliver(opcode byte, payload []byte) error {
	if a.truncated && a.cfg.StrictMaxPayload {
		return ErrMessageTooLarge
	}
	if opcode == opcodeText {
		switch {
		case a.utf8.Complete():
		case a.truncated && a.utf8.Incomplete():
		default:
			return ErrInvalidUTF8
		}
	}

	var mt MessageType
	if opcode == opcodeText {
		mt = TextMessage
	} else {
		mt = BinaryMessage
	}
	return a.sink.OnMessage(mt, payload)
}
