package websocket

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// deflateTail is the 4-byte marker RFC 7692 Section 7.2.2 requires a
// permessage-deflate sender to omit and a receiver to re-append after the
// final fragment of a compressed message, so the DEFLATE stream's last
// block is a valid (empty, non-final) stored block instead of dangling.
var deflateTail = []byte{0x00, 0x00, 0xff, 0xff}

// finalEmptyBlock is an empty stored block with BFINAL set, used by
// Inflater.Finish to terminate a message's DEFLATE stream.
var finalEmptyBlock = []byte{0x01, 0x00, 0x00, 0xff, 0xff}

// maxWindowBits is RFC 7692's largest negotiable LZ77 window; it bounds
// how much trailing output Inflater retains as a preset dictionary for
// context-takeover continuity between messages.
const maxWindowBits = 32 * 1024

// Inflater wraps a streaming raw-DEFLATE decoder (github.com/klauspost/
// compress/flate, grounded on the kpflate usage in go-netty's websocket
// transport) behind a push-style set_input/inflate contract. Because
// Go's flate.Reader is pull-based, a single
// in-flight message's compressed bytes are accumulated across SetInput
// calls and actually decoded once Finish is called (after the caller has
// fed the RFC 7692 00 00 FF FF tail); Inflate then drains the result in
// caller-sized chunks ("produced" bytes per call, 0 once fully drained).
//
// Context takeover (a shared window across messages) is emulated the way
// stdlib-compatible flate decoders support it: the last maxWindowBits of
// decoded output is kept and replayed as a preset dictionary on the next
// message's Reset, rather than leaving the decompressor un-reset (which
// the pull-based flate.Reader API does not allow mid-stream anyway).
type Inflater struct {
	contextTakeover bool

	pending []byte // compressed bytes accumulated for the in-flight message
	window  []byte // trailing decoded bytes kept for the next Reset's dict

	dec     io.ReadCloser
	decoded []byte
	drained int
}

// NewInflater constructs an Inflater for one connection's lifetime.
// contextTakeover mirrors the permessage-deflate negotiation outcome
// parsed at Upgrade time (see handshake.go).
func NewInflater(contextTakeover bool) *Inflater {
	return &Inflater{contextTakeover: contextTakeover}
}

// SetInput appends another fragment's (already unmasked) compressed bytes
// to the message currently being assembled. It never blocks or decodes.
func (fl *Inflater) SetInput(b []byte) {
	fl.pending = append(fl.pending, b...)
}

// Finish decodes everything accumulated since the last Finish (the caller
// must have already called SetInput with the 00 00 FF FF tail appended to
// the final fragment), and makes the decoded bytes available via Inflate.
// Returns ErrDecompress on a corrupt DEFLATE stream.
func (fl *Inflater) Finish() error {
	// A sync-flushed message has no final block, so the decoder would
	// report an unexpected EOF at its end; an empty final stored block
	// after it lets io.ReadAll finish cleanly.
	src := io.MultiReader(bytes.NewReader(fl.pending), bytes.NewReader(finalEmptyBlock))

	var dict []byte
	if fl.contextTakeover {
		dict = fl.window
	}

	if fl.dec == nil {
		fl.dec = flate.NewReaderDict(src, dict)
	} else {
		if err := fl.dec.(flate.Resetter).Reset(src, dict); err != nil {
			return ErrDecompress
		}
	}

	out, err := io.ReadAll(fl.dec)
	if err != nil {
		return ErrDecompress
	}

	fl.pending = fl.pending[:0]
	fl.decoded = out
	fl.drained = 0

	if fl.contextTakeover {
		fl.window = trailingWindow(append(append([]byte(nil), fl.window...), out...))
	}
	return nil
}

// Inflate copies decoded bytes into out, returning how many were
// produced. It returns 0 once the current message's output is fully
// drained; the caller should then move on to the next frame/message.
func (fl *Inflater) Inflate(out []byte) int {
	n := copy(out, fl.decoded[fl.drained:])
	fl.drained += n
	return n
}

// trailingWindow keeps at most the last maxWindowBits bytes of b, which
// is all a subsequent DEFLATE reference could possibly address.
func trailingWindow(b []byte) []byte {
	if len(b) <= maxWindowBits {
		return b
	}
	return append([]byte(nil), b[len(b)-maxWindowBits:]...)
}

// Deflater is Inflater's outbound sibling: a streaming raw-DEFLATE
// encoder (same github.com/klauspost/compress/flate used for decoding,
// grounded on go-netty's kpflate.NewWriterWindow usage for its outbound
// permessage-deflate transport) behind a push-style compress contract.
// Compress sync-flushes the encoder after each message and strips the
// RFC 7692 Section 7.2.1 00 00 FF FF tail a sender must omit (Inflater
// re-synthesizes it on the decode side).
//
// Context takeover mirrors Inflater's emulation: since klauspost's
// flate.Writer (like the stdlib it is API-compatible with) cannot Reset
// with a new dictionary mid-stream, each message after the first is
// encoded by a fresh flate.NewWriterDict primed with the trailing window
// of previously sent plaintext, rather than one Writer kept open across
// messages.
type Deflater struct {
	contextTakeover bool
	window          []byte // trailing plaintext kept as the next message's preset dictionary

	buf bytes.Buffer
	enc *flate.Writer
}

// NewDeflater constructs a Deflater for one connection's lifetime.
// contextTakeover mirrors the permessage-deflate negotiation outcome
// parsed at Upgrade time (see handshake.go), matching the paired
// Inflater's setting.
func NewDeflater(contextTakeover bool) *Deflater {
	d := &Deflater{contextTakeover: contextTakeover}
	d.enc, _ = flate.NewWriter(&d.buf, flate.DefaultCompression)
	return d
}

// Compress deflates payload as a complete permessage-deflate message and
// returns the RSV1 frame payload to send.
func (d *Deflater) Compress(payload []byte) ([]byte, error) {
	d.buf.Reset()
	if d.contextTakeover && len(d.window) > 0 {
		d.enc, _ = flate.NewWriterDict(&d.buf, flate.DefaultCompression, d.window)
	}

	if _, err := d.enc.Write(payload); err != nil {
		return nil, err
	}
	if err := d.enc.Flush(); err != nil {
		return nil, err
	}

	out := bytes.TrimSuffix(d.buf.Bytes(), deflateTail)
	result := append([]byte(nil), out...)

	if d.contextTakeover {
		d.window = trailingWindow(append(append([]byte(nil), d.window...), payload...))
	} else {
		d.enc.Reset(&d.buf)
	}
	return result, nil
}
