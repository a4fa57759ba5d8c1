package websocket

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/flate"
)

// compressSyncFlush produces a permessage-deflate-style fragment: a raw
// DEFLATE stream sync-flushed (RFC 7692 requires this) with the trailing
// 00 00 FF FF trimmed off, exactly what a peer's frames would carry.
func compressSyncFlush(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	out := buf.Bytes()
	if !bytes.HasSuffix(out, deflateTail) {
		t.Fatalf("expected sync-flush output to end in 00 00 ff ff")
	}
	return out[:len(out)-len(deflateTail)]
}

func TestInflater_RoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, many times over")
	compressed := compressSyncFlush(t, payload)

	fl := NewInflater(false)
	fl.SetInput(compressed)
	fl.SetInput(deflateTail)
	if err := fl.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var out []byte
	var chunk [16]byte
	for {
		n := fl.Inflate(chunk[:])
		if n == 0 {
			break
		}
		out = append(out, chunk[:n]...)
	}

	if !bytes.Equal(out, payload) {
		t.Fatalf("got %q, want %q", out, payload)
	}
}

func TestInflater_SplitAcrossFragments(t *testing.T) {
	payload := bytes.Repeat([]byte("fragmented-payload-"), 50)
	compressed := compressSyncFlush(t, payload)

	fl := NewInflater(false)
	mid := len(compressed) / 2
	fl.SetInput(compressed[:mid])
	fl.SetInput(compressed[mid:])
	fl.SetInput(deflateTail)
	if err := fl.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var out []byte
	var chunk [64]byte
	for {
		n := fl.Inflate(chunk[:])
		if n == 0 {
			break
		}
		out = append(out, chunk[:n]...)
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("split-fragment round trip mismatch")
	}
}

func TestInflater_ContextTakeoverAcrossMessages(t *testing.T) {
	first := []byte("repeated-window-content-repeated-window-content")
	second := []byte("repeated-window-content-more-new-bytes")

	fl := NewInflater(true)

	for _, payload := range [][]byte{first, second} {
		compressed := compressSyncFlush(t, payload)
		fl.SetInput(compressed)
		fl.SetInput(deflateTail)
		if err := fl.Finish(); err != nil {
			t.Fatalf("Finish: %v", err)
		}
		var out []byte
		var chunk [64]byte
		for {
			n := fl.Inflate(chunk[:])
			if n == 0 {
				break
			}
			out = append(out, chunk[:n]...)
		}
		if !bytes.Equal(out, payload) {
			t.Fatalf("got %q, want %q", out, payload)
		}
	}
}

func inflateAll(t *testing.T, fl *Inflater, compressed []byte) []byte {
	t.Helper()
	fl.SetInput(compressed)
	fl.SetInput(deflateTail)
	if err := fl.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	var out []byte
	var chunk [64]byte
	for {
		n := fl.Inflate(chunk[:])
		if n == 0 {
			break
		}
		out = append(out, chunk[:n]...)
	}
	return out
}

func TestDeflater_RoundTripsThroughInflater(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, many times over")

	d := NewDeflater(false)
	compressed, err := d.Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if bytes.HasSuffix(compressed, deflateTail) {
		t.Fatal("Compress must strip the RFC 7692 00 00 ff ff tail")
	}

	fl := NewInflater(false)
	out := inflateAll(t, fl, compressed)
	if !bytes.Equal(out, payload) {
		t.Fatalf("got %q, want %q", out, payload)
	}
}

func TestDeflater_ContextTakeoverAcrossMessages(t *testing.T) {
	first := []byte("repeated-window-content-repeated-window-content")
	second := []byte("repeated-window-content-more-new-bytes")

	d := NewDeflater(true)
	fl := NewInflater(true)

	for _, payload := range [][]byte{first, second} {
		compressed, err := d.Compress(payload)
		if err != nil {
			t.Fatalf("Compress: %v", err)
		}
		out := inflateAll(t, fl, compressed)
		if !bytes.Equal(out, payload) {
			t.Fatalf("got %q, want %q", out, payload)
		}
	}
}

func TestInflater_CorruptStreamFails(t *testing.T) {
	fl := NewInflater(false)
	fl.SetInput([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	fl.SetInput(deflateTail)
	if err := fl.Finish(); err != ErrDecompress {
		t.Fatalf("want ErrDecompress, got %v", err)
	}
}
