package websocket

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// hijackableRecorder adds http.Hijacker support on top of
// httptest.ResponseRecorder, backed by a real net.Pipe so upgrade's
// Hijack/Flush/drain sequence runs against an actual connection.
type hijackableRecorder struct {
	*httptest.ResponseRecorder
	serverConn net.Conn
	clientConn net.Conn
}

func newHijackableRecorder() *hijackableRecorder {
	client, server := net.Pipe()
	return &hijackableRecorder{
		ResponseRecorder: httptest.NewRecorder(),
		serverConn:       server,
		clientConn:       client,
	}
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(bufio.NewReader(h.serverConn), bufio.NewWriter(h.serverConn))
	return h.serverConn, rw, nil
}

func validUpgradeRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Sec-WebSocket-Version", "13")
	r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return r
}

func TestUpgrade_RejectsNonGET(t *testing.T) {
	r := validUpgradeRequest()
	r.Method = http.MethodPost
	w := newHijackableRecorder()
	if _, err := upgrade(w, r, nil); err != ErrInvalidMethod {
		t.Fatalf("want ErrInvalidMethod, got %v", err)
	}
}

func TestUpgrade_RejectsMissingUpgradeHeader(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Del("Upgrade")
	w := newHijackableRecorder()
	if _, err := upgrade(w, r, nil); err != ErrMissingUpgrade {
		t.Fatalf("want ErrMissingUpgrade, got %v", err)
	}
}

func TestUpgrade_RejectsMissingConnectionHeader(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Del("Connection")
	w := newHijackableRecorder()
	if _, err := upgrade(w, r, nil); err != ErrMissingConnection {
		t.Fatalf("want ErrMissingConnection, got %v", err)
	}
}

func TestUpgrade_RejectsWrongVersion(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Set("Sec-WebSocket-Version", "8")
	w := newHijackableRecorder()
	if _, err := upgrade(w, r, nil); err != ErrInvalidVersion {
		t.Fatalf("want ErrInvalidVersion, got %v", err)
	}
}

func TestUpgrade_RejectsMissingKey(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Del("Sec-WebSocket-Key")
	w := newHijackableRecorder()
	if _, err := upgrade(w, r, nil); err != ErrMissingSecKey {
		t.Fatalf("want ErrMissingSecKey, got %v", err)
	}
}

func TestUpgrade_RejectsDeniedOrigin(t *testing.T) {
	r := validUpgradeRequest()
	w := newHijackableRecorder()
	opts := &UpgradeOptions{CheckOrigin: func(*http.Request) bool { return false }}
	if _, err := upgrade(w, r, opts); err != ErrOriginDenied {
		t.Fatalf("want ErrOriginDenied, got %v", err)
	}
}

func TestUpgrade_RejectsNonTCPHijack(t *testing.T) {
	// net.Pipe's Conn is not a *net.TCPConn, so upgrade must reject the
	// hijack rather than hand back an invalid handshakeResult.
	r := validUpgradeRequest()
	w := newHijackableRecorder()
	if _, err := upgrade(w, r, nil); err != ErrHijackFailed {
		t.Fatalf("want ErrHijackFailed for non-TCP hijack, got %v", err)
	}
}

func TestNegotiateSubprotocol(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Set("Sec-WebSocket-Protocol", "chat, superchat")
	if got := negotiateSubprotocol(r, []string{"superchat"}); got != "superchat" {
		t.Fatalf("got %q", got)
	}
	if got := negotiateSubprotocol(r, []string{"nope"}); got != "" {
		t.Fatalf("expected no match, got %q", got)
	}
}

func TestNegotiateDeflate_Disabled(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Set("Sec-WebSocket-Extensions", "permessage-deflate")
	deflate, _, header := negotiateDeflate(r, false)
	if deflate || header != "" {
		t.Fatal("expected no negotiation when server doesn't support deflate")
	}
}

func TestNegotiateDeflate_DefaultContextTakeover(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Set("Sec-WebSocket-Extensions", "permessage-deflate")
	deflate, contextTakeover, header := negotiateDeflate(r, true)
	if !deflate || !contextTakeover || header != "permessage-deflate" {
		t.Fatalf("got deflate=%v contextTakeover=%v header=%q", deflate, contextTakeover, header)
	}
}

func TestNegotiateDeflate_NoContextTakeoverRequested(t *testing.T) {
	r := validUpgradeRequest()
	r.Header.Set("Sec-WebSocket-Extensions", "permessage-deflate; client_no_context_takeover")
	deflate, contextTakeover, header := negotiateDeflate(r, true)
	if !deflate || contextTakeover {
		t.Fatal("expected context takeover disabled")
	}
	if header != "permessage-deflate; client_no_context_takeover" {
		t.Fatalf("unexpected response header: %q", header)
	}
}

func TestComputeAcceptKey(t *testing.T) {
	// RFC 6455 Section 1.3 worked example.
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestHeaderContainsToken(t *testing.T) {
	if !headerContainsToken("Upgrade, keep-alive", "upgrade") {
		t.Fatal("expected token match")
	}
	if headerContainsToken("keep-alive", "upgrade") {
		t.Fatal("expected no match")
	}
}
