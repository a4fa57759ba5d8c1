package websocket

// Bridge for a future external (package websocket_test) black-box suite
// driving Server/Connection over real sockets, mirroring the internal
// opcode/frame-construction helpers this package's own in-package tests
// use directly. Exported only under _test.go so it never reaches the
// production API surface.

const (
	OpcodeContinuationForTest = opcodeContinuation
	OpcodeTextForTest         = opcodeText
	OpcodeBinaryForTest       = opcodeBinary
	OpcodeCloseForTest        = opcodeClose
	OpcodePingForTest         = opcodePing
	OpcodePongForTest         = opcodePong
)

// CloseWatchdogTimeoutForTest exposes the graceful-close forced-teardown
// deadline so an external test can size its own timeouts around it
// instead of hardcoding the duration.
const CloseWatchdogTimeoutForTest = closeWatchdogTimeout

// MaskFrameForTest builds a masked client frame exactly as a real client
// would put one on the wire, for tests driving a Server over a real or
// in-memory net.Conn rather than calling Connection.OnReadable directly.
func MaskFrameForTest(fin bool, opcode byte, mask [4]byte, payload []byte) []byte {
	return maskFrame(fin, opcode, mask, payload)
}
