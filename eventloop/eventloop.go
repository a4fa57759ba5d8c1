// Package eventloop provides the readiness-notification primitive the
// websocket package is built against: Connection never blocks on I/O,
// instead registering interest with an EventLoop and being re-entered on
// the next readiness event for its file descriptor.
package eventloop

import "time"

// Interest is the set of readiness events a registration cares about.
type Interest int

const (
	// None deregisters readiness interest (keeps the registration, but
	// stops delivering events) without closing the descriptor.
	None Interest = iota
	// Readable requests on_ready callbacks when the fd has data to read.
	Readable
	// ReadWritable additionally requests on_ready when the fd accepts
	// writes; Connection asks for this only while its send queue is
	// non-empty.
	ReadWritable
)

// TimerHandle identifies an armed timer so it can be cancelled.
type TimerHandle int

// EventLoop is the downward interface spec'd for the core: register a
// connection's readiness interest, and schedule/cancel one-shot timers
// (used by the close watchdog).
type EventLoop interface {
	// Register binds fd to interest, invoking onReady on every matching
	// readiness event. Calling Register again for the same fd updates
	// the interest set in place.
	Register(fd int, interest Interest, onReady func(readable, writable bool)) error

	// Deregister removes fd's registration entirely.
	Deregister(fd int) error

	// Timer arms a one-shot timer that invokes callback after d elapses,
	// from within the loop (never concurrently with other loop work).
	Timer(d time.Duration, callback func()) TimerHandle

	// CancelTimer cancels a previously armed timer; a no-op if it already
	// fired or was already cancelled.
	CancelTimer(h TimerHandle)

	// Run drives the loop until Stop is called.
	Run() error

	// Stop requests the loop to return from Run.
	Stop()
}
