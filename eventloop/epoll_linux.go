//go:build linux

package eventloop

import (
	"container/heap"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Epoll is the production EventLoop, grounded on the readiness-over-raw-
// socket model used for non-blocking transports: one epoll instance per
// worker, each owning a disjoint set of connections affine to exactly
// one loop.
type Epoll struct {
	fd int

	mu        sync.Mutex
	callbacks map[int]func(readable, writable bool)
	timers    timerHeap
	nextTimer TimerHandle

	stop chan struct{}
}

// NewEpoll creates an epoll instance. Callers typically run one per
// worker goroutine and call Run on it.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:        fd,
		callbacks: make(map[int]func(readable, writable bool)),
		stop:      make(chan struct{}),
	}, nil
}

func (e *Epoll) Register(fd int, interest Interest, onReady func(readable, writable bool)) error {
	e.mu.Lock()
	_, exists := e.callbacks[fd]
	e.callbacks[fd] = onReady
	e.mu.Unlock()

	ev := unix.EpollEvent{Fd: int32(fd)}
	switch interest {
	case Readable:
		ev.Events = unix.EPOLLIN
	case ReadWritable:
		ev.Events = unix.EPOLLIN | unix.EPOLLOUT
	case None:
		ev.Events = 0
	}

	op := unix.EPOLL_CTL_MOD
	if !exists {
		op = unix.EPOLL_CTL_ADD
	}
	return unix.EpollCtl(e.fd, op, fd, &ev)
}

func (e *Epoll) Deregister(fd int) error {
	e.mu.Lock()
	delete(e.callbacks, fd)
	e.mu.Unlock()
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (e *Epoll) Timer(d time.Duration, callback func()) TimerHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextTimer++
	h := e.nextTimer
	heap.Push(&e.timers, &timerEntry{at: time.Now().Add(d), handle: h, callback: callback})
	return h
}

func (e *Epoll) CancelTimer(h TimerHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, t := range e.timers {
		if t.handle == h {
			t.callback = nil
			heap.Fix(&e.timers, i)
			return
		}
	}
}

// Run polls for readiness and fires expired timers until Stop is called.
func (e *Epoll) Run() error {
	events := make([]unix.EpollEvent, 128)
	for {
		select {
		case <-e.stop:
			return nil
		default:
		}

		timeout := e.nextTimeout()
		n, err := unix.EpollWait(e.fd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			e.mu.Lock()
			cb := e.callbacks[fd]
			e.mu.Unlock()
			if cb == nil {
				continue
			}
			readable := events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
			writable := events[i].Events&unix.EPOLLOUT != 0
			cb(readable, writable)
		}

		e.fireExpiredTimers()
	}
}

func (e *Epoll) Stop() {
	close(e.stop)
}

// nextTimeout returns the epoll_wait timeout in milliseconds needed to
// wake for the next armed timer, or -1 (block indefinitely) if none.
func (e *Epoll) nextTimeout() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.timers) == 0 {
		return -1
	}
	d := time.Until(e.timers[0].at)
	if d <= 0 {
		return 0
	}
	return int(d.Milliseconds()) + 1
}

func (e *Epoll) fireExpiredTimers() {
	now := time.Now()
	for {
		e.mu.Lock()
		if len(e.timers) == 0 || e.timers[0].at.After(now) {
			e.mu.Unlock()
			break
		}
		t := heap.Pop(&e.timers).(*timerEntry)
		e.mu.Unlock()
		if t.callback != nil {
			t.callback()
		}
	}
}

type timerEntry struct {
	at       time.Time
	handle   TimerHandle
	callback func()
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
