//go:build windows

package eventloop

import (
	"container/heap"
	"sync"
	"time"
)

// Poller on Windows degrades to polling every registered descriptor on a
// short tick instead of a real readiness primitive (no portable
// poll(2)/epoll equivalent over arbitrary fds in this module's syscall
// surface). Connections handle a false-positive wakeup for free: a read
// or write that isn't actually ready just returns IOWouldBlock. Linux
// deployments should use Epoll; this exists so the module still builds
// and runs correctly, if less efficiently, elsewhere.
type Poller struct {
	mu        sync.Mutex
	callbacks map[int]func(readable, writable bool)
	timers    timerHeap
	nextTimer TimerHandle

	stop chan struct{}
}

func NewPoller() *Poller {
	return &Poller{
		callbacks: make(map[int]func(readable, writable bool)),
		stop:      make(chan struct{}),
	}
}

func (p *Poller) Register(fd int, _ Interest, onReady func(readable, writable bool)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks[fd] = onReady
	return nil
}

func (p *Poller) Deregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.callbacks, fd)
	return nil
}

func (p *Poller) Timer(d time.Duration, callback func()) TimerHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextTimer++
	h := p.nextTimer
	heap.Push(&p.timers, &timerEntry{at: time.Now().Add(d), handle: h, callback: callback})
	return h
}

func (p *Poller) CancelTimer(h TimerHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.timers {
		if t.handle == h {
			t.callback = nil
			heap.Fix(&p.timers, i)
			return
		}
	}
}

func (p *Poller) Run() error {
	tick := time.NewTicker(2 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-p.stop:
			return nil
		case <-tick.C:
			p.mu.Lock()
			cbs := make([]func(bool, bool), 0, len(p.callbacks))
			for _, cb := range p.callbacks {
				cbs = append(cbs, cb)
			}
			p.mu.Unlock()
			for _, cb := range cbs {
				cb(true, true)
			}
			p.fireExpiredTimers()
		}
	}
}

func (p *Poller) Stop() { close(p.stop) }

func (p *Poller) fireExpiredTimers() {
	now := time.Now()
	for {
		p.mu.Lock()
		if len(p.timers) == 0 || p.timers[0].at.After(now) {
			p.mu.Unlock()
			break
		}
		t := heap.Pop(&p.timers).(*timerEntry)
		p.mu.Unlock()
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
