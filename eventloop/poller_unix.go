//go:build !linux && !windows

package eventloop

import (
	"container/heap"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Poller is the portable EventLoop fallback for non-Linux Unix targets,
// built on poll(2) instead of epoll. Functionally equivalent to Epoll but
// O(n) per wait call; callers on Linux should prefer Epoll.
type Poller struct {
	mu        sync.Mutex
	interest  map[int]Interest
	callbacks map[int]func(readable, writable bool)
	timers    timerHeap
	nextTimer TimerHandle

	stop chan struct{}
}

func NewPoller() *Poller {
	return &Poller{
		interest:  make(map[int]Interest),
		callbacks: make(map[int]func(readable, writable bool)),
		stop:      make(chan struct{}),
	}
}

func (p *Poller) Register(fd int, interest Interest, onReady func(readable, writable bool)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interest[fd] = interest
	p.callbacks[fd] = onReady
	return nil
}

func (p *Poller) Deregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.interest, fd)
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
	for {
		select {
		case <-p.stop:
			return nil
		default:
		}

		fds := p.buildPollFds()
		timeout := p.nextTimeout()
		if len(fds) > 0 {
			if _, err := unix.Poll(fds, timeout); err != nil && err != unix.EINTR {
				return err
			}
		} else if timeout > 0 {
			time.Sleep(time.Duration(timeout) * time.Millisecond)
		}

		p.dispatch(fds)
		p.fireExpiredTimers()
	}
}

func (p *Poller) Stop() { close(p.stop) }

func (p *Poller) buildPollFds() []unix.PollFd {
	p.mu.Lock()
	defer p.mu.Unlock()
	fds := make([]unix.PollFd, 0, len(p.interest))
	for fd, interest := range p.interest {
		if interest == None {
			continue
		}
		var events int16 = unix.POLLIN
		if interest == ReadWritable {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	return fds
}

func (p *Poller) dispatch(fds []unix.PollFd) {
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		p.mu.Lock()
		cb := p.callbacks[int(pfd.Fd)]
		p.mu.Unlock()
		if cb == nil {
			continue
		}
		readable := pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
		writable := pfd.Revents&unix.POLLOUT != 0
		cb(readable, writable)
	}
}

func (p *Poller) nextTimeout() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.timers) == 0 {
		return -1
	}
	d := time.Until(p.timers[0].at)
	if d <= 0 {
		return 0
	}
	return int(d.Milliseconds()) + 1
}

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
