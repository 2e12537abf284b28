//go:build linux

package poll

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Poller waits on an epoll instance. The wake primitive is an eventfd that
// is permanently registered for reading.
type Poller struct { // betteralign:ignore
	fds         map[int]fdInfo
	eventBuf    [256]unix.EpollEvent
	fdMu        sync.RWMutex
	epfd        int
	wakeFd      int
	wakeBuf     [8]byte
	wakePending atomic.Uint32
	closed      atomic.Bool
}

// New creates an epoll instance plus its eventfd wake-up.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, err
	}

	return &Poller{
		fds:    make(map[int]fdInfo),
		epfd:   epfd,
		wakeFd: wakeFd,
	}, nil
}

// Close closes the epoll instance and the wake eventfd. It is idempotent.
func (p *Poller) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	err := unix.Close(p.epfd)
	if err2 := unix.Close(p.wakeFd); err == nil {
		err = err2
	}
	return err
}

// Register starts monitoring fd for events.
func (p *Poller) Register(fd int, events Events, cb Callback) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if fd < 0 || fd >= maxFD || fd == p.wakeFd {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if _, ok := p.fds[fd]; ok {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, events: events}
	p.fdMu.Unlock()

	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		p.fdMu.Lock()
		delete(p.fds, fd) // rollback
		p.fdMu.Unlock()
		return err
	}
	return nil
}

// Unregister stops monitoring fd. A callback already copied by an in-flight
// Wait may still run once after Unregister returns.
func (p *Poller) Unregister(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if _, ok := p.fds[fd]; !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	p.fdMu.Unlock()

	if p.closed.Load() {
		return nil
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Modify updates the events being monitored for fd.
func (p *Poller) Modify(fd int, events Events) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	info, ok := p.fds[fd]
	if !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	info.events = events
	p.fds[fd] = info
	p.fdMu.Unlock()

	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Wait blocks for at most timeout (negative: indefinitely) until a
// registered fd is ready or Wake is called, dispatching fd callbacks inline.
// It returns the number of fd callbacks invoked. EINTR is reported as a
// spurious wake-up (0, nil).
func (p *Poller) Wait(timeout time.Duration) (int, error) {
	return p.wait(timeout, true)
}

// Peek is a non-blocking Wait that leaves a pending wake-up in place, so the
// next Wait still returns immediately.
func (p *Poller) Peek() (int, error) {
	return p.wait(0, false)
}

func (p *Poller) wait(timeout time.Duration, drain bool) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	return p.dispatchEvents(n, drain), nil
}

// Wake interrupts a blocked (or the next) Wait. Concurrent wakes coalesce
// until the waiting goroutine drains the eventfd.
func (p *Poller) Wake() error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.wakePending.CompareAndSwap(0, 1) {
		return nil
	}

	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	if _, err := unix.Write(p.wakeFd, buf); err != nil && err != unix.EAGAIN {
		p.wakePending.Store(0)
		return err
	}
	return nil
}

// dispatchEvents copies each fdInfo under the read lock, then invokes the
// callback outside of it.
func (p *Poller) dispatchEvents(n int, drain bool) (dispatched int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd == p.wakeFd {
			if drain {
				p.drainWakeUp()
			}
			continue
		}

		p.fdMu.RLock()
		info, ok := p.fds[fd]
		p.fdMu.RUnlock()

		if ok && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
			dispatched++
		}
	}
	return dispatched
}

// drainWakeUp clears the pending flag before reading, so a Wake racing with
// the drain is never lost (at worst it causes one spurious wake-up).
func (p *Poller) drainWakeUp() {
	p.wakePending.Store(0)
	for {
		if _, err := unix.Read(p.wakeFd, p.wakeBuf[:]); err != nil {
			break
		}
	}
}

// eventsToEpoll converts Events to epoll event flags.
func eventsToEpoll(events Events) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to Events.
func epollToEvents(epollEvents uint32) Events {
	var events Events
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
