//go:build darwin

package poll

import (
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Poller waits on a kqueue instance. The wake primitive is a non-blocking
// self-pipe whose read end is permanently registered.
type Poller struct { // betteralign:ignore
	fds         map[int]fdInfo
	eventBuf    [256]unix.Kevent_t
	fdMu        sync.RWMutex
	kq          int
	wakeRead    int
	wakeWrite   int
	wakeBuf     [64]byte
	wakePending atomic.Uint32
	closed      atomic.Bool
}

// New creates a kqueue instance plus its self-pipe wake-up.
func New() (*Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)

	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		_ = unix.Close(kq)
	}
	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])
	if err := syscall.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return nil, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return nil, err
	}

	kev := []unix.Kevent_t{{Ident: uint64(fds[0]), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE}}
	if _, err := unix.Kevent(kq, kev, nil, nil); err != nil {
		cleanup()
		return nil, err
	}

	return &Poller{
		fds:       make(map[int]fdInfo),
		kq:        kq,
		wakeRead:  fds[0],
		wakeWrite: fds[1],
	}, nil
}

// Close closes the kqueue instance and both ends of the wake pipe. It is
// idempotent.
func (p *Poller) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	err := unix.Close(p.kq)
	_ = unix.Close(p.wakeRead)
	_ = unix.Close(p.wakeWrite)
	return err
}

// Register starts monitoring fd for events.
func (p *Poller) Register(fd int, events Events, cb Callback) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if fd < 0 || fd >= maxFD || fd == p.wakeRead || fd == p.wakeWrite {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	if _, ok := p.fds[fd]; ok {
		return ErrFDAlreadyRegistered
	}

	if kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			return err
		}
	}

	p.fds[fd] = fdInfo{callback: cb, events: events}
	return nil
}

// Unregister stops monitoring fd. A callback already copied by an in-flight
// Wait may still run once after Unregister returns.
func (p *Poller) Unregister(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	info, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)

	if !p.closed.Load() {
		if kevents := eventsToKevents(fd, info.events, unix.EV_DELETE); len(kevents) > 0 {
			_, _ = unix.Kevent(p.kq, kevents, nil, nil) // the fd may already be closed
		}
	}
	return nil
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
	oldEvents := info.events
	info.events = events
	p.fds[fd] = info
	p.fdMu.Unlock()

	if removed := oldEvents &^ events; removed != 0 {
		if kevents := eventsToKevents(fd, removed, unix.EV_DELETE); len(kevents) > 0 {
			_, _ = unix.Kevent(p.kq, kevents, nil, nil)
		}
	}
	if added := events &^ oldEvents; added != 0 {
		if kevents := eventsToKevents(fd, added, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
			if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
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

	var ts *unix.Timespec
	if ms := timeoutMillis(timeout); ms >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(ms / 1000),
			Nsec: int64((ms % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	return p.dispatchEvents(n, drain), nil
}

// Wake interrupts a blocked (or the next) Wait. Concurrent wakes coalesce
// until the waiting goroutine drains the pipe.
func (p *Poller) Wake() error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.wakePending.CompareAndSwap(0, 1) {
		return nil
	}
	if _, err := unix.Write(p.wakeWrite, []byte{1}); err != nil && err != unix.EAGAIN {
		p.wakePending.Store(0)
		return err
	}
	return nil
}

func (p *Poller) dispatchEvents(n int, drain bool) (dispatched int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd == p.wakeRead {
			if drain {
				p.drainWakeUp()
			}
			continue
		}

		p.fdMu.RLock()
		info, ok := p.fds[fd]
		p.fdMu.RUnlock()

		if ok && info.callback != nil {
			info.callback(keventToEvents(&p.eventBuf[i]))
			dispatched++
		}
	}
	return dispatched
}

func (p *Poller) drainWakeUp() {
	p.wakePending.Store(0)
	for {
		if _, err := unix.Read(p.wakeRead, p.wakeBuf[:]); err != nil {
			break
		}
	}
}

// eventsToKevents converts Events to kqueue kevent structures.
func eventsToKevents(fd int, events Events, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevents
}

// keventToEvents converts a kqueue event to Events.
func keventToEvents(kev *unix.Kevent_t) Events {
	var events Events
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
