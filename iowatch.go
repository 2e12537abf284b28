package mainloop

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-mainloop/internal/poll"
)

// IOCondition is a bit set of file descriptor conditions.
type IOCondition uint32

const (
	// IORead means there is data to read.
	IORead IOCondition = 1 << iota
	// IOWrite means data can be written without blocking.
	IOWrite
	// IOError is an error condition. It is always reported.
	IOError
	// IOHangup means the peer hung up. It is always reported.
	IOHangup
)

// String returns the set bits joined by "|", e.g. "read|hangup".
func (c IOCondition) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, v := range [...]struct {
		bit  IOCondition
		name string
	}{
		{IORead, "read"},
		{IOWrite, "write"},
		{IOError, "error"},
		{IOHangup, "hangup"},
	} {
		if c&v.bit != 0 {
			parts = append(parts, v.name)
			c &^= v.bit
		}
	}
	if c != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(c)))
	}
	return strings.Join(parts, "|")
}

// IOFunc is the callback of an IO watch. cond holds the conditions observed
// for fd since the last dispatch.
type IOFunc func(fd int, cond IOCondition, userData any) ControlFlow

// ioWatch is ready when the poll hook has latched a condition of interest.
type ioWatch struct {
	callbackSource
	poller  *poll.Poller
	fd      int
	cond    IOCondition
	revents atomic.Uint32
	// current holds the conditions of the dispatch in progress.
	current IOCondition
}

// NewIOWatch creates a source that becomes ready when fd satisfies cond. It
// is registered with the poll hook of the context it is attached to, and
// unregistered when destroyed. Use SetIOCallback to receive the fd and the
// observed conditions; a plain SetCallback also works.
func NewIOWatch(fd int, cond IOCondition) *Source {
	return NewSource(&ioWatch{fd: fd, cond: cond})
}

func (x *ioWatch) interest() IOCondition {
	return x.cond | IOError | IOHangup
}

func (x *ioWatch) attach(_ *Source, c *MainContext) error {
	var events poll.Events
	if x.cond&IORead != 0 {
		events |= poll.EventRead
	}
	if x.cond&IOWrite != 0 {
		events |= poll.EventWrite
	}
	if err := c.poller.Register(x.fd, events, x.latch); err != nil {
		return fmt.Errorf("mainloop: watch fd %d: %w", x.fd, err)
	}
	x.poller = c.poller
	return nil
}

// latch records poll results, called from within the poll hook's Wait.
func (x *ioWatch) latch(ev poll.Events) {
	var cond IOCondition
	if ev&poll.EventRead != 0 {
		cond |= IORead
	}
	if ev&poll.EventWrite != 0 {
		cond |= IOWrite
	}
	if ev&poll.EventError != 0 {
		cond |= IOError
	}
	if ev&poll.EventHangup != 0 {
		cond |= IOHangup
	}
	x.revents.Or(uint32(cond))
}

func (x *ioWatch) ready() bool {
	return IOCondition(x.revents.Load())&x.interest() != 0
}

func (x *ioWatch) Prepare(*Source, time.Time) (bool, time.Duration) {
	return x.ready(), -1
}

func (x *ioWatch) Check(*Source, time.Time) bool {
	return x.ready()
}

func (x *ioWatch) Dispatch(s *Source, callback SourceFunc, userData any) ControlFlow {
	x.current = IOCondition(x.revents.Swap(0)) & x.interest()
	return x.callbackSource.Dispatch(s, callback, userData)
}

func (x *ioWatch) Finalize(*Source) {
	if x.poller != nil {
		if err := x.poller.Unregister(x.fd); err != nil && !errors.Is(err, poll.ErrFDNotRegistered) && !errors.Is(err, poll.ErrClosed) {
			getGlobalLogger().Warning().
				Str("category", "poll").
				Int("fd", x.fd).
				Err(err).
				Log("failed to unregister io watch")
		}
		x.poller = nil
	}
}

// SetIOCallback sets an IOFunc as the callback of an IO watch created by
// NewIOWatch. It panics if s is not an IO watch.
func (s *Source) SetIOCallback(fn IOFunc, userData any, notify DestroyNotify) {
	x, ok := s.funcs.(*ioWatch)
	if !ok {
		panic("mainloop: SetIOCallback on a source that is not an IO watch")
	}
	var cb SourceFunc
	if fn != nil {
		cb = func(userData any) ControlFlow {
			return fn(x.fd, x.current, userData)
		}
	}
	s.SetCallback(cb, userData, notify)
}

// AddIOWatch calls fn whenever fd satisfies cond, at PriorityDefault, until
// it returns Remove. Registration failures, including
// ErrIOWatchUnsupported, are returned as errors.
func (c *MainContext) AddIOWatch(fd int, cond IOCondition, fn IOFunc, userData any) (SourceID, error) {
	s := NewIOWatch(fd, cond)
	s.SetIOCallback(fn, userData, nil)
	return s.TryAttach(c)
}
