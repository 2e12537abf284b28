package mainloop

import (
	"sync/atomic"
	"time"
)

// clockBase anchors timeout expiries, which are stored as offsets from it so
// they keep the monotonic clock reading.
var clockBase = time.Now()

// timeoutSource becomes ready once its expiry passes. Returning Continue
// reschedules it one interval after the dispatch. The expiry is atomic since
// IsReady may read it from any goroutine.
type timeoutSource struct {
	callbackSource
	expiry   atomic.Int64
	interval time.Duration
}

// NewTimeoutSource creates a source that becomes ready interval after it is
// attached, and every interval after each dispatch that returns Continue. A
// zero interval is ready on every iteration. The default priority is
// PriorityDefault.
func NewTimeoutSource(interval time.Duration) *Source {
	if interval < 0 {
		interval = 0
	}
	return NewSource(&timeoutSource{interval: interval})
}

func (x *timeoutSource) schedule(now time.Time) {
	x.expiry.Store(int64(now.Sub(clockBase) + x.interval))
}

func (x *timeoutSource) remaining(now time.Time) time.Duration {
	return time.Duration(x.expiry.Load()) - now.Sub(clockBase)
}

func (x *timeoutSource) attach(*Source, *MainContext) error {
	x.schedule(time.Now())
	return nil
}

func (x *timeoutSource) Prepare(_ *Source, now time.Time) (bool, time.Duration) {
	if remaining := x.remaining(now); remaining > 0 {
		return false, remaining
	}
	return true, 0
}

func (x *timeoutSource) Check(_ *Source, now time.Time) bool {
	return x.remaining(now) <= 0
}

func (x *timeoutSource) Dispatch(s *Source, callback SourceFunc, userData any) ControlFlow {
	result := x.callbackSource.Dispatch(s, callback, userData)
	if result == Continue {
		x.schedule(time.Now())
	}
	return result
}

// AddTimeout schedules fn to be called every intervalMs milliseconds, at
// PriorityDefault, until it returns Remove. It returns the new source id.
func (c *MainContext) AddTimeout(intervalMs uint, fn SourceFunc, userData any) SourceID {
	return c.AddTimeoutFull(PriorityDefault, time.Duration(intervalMs)*time.Millisecond, fn, userData, nil)
}

// AddTimeoutSeconds is AddTimeout with a whole-second interval.
func (c *MainContext) AddTimeoutSeconds(seconds uint, fn SourceFunc, userData any) SourceID {
	return c.AddTimeoutFull(PriorityDefault, time.Duration(seconds)*time.Second, fn, userData, nil)
}

// AddTimeoutFull schedules fn every interval at the given priority. notify,
// if not nil, is called with userData once the source is destroyed.
func (c *MainContext) AddTimeoutFull(priority int, interval time.Duration, fn SourceFunc, userData any, notify DestroyNotify) SourceID {
	s := NewTimeoutSource(interval)
	s.SetPriority(priority)
	s.SetCallback(fn, userData, notify)
	return s.Attach(c)
}

// AddTimeout is MainContext.AddTimeout on the default context.
func AddTimeout(intervalMs uint, fn SourceFunc, userData any) SourceID {
	return DefaultContext().AddTimeout(intervalMs, fn, userData)
}

// AddTimeoutFull is MainContext.AddTimeoutFull on the default context.
func AddTimeoutFull(priority int, interval time.Duration, fn SourceFunc, userData any, notify DestroyNotify) SourceID {
	return DefaultContext().AddTimeoutFull(priority, interval, fn, userData, notify)
}
