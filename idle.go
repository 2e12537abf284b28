package mainloop

import (
	"time"
)

// idleSource is always ready.
type idleSource struct {
	callbackSource
}

// NewIdleSource creates a source that is ready on every iteration, at
// PriorityDefaultIdle, so anything with a higher priority runs first.
func NewIdleSource() *Source {
	s := NewSource(idleSource{})
	s.priority = PriorityDefaultIdle
	return s
}

func (idleSource) Prepare(*Source, time.Time) (bool, time.Duration) { return true, 0 }

func (idleSource) Check(*Source, time.Time) bool { return true }

// AddIdle calls fn on every iteration, at PriorityDefaultIdle, until it
// returns Remove.
func (c *MainContext) AddIdle(fn SourceFunc, userData any) SourceID {
	return c.AddIdleFull(PriorityDefaultIdle, fn, userData, nil)
}

// AddIdleFull is AddIdle with an explicit priority and destroy notify.
func (c *MainContext) AddIdleFull(priority int, fn SourceFunc, userData any, notify DestroyNotify) SourceID {
	s := NewIdleSource()
	s.SetPriority(priority)
	s.SetCallback(fn, userData, notify)
	return s.Attach(c)
}

// AddIdle is MainContext.AddIdle on the default context.
func AddIdle(fn SourceFunc, userData any) SourceID {
	return DefaultContext().AddIdle(fn, userData)
}
