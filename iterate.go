package mainloop

import (
	"errors"
	"runtime/debug"
	"slices"
	"time"

	"github.com/joeycumines/go-mainloop/internal/poll"
)

// Iteration runs a single pass of the context: prepare every source, poll
// (blocking only if mayBlock is true and nothing is ready), check, then
// dispatch the ready sources in ascending priority order, ties broken by id.
// It returns true if at least one source was dispatched.
//
// Sources attached during the dispatch pass wait for the next iteration.
// Sources destroyed during the pass, by an earlier callback, are skipped, as
// are sources whose callback is already running (nested iteration).
//
// If another goroutine owns c, a blocking Iteration first waits for it to
// relinquish, while a non-blocking one returns false immediately.
func (c *MainContext) Iteration(mayBlock bool) bool {
	c.checkAlive("MainContext.Iteration")
	if !mayBlock {
		if !c.Acquire() {
			return false
		}
	} else {
		c.acquireWait()
	}
	defer c.Relinquish()
	c.checkAlive("MainContext.Iteration")
	return c.iterate(mayBlock, true)
}

// Pending reports whether any source is ready to be dispatched now. It never
// dispatches or blocks, and repeated calls observe the same state: a wake-up
// queued by Wakeup is left for the next Iteration. It reports false if
// another goroutine owns c.
func (c *MainContext) Pending() bool {
	c.checkAlive("MainContext.Pending")
	if !c.Acquire() {
		return false
	}
	defer c.Relinquish()
	return c.iterate(false, false)
}

// pollEntry tracks one source through a pass.
type pollEntry struct {
	source   *Source
	priority int
	id       SourceID
	ready    bool
}

// snapshot copies the attached sources that are not in a callback.
func (c *MainContext) snapshot() []pollEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]pollEntry, 0, len(c.order))
	for _, s := range c.order {
		if s.State() == SourceStateAttached {
			entries = append(entries, pollEntry{source: s})
		}
	}
	return entries
}

// iterate is the body of Iteration and Pending. The caller must own c.
func (c *MainContext) iterate(block, dispatch bool) bool {
	var start time.Time
	if c.metrics != nil && dispatch {
		start = time.Now()
	}

	// prepare
	now := time.Now()
	entries := c.snapshot()
	prepared := make(map[*Source]bool, len(entries))
	timeout := time.Duration(-1)
	anyReady := false
	for i := range entries {
		s := entries[i].source
		if s.State() != SourceStateAttached {
			continue
		}
		ready, d := s.funcs.Prepare(s, now)
		prepared[s] = ready
		switch {
		case ready:
			anyReady = true
		case d >= 0 && (timeout < 0 || d < timeout):
			timeout = d
		}
	}
	if anyReady || !block {
		timeout = 0
	}

	if !dispatch && anyReady {
		return true
	}

	// poll, Pending peeks so queued wake-ups survive it
	var err error
	if dispatch {
		_, err = c.poller.Wait(timeout)
	} else {
		_, err = c.poller.Peek()
	}
	if err != nil {
		if errors.Is(err, poll.ErrClosed) {
			return false
		}
		c.log(loggerFor(c).Err(), "poll").
			Err(err).
			Log("poll failed")
	}

	// check, including anything attached while polling
	now = time.Now()
	entries = c.snapshot()
	ready := entries[:0]
	for _, e := range entries {
		s := e.source
		if s.State() != SourceStateAttached {
			continue
		}
		r, seen := prepared[s]
		if !seen {
			r, _ = s.funcs.Prepare(s, now)
		}
		if !r {
			r = s.funcs.Check(s, now)
		}
		if r {
			e.ready = true
			e.priority = s.Priority()
			e.id = s.ID()
			ready = append(ready, e)
		}
	}

	if !dispatch {
		return len(ready) > 0
	}

	slices.SortStableFunc(ready, func(a, b pollEntry) int {
		if a.priority != b.priority {
			if a.priority < b.priority {
				return -1
			}
			return 1
		}
		if a.id < b.id {
			return -1
		}
		if a.id > b.id {
			return 1
		}
		return 0
	})

	dispatched := c.dispatch(ready)

	if c.metrics != nil {
		c.metrics.recordIteration(time.Since(start), dispatched)
	}

	return dispatched > 0
}

// dispatch runs the callbacks of the ready sources, in order.
func (c *MainContext) dispatch(ready []pollEntry) (dispatched int) {
	for _, e := range ready {
		s := e.source

		c.mu.Lock()
		if !s.state.CompareAndSwap(uint32(SourceStateAttached), uint32(SourceStateDispatched)) {
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()

		callback, userData := s.callbackData()

		var start time.Time
		if c.metrics != nil || c.slowDispatch > 0 {
			start = time.Now()
		}

		result, panicked := c.safeDispatch(s, callback, userData)
		dispatched++

		if !start.IsZero() {
			elapsed := time.Since(start)
			if c.metrics != nil {
				c.metrics.recordDispatch(elapsed)
			}
			if c.slowDispatch > 0 && elapsed > c.slowDispatch && c.allowWarning("slow", e.id) {
				logSource(c.log(loggerFor(c).Warning(), "source"), s).
					Dur("elapsed", elapsed).
					Dur("threshold", c.slowDispatch).
					Log("slow dispatch")
			}
		}

		finalize := false
		c.mu.Lock()
		switch {
		case s.State() == SourceStateDestroyed:
			// destroyed from within its callback
			finalize = true
		case result == Remove || panicked:
			s.state.Store(uint32(SourceStateDestroyed))
			c.detachLocked(s)
			finalize = true
		default:
			s.state.Store(uint32(SourceStateAttached))
		}
		c.mu.Unlock()

		if finalize {
			s.finalize()
		}
	}
	return dispatched
}

// safeDispatch calls Dispatch, recovering panics. UsageError panics are
// re-raised, with the source marked destroyed first.
func (c *MainContext) safeDispatch(s *Source, callback SourceFunc, userData any) (result ControlFlow, panicked bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		panicked = true
		if ue, ok := r.(*UsageError); ok {
			c.mu.Lock()
			s.state.Store(uint32(SourceStateDestroyed))
			c.detachLocked(s)
			c.mu.Unlock()
			s.finalize()
			panic(ue)
		}
		if c.allowWarning("panic", s.ID()) {
			logSource(c.log(loggerFor(c).Err(), "source"), s).
				Err(&PanicError{Value: r, ID: s.ID()}).
				Str("stack", string(debug.Stack())).
				Log("source callback panicked, source removed")
		}
	}()
	return s.funcs.Dispatch(s, callback, userData), false
}
