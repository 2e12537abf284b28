package mainloop

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SourceID identifies a source attached to a context. IDs are assigned on
// attach, increase monotonically from 1 and are never reused within a
// context. The zero value means "not attached".
type SourceID uint64

// ControlFlow is the result of a source callback.
type ControlFlow uint8

const (
	// Remove destroys the source after the callback returns.
	Remove ControlFlow = iota
	// Continue keeps the source attached.
	Continue
)

// String returns the string representation of the control flow value.
func (f ControlFlow) String() string {
	switch f {
	case Remove:
		return "Remove"
	case Continue:
		return "Continue"
	default:
		return fmt.Sprintf("ControlFlow(%d)", uint8(f))
	}
}

// SourceFunc is the callback attached to a source. userData is passed through
// verbatim.
type SourceFunc func(userData any) ControlFlow

// DestroyNotify is called exactly once with the source's user data, when the
// source is destroyed (or its callback replaced).
type DestroyNotify func(userData any)

// Dispatch priorities. Lower values dispatch first.
const (
	PriorityHigh        = -100
	PriorityDefault     = 0
	PriorityHighIdle    = 100
	PriorityDefaultIdle = 200
	PriorityLow         = 300
)

// SourceState is the lifecycle state of a source.
type SourceState uint32

const (
	// SourceStateNew is a source that has not been attached.
	SourceStateNew SourceState = iota
	// SourceStateAttached is a source owned by a context, waiting to be
	// dispatched.
	SourceStateAttached
	// SourceStateDispatched is a source whose callback is running.
	SourceStateDispatched
	// SourceStateDestroyed is terminal.
	SourceStateDestroyed
)

// String returns the string representation of the state.
func (s SourceState) String() string {
	switch s {
	case SourceStateNew:
		return "New"
	case SourceStateAttached:
		return "Attached"
	case SourceStateDispatched:
		return "Dispatched"
	case SourceStateDestroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("SourceState(%d)", uint32(s))
	}
}

// SourceFuncs implements the readiness and dispatch behaviour of a source.
// All methods are called on the goroutine that owns the context, without any
// context lock held.
type SourceFuncs interface {
	// Prepare is called before polling. It returns true if the source is
	// ready without polling; otherwise timeout bounds how long the context may
	// block on the source's behalf (negative means no bound).
	Prepare(s *Source, now time.Time) (ready bool, timeout time.Duration)

	// Check is called after polling, and reports whether the source is ready.
	Check(s *Source, now time.Time) bool

	// Dispatch invokes the callback (which may be nil) and returns whether
	// the source stays attached.
	Dispatch(s *Source, callback SourceFunc, userData any) ControlFlow
}

// SourceFinalizer may be implemented by SourceFuncs to release resources
// when the source is destroyed. Finalize runs once, before the DestroyNotify.
type SourceFinalizer interface {
	Finalize(s *Source)
}

// sourceAttacher may be implemented by SourceFuncs that need to hook into the
// context on attach, e.g. to register with the poll hook.
type sourceAttacher interface {
	attach(s *Source, c *MainContext) error
}

// Source is an event source: something that can become ready and, when
// ready, is dispatched by the context it is attached to.
//
// A Source is created by NewSource (or one of the typed constructors), may
// be configured, is attached to exactly one context, and is destroyed either
// explicitly, by its callback returning Remove, or by its context being
// destroyed. It cannot be reattached.
type Source struct {
	funcs    SourceFuncs
	callback SourceFunc
	userData any
	notify   DestroyNotify
	ctx      *MainContext
	name     string
	mu       sync.Mutex
	priority int
	id       SourceID
	state    atomic.Uint32

	// finalizeOnce guards Finalize plus DestroyNotify.
	finalizeOnce sync.Once
}

// NewSource creates a custom source, driven by funcs.
func NewSource(funcs SourceFuncs) *Source {
	if funcs == nil {
		panic("mainloop: nil SourceFuncs")
	}
	return &Source{funcs: funcs, priority: PriorityDefault}
}

// Funcs returns the readiness implementation of the source.
func (s *Source) Funcs() SourceFuncs {
	return s.funcs
}

// SetCallback sets the callback and its user data. Any previous user data is
// released via its DestroyNotify. It is a usage error once destroyed.
func (s *Source) SetCallback(fn SourceFunc, userData any, notify DestroyNotify) {
	s.mu.Lock()
	if s.State() == SourceStateDestroyed {
		c := s.ctx
		s.mu.Unlock()
		usagePanic(c, "Source.SetCallback", ErrSourceDestroyed)
		return
	}
	oldData, oldNotify := s.userData, s.notify
	s.callback, s.userData, s.notify = fn, userData, notify
	s.mu.Unlock()
	if oldNotify != nil {
		oldNotify(oldData)
	}
}

// SetPriority changes the dispatch priority. It is a usage error once
// destroyed.
func (s *Source) SetPriority(priority int) {
	s.mu.Lock()
	if s.State() == SourceStateDestroyed {
		c := s.ctx
		s.mu.Unlock()
		usagePanic(c, "Source.SetPriority", ErrSourceDestroyed)
		return
	}
	s.priority = priority
	s.mu.Unlock()
}

// Priority returns the dispatch priority.
func (s *Source) Priority() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priority
}

// SetName labels the source in log output.
func (s *Source) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// Name returns the label set by SetName.
func (s *Source) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// ID returns the id assigned on attach, or 0.
func (s *Source) ID() SourceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the lifecycle state.
func (s *Source) State() SourceState {
	return SourceState(s.state.Load())
}

// IsDestroyed reports whether the source has been destroyed.
func (s *Source) IsDestroyed() bool {
	return s.State() == SourceStateDestroyed
}

// Context returns the context the source was attached to, or nil.
func (s *Source) Context() *MainContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Attach adds the source to c (nil means DefaultContext) and returns its new
// id. Attaching twice, attaching a destroyed source, or attaching to a
// destroyed context are usage errors. Attaching from a goroutine other than
// the owner wakes a blocked iteration.
//
// If the source cannot be registered (an IO watch on a bad fd, or on a
// platform without fd polling) the failure is logged, the source destroyed,
// and 0 returned. Use TryAttach to get the error.
func (s *Source) Attach(c *MainContext) SourceID {
	id, err := s.TryAttach(c)
	if err != nil {
		loggerFor(orDefault(c)).Err().
			Str("category", "poll").
			Err(err).
			Log("source attach failed")
		return 0
	}
	return id
}

// TryAttach is Attach, returning registration failures instead of logging
// them. The source is destroyed when an error is returned. Usage errors
// still panic.
func (s *Source) TryAttach(c *MainContext) (SourceID, error) {
	c = orDefault(c)
	id, err := c.attachSource(s)
	if err != nil {
		s.Destroy()
		return 0, err
	}
	return id, nil
}

// orDefault returns c, or DefaultContext if c is nil.
func orDefault(c *MainContext) *MainContext {
	if c == nil {
		return DefaultContext()
	}
	return c
}

// Destroy detaches the source from its context and destroys it. It is
// idempotent. Destroying a source from inside its own callback takes effect
// when the callback returns, and the callback's result is ignored.
func (s *Source) Destroy() {
	if c := s.Context(); c != nil {
		c.destroySource(s)
		return
	}
	if s.state.Swap(uint32(SourceStateDestroyed)) != uint32(SourceStateDestroyed) {
		s.finalize()
	}
}

// IsReady reports whether the source would be dispatched if the context were
// iterated now. It may be called from any goroutine: the built-in sources
// keep their readiness state atomic, and custom SourceFuncs must do the same
// if IsReady is used off the owning goroutine.
func (s *Source) IsReady() bool {
	if s.State() != SourceStateAttached {
		return false
	}
	now := time.Now()
	if ready, _ := s.funcs.Prepare(s, now); ready {
		return true
	}
	return s.funcs.Check(s, now)
}

// callbackData returns the callback and user data under the lock.
func (s *Source) callbackData() (SourceFunc, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callback, s.userData
}

// finalize runs the finalizer and the destroy notify, exactly once.
func (s *Source) finalize() {
	s.finalizeOnce.Do(func() {
		if f, ok := s.funcs.(SourceFinalizer); ok {
			f.Finalize(s)
		}
		s.mu.Lock()
		data, notify := s.userData, s.notify
		s.callback, s.userData, s.notify = nil, nil, nil
		s.mu.Unlock()
		if notify != nil {
			notify(data)
		}
	})
}

// callbackSource is the SourceFuncs Dispatch shared by the built-in sources:
// invoke the callback, if any, and pass its result through.
type callbackSource struct{}

func (callbackSource) Dispatch(_ *Source, callback SourceFunc, userData any) ControlFlow {
	if callback == nil {
		return Remove
	}
	return callback(userData)
}
