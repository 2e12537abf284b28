package mainloop

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-mainloop/internal/poll"
	"github.com/joeycumines/logiface"
)

// MainContext owns a set of sources and dispatches them when ready. It is
// reference counted: NewContext returns a context with a count of one, and
// the context (with every attached source) is destroyed when Release drops
// the count to zero.
//
// At most one goroutine iterates a context at a time (its owner, see
// Acquire). Sources may be attached and removed from any goroutine.
type MainContext struct {
	poller      *poll.Poller
	logger      *logiface.Logger[logiface.Event]
	metrics     *contextMetrics
	warnLimiter *catrate.Limiter
	sources     map[SourceID]*Source

	// ownership, see ownership.go
	ownerCond *sync.Cond

	name  string
	order []*Source

	slowDispatch time.Duration
	nextID       SourceID
	mu           sync.Mutex
	ownerMu      sync.Mutex
	ownerDepth   int
	owner        atomic.Uint64
	refs         atomic.Int32
	destroyed    atomic.Bool

	// closePoller defers closing the poll hook until the owner relinquishes.
	closePoller bool
}

var defaultContext struct {
	ctx  *MainContext
	once sync.Once
}

// NewContext creates a context with a reference count of one. It fails only
// if the poll hook cannot be created.
func NewContext(opts ...ContextOption) (*MainContext, error) {
	cfg, err := resolveContextOptions(opts)
	if err != nil {
		return nil, err
	}

	poller, err := poll.New()
	if err != nil {
		return nil, fmt.Errorf("mainloop: create poll hook: %w", err)
	}

	c := &MainContext{
		poller:       poller,
		logger:       cfg.logger,
		warnLimiter:  newWarnLimiter(),
		sources:      make(map[SourceID]*Source),
		name:         cfg.name,
		slowDispatch: cfg.slowDispatchThreshold,
	}
	c.ownerCond = sync.NewCond(&c.ownerMu)
	if cfg.metricsEnabled {
		c.metrics = newContextMetrics()
	}
	c.refs.Store(1)

	c.log(loggerFor(c).Debug(), "context").Log("context created")

	return c, nil
}

// DefaultContext returns the process-wide default context, creating it on
// first use. It is never destroyed by the package, and calling
// DefaultContext does not change its reference count.
func DefaultContext() *MainContext {
	defaultContext.once.Do(func() {
		c, err := NewContext(WithName("default"))
		if err != nil {
			panic(fmt.Errorf("mainloop: default context: %w", err))
		}
		defaultContext.ctx = c
	})
	return defaultContext.ctx
}

// Name returns the name set by WithName.
func (c *MainContext) Name() string {
	return c.name
}

// log decorates b with the category and the context name.
func (c *MainContext) log(b *logiface.Builder[logiface.Event], category string) *logiface.Builder[logiface.Event] {
	b = b.Str("category", category)
	if c.name != "" {
		b = b.Str("context", c.name)
	}
	return b
}

// checkAlive raises a UsageError if c has been destroyed.
func (c *MainContext) checkAlive(op string) {
	if c.destroyed.Load() {
		usagePanic(c, op, ErrContextDestroyed)
	}
}

// Retain increments the reference count and returns c. Retaining a
// destroyed context is a usage error.
func (c *MainContext) Retain() *MainContext {
	for {
		n := c.refs.Load()
		if n <= 0 {
			usagePanic(c, "MainContext.Retain", ErrContextDestroyed)
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return c
		}
	}
}

// Release decrements the reference count, destroying the context when it
// reaches zero. Releasing more times than retained is a usage error.
func (c *MainContext) Release() {
	for {
		n := c.refs.Load()
		if n <= 0 {
			usagePanic(c, "MainContext.Release", ErrDoubleRelease)
		}
		if c.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				c.destroy()
			}
			return
		}
	}
}

// RefCount returns the current reference count, for diagnostics.
func (c *MainContext) RefCount() int32 {
	return c.refs.Load()
}

// IsDestroyed reports whether the reference count has reached zero.
func (c *MainContext) IsDestroyed() bool {
	return c.destroyed.Load()
}

// destroy detaches and destroys every source, then closes the poll hook,
// immediately if the context is not owned, otherwise once the owner
// relinquishes it.
func (c *MainContext) destroy() {
	c.mu.Lock()
	c.destroyed.Store(true)
	var finalize []*Source
	for _, s := range c.order {
		if SourceState(s.state.Swap(uint32(SourceStateDestroyed))) != SourceStateDispatched {
			finalize = append(finalize, s)
		}
	}
	n := len(c.order)
	c.order = nil
	clear(c.sources)
	c.mu.Unlock()

	for _, s := range finalize {
		s.finalize()
	}

	c.ownerMu.Lock()
	if c.ownerDepth == 0 {
		c.closePollerLocked()
	} else {
		c.closePoller = true
		_ = c.poller.Wake()
	}
	c.ownerMu.Unlock()

	c.log(loggerFor(c).Debug(), "context").
		Int("sources", n).
		Log("context destroyed")
}

func (c *MainContext) closePollerLocked() {
	c.closePoller = false
	if err := c.poller.Close(); err != nil {
		c.log(loggerFor(c).Warning(), "poll").
			Err(err).
			Log("failed to close poll hook")
	}
}

// attachSource assigns s the next id and adds it to the collection. Hook
// failures (IO watch registration) are returned; everything else is a usage
// error.
func (c *MainContext) attachSource(s *Source) (SourceID, error) {
	c.checkAlive("Source.Attach")

	s.mu.Lock()
	switch {
	case s.State() == SourceStateDestroyed:
		s.mu.Unlock()
		usagePanic(c, "Source.Attach", ErrSourceDestroyed)
	case s.ctx != nil || s.State() != SourceStateNew:
		s.mu.Unlock()
		usagePanic(c, "Source.Attach", ErrSourceAttached)
	}
	s.mu.Unlock()

	if a, ok := s.funcs.(sourceAttacher); ok {
		if err := a.attach(s, c); err != nil {
			return 0, err
		}
	}

	c.mu.Lock()
	if c.destroyed.Load() {
		c.mu.Unlock()
		if f, ok := s.funcs.(SourceFinalizer); ok {
			f.Finalize(s)
		}
		usagePanic(c, "Source.Attach", ErrContextDestroyed)
	}
	s.mu.Lock()
	if s.ctx != nil || !s.state.CompareAndSwap(uint32(SourceStateNew), uint32(SourceStateAttached)) {
		s.mu.Unlock()
		c.mu.Unlock()
		usagePanic(c, "Source.Attach", ErrSourceAttached)
	}
	c.nextID++
	id := c.nextID
	s.id = id
	s.ctx = c
	s.mu.Unlock()
	c.sources[id] = s
	c.order = append(c.order, s)
	if c.metrics != nil {
		c.metrics.recordAttach(len(c.order))
	}
	c.mu.Unlock()

	if owner := c.owner.Load(); owner != 0 && owner != currentGoroutine() {
		c.wakeup()
	}

	return id, nil
}

// destroySource detaches s from c, finalizing it unless its callback is in
// progress (the dispatcher finalizes it once the callback returns).
func (c *MainContext) destroySource(s *Source) {
	c.mu.Lock()
	prev := SourceState(s.state.Swap(uint32(SourceStateDestroyed)))
	if prev == SourceStateDestroyed {
		c.mu.Unlock()
		return
	}
	c.detachLocked(s)
	c.mu.Unlock()

	if prev != SourceStateDispatched {
		s.finalize()
	}

	if owner := c.owner.Load(); owner != 0 && owner != currentGoroutine() {
		c.wakeup()
	}
}

// detachLocked removes s from the collection. c.mu must be held.
func (c *MainContext) detachLocked(s *Source) {
	id := s.id
	if c.sources[id] != s {
		return
	}
	delete(c.sources, id)
	for i, v := range c.order {
		if v == s {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.metrics != nil {
		c.metrics.recordDetach(len(c.order))
	}
}

// FindSourceByID returns the attached source with the given id. Destroyed
// sources are never found, and nothing is found on a destroyed context.
func (c *MainContext) FindSourceByID(id SourceID) (*Source, bool) {
	if c == nil {
		c = DefaultContext()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sources[id]
	if !ok || s.IsDestroyed() {
		return nil, false
	}
	return s, true
}

// RemoveSource destroys the source with the given id, reporting whether it
// was found.
func (c *MainContext) RemoveSource(id SourceID) bool {
	c.checkAlive("MainContext.RemoveSource")
	s, ok := c.FindSourceByID(id)
	if !ok {
		return false
	}
	s.Destroy()
	return true
}

// RemoveSource is MainContext.RemoveSource on the default context.
func RemoveSource(id SourceID) bool {
	return DefaultContext().RemoveSource(id)
}

// Len returns the number of attached sources.
func (c *MainContext) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Wakeup interrupts a blocked Iteration, from any goroutine. If no
// iteration is blocked, the next one returns from polling immediately.
func (c *MainContext) Wakeup() {
	c.checkAlive("MainContext.Wakeup")
	c.wakeup()
}

func (c *MainContext) wakeup() {
	if err := c.poller.Wake(); err != nil && !c.destroyed.Load() {
		c.log(loggerFor(c).Warning(), "poll").
			Err(err).
			Log("wakeup failed")
	}
}

// IsOwner reports whether c is the current context of the calling goroutine,
// i.e. CurrentContext() == c.
func (c *MainContext) IsOwner() bool {
	c.checkAlive("MainContext.IsOwner")
	return CurrentContext() == c
}

// Invoke is InvokeFull at PriorityDefault, without a destroy notify.
func (c *MainContext) Invoke(fn SourceFunc, userData any) {
	c.InvokeFull(PriorityDefault, fn, userData, nil)
}

// InvokeFull calls fn on the goroutine dispatching c. If the caller already
// owns c (or c is its current context and can be acquired), fn runs
// immediately, repeatedly until it returns Remove. Otherwise fn is attached
// as an idle source at the given priority and the owner is woken.
func (c *MainContext) InvokeFull(priority int, fn SourceFunc, userData any, notify DestroyNotify) {
	c.checkAlive("MainContext.Invoke")

	if c.IsAcquired() {
		c.invokeInline(fn, userData, notify)
		return
	}
	if c.IsOwner() && c.Acquire() {
		defer c.Relinquish()
		c.invokeInline(fn, userData, notify)
		return
	}

	s := NewIdleSource()
	s.SetPriority(priority)
	s.SetCallback(fn, userData, notify)
	s.SetName("invoke")
	s.Attach(c)
	c.wakeup()
}

func (c *MainContext) invokeInline(fn SourceFunc, userData any, notify DestroyNotify) {
	if notify != nil {
		defer notify(userData)
	}
	for fn != nil && fn(userData) == Continue {
	}
}
