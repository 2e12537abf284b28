package mainloop

import (
	"context"
	"sync"
	"sync/atomic"
)

// MainLoop drives a MainContext until told to quit. It holds one reference
// to its context, released by Close.
type MainLoop struct {
	ctx       *MainContext
	closeOnce sync.Once
	running   atomic.Bool
}

// NewMainLoop creates a loop over c, retaining it. A nil c means
// CurrentContext().
func NewMainLoop(c *MainContext) *MainLoop {
	if c == nil {
		c = CurrentContext()
	}
	return &MainLoop{ctx: c.Retain()}
}

// Context returns the loop's context.
func (l *MainLoop) Context() *MainContext {
	return l.ctx
}

// IsRunning reports whether Run is in progress and Quit has not been called.
func (l *MainLoop) IsRunning() bool {
	return l.running.Load()
}

// Run iterates the context, blocking, until Quit is called. Quit called
// before Run has no effect on it.
func (l *MainLoop) Run() {
	_ = l.run(context.Background())
}

// RunContext is Run that also stops when ctx is done, returning ctx.Err()
// in that case and nil after Quit.
func (l *MainLoop) RunContext(ctx context.Context) error {
	return l.run(ctx)
}

func (l *MainLoop) run(ctx context.Context) error {
	c := l.ctx
	c.checkAlive("MainLoop.Run")

	// ownership is held for the whole run, as each Iteration would take it
	c.acquireWait()
	defer c.Relinquish()

	l.running.Store(true)

	c.log(loggerFor(c).Debug(), "loop").
		Log("loop running")

	// wake the context on cancellation
	ctxDone := make(chan struct{})
	defer close(ctxDone)
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				c.wakeup()
			case <-ctxDone:
			}
		}()
	}

	var err error
	for l.running.Load() {
		if err = ctx.Err(); err != nil {
			l.running.Store(false)
			break
		}
		c.Iteration(true)
	}

	c.log(loggerFor(c).Debug(), "loop").
		Err(err).
		Log("loop stopped")

	return err
}

// Quit stops the loop: Run returns after the current iteration. It is safe
// to call from callbacks and from other goroutines.
func (l *MainLoop) Quit() {
	l.running.Store(false)
	if !l.ctx.IsDestroyed() {
		l.ctx.wakeup()
	}
}

// Close releases the loop's reference to its context. It is idempotent.
// A running loop must be quit first.
func (l *MainLoop) Close() {
	l.closeOnce.Do(l.ctx.Release)
}
