package mainloop

import (
	"github.com/joeycumines/go-mainloop/internal/goid"
)

func currentGoroutine() uint64 {
	return goid.Get()
}

// Acquire tries to make the calling goroutine the owner of c. Ownership is
// recursive: each successful Acquire must be paired with a Relinquish. It
// returns false, without blocking, if another goroutine owns c.
func (c *MainContext) Acquire() bool {
	c.checkAlive("MainContext.Acquire")
	id := currentGoroutine()
	c.ownerMu.Lock()
	defer c.ownerMu.Unlock()
	switch c.owner.Load() {
	case 0:
		c.owner.Store(id)
		c.ownerDepth = 1
		return true
	case id:
		c.ownerDepth++
		return true
	default:
		return false
	}
}

// acquireWait is Acquire, waiting for the current owner to relinquish.
func (c *MainContext) acquireWait() {
	id := currentGoroutine()
	c.ownerMu.Lock()
	defer c.ownerMu.Unlock()
	for {
		switch c.owner.Load() {
		case 0:
			c.owner.Store(id)
			c.ownerDepth = 1
			return
		case id:
			c.ownerDepth++
			return
		}
		c.ownerCond.Wait()
	}
}

// Relinquish releases one level of ownership taken by Acquire (or by a
// running iteration). Relinquishing a context the caller does not own is a
// usage error.
func (c *MainContext) Relinquish() {
	id := currentGoroutine()
	c.ownerMu.Lock()
	if c.owner.Load() != id || c.ownerDepth == 0 {
		c.ownerMu.Unlock()
		usagePanic(c, "MainContext.Relinquish", ErrNotAcquired)
		return
	}
	c.ownerDepth--
	if c.ownerDepth == 0 {
		c.owner.Store(0)
		if c.closePoller {
			c.closePollerLocked()
		}
		c.ownerCond.Broadcast()
	}
	c.ownerMu.Unlock()
}

// IsAcquired reports whether the calling goroutine owns c.
func (c *MainContext) IsAcquired() bool {
	owner := c.owner.Load()
	return owner != 0 && owner == currentGoroutine()
}
