package mainloop

import (
	"sync"
)

// threadDefaults is the per-goroutine stack of pushed contexts. A stack is
// created on first push and its entry removed once it becomes empty. The
// stack records association only: it never changes reference counts.
var threadDefaults = struct {
	stacks map[uint64][]*MainContext
	sync.RWMutex
}{stacks: make(map[uint64][]*MainContext)}

// PushThreadDefault makes c the current context of the calling goroutine,
// until the matching PopThreadDefault. Pushes nest.
func (c *MainContext) PushThreadDefault() {
	c.checkAlive("MainContext.PushThreadDefault")
	id := currentGoroutine()
	threadDefaults.Lock()
	threadDefaults.stacks[id] = append(threadDefaults.stacks[id], c)
	depth := len(threadDefaults.stacks[id])
	threadDefaults.Unlock()

	c.log(loggerFor(c).Trace(), "thread").
		Uint64("goroutine", id).
		Int("depth", depth).
		Log("pushed thread default")
}

// PopThreadDefault undoes the calling goroutine's most recent
// PushThreadDefault. Popping a context that is not the top of the stack, or
// popping an empty stack, is a usage error.
func (c *MainContext) PopThreadDefault() {
	id := currentGoroutine()
	threadDefaults.Lock()
	stack := threadDefaults.stacks[id]
	if len(stack) == 0 || stack[len(stack)-1] != c {
		threadDefaults.Unlock()
		usagePanic(c, "MainContext.PopThreadDefault", ErrUnbalancedPop)
		return
	}
	stack[len(stack)-1] = nil
	stack = stack[:len(stack)-1]
	if len(stack) == 0 {
		delete(threadDefaults.stacks, id)
	} else {
		threadDefaults.stacks[id] = stack
	}
	threadDefaults.Unlock()
}

// ThreadDefaultContext returns the context most recently pushed by the
// calling goroutine, or nil if its stack is empty.
func ThreadDefaultContext() *MainContext {
	id := currentGoroutine()
	threadDefaults.RLock()
	defer threadDefaults.RUnlock()
	if stack := threadDefaults.stacks[id]; len(stack) != 0 {
		return stack[len(stack)-1]
	}
	return nil
}

// CurrentContext returns ThreadDefaultContext, or DefaultContext if the
// calling goroutine has not pushed one.
func CurrentContext() *MainContext {
	if c := ThreadDefaultContext(); c != nil {
		return c
	}
	return DefaultContext()
}

// ThreadDefaultDepth returns the size of the calling goroutine's stack. It
// must be zero when a goroutine that pushed contexts exits.
func ThreadDefaultDepth() int {
	id := currentGoroutine()
	threadDefaults.RLock()
	defer threadDefaults.RUnlock()
	return len(threadDefaults.stacks[id])
}
