package mainloop

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestContext(t *testing.T, opts ...ContextOption) *MainContext {
	t.Helper()
	c, err := NewContext(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if !c.IsDestroyed() {
			c.Release()
		}
	})
	return c
}

// requireUsagePanic asserts that fn panics with a *UsageError wrapping target.
func requireUsagePanic(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.Truef(t, ok, "panic value %T is not an error", r)
		var ue *UsageError
		require.ErrorAs(t, err, &ue)
		require.ErrorIs(t, err, target)
	}()
	fn()
}

func keep(any) ControlFlow { return Continue }

func TestNewContext_refCount(t *testing.T) {
	c := newTestContext(t)
	require.Equal(t, int32(1), c.RefCount())
	require.Same(t, c, c.Retain())
	require.Equal(t, int32(2), c.RefCount())
	c.Release()
	require.Equal(t, int32(1), c.RefCount())
	require.False(t, c.IsDestroyed())
}

func TestMainContext_releaseToZeroDestroysSources(t *testing.T) {
	c, err := NewContext()
	require.NoError(t, err)

	var notified []any
	c.AddTimeoutFull(PriorityDefault, time.Hour, keep, "a", func(v any) { notified = append(notified, v) })
	c.AddIdleFull(PriorityDefaultIdle, keep, "b", func(v any) { notified = append(notified, v) })
	id := c.AddTimeout(1000, keep, nil)

	c.Release()

	require.True(t, c.IsDestroyed())
	require.ElementsMatch(t, []any{"a", "b"}, notified)

	// lookups on a destroyed context report not found, without panicking
	s, ok := c.FindSourceByID(id)
	require.False(t, ok)
	require.Nil(t, s)
}

func TestMainContext_usageErrors(t *testing.T) {
	c, err := NewContext()
	require.NoError(t, err)
	c.Release()

	requireUsagePanic(t, ErrDoubleRelease, c.Release)
	requireUsagePanic(t, ErrContextDestroyed, func() { c.Retain() })
	requireUsagePanic(t, ErrContextDestroyed, func() { c.Iteration(false) })
	requireUsagePanic(t, ErrContextDestroyed, func() { c.Pending() })
	requireUsagePanic(t, ErrContextDestroyed, func() { c.AddIdle(keep, nil) })
	requireUsagePanic(t, ErrContextDestroyed, c.PushThreadDefault)
	requireUsagePanic(t, ErrContextDestroyed, c.Wakeup)

	live := newTestContext(t)
	requireUsagePanic(t, ErrNotAcquired, live.Relinquish)
}

func TestUsageError_error(t *testing.T) {
	err := &UsageError{Op: "MainContext.Release", Err: ErrDoubleRelease}
	assert.Equal(t, "mainloop: MainContext.Release: mainloop: context released too many times", err.Error())
	assert.True(t, errors.Is(err, ErrDoubleRelease))
}

func TestDefaultContext_singleton(t *testing.T) {
	a := DefaultContext()
	n := a.RefCount()
	b := DefaultContext()
	require.Same(t, a, b)
	require.Equal(t, n, b.RefCount())
	require.Equal(t, "default", a.Name())
}

func TestPackageLevel_defaultContext(t *testing.T) {
	id := AddTimeout(60_000, keep, nil)
	s, ok := DefaultContext().FindSourceByID(id)
	require.True(t, ok)
	require.Equal(t, id, s.ID())
	require.True(t, RemoveSource(id))
	require.False(t, RemoveSource(id))

	id = AddIdle(keep, nil)
	require.True(t, RemoveSource(id))

	id = AddTimeoutFull(PriorityHigh, time.Minute, keep, nil, nil)
	s, ok = DefaultContext().FindSourceByID(id)
	require.True(t, ok)
	require.Equal(t, PriorityHigh, s.Priority())
	s.Destroy()
}

func TestMainContext_findAndRemove(t *testing.T) {
	c := newTestContext(t)

	id := c.AddTimeout(1000, keep, nil)
	require.Equal(t, SourceID(1), id)

	s, ok := c.FindSourceByID(id)
	require.True(t, ok)
	require.Equal(t, SourceStateAttached, s.State())
	require.Same(t, c, s.Context())

	require.True(t, c.RemoveSource(id))
	_, ok = c.FindSourceByID(id)
	require.False(t, ok)
	require.Equal(t, SourceStateDestroyed, s.State())
	require.False(t, c.RemoveSource(id))

	// ids are never reused
	require.Equal(t, SourceID(2), c.AddIdle(keep, nil))
	_, ok = c.FindSourceByID(0)
	require.False(t, ok)
}

func TestMainContext_sourceIDsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c, err := NewContext()
		require.NoError(rt, err)
		defer c.Release()

		live := make(map[SourceID]bool)
		var last SourceID
		ops := rapid.IntRange(1, 60).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			if len(live) != 0 && rapid.Bool().Draw(rt, "remove") {
				id := rapid.SampledFrom(slices.Sorted(maps.Keys(live))).Draw(rt, "id")
				require.True(rt, c.RemoveSource(id))
				delete(live, id)
				_, ok := c.FindSourceByID(id)
				require.False(rt, ok)
				continue
			}
			var id SourceID
			if rapid.Bool().Draw(rt, "idle") {
				id = c.AddIdle(keep, nil)
			} else {
				id = c.AddTimeout(uint(rapid.IntRange(0, 10_000).Draw(rt, "ms")), keep, nil)
			}
			require.Greater(rt, id, last)
			last = id
			live[id] = true
		}

		require.Equal(rt, len(live), c.Len())
		for id := range live {
			s, ok := c.FindSourceByID(id)
			require.True(rt, ok)
			require.Equal(rt, id, s.ID())
		}
	})
}

func TestMainContext_destroyNotifyExactlyOnce(t *testing.T) {
	c := newTestContext(t)

	counts := make(map[string]int)
	notify := func(v any) { counts[v.(string)]++ }

	// returned Remove
	c.AddIdleFull(PriorityDefault, func(any) ControlFlow { return Remove }, "remove", notify)
	// destroyed from inside its own callback, result ignored
	var selfID SourceID
	selfID = c.AddIdleFull(PriorityDefault, func(any) ControlFlow {
		require.True(t, c.RemoveSource(selfID))
		return Continue
	}, "self", notify)
	// removed by id
	byID := c.AddTimeoutFull(PriorityDefault, time.Hour, keep, "byid", notify)
	// callback replaced
	s := NewTimeoutSource(time.Hour)
	s.SetCallback(keep, "replaced", notify)
	s.SetCallback(keep, "context", notify)
	s.Attach(c)

	require.True(t, c.Iteration(false))
	require.True(t, c.RemoveSource(byID))
	require.Equal(t, map[string]int{"remove": 1, "self": 1, "byid": 1, "replaced": 1}, counts)

	// destroying the context releases the rest
	c.Release()
	require.Equal(t, 1, counts["context"])

	// destroying again is a no-op
	s.Destroy()
	require.Equal(t, 1, counts["context"])
}

func TestMainContext_invoke(t *testing.T) {
	c := newTestContext(t)

	var calls int
	var notified bool

	// not owner: deferred to an idle source
	c.InvokeFull(PriorityDefault, func(any) ControlFlow {
		calls++
		return Remove
	}, nil, func(any) { notified = true })
	require.Equal(t, 0, calls)
	require.True(t, c.Iteration(false))
	require.Equal(t, 1, calls)
	require.True(t, notified)

	// owner: inline, repeated until Remove
	calls = 0
	c.PushThreadDefault()
	defer c.PopThreadDefault()
	c.Invoke(func(any) ControlFlow {
		calls++
		if calls < 3 {
			return Continue
		}
		return Remove
	}, nil)
	require.Equal(t, 3, calls)
	require.Equal(t, 0, c.Len())
}

func TestMainContext_invokeFromAnotherGoroutine(t *testing.T) {
	c := newTestContext(t)
	loop := NewMainLoop(c)
	defer loop.Close()

	ran := make(chan uint64, 1)
	go func() {
		assert.Eventually(t, loop.IsRunning, time.Second, time.Millisecond)
		c.Invoke(func(any) ControlFlow {
			ran <- currentGoroutine()
			loop.Quit()
			return Remove
		}, nil)
	}()

	done := make(chan struct{})
	var runner uint64
	go func() {
		defer close(done)
		runner = currentGoroutine()
		loop.Run()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not quit")
	}
	require.Equal(t, runner, <-ran)
}

func TestMainContext_concurrentAttach(t *testing.T) {
	c := newTestContext(t)

	const goroutines, each = 8, 50
	var wg sync.WaitGroup
	ids := make(chan SourceID, goroutines*each)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				ids <- c.AddTimeout(60_000, keep, nil)
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[SourceID]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	require.Len(t, seen, goroutines*each)
	require.Equal(t, goroutines*each, c.Len())
}
