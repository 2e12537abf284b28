package mainloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlFlow_String(t *testing.T) {
	assert.Equal(t, "Remove", Remove.String())
	assert.Equal(t, "Continue", Continue.String())
	assert.Equal(t, "ControlFlow(9)", ControlFlow(9).String())
	assert.Equal(t, Remove, ControlFlow(0))
}

func TestSourceState_String(t *testing.T) {
	assert.Equal(t, "New", SourceStateNew.String())
	assert.Equal(t, "Attached", SourceStateAttached.String())
	assert.Equal(t, "Dispatched", SourceStateDispatched.String())
	assert.Equal(t, "Destroyed", SourceStateDestroyed.String())
	assert.Equal(t, "SourceState(7)", SourceState(7).String())
}

func TestSource_lifecycle(t *testing.T) {
	c := newTestContext(t)

	s := NewTimeoutSource(time.Hour)
	require.Equal(t, SourceStateNew, s.State())
	require.Zero(t, s.ID())
	require.Nil(t, s.Context())
	require.False(t, s.IsReady())
	require.Equal(t, PriorityDefault, s.Priority())

	s.SetPriority(PriorityLow)
	s.SetName("lifecycle")
	id := s.Attach(c)
	require.NotZero(t, id)
	require.Equal(t, id, s.ID())
	require.Equal(t, SourceStateAttached, s.State())
	require.Equal(t, "lifecycle", s.Name())
	require.Equal(t, PriorityLow, s.Priority())

	requireUsagePanic(t, ErrSourceAttached, func() { s.Attach(c) })

	s.Destroy()
	require.True(t, s.IsDestroyed())
	s.Destroy()

	requireUsagePanic(t, ErrSourceDestroyed, func() { s.SetPriority(PriorityHigh) })
	requireUsagePanic(t, ErrSourceDestroyed, func() { s.SetCallback(keep, nil, nil) })
	requireUsagePanic(t, ErrSourceDestroyed, func() { s.Attach(c) })
}

func TestSource_destroyBeforeAttach(t *testing.T) {
	var notified int
	s := NewIdleSource()
	s.SetCallback(keep, nil, func(any) { notified++ })
	s.Destroy()
	s.Destroy()
	require.Equal(t, 1, notified)
	require.Equal(t, SourceStateDestroyed, s.State())
}

func TestSource_nilCallbackRemoves(t *testing.T) {
	c := newTestContext(t)
	id := NewIdleSource().Attach(c)
	require.True(t, c.Iteration(false))
	_, ok := c.FindSourceByID(id)
	require.False(t, ok)
}

func TestTimeoutSource_reschedulesAfterDispatch(t *testing.T) {
	c := newTestContext(t)

	var calls int
	id := c.AddTimeout(30, func(any) ControlFlow {
		calls++
		return Continue
	}, nil)
	s, ok := c.FindSourceByID(id)
	require.True(t, ok)

	require.True(t, c.Iteration(true))
	require.Equal(t, 1, calls)
	require.False(t, s.IsReady())
	require.False(t, c.Iteration(false))
	require.True(t, c.Iteration(true))
	require.Equal(t, 2, calls)
}

func TestIdleSource_defaultPriority(t *testing.T) {
	assert.Equal(t, PriorityDefaultIdle, NewIdleSource().Priority())
	assert.Equal(t, PriorityDefault, NewTimeoutSource(0).Priority())
	assert.Panics(t, func() { NewSource(nil) })
}

func TestAddTimeoutSeconds_notReadyBeforeExpiry(t *testing.T) {
	c := newTestContext(t)
	id := c.AddTimeoutSeconds(60, func(any) ControlFlow { return Remove }, nil)
	s, ok := c.FindSourceByID(id)
	require.True(t, ok)
	assert.False(t, s.IsReady())
	assert.False(t, c.Pending())
	assert.True(t, c.RemoveSource(id))
}

func TestTimeoutSource_isReadyFromAnotherGoroutine(t *testing.T) {
	c := newTestContext(t)

	var calls int
	id := c.AddTimeout(1, func(any) ControlFlow {
		calls++
		if calls == 20 {
			return Remove
		}
		return Continue
	}, nil)
	s, ok := c.FindSourceByID(id)
	require.True(t, ok)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				s.IsReady()
			}
		}
	}()

	for calls < 20 {
		c.Iteration(true)
	}
	close(stop)
	<-done
	require.False(t, s.IsReady())
}
