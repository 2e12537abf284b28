package mainloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThreadDefault_pushPop(t *testing.T) {
	a := newTestContext(t)
	b := newTestContext(t)

	require.Nil(t, ThreadDefaultContext())
	require.Same(t, DefaultContext(), CurrentContext())
	require.False(t, a.IsOwner())

	a.PushThreadDefault()
	require.Same(t, a, ThreadDefaultContext())
	require.True(t, a.IsOwner())

	b.PushThreadDefault()
	require.Equal(t, 2, ThreadDefaultDepth())
	require.Same(t, b, CurrentContext())
	require.True(t, b.IsOwner())
	require.False(t, a.IsOwner())

	// association only
	require.Equal(t, int32(1), a.RefCount())
	require.Equal(t, int32(1), b.RefCount())

	b.PopThreadDefault()
	require.True(t, a.IsOwner())
	a.PopThreadDefault()

	require.Zero(t, ThreadDefaultDepth())
	require.Nil(t, ThreadDefaultContext())
	require.Same(t, DefaultContext(), CurrentContext())
}

func TestThreadDefault_samePushedTwice(t *testing.T) {
	a := newTestContext(t)
	a.PushThreadDefault()
	a.PushThreadDefault()
	a.PopThreadDefault()
	require.True(t, a.IsOwner())
	a.PopThreadDefault()
	require.False(t, a.IsOwner())
}

func TestThreadDefault_unbalancedPop(t *testing.T) {
	a := newTestContext(t)
	b := newTestContext(t)

	requireUsagePanic(t, ErrUnbalancedPop, a.PopThreadDefault)

	a.PushThreadDefault()
	requireUsagePanic(t, ErrUnbalancedPop, b.PopThreadDefault)
	require.Same(t, a, ThreadDefaultContext())
	a.PopThreadDefault()
}

func TestThreadDefault_perGoroutine(t *testing.T) {
	a := newTestContext(t)
	b := newTestContext(t)

	a.PushThreadDefault()
	defer a.PopThreadDefault()

	type result struct {
		before, after *MainContext
		owner         bool
	}
	ch := make(chan result)
	go func() {
		var r result
		r.before = ThreadDefaultContext()
		b.PushThreadDefault()
		r.after = ThreadDefaultContext()
		r.owner = a.IsOwner()
		b.PopThreadDefault()
		ch <- r
	}()
	r := <-ch

	require.Nil(t, r.before)
	require.Same(t, b, r.after)
	require.False(t, r.owner)
	require.Same(t, a, ThreadDefaultContext())
	require.False(t, b.IsOwner())
}
