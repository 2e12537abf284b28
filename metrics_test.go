package mainloop

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_disabledByDefault(t *testing.T) {
	c := newTestContext(t)
	require.Nil(t, c.Metrics())
}

func TestMetrics_counts(t *testing.T) {
	c := newTestContext(t, WithMetrics(true))

	var n int
	c.AddIdle(func(any) ControlFlow {
		n++
		if n == 5 {
			return Remove
		}
		return Continue
	}, nil)
	c.AddTimeout(60_000, keep, nil)

	for i := 0; i < 6; i++ {
		c.Iteration(false)
	}
	require.False(t, c.Pending())

	m := c.Metrics()
	require.NotNil(t, m)
	assert.Equal(t, uint64(6), m.Iterations)
	assert.Equal(t, uint64(1), m.IdleIterations)
	assert.Equal(t, uint64(5), m.Dispatches)
	assert.Equal(t, 5, m.Dispatch.Count)
	assert.Equal(t, 6, m.Iteration.Count)
	assert.Equal(t, uint64(2), m.SourcesAttached)
	assert.Equal(t, 1, m.SourcesCurrent)
	assert.Equal(t, 2, m.SourcesMax)
	assert.Greater(t, m.DispatchRate, 0.0)
	assert.GreaterOrEqual(t, m.Dispatch.Max, m.Dispatch.P50)
}

func TestQuantile_uniform(t *testing.T) {
	stats := newLatencyStats(0.5, 0.9, 0.99)
	const n = 10_000
	for i := 0; i < n; i++ {
		// deterministic permutation of 0..n-1
		stats.add(float64((i * 7919) % n))
	}

	assert.Equal(t, n, stats.count)
	assert.InDelta(t, 0.50*n, stats.quantile(0), 0.02*n)
	assert.InDelta(t, 0.90*n, stats.quantile(1), 0.02*n)
	assert.InDelta(t, 0.99*n, stats.quantile(2), 0.02*n)
	assert.Equal(t, float64(n-1), stats.max)
	assert.InDelta(t, float64(n-1)/2, stats.mean(), 1e-9)
	assert.Zero(t, stats.quantile(3))
}

func TestQuantile_fewObservations(t *testing.T) {
	q := newQuantile(0.5)
	assert.Zero(t, q.value())
	for _, v := range []float64{30, 10, 20} {
		q.add(v)
	}
	assert.Equal(t, 20.0, q.value())

	q = newQuantile(math.Inf(1))
	assert.Equal(t, 1.0, q.p)
}

func TestRateCounter(t *testing.T) {
	r := newRateCounter(time.Second, 100*time.Millisecond)
	for i := 0; i < 10; i++ {
		r.increment()
	}
	assert.InDelta(t, 10.0, r.perSecond(), 0.001)

	// everything ages out of the window
	r.mu.Lock()
	r.last = r.last.Add(-2 * time.Second)
	r.mu.Unlock()
	assert.Zero(t, r.perSecond())
}
