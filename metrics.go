package mainloop

import (
	"sync"
	"time"
)

// MetricsSnapshot is a point-in-time copy of a context's runtime statistics,
// returned by MainContext.Metrics.
//
// Example:
//
//	c, _ := NewContext(WithMetrics(true))
//	// ... iterate ...
//	m := c.Metrics()
//	fmt.Printf("dispatches: %d, p99: %v\n", m.Dispatches, m.Dispatch.P99)
type MetricsSnapshot struct {
	// Dispatch summarises per-callback latency.
	Dispatch LatencySnapshot
	// Iteration summarises the duration of whole iterations, including time
	// spent blocked in the poll hook.
	Iteration LatencySnapshot

	// Iterations counts completed iterations (Pending does not count).
	Iterations uint64
	// Dispatches counts callbacks invoked.
	Dispatches uint64
	// IdleIterations counts iterations that dispatched nothing.
	IdleIterations uint64

	// DispatchRate is callbacks per second over the last ten seconds.
	DispatchRate float64

	// SourcesCurrent is the number of attached sources.
	SourcesCurrent int
	// SourcesMax is the most sources ever attached at once.
	SourcesMax int
	// SourcesAvg is an exponential moving average (alpha=0.1) of the number
	// of attached sources, sampled on every attach and detach.
	SourcesAvg float64
	// SourcesAttached counts attaches over the context's lifetime.
	SourcesAttached uint64
}

// LatencySnapshot holds streaming estimates of a latency distribution.
type LatencySnapshot struct {
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// contextMetrics is the live, mutex guarded counterpart of MetricsSnapshot.
type contextMetrics struct {
	dispatch   *latencyStats
	iteration  *latencyStats
	rate       *rateCounter
	snap       MetricsSnapshot
	mu         sync.Mutex
	avgStarted bool
}

func newContextMetrics() *contextMetrics {
	return &contextMetrics{
		dispatch:  newLatencyStats(0.50, 0.90, 0.99),
		iteration: newLatencyStats(0.50, 0.90, 0.99),
		rate:      newRateCounter(10*time.Second, 100*time.Millisecond),
	}
}

func (m *contextMetrics) recordDispatch(d time.Duration) {
	m.rate.increment()
	m.mu.Lock()
	m.snap.Dispatches++
	m.dispatch.add(float64(d))
	m.mu.Unlock()
}

func (m *contextMetrics) recordIteration(d time.Duration, dispatched int) {
	m.mu.Lock()
	m.snap.Iterations++
	if dispatched == 0 {
		m.snap.IdleIterations++
	}
	m.iteration.add(float64(d))
	m.mu.Unlock()
}

func (m *contextMetrics) recordAttach(n int) {
	m.mu.Lock()
	m.snap.SourcesAttached++
	m.updateSourcesLocked(n)
	m.mu.Unlock()
}

func (m *contextMetrics) recordDetach(n int) {
	m.mu.Lock()
	m.updateSourcesLocked(n)
	m.mu.Unlock()
}

func (m *contextMetrics) updateSourcesLocked(n int) {
	m.snap.SourcesCurrent = n
	if n > m.snap.SourcesMax {
		m.snap.SourcesMax = n
	}
	if !m.avgStarted {
		m.snap.SourcesAvg = float64(n)
		m.avgStarted = true
	} else {
		m.snap.SourcesAvg = 0.9*m.snap.SourcesAvg + 0.1*float64(n)
	}
}

func (m *contextMetrics) snapshot() *MetricsSnapshot {
	rate := m.rate.perSecond()
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snap
	snap.Dispatch = latencySnapshot(m.dispatch)
	snap.Iteration = latencySnapshot(m.iteration)
	snap.DispatchRate = rate
	return &snap
}

func latencySnapshot(s *latencyStats) LatencySnapshot {
	return LatencySnapshot{
		P50:   time.Duration(s.quantile(0)),
		P90:   time.Duration(s.quantile(1)),
		P99:   time.Duration(s.quantile(2)),
		Max:   time.Duration(s.max),
		Mean:  time.Duration(s.mean()),
		Count: s.count,
	}
}

// Metrics returns a snapshot of the context's statistics, or nil unless the
// context was created with WithMetrics(true).
func (c *MainContext) Metrics() *MetricsSnapshot {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.snapshot()
}

// rateCounter counts events over a rolling window of fixed-size buckets.
// The newest bucket is last.
type rateCounter struct {
	last    time.Time
	buckets []int64
	bucket  time.Duration
	window  time.Duration
	mu      sync.Mutex
}

func newRateCounter(window, bucket time.Duration) *rateCounter {
	n := int(window / bucket)
	if n < 1 {
		n = 1
	}
	return &rateCounter{
		last:    time.Now(),
		buckets: make([]int64, n),
		bucket:  bucket,
		window:  window,
	}
}

func (r *rateCounter) increment() {
	r.mu.Lock()
	r.rotateLocked(time.Now())
	r.buckets[len(r.buckets)-1]++
	r.mu.Unlock()
}

// rotateLocked drops buckets that have aged out of the window.
func (r *rateCounter) rotateLocked(now time.Time) {
	advance := int(now.Sub(r.last) / r.bucket)
	switch {
	case advance <= 0:
		return
	case advance >= len(r.buckets):
		clear(r.buckets)
		r.last = now
		return
	}
	n := copy(r.buckets, r.buckets[advance:])
	clear(r.buckets[n:])
	r.last = r.last.Add(time.Duration(advance) * r.bucket)
}

func (r *rateCounter) perSecond() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotateLocked(time.Now())
	var sum int64
	for _, v := range r.buckets {
		sum += v
	}
	return float64(sum) / r.window.Seconds()
}
