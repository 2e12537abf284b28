package mainloop

import (
	"math"
	"slices"
)

// quantile estimates a single quantile of a stream with the P-Square
// algorithm (Jain and Chlamtac, 1985): five markers, O(1) per observation,
// no samples retained.
//
// Not safe for concurrent use.
type quantile struct {
	heights  [5]float64 // marker heights
	desired  [5]float64 // desired marker positions
	step     [5]float64 // desired position increments
	pos      [5]int     // actual marker positions
	first    [5]float64 // observations before the markers are seeded
	p        float64
	observed int
}

func newQuantile(p float64) *quantile {
	p = math.Max(0, math.Min(1, p))
	return &quantile{
		p:    p,
		step: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

func (x *quantile) add(v float64) {
	x.observed++
	if x.observed <= len(x.first) {
		x.first[x.observed-1] = v
		if x.observed == len(x.first) {
			x.seed()
		}
		return
	}

	// locate the cell containing v, stretching the extremes if needed
	var k int
	switch {
	case v < x.heights[0]:
		x.heights[0] = v
	case v >= x.heights[4]:
		x.heights[4] = v
		k = 3
	default:
		for k = 0; k < 3 && v >= x.heights[k+1]; k++ {
		}
	}

	for i := k + 1; i < 5; i++ {
		x.pos[i]++
	}
	for i := range x.desired {
		x.desired[i] += x.step[i]
	}

	for i := 1; i <= 3; i++ {
		d := x.desired[i] - float64(x.pos[i])
		if !(d >= 1 && x.pos[i+1]-x.pos[i] > 1) && !(d <= -1 && x.pos[i-1]-x.pos[i] < -1) {
			continue
		}
		sign := 1
		if d < 0 {
			sign = -1
		}
		if h := x.parabolic(i, sign); x.heights[i-1] < h && h < x.heights[i+1] {
			x.heights[i] = h
		} else {
			x.heights[i] = x.linear(i, sign)
		}
		x.pos[i] += sign
	}
}

func (x *quantile) seed() {
	sorted := x.first
	slices.Sort(sorted[:])
	x.heights = sorted
	for i := range x.pos {
		x.pos[i] = i
	}
	x.desired = [5]float64{0, 2 * x.p, 4 * x.p, 2 + 2*x.p, 4}
}

func (x *quantile) parabolic(i, sign int) float64 {
	d := float64(sign)
	n0, n1, n2 := float64(x.pos[i-1]), float64(x.pos[i]), float64(x.pos[i+1])
	q0, q1, q2 := x.heights[i-1], x.heights[i], x.heights[i+1]
	return q1 + d/(n2-n0)*((n1-n0+d)*(q2-q1)/(n2-n1)+(n2-n1-d)*(q1-q0)/(n1-n0))
}

func (x *quantile) linear(i, sign int) float64 {
	j := i + sign
	return x.heights[i] + float64(sign)*(x.heights[j]-x.heights[i])/float64(x.pos[j]-x.pos[i])
}

// value returns the current estimate. Until the markers are seeded it is the
// nearest-rank quantile of the observations so far.
func (x *quantile) value() float64 {
	switch {
	case x.observed == 0:
		return 0
	case x.observed < len(x.first):
		sorted := slices.Clone(x.first[:x.observed])
		slices.Sort(sorted)
		return sorted[int(float64(x.observed-1)*x.p)]
	default:
		return x.heights[2]
	}
}

// latencyStats summarises a stream of durations (as float64 nanoseconds):
// count, sum, max and a fixed set of quantiles.
//
// Not safe for concurrent use.
type latencyStats struct {
	quantiles []*quantile
	sum       float64
	max       float64
	count     int
}

func newLatencyStats(ps ...float64) *latencyStats {
	s := &latencyStats{quantiles: make([]*quantile, len(ps))}
	for i, p := range ps {
		s.quantiles[i] = newQuantile(p)
	}
	return s
}

func (s *latencyStats) add(v float64) {
	if s.count == 0 || v > s.max {
		s.max = v
	}
	s.count++
	s.sum += v
	for _, q := range s.quantiles {
		q.add(v)
	}
}

func (s *latencyStats) quantile(i int) float64 {
	if i < 0 || i >= len(s.quantiles) {
		return 0
	}
	return s.quantiles[i].value()
}

func (s *latencyStats) mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}
