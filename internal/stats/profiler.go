package stats

import (
	"math"
	"time"

	"convnode/internal/model"
)

// Profiler samples how long each tick's update phase takes.
type Profiler struct {
	now     func() time.Time
	samples []time.Duration
	limit   int
}

func NewProfiler(limit int) *Profiler {
	return &Profiler{now: time.Now, limit: limit}
}

func (p *Profiler) Begin() time.Time {
	return p.now()
}

// End records one sample; samples past the limit are dropped.
func (p *Profiler) End(start time.Time) {
	if p.limit > 0 && len(p.samples) >= p.limit {
		return
	}
	p.samples = append(p.samples, p.now().Sub(start))
}

func (p *Profiler) Summary() model.ProfileSummary {
	if len(p.samples) == 0 {
		return model.ProfileSummary{}
	}
	minD := time.Duration(math.MaxInt64)
	var maxD, total time.Duration
	for _, d := range p.samples {
		total += d
		minD = min(minD, d)
		maxD = max(maxD, d)
	}
	return model.ProfileSummary{
		Samples:    len(p.samples),
		MinMicros:  micros(minD),
		MeanMicros: micros(total) / float64(len(p.samples)),
		MaxMicros:  micros(maxD),
	}
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

// Encode writes the sample count followed by as many samples, in whole
// microseconds, as fit into a profiler region.
func (p *Profiler) Encode(words []uint32) int {
	if len(words) == 0 {
		return 0
	}
	n := min(len(p.samples), len(words)-1)
	words[0] = uint32(n)
	for i := 0; i < n; i++ {
		words[i+1] = uint32(p.samples[i] / time.Microsecond)
	}
	return n + 1
}
