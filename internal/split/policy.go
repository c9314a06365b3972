package split

import (
	"fmt"
	"time"

	"github.com/MrWong99/igtsplit/internal/reconcile"
)

// Boundary is one split point reported by a [Policy].
type Boundary struct {
	// Key identifies the boundary within a run. The detector emits each key
	// at most once per run.
	Key string

	// Label is the segment name shown in the subtitle. May be empty.
	Label string

	// Final ends the run.
	Final bool
}

// Policy decides which segment boundaries a sample crosses. prev is the
// previous known sample of the same run; prev.Known is false for the first
// sample of a run. Implementations must be pure.
type Policy interface {
	Crossed(prev, cur reconcile.Sample) []Boundary
}

// PolicyFunc adapts a function to [Policy].
type PolicyFunc func(prev, cur reconcile.Sample) []Boundary

// Crossed calls f.
func (f PolicyFunc) Crossed(prev, cur reconcile.Sample) []Boundary { return f(prev, cur) }

// Segment is a named split point, keyed by IGT or by completion percent.
type Segment struct {
	Name    string
	At      time.Duration
	Percent int
}

// Interval emits a synthetic split every Every of elapsed IGT. The k-th split
// is labelled Names[k-1] when present.
type Interval struct {
	Every time.Duration
	Names []string
}

// Crossed implements [Policy].
func (p Interval) Crossed(prev, cur reconcile.Sample) []Boundary {
	if p.Every <= 0 || !prev.Known {
		return nil
	}
	from := int(prev.Value.Duration() / p.Every)
	to := int(cur.Value.Duration() / p.Every)
	var out []Boundary
	for k := from + 1; k <= to; k++ {
		b := Boundary{Key: fmt.Sprintf("interval/%d", k)}
		if k <= len(p.Names) {
			b.Label = p.Names[k-1]
		}
		out = append(out, b)
	}
	return out
}

// Thresholds splits when the IGT passes each segment's At value. With
// LastFinal the last segment finishes the run.
type Thresholds struct {
	Splits    []Segment
	LastFinal bool
}

// Crossed implements [Policy].
func (p Thresholds) Crossed(prev, cur reconcile.Sample) []Boundary {
	if !prev.Known {
		return nil
	}
	from, to := prev.Value.Duration(), cur.Value.Duration()
	var out []Boundary
	for i, s := range p.Splits {
		if from < s.At && s.At <= to {
			out = append(out, Boundary{
				Key:   "at/" + s.Name,
				Label: s.Name,
				Final: p.LastFinal && i == len(p.Splits)-1,
			})
		}
	}
	return out
}

// Percent splits when the completion percentage shown next to the timer
// reaches each segment's Percent. Reaching the last segment finishes the run.
type Percent struct {
	Splits []Segment
}

// Crossed implements [Policy].
func (p Percent) Crossed(prev, cur reconcile.Sample) []Boundary {
	if !prev.Known || !prev.Value.HasPercent || !cur.Value.HasPercent {
		return nil
	}
	var out []Boundary
	for i, s := range p.Splits {
		if prev.Value.Percent < s.Percent && s.Percent <= cur.Value.Percent {
			out = append(out, Boundary{
				Key:   fmt.Sprintf("percent/%d", s.Percent),
				Label: s.Name,
				Final: i == len(p.Splits)-1,
			})
		}
	}
	return out
}
