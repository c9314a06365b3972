package recognize

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/igtsplit/pkg/frame"
)

// DefaultWorkers is the recognition concurrency when none is configured.
const DefaultWorkers = 4

// Stage runs a Recognizer over a stream of frames with bounded concurrency.
type Stage struct {
	rec     *Recognizer
	workers int

	// OnReading, if set, is called for every reading in output order before
	// it is sent.
	OnReading func(RawReading)
}

// NewStage returns a Stage with the given worker limit.
func NewStage(rec *Recognizer, workers int) *Stage {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Stage{rec: rec, workers: workers}
}

type sequenced struct {
	seq     int
	reading RawReading
}

// Run consumes frames until the channel is closed or ctx is cancelled and
// returns the readings in the order the frames arrived. The returned channel
// is closed once all in-flight work has finished. At most 2×workers
// readings are buffered while waiting for a slow earlier frame.
func (s *Stage) Run(ctx context.Context, frames <-chan frame.Frame) <-chan RawReading {
	out := make(chan RawReading, s.workers)
	results := make(chan sequenced, s.workers)
	window := make(chan struct{}, 2*s.workers)

	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(s.workers)
		seq := 0
	dispatch:
		for {
			var (
				f  frame.Frame
				ok bool
			)
			select {
			case <-ctx.Done():
				break dispatch
			case f, ok = <-frames:
				if !ok {
					break dispatch
				}
			}
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				break dispatch
			}
			n := seq
			seq++
			g.Go(func() error {
				s.rec.metrics.ActiveWorkers.Add(ctx, 1)
				r := s.rec.Recognize(ctx, f)
				s.rec.metrics.ActiveWorkers.Add(ctx, -1)
				s.rec.metrics.FramesProcessed.Add(ctx, 1)
				results <- sequenced{seq: n, reading: r}
				return nil
			})
		}
		_ = g.Wait()
	}()

	go func() {
		defer close(out)
		pending := make(map[int]RawReading, 2*s.workers)
		next := 0
		stopped := false
		for res := range results {
			pending[res.seq] = res.reading
			for {
				r, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if !stopped {
					if s.OnReading != nil {
						s.OnReading(r)
					}
					select {
					case out <- r:
					case <-ctx.Done():
						stopped = true
					}
				}
				<-window
			}
		}
	}()
	return out
}
