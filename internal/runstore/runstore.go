// Package runstore keeps the history of detected runs so that later videos
// can be compared against the personal best.
package runstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/igtsplit/internal/split"
)

// Run is one detected run of a video.
type Run struct {
	ID    uuid.UUID
	Video string

	// Number is the detector's run number within the video.
	Number int

	// Start and End are the video timestamps of the run's first and last
	// event.
	Start time.Duration
	End   time.Duration

	Finished bool

	// Final is the IGT of the final event; zero for unfinished runs.
	Final time.Duration

	Events    []split.Event
	CreatedAt time.Time
}

// Store persists runs. Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts run. A nil ID is replaced with a new random one and a zero
	// CreatedAt with the current time.
	Save(ctx context.Context, run *Run) error

	// Get returns the run with the given ID, or (nil, nil) if there is none.
	Get(ctx context.Context, id uuid.UUID) (*Run, error)

	// List returns the runs of video, oldest first. An empty video lists
	// every run.
	List(ctx context.Context, video string) ([]Run, error)

	// PersonalBest returns the finished run with the lowest final time, or
	// (nil, nil) when no run has finished.
	PersonalBest(ctx context.Context) (*Run, error)
}

// FromEvents groups the events of one video into runs. Runs without events
// are not represented.
func FromEvents(video string, events []split.Event) []Run {
	var runs []Run
	for _, e := range events {
		if n := len(runs); n == 0 || runs[n-1].Number != e.Run {
			runs = append(runs, Run{Video: video, Number: e.Run, Start: e.Timestamp})
		}
		r := &runs[len(runs)-1]
		r.End = e.Timestamp
		r.Events = append(r.Events, e)
		if e.Kind == split.KindFinal {
			r.Finished = true
			r.Final = e.IGT.Duration()
		}
	}
	return runs
}

// Fastest returns the finished run with the lowest final time.
func Fastest(runs []Run) (*Run, bool) {
	var best *Run
	for i := range runs {
		r := &runs[i]
		if r.Finished && (best == nil || r.Final < best.Final) {
			best = r
		}
	}
	return best, best != nil
}

// Prepare fills in the ID and creation time of a run about to be saved.
func Prepare(run *Run) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
}
