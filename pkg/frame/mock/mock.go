// Package mock provides a scripted frame.Source for tests.
//
// Example:
//
//	src := &mock.Source{Frames: mock.Blank(30, 64, 16, 33*time.Millisecond)}
//	f, err := src.Next(ctx)
package mock

import (
	"context"
	"image"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/igtsplit/pkg/frame"
)

// Source is a mock implementation of frame.Source that replays Frames in
// order.
type Source struct {
	mu sync.Mutex

	// Frames is the sequence returned by Next.
	Frames []frame.Frame

	// Err, if non-nil, is returned by Next once ErrAfter frames have been
	// delivered instead of io.EOF.
	Err      error
	ErrAfter int

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// NextCalls counts calls to Next; CloseCalls counts calls to Close.
	NextCalls  int
	CloseCalls int

	pos int
}

// Next returns the next scripted frame.
func (s *Source) Next(ctx context.Context) (frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NextCalls++
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}
	if s.Err != nil && s.pos >= s.ErrAfter {
		return frame.Frame{}, s.Err
	}
	if s.pos >= len(s.Frames) {
		return frame.Frame{}, io.EOF
	}
	f := s.Frames[s.pos]
	s.pos++
	return f, nil
}

// Close records the call and returns CloseErr.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return s.CloseErr
}

// Blank builds n frames of a uniform w×h image spaced by interval.
func Blank(n, w, h int, interval time.Duration) []frame.Frame {
	img := image.NewGray(image.Rect(0, 0, w, h))
	out := make([]frame.Frame, n)
	for i := range out {
		out[i] = frame.Frame{Index: i, Timestamp: time.Duration(i) * interval, Image: img}
	}
	return out
}

var _ frame.Source = (*Source)(nil)
