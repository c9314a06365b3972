// Package frame defines decoded video frames and the Source interface that
// produces them.
//
// A Source yields frames strictly in index order, each stamped with its
// presentation timestamp relative to the start of the video. Frames are
// immutable once produced; downstream stages may read the Image concurrently.
//
// Implementations live in sub-packages: ffmpeg (decode a video file by running
// the ffmpeg binary), imagedir (read a directory of already extracted images)
// and mock (scripted frames for tests).
package frame

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"time"
)

// ErrInvalidFPS is returned when a frame rate is zero, negative or not finite.
var ErrInvalidFPS = errors.New("frame: fps must be a positive number")

// Frame is one decoded video frame.
type Frame struct {
	// Index is the zero-based position of the frame in the sampled sequence.
	Index int

	// Timestamp is the presentation time of the frame from the start of the
	// video.
	Timestamp time.Duration

	// Image holds the decoded pixels. Consumers must not modify it.
	Image image.Image
}

// Source is the abstraction over anything that produces frames.
//
// Next and Close must not be called concurrently.
type Source interface {
	// Next returns the next frame. It returns io.EOF once the source is
	// exhausted and ctx.Err() if the context is cancelled first.
	Next(ctx context.Context) (Frame, error)

	// Close releases resources held by the source. Calling Close more than
	// once is safe.
	Close() error
}

// Interval returns the time between two consecutive frames sampled at fps.
func Interval(fps float64) (time.Duration, error) {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidFPS, fps)
	}
	return time.Duration(float64(time.Second) / fps), nil
}

// Timestamp returns the presentation time of frame index sampled at fps,
// rounded to the nearest nanosecond. It is computed from fps directly so that
// rounding in [Interval] does not accumulate over long videos.
func Timestamp(index int, fps float64) time.Duration {
	return time.Duration(math.Round(float64(index) * float64(time.Second) / fps))
}

// Pump reads src until it is exhausted and sends every frame on out. It
// returns nil at end of input, ctx.Err() on cancellation and the source error
// otherwise. out is not closed; the caller owns it.
func Pump(ctx context.Context, src Source, out chan<- Frame) error {
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Peek reads the first frame of src. It returns that frame, or nil when src
// is already exhausted, together with a Source that yields the frame again
// before continuing with src. Closing the returned Source closes src.
func Peek(ctx context.Context, src Source) (*Frame, Source, error) {
	f, err := src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil, src, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &f, &replay{first: &f, src: src}, nil
}

type replay struct {
	first *Frame
	src   Source
}

func (r *replay) Next(ctx context.Context) (Frame, error) {
	if r.first != nil {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		f := *r.first
		r.first = nil
		return f, nil
	}
	return r.src.Next(ctx)
}

func (r *replay) Close() error { return r.src.Close() }
