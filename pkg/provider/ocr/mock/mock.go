// Package mock provides a test double for ocr.Provider.
//
// Results are consumed in order, one per Recognize call. Set Func instead to
// compute a result from the image, which is useful when calls arrive
// concurrently and their order is not deterministic.
package mock

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/MrWong99/igtsplit/pkg/provider/ocr"
)

// Call records a single invocation of Provider.Recognize.
type Call struct {
	Bounds image.Rectangle
	Opts   ocr.Options
}

// Provider is a mock implementation of ocr.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order. When exhausted, the last result is
	// repeated; with no results an empty Result is returned.
	Results []ocr.Result

	// Func, if non-nil, takes precedence over Results and Err.
	Func func(ctx context.Context, img image.Image, opts ocr.Options) (ocr.Result, error)

	// Err, if non-nil, is returned by every call.
	Err error

	// Delay blocks each call for the given duration or until ctx is done.
	Delay time.Duration

	// Calls records every call to Recognize.
	Calls []Call

	next int
}

// Recognize records the call and returns the next scripted result.
func (p *Provider) Recognize(ctx context.Context, img image.Image, opts ocr.Options) (ocr.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Bounds: img.Bounds(), Opts: opts})
	fn, err, delay := p.Func, p.Err, p.Delay
	var res ocr.Result
	if len(p.Results) > 0 {
		res = p.Results[min(p.next, len(p.Results)-1)]
		p.next++
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ocr.Result{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, img, opts)
	}
	if err != nil {
		return ocr.Result{}, err
	}
	return res, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls and rewinds Results. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.next = 0
}

var _ ocr.Provider = (*Provider)(nil)
