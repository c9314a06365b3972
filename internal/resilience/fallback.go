package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all engines failed")

// FallbackConfig configures the breaker created for each entry of a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// EntryStats are the counters of one [FallbackGroup] entry.
type EntryStats struct {
	Name     string
	Served   int64 // successful calls
	Failures int64 // calls that returned an error
	Skipped  int64 // calls rejected by the open breaker
	State    State
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker

	served   atomic.Int64
	failures atomic.Int64
	skipped  atomic.Int64
}

// FallbackGroup holds a primary and zero or more fallback instances of the same
// engine type. Each call is tried against the entries in registration order,
// skipping those whose breaker is open.
//
// FallbackGroup is safe for concurrent use once all fallbacks are added.
type FallbackGroup[T any] struct {
	entries []*fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all previously added ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, &fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Stats returns a snapshot of the per-entry counters in registration order.
func (fg *FallbackGroup[T]) Stats() []EntryStats {
	out := make([]EntryStats, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = EntryStats{
			Name:     e.name,
			Served:   e.served.Load(),
			Failures: e.failures.Load(),
			Skipped:  e.skipped.Load(),
			State:    e.breaker.State(),
		}
	}
	return out
}

// Execute tries fn against each entry until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry until one succeeds and returns
// its result together with the name of the entry that served it. It returns
// [ErrAllFailed] wrapping the last error if every entry fails.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	r, _, err := ExecuteNamed(fg, fn)
	return r, err
}

// ExecuteNamed is like [ExecuteWithResult] and also reports which entry served
// the call.
func ExecuteNamed[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for _, entry := range fg.entries {
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			entry.served.Add(1)
			return result, entry.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			entry.skipped.Add(1)
			slog.Debug("skipping engine (circuit open)", "engine", entry.name)
			continue
		}
		entry.failures.Add(1)
		slog.Debug("engine failed, trying next", "engine", entry.name, "error", err)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
