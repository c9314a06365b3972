// Package recognize turns frames into raw timer readings.
//
// A [Recognizer] crops the timer region of one frame, runs the OCR engine on
// it under a per-frame timeout and filters the text to the timer charset. It
// never fails: any problem yields a reading with Success=false, which the
// reconciler treats as unknown. A [Stage] fans recognition out over a bounded
// worker pool and restores frame order on the way out.
package recognize

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/igtsplit/internal/observe"
	"github.com/MrWong99/igtsplit/internal/region"
	"github.com/MrWong99/igtsplit/pkg/frame"
	"github.com/MrWong99/igtsplit/pkg/provider/ocr"
)

// DefaultTimeout bounds a single OCR call.
const DefaultTimeout = 2 * time.Second

// DefaultCharset is the allow-list for timers without a percentage.
const DefaultCharset = "0123456789:."

// Failure reasons reported to metrics.
const (
	ReasonRegion  = "region"
	ReasonTimeout = "timeout"
	ReasonEngine  = "engine"
)

// RawReading is the unvalidated OCR output for one frame.
type RawReading struct {
	FrameIndex int
	Timestamp  time.Duration

	// Text is the recognised timer text restricted to the charset. Empty when
	// nothing was read.
	Text string

	// Confidence is the engine confidence in [0, 1].
	Confidence float64

	// Success is false when extraction or the engine failed or timed out.
	Success bool

	// Marker is the text read from the optional marker region.
	Marker string
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithTimeout sets the per-frame OCR timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithCharset sets the timer allow-list.
func WithCharset(cs string) Option {
	return func(r *Recognizer) {
		if cs != "" {
			r.charset = cs
		}
	}
}

// WithMarker also recognises a second region, such as a level name, whose
// text is reported in RawReading.Marker. An empty charset leaves the engine
// unrestricted.
func WithMarker(ext *region.Extractor, charset string) Option {
	return func(r *Recognizer) {
		r.marker = ext
		r.markerCharset = charset
	}
}

// WithMetrics overrides the metrics sink (default observe.DefaultMetrics()).
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recognizer) { r.metrics = m }
}

// Recognizer reads the timer of individual frames. Safe for concurrent use
// if the engine is.
type Recognizer struct {
	timer  *region.Extractor
	engine ocr.Provider

	marker        *region.Extractor
	markerCharset string

	charset string
	timeout time.Duration
	metrics *observe.Metrics
}

// New returns a Recognizer reading the timer region through engine.
func New(timer *region.Extractor, engine ocr.Provider, opts ...Option) *Recognizer {
	r := &Recognizer{
		timer:   timer,
		engine:  engine,
		charset: DefaultCharset,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Recognize reads one frame.
func (r *Recognizer) Recognize(ctx context.Context, f frame.Frame) RawReading {
	out := RawReading{FrameIndex: f.Index, Timestamp: f.Timestamp}

	text, conf, reason := r.read(ctx, f, r.timer, "timer", r.charset)
	if reason != "" {
		r.metrics.RecordRecognitionFailure(ctx, reason)
		observe.Logger(ctx).Debug("recognition failed", "frame", f.Index, "reason", reason)
		return out
	}
	out.Text = text
	out.Confidence = conf
	out.Success = true

	if r.marker != nil {
		if m, _, reason := r.read(ctx, f, r.marker, "marker", r.markerCharset); reason == "" {
			out.Marker = m
		}
	}
	return out
}

func (r *Recognizer) read(ctx context.Context, f frame.Frame, ext *region.Extractor, name, charset string) (string, float64, string) {
	img, err := ext.Extract(f.Image)
	if err != nil {
		return "", 0, ReasonRegion
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	res, err := r.engine.Recognize(callCtx, img, ocr.Options{Charset: charset, SingleLine: true})
	r.metrics.OCRDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("region", name)))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", 0, ReasonTimeout
		}
		return "", 0, ReasonEngine
	}
	text := strings.TrimSpace(ocr.FilterCharset(res.Text, charset))
	return text, res.Confidence, ""
}
