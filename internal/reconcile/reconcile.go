// Package reconcile turns noisy per-frame timer readings into a physically
// plausible timer signal.
//
// The [Reconciler] keeps the last trusted sample as an anchor and a bounded
// window of pending readings after it. A reading is trusted when its value
// lies in the range the timer can have reached since the anchor; pending
// readings between two trusted samples are then repaired by linear
// interpolation. A drop to a small value is a reset. A run of mutually
// plausible readings that disagree with the anchor replaces it, so neither a
// bad first reading nor a legitimate jump can stall the signal. Readings that
// cannot be resolved within the window are given up as unknown.
//
// Samples are returned strictly in frame order, each frame exactly once, at
// most Window frames after the reading arrived. Known values never decrease
// except on samples marked Reset.
package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/igtsplit/internal/recognize"
	"github.com/MrWong99/igtsplit/pkg/igt"
)

// ErrConfig is returned by [New] for invalid configurations.
var ErrConfig = errors.New("reconcile: invalid config")

// bootstrapChain is the number of mutually plausible readings needed to trust
// the very first value of a video.
const bootstrapChain = 2

// rateAlpha is the EWMA weight of a new slope observation.
const rateAlpha = 0.1

// Config tunes the plausibility model. Start from [DefaultConfig].
type Config struct {
	// Grammar parses reading text. Required.
	Grammar igt.Grammar

	// FrameInterval is the video time between two consecutive frames.
	// Required.
	FrameInterval time.Duration

	// Rate is the expected timer seconds per video second.
	Rate float64

	// Tolerance is the relative slack around Rate, e.g. 0.5 accepts rates in
	// [0.5, 1.5].
	Tolerance float64

	// MinConfidence is the confidence floor below which a reading is
	// treated as unknown.
	MinConfidence float64

	// Window is the maximum number of frames a reading may stay pending.
	Window int

	// ResetCeiling is the largest value accepted as a timer reset. A drop
	// that also lowers the completion percentage is a reset at any value.
	ResetCeiling time.Duration

	// ResetMinGap is the minimum video time between two resets.
	ResetMinGap time.Duration

	// AllowHold accepts an unchanged value, for timers that stop during
	// loads or pauses.
	AllowHold bool

	// ReanchorAfter is the length of the run of mutually plausible pending
	// readings that replaces the anchor. Must not exceed Window.
	ReanchorAfter int

	// Resolution is the unit of the least significant timer digit. Zero
	// takes the grammar's resolution.
	Resolution time.Duration
}

// DefaultConfig returns the defaults for the given grammar and frame
// interval.
func DefaultConfig(g igt.Grammar, frameInterval time.Duration) Config {
	return Config{
		Grammar:       g,
		FrameInterval: frameInterval,
		Rate:          1,
		Tolerance:     0.5,
		Window:        8,
		ResetCeiling:  2 * time.Second,
		ResetMinGap:   time.Second,
		AllowHold:     true,
		ReanchorAfter: 3,
	}
}

// Validate reports every problem with cfg.
func (c Config) Validate() error {
	var errs []error
	if len(c.Grammar) == 0 {
		errs = append(errs, errors.New("grammar is required"))
	}
	if c.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("frame interval %v must be positive", c.FrameInterval))
	}
	if c.Rate <= 0 {
		errs = append(errs, fmt.Errorf("rate %v must be positive", c.Rate))
	}
	if c.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("tolerance %v must not be negative", c.Tolerance))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min confidence %v must be in [0, 1]", c.MinConfidence))
	}
	if c.Window < 1 {
		errs = append(errs, fmt.Errorf("window %d must be at least 1", c.Window))
	}
	if c.ReanchorAfter < bootstrapChain || c.ReanchorAfter > c.Window {
		errs = append(errs, fmt.Errorf("reanchor_after %d must be in [%d, window=%d]", c.ReanchorAfter, bootstrapChain, c.Window))
	}
	if c.ResetCeiling < 0 || c.ResetMinGap < 0 || c.Resolution < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
}

// Sample is the reconciled timer state of one frame.
type Sample struct {
	FrameIndex int
	Timestamp  time.Duration

	// Value is meaningful only when Known is true.
	Value igt.Time
	Known bool

	// Corrected marks a value repaired by interpolation instead of read.
	Corrected bool

	// Reset marks the first sample after a timer reset. It is the only place
	// where Value may be lower than the previous known value.
	Reset bool

	// Marker is the marker-region text of the underlying reading.
	Marker string
}

// Stats counts reconciler decisions.
type Stats struct {
	Accepted            int // readings trusted as read
	Corrected           int // samples repaired by interpolation
	Unknown             int // samples emitted without a value
	Resets              int
	Rejected            int // parsed readings outside the plausible range
	ParseFailures       int
	LowConfidence       int
	RecognitionFailures int // readings with Success=false
	UnrecoverableGaps   int // pending samples given up at the window edge
	Reanchors           int
	OutOfOrder          int // readings dropped for arriving out of frame order
}

type entry struct {
	reading recognize.RawReading
	value   igt.Time
	valid   bool
}

type point struct {
	frame int
	ts    time.Duration
	value igt.Time
}

// Reconciler is a single-goroutine state machine; it is not safe for
// concurrent use.
type Reconciler struct {
	cfg  Config
	res  time.Duration
	rate float64

	anchor    point
	hasAnchor bool
	pending   []entry

	lastReset time.Duration
	resetSeen bool

	lastFrame int
	seen      bool

	stats Stats
}

// New validates cfg and returns a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res := cfg.Resolution
	if res == 0 {
		res = cfg.Grammar.Resolution()
	}
	return &Reconciler{cfg: cfg, res: res, rate: cfg.Rate}, nil
}

// Stats returns the counters so far.
func (r *Reconciler) Stats() Stats { return r.stats }

// Rate returns the current timer-rate estimate.
func (r *Reconciler) Rate() float64 { return r.rate }

// Push feeds the next reading and returns the samples finalized by it, in
// frame order. Readings must arrive in increasing frame order; others are
// dropped.
func (r *Reconciler) Push(rd recognize.RawReading) []Sample {
	if r.seen && rd.FrameIndex <= r.lastFrame {
		r.stats.OutOfOrder++
		return nil
	}
	r.seen = true
	r.lastFrame = rd.FrameIndex

	e := r.classify(rd)
	var out []Sample

	switch {
	case e.valid && r.hasAnchor && r.plausible(r.anchor, e.reading.FrameIndex, e.value):
		out = r.commit(out, e, false)
	case e.valid && r.hasAnchor && r.jitter(e):
		// One digit below the anchor is rounding noise: hold the anchor.
		e.value = r.anchor.value
		out = r.commit(out, e, false)
		out[len(out)-1].Corrected = true
		r.stats.Accepted--
		r.stats.Corrected++
	case e.valid && r.hasAnchor && r.isReset(e):
		out = r.reset(out, e)
	default:
		if e.valid && r.hasAnchor {
			r.stats.Rejected++
		}
		r.pending = append(r.pending, e)
		if e.valid {
			out = r.tryReanchor(out)
		}
	}
	return r.expire(out, rd.FrameIndex)
}

// Flush finalizes all pending readings at end of input. If no value has been
// trusted yet, the first valid pending reading is accepted on its own.
func (r *Reconciler) Flush() []Sample {
	var out []Sample
	if !r.hasAnchor {
		for i, e := range r.pending {
			if !e.valid {
				continue
			}
			rest := r.pending[i+1:]
			out = r.emitUnknown(out, r.pending[:i])
			r.pending = nil
			out = r.commit(out, e, false)
			for _, e := range rest {
				if e.valid && r.plausible(r.anchor, e.reading.FrameIndex, e.value) {
					out = r.commit(out, e, false)
				} else {
					r.pending = append(r.pending, e)
				}
			}
			break
		}
	}
	out = r.emitUnknown(out, r.pending)
	r.pending = nil
	return out
}

func (r *Reconciler) classify(rd recognize.RawReading) entry {
	e := entry{reading: rd}
	if !rd.Success {
		r.stats.RecognitionFailures++
		return e
	}
	v, err := r.cfg.Grammar.Parse(rd.Text)
	if err != nil {
		r.stats.ParseFailures++
		return e
	}
	if rd.Confidence < r.cfg.MinConfidence {
		r.stats.LowConfidence++
		return e
	}
	e.value = v
	e.valid = true
	return e
}

// plausible reports whether v at frame is reachable from p.
func (r *Reconciler) plausible(p point, frame int, v igt.Time) bool {
	n := frame - p.frame
	if n <= 0 {
		return false
	}
	elapsed := float64(n) * float64(r.cfg.FrameInterval) * r.rate
	base := p.value.Duration()
	lo := base + time.Duration(elapsed*(1-r.cfg.Tolerance)) - r.res
	hi := base + time.Duration(elapsed*(1+r.cfg.Tolerance)) + r.res
	if r.cfg.AllowHold || lo < base {
		lo = base
	}
	d := v.Duration()
	if d < lo || d > hi {
		return false
	}
	if p.value.HasPercent && v.HasPercent && v.Percent < p.value.Percent {
		return false
	}
	return true
}

func (r *Reconciler) jitter(e entry) bool {
	d := e.value.Duration()
	base := r.anchor.value.Duration()
	if d >= base || base-d > r.res {
		return false
	}
	return !r.anchor.value.HasPercent || !e.value.HasPercent || e.value.Percent >= r.anchor.value.Percent
}

// isReset reports whether e restarts the timer: the value drops to at most
// ResetCeiling, or drops together with the completion percentage.
func (r *Reconciler) isReset(e entry) bool {
	d := e.value.Duration()
	if d >= r.anchor.value.Duration() {
		return false
	}
	a := r.anchor.value
	regressed := a.HasPercent && e.value.HasPercent && e.value.Percent < a.Percent
	if d > r.cfg.ResetCeiling && !regressed {
		return false
	}
	return !r.resetSeen || e.reading.Timestamp-r.lastReset >= r.cfg.ResetMinGap
}

// commit trusts e. Pending readings before it are interpolated from the
// anchor, or given up when there is no anchor or reset is set.
func (r *Reconciler) commit(out []Sample, e entry, reset bool) []Sample {
	if r.hasAnchor && !reset {
		out = r.interpolate(out, e)
		r.updateRate(e)
	} else {
		out = r.emitUnknown(out, r.pending)
	}
	r.pending = r.pending[:0]

	s := sampleOf(e.reading)
	s.Value = e.value
	s.Known = true
	s.Reset = reset
	out = append(out, s)
	r.stats.Accepted++

	r.anchor = point{frame: e.reading.FrameIndex, ts: e.reading.Timestamp, value: e.value}
	r.hasAnchor = true
	return out
}

func (r *Reconciler) reset(out []Sample, e entry) []Sample {
	r.stats.Resets++
	r.lastReset = e.reading.Timestamp
	r.resetSeen = true
	return r.commit(out, e, true)
}

func (r *Reconciler) interpolate(out []Sample, next entry) []Sample {
	a := r.anchor
	span := next.reading.FrameIndex - a.frame
	from := a.value.Duration()
	to := next.value.Duration()
	for _, p := range r.pending {
		k := p.reading.FrameIndex - a.frame
		v := from + time.Duration(float64(to-from)*float64(k)/float64(span))
		v = max(from, v.Truncate(r.res))
		val := igt.FromDuration(v)
		if a.value.HasPercent {
			val = val.WithPercent(a.value.Percent)
		}
		s := sampleOf(p.reading)
		s.Value = val
		s.Known = true
		s.Corrected = true
		out = append(out, s)
		r.stats.Corrected++
	}
	return out
}

func (r *Reconciler) updateRate(e entry) {
	dv := e.value.Duration() - r.anchor.value.Duration()
	dt := e.reading.Timestamp - r.anchor.ts
	if dv <= 0 || dt <= 0 {
		return
	}
	slope := float64(dv) / float64(dt)
	if slope < r.rate*(1-r.cfg.Tolerance) || slope > r.rate*(1+r.cfg.Tolerance) {
		return
	}
	r.rate += rateAlpha * (slope - r.rate)
}

// tryReanchor looks for a run of mutually plausible valid readings at the
// end of the pending window and, if found, trusts them in place of the
// current anchor.
func (r *Reconciler) tryReanchor(out []Sample) []Sample {
	need := r.cfg.ReanchorAfter
	if !r.hasAnchor {
		need = bootstrapChain
	}
	var chain []int
	for i := len(r.pending) - 1; i >= 0 && len(chain) < need; i-- {
		if r.pending[i].valid {
			chain = append(chain, i)
		}
	}
	if len(chain) < need {
		return out
	}
	// chain holds indices newest first.
	for j := len(chain) - 1; j > 0; j-- {
		a, b := r.pending[chain[j]], r.pending[chain[j-1]]
		from := point{frame: a.reading.FrameIndex, value: a.value}
		if !r.plausible(from, b.reading.FrameIndex, b.value) {
			return out
		}
	}

	first := chain[len(chain)-1]
	members := make(map[int]bool, len(chain))
	for _, i := range chain {
		members[i] = true
	}
	head := r.pending[first]
	downward := r.hasAnchor && head.value.Compare(r.anchor.value) < 0
	if r.hasAnchor {
		r.stats.Reanchors++
		r.stats.Rejected -= len(chain)
	}

	rest := append([]entry(nil), r.pending[first+1:]...)
	r.pending = r.pending[:first]
	if downward {
		r.stats.Resets++
		r.lastReset = head.reading.Timestamp
		r.resetSeen = true
	}
	out = r.commit(out, head, true)
	out[len(out)-1].Reset = downward

	for i, e := range rest {
		if members[first+1+i] {
			out = r.commit(out, e, false)
		} else {
			r.pending = append(r.pending, e)
		}
	}
	return out
}

// expire gives up pending readings that have waited Window frames.
func (r *Reconciler) expire(out []Sample, frame int) []Sample {
	n := 0
	for n < len(r.pending) && frame-r.pending[n].reading.FrameIndex >= r.cfg.Window {
		n++
	}
	if n == 0 {
		return out
	}
	r.stats.UnrecoverableGaps += n
	out = r.emitUnknown(out, r.pending[:n])
	r.pending = append(r.pending[:0], r.pending[n:]...)
	return out
}

func (r *Reconciler) emitUnknown(out []Sample, entries []entry) []Sample {
	for _, e := range entries {
		out = append(out, sampleOf(e.reading))
		r.stats.Unknown++
	}
	return out
}

func sampleOf(rd recognize.RawReading) Sample {
	return Sample{FrameIndex: rd.FrameIndex, Timestamp: rd.Timestamp, Marker: rd.Marker}
}
