// Package split turns the reconciled timer stream into discrete split events.
//
// The [Detector] is a state machine (Idle, Running, Paused, Finished) that
// owns ordering, debouncing and pause handling. Which timer values count as
// segment boundaries is decided by an injected [Policy].
package split

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/igtsplit/internal/reconcile"
	"github.com/MrWong99/igtsplit/pkg/igt"
)

// ErrConfig is returned by [New] for invalid configurations.
var ErrConfig = errors.New("split: invalid config")

// State is the detector state.
type State int

const (
	Idle State = iota
	Running
	Paused
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Kind classifies an [Event].
type Kind int

const (
	KindSplit Kind = iota // a segment boundary
	KindReset             // the run ended because the timer was reset
	KindHold              // the timer stood still for at least HoldMin
	KindFinal             // the run finished
)

func (k Kind) String() string {
	switch k {
	case KindSplit:
		return "split"
	case KindReset:
		return "reset"
	case KindHold:
		return "hold"
	case KindFinal:
		return "final"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is one detected split. Seq and Timestamp strictly increase across all
// events of a detector; an event that would share a video timestamp with its
// predecessor is stamped one millisecond later.
type Event struct {
	Seq       int
	Run       int
	Timestamp time.Duration
	IGT       igt.Time
	Label     string
	Kind      Kind
}

// Config tunes the detector. Start from [DefaultConfig].
type Config struct {
	Policy Policy

	// StartAt is the first value that starts a run. Zero starts on any value
	// above zero.
	StartAt time.Duration

	// PauseAfter is the number of consecutive unknown samples after which a
	// running detector pauses.
	PauseAfter int

	// ResumeConfirm is the number of consecutive consistent known samples
	// needed to resume from Paused.
	ResumeConfirm int

	// Rate, Tolerance and Slack bound the value a resumed timer may show:
	// at most the pre-pause value plus the elapsed video time times
	// Rate*(1+Tolerance), plus Slack.
	Rate      float64
	Tolerance float64
	Slack     time.Duration

	// SplitOnReset emits a [KindReset] event carrying the last value of the
	// run when the timer resets.
	SplitOnReset bool

	// HoldMin enables hold splits when positive.
	HoldMin time.Duration

	// FinalOnClose emits a [KindFinal] event from Close for an unfinished run.
	FinalOnClose bool
}

// DefaultConfig returns the defaults for policy p.
func DefaultConfig(p Policy) Config {
	return Config{
		Policy:        p,
		PauseAfter:    15,
		ResumeConfirm: 3,
		Rate:          1,
		Tolerance:     0.5,
		Slack:         time.Second,
		SplitOnReset:  true,
	}
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if c.Policy == nil {
		errs = append(errs, errors.New("policy is required"))
	}
	if c.PauseAfter < 1 {
		errs = append(errs, fmt.Errorf("pause_after %d must be at least 1", c.PauseAfter))
	}
	if c.ResumeConfirm < 1 {
		errs = append(errs, fmt.Errorf("resume_confirm %d must be at least 1", c.ResumeConfirm))
	}
	if c.Rate <= 0 {
		errs = append(errs, fmt.Errorf("rate %v must be positive", c.Rate))
	}
	if c.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("tolerance %v must not be negative", c.Tolerance))
	}
	if c.StartAt < 0 || c.Slack < 0 || c.HoldMin < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
}

// Stats counts detector transitions.
type Stats struct {
	Runs              int
	Pauses            int
	Resumes           int
	Debounced         int // boundaries dropped because their key already fired
	IgnoredRecoveries int // known samples in Paused that broke the pre-pause trend
}

// Detector is the split state machine. It is not safe for concurrent use.
type Detector struct {
	cfg Config

	state  State
	closed bool
	run    int
	seq    int
	events []Event
	fired  map[string]bool

	// last is the previous known sample of the current run.
	last       reconcile.Sample
	unknownRun int
	confirm    int

	holdSince time.Duration
	holdStart time.Duration
	holding   bool
	holdFired bool

	stats Stats
}

// New validates cfg and returns an idle Detector.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg, fired: make(map[string]bool)}, nil
}

// State returns the current state.
func (d *Detector) State() State { return d.state }

// Run returns the number of the current or last run, starting at 1.
func (d *Detector) Run() int { return d.run }

// Stats returns the counters so far.
func (d *Detector) Stats() Stats { return d.stats }

// Events returns a copy of every event emitted so far.
func (d *Detector) Events() []Event { return slices.Clone(d.events) }

// Feed advances the state machine by one sample and returns the events it
// produced. Samples must be fed in frame order.
func (d *Detector) Feed(s reconcile.Sample) []Event {
	if d.closed {
		return nil
	}
	var out []Event
	if s.Known && s.Reset {
		out = d.reset(out, s)
	}

	switch d.state {
	case Idle:
		if s.Known && d.startsRun(s) {
			out = d.begin(out, s)
		}
	case Running:
		if !s.Known {
			d.unknownRun++
			if d.unknownRun > d.cfg.PauseAfter {
				d.pause(s)
			}
			return out
		}
		d.unknownRun = 0
		out = d.advance(out, s)
	case Paused:
		if !s.Known {
			d.confirm = 0
			return out
		}
		if !d.consistent(s) {
			d.confirm = 0
			d.stats.IgnoredRecoveries++
			return out
		}
		d.confirm++
		if d.confirm < d.cfg.ResumeConfirm {
			return out
		}
		d.resume(s)
		out = d.advance(out, s)
	case Finished:
	}
	return out
}

// Close ends the input at video time ts. An unfinished run is finished; with
// FinalOnClose it also gets a final event carrying its last known value.
// Later calls to Feed and Close do nothing.
func (d *Detector) Close(ts time.Duration) []Event {
	if d.closed {
		return nil
	}
	d.closed = true
	var out []Event
	if (d.state == Running || d.state == Paused) && d.cfg.FinalOnClose && d.last.Known {
		out = d.emit(out, ts, d.last.Value, "", KindFinal)
	}
	d.transition(Finished, ts)
	return out
}

func (d *Detector) startsRun(s reconcile.Sample) bool {
	if d.cfg.StartAt > 0 {
		return s.Value.Duration() >= d.cfg.StartAt
	}
	return !s.Value.IsZero()
}

func (d *Detector) begin(out []Event, s reconcile.Sample) []Event {
	d.run++
	d.stats.Runs++
	clear(d.fired)
	d.last = reconcile.Sample{}
	d.unknownRun, d.confirm = 0, 0
	d.holding, d.holdFired = false, false
	d.transition(Running, s.Timestamp)
	return d.advance(out, s)
}

func (d *Detector) reset(out []Event, s reconcile.Sample) []Event {
	switch d.state {
	case Running, Paused:
		if d.cfg.SplitOnReset && d.last.Known {
			out = d.emit(out, s.Timestamp, d.last.Value, "", KindReset)
		}
	case Idle:
		return out
	}
	d.last = reconcile.Sample{}
	d.transition(Idle, s.Timestamp)
	return out
}

func (d *Detector) pause(s reconcile.Sample) {
	d.stats.Pauses++
	d.confirm = 0
	d.holding, d.holdFired = false, false
	d.transition(Paused, s.Timestamp)
}

func (d *Detector) resume(s reconcile.Sample) {
	d.stats.Resumes++
	d.unknownRun, d.confirm = 0, 0
	d.holdSince = s.Timestamp
	d.transition(Running, s.Timestamp)
}

// consistent reports whether s continues the trend of the last known sample
// before the pause.
func (d *Detector) consistent(s reconcile.Sample) bool {
	if !d.last.Known {
		return true
	}
	lv, v := d.last.Value.Duration(), s.Value.Duration()
	if v < lv {
		return false
	}
	if d.last.Value.HasPercent && s.Value.HasPercent && s.Value.Percent < d.last.Value.Percent {
		return false
	}
	elapsed := float64(s.Timestamp - d.last.Timestamp)
	hi := lv + time.Duration(elapsed*d.cfg.Rate*(1+d.cfg.Tolerance)) + d.cfg.Slack
	return v <= hi
}

// advance applies a known sample of a running run.
func (d *Detector) advance(out []Event, s reconcile.Sample) []Event {
	out = d.hold(out, s)
	crossed := d.cfg.Policy.Crossed(d.last, s)
	d.last = s

	var fresh []Boundary
	for _, b := range crossed {
		if d.fired[b.Key] {
			d.stats.Debounced++
			continue
		}
		d.fired[b.Key] = true
		fresh = append(fresh, b)
	}
	if len(fresh) == 0 {
		return out
	}

	kind := KindSplit
	for _, b := range fresh {
		if b.Final {
			kind = KindFinal
		}
	}
	out = d.emit(out, s.Timestamp, s.Value, fresh[len(fresh)-1].Label, kind)
	if kind == KindFinal {
		d.transition(Finished, s.Timestamp)
	}
	return out
}

func (d *Detector) hold(out []Event, s reconcile.Sample) []Event {
	if d.cfg.HoldMin <= 0 {
		return out
	}
	if !d.last.Known || s.Value.Compare(d.last.Value) != 0 {
		d.holding, d.holdFired = false, false
		d.holdSince = s.Timestamp
		return out
	}
	if !d.holding {
		d.holding = true
		d.holdStart = s.Timestamp
	}
	if !d.holdFired && s.Timestamp-d.holdSince >= d.cfg.HoldMin {
		d.holdFired = true
		out = d.emit(out, d.holdStart, s.Value, "", KindHold)
	}
	return out
}

func (d *Detector) emit(out []Event, ts time.Duration, v igt.Time, label string, kind Kind) []Event {
	if n := len(d.events); n > 0 && ts <= d.events[n-1].Timestamp {
		ts = d.events[n-1].Timestamp + time.Millisecond
	}
	d.seq++
	ev := Event{Seq: d.seq, Run: d.run, Timestamp: ts, IGT: v, Label: label, Kind: kind}
	d.events = append(d.events, ev)
	slog.Debug("split event", "seq", ev.Seq, "run", ev.Run, "kind", kind, "label", label, "igt", v, "at", ts)
	return append(out, ev)
}

func (d *Detector) transition(to State, ts time.Duration) {
	if d.state == to {
		return
	}
	slog.Debug("detector state", "from", d.state, "to", to, "at", ts, "run", d.run)
	d.state = to
}
