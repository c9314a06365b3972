package reconcile

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/igtsplit/internal/recognize"
	"github.com/MrWong99/igtsplit/pkg/igt"
)

const interval30 = time.Second / 30

var msFormat = igt.MustCompile("H:MM:SS.fff")

func newReconciler(t *testing.T, mutate func(*Config)) *Reconciler {
	t.Helper()
	cfg := DefaultConfig(igt.Grammar{msFormat}, interval30)
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func render(d time.Duration) string { return msFormat.Render(igt.FromDuration(d)) }

func reading(i int, text string) recognize.RawReading {
	return recognize.RawReading{
		FrameIndex: i,
		Timestamp:  time.Duration(i) * interval30,
		Text:       text,
		Confidence: 1,
		Success:    true,
	}
}

// truth is the timer value of a clean 30 fps recording at frame i.
func truth(i int) time.Duration {
	return time.Duration(i) * time.Second / 30 / time.Millisecond * time.Millisecond
}

func runAll(r *Reconciler, readings []recognize.RawReading) []Sample {
	var out []Sample
	for _, rd := range readings {
		out = append(out, r.Push(rd)...)
	}
	return append(out, r.Flush()...)
}

func checkOrder(t *testing.T, samples []Sample, n int) {
	t.Helper()
	if len(samples) != n {
		t.Fatalf("got %d samples, want %d", len(samples), n)
	}
	for i, s := range samples {
		if s.FrameIndex != i {
			t.Fatalf("sample %d has frame %d", i, s.FrameIndex)
		}
	}
}

func checkMonotonic(t *testing.T, samples []Sample) {
	t.Helper()
	var last time.Duration
	seen := false
	for _, s := range samples {
		if !s.Known {
			continue
		}
		d := s.Value.Duration()
		if seen && d < last && !s.Reset {
			t.Fatalf("frame %d: value %v below previous %v without reset", s.FrameIndex, d, last)
		}
		last, seen = d, true
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	good := DefaultConfig(igt.Grammar{msFormat}, interval30)
	if err := good.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := good
	bad.Grammar = nil
	bad.FrameInterval = 0
	bad.ReanchorAfter = 20
	err := bad.Validate()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
	for _, want := range []string{"grammar", "frame interval", "reanchor_after"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestReconciler_CleanStreamIsIdempotent(t *testing.T) {
	t.Parallel()
	const n = 300
	in := make([]recognize.RawReading, n)
	for i := range in {
		in[i] = reading(i, render(truth(i)))
	}
	first := runAll(newReconciler(t, nil), in)
	checkOrder(t, first, n)
	for i, s := range first {
		if !s.Known || s.Corrected || s.Reset {
			t.Fatalf("frame %d: %+v, want plain known sample", i, s)
		}
		if s.Value.Duration() != truth(i) {
			t.Fatalf("frame %d: value %v, want %v", i, s.Value.Duration(), truth(i))
		}
	}

	again := make([]recognize.RawReading, n)
	for i, s := range first {
		again[i] = reading(s.FrameIndex, msFormat.Render(s.Value))
	}
	second := runAll(newReconciler(t, nil), again)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("frame %d differs on second pass: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestReconciler_InvalidReadingIsInterpolated(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil)
	var in []recognize.RawReading
	for i := range 10 {
		in = append(in, reading(i, render(truth(i))))
	}
	in[5].Text = "0:00:0O.l66" // misread glyphs
	in[6].Text = "0:00:88.000" // seconds out of range
	out := runAll(r, in)
	checkOrder(t, out, 10)
	for _, i := range []int{5, 6} {
		s := out[i]
		if !s.Known || !s.Corrected {
			t.Fatalf("frame %d: %+v, want corrected", i, s)
		}
		if diff := s.Value.Duration() - truth(i); diff < -time.Millisecond || diff > time.Millisecond {
			t.Errorf("frame %d: value %v, want %v ±1ms", i, s.Value.Duration(), truth(i))
		}
	}
	if got := r.Stats().ParseFailures; got != 2 {
		t.Errorf("ParseFailures = %d, want 2", got)
	}
}

func TestReconciler_OutlierRejected(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil)
	var in []recognize.RawReading
	for i := range 20 {
		in = append(in, reading(i, render(truth(i))))
	}
	in[10].Text = "9:59:59.000"
	in[11].Text = render(truth(11) + 5*time.Second)
	out := runAll(r, in)
	checkOrder(t, out, 20)
	checkMonotonic(t, out)
	for _, i := range []int{10, 11} {
		if !out[i].Corrected {
			t.Errorf("frame %d not corrected: %+v", i, out[i])
		}
	}
	if st := r.Stats(); st.Rejected != 2 || st.Resets != 0 {
		t.Errorf("stats = %+v, want 2 rejected and no resets", st)
	}
}

func TestReconciler_ConfidenceFloor(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, func(c *Config) { c.MinConfidence = 0.6 })
	var in []recognize.RawReading
	for i := range 6 {
		in = append(in, reading(i, render(truth(i))))
	}
	in[3].Confidence = 0.2
	in[3].Text = render(truth(3) + time.Hour)
	out := runAll(r, in)
	if !out[3].Corrected || out[3].Value.Duration() > truth(4) {
		t.Errorf("low-confidence frame = %+v, want corrected", out[3])
	}
	if got := r.Stats().LowConfidence; got != 1 {
		t.Errorf("LowConfidence = %d, want 1", got)
	}
}

func TestReconciler_Reset(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil)
	var in []recognize.RawReading
	for i := range 90 {
		in = append(in, reading(i, render(truth(i))))
	}
	for i := 90; i < 120; i++ {
		in = append(in, reading(i, render(truth(i-90))))
	}
	out := runAll(r, in)
	checkOrder(t, out, 120)
	checkMonotonic(t, out)
	if !out[90].Reset || out[90].Value.Duration() != 0 {
		t.Fatalf("frame 90 = %+v, want reset to zero", out[90])
	}
	for i, s := range out {
		if i != 90 && s.Reset {
			t.Errorf("unexpected reset at frame %d", i)
		}
	}
	if got := r.Stats().Resets; got != 1 {
		t.Errorf("Resets = %d, want 1", got)
	}
}

func TestReconciler_LargeDropIsNotAReset(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, func(c *Config) { c.ReanchorAfter = 8 })
	var in []recognize.RawReading
	for i := range 300 {
		in = append(in, reading(i, render(truth(i))))
	}
	// A single misread far below the anchor but above the reset ceiling.
	in[200].Text = render(5 * time.Second)
	out := runAll(r, in)
	if out[200].Reset || !out[200].Corrected {
		t.Errorf("frame 200 = %+v, want corrected, no reset", out[200])
	}
}

func TestReconciler_ResetMinGap(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil)
	var in []recognize.RawReading
	for i := range 60 {
		in = append(in, reading(i, render(truth(i))))
	}
	// Reset at frame 60, then a second drop to zero 10 frames later.
	for i := 60; i < 70; i++ {
		in = append(in, reading(i, render(truth(i-60))))
	}
	in = append(in, reading(70, render(0)))
	out := runAll(r, in)
	if !out[60].Reset {
		t.Fatalf("frame 60 = %+v, want reset", out[60])
	}
	if out[70].Reset {
		t.Errorf("frame 70 reset within ResetMinGap")
	}
}

func TestReconciler_BadFirstReading(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil)
	var in []recognize.RawReading
	for i := range 30 {
		in = append(in, reading(i, render(truth(i))))
	}
	in[0].Text = "5:00:00.000"
	out := runAll(r, in)
	checkOrder(t, out, 30)
	checkMonotonic(t, out)
	if out[0].Known {
		t.Errorf("frame 0 = %+v, want unknown", out[0])
	}
	for i := 1; i < 30; i++ {
		if !out[i].Known || out[i].Value.Duration() != truth(i) || out[i].Reset {
			t.Fatalf("frame %d = %+v, want %v", i, out[i], truth(i))
		}
	}
}

func TestReconciler_ReanchorOnJump(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil)
	var in []recognize.RawReading
	for i := range 30 {
		in = append(in, reading(i, render(truth(i))))
	}
	// The recording skips ahead: the timer is ten minutes further on.
	for i := 30; i < 60; i++ {
		in = append(in, reading(i, render(truth(i)+10*time.Minute)))
	}
	out := runAll(r, in)
	checkOrder(t, out, 60)
	checkMonotonic(t, out)
	for i := 30; i < 60; i++ {
		if !out[i].Known || out[i].Value.Duration() != truth(i)+10*time.Minute {
			t.Fatalf("frame %d = %+v, want jumped value", i, out[i])
		}
	}
	if st := r.Stats(); st.Reanchors != 1 || st.Resets != 0 || st.Rejected != 0 {
		t.Errorf("stats = %+v, want one reanchor, no resets, net zero rejected", st)
	}
}

func TestReconciler_DownwardReanchorIsReset(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil)
	var in []recognize.RawReading
	for i := range 60 {
		in = append(in, reading(i, render(truth(i)+time.Hour)))
	}
	// A reset to a value above ResetCeiling, e.g. loading a save.
	for i := 60; i < 90; i++ {
		in = append(in, reading(i, render(truth(i-60)+time.Minute)))
	}
	out := runAll(r, in)
	checkMonotonic(t, out)
	if !out[60].Reset {
		t.Fatalf("frame 60 = %+v, want reset via reanchor", out[60])
	}
}

func TestReconciler_HoldAccepted(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil)
	var in []recognize.RawReading
	for i := range 30 {
		in = append(in, reading(i, render(truth(i))))
	}
	held := truth(29)
	for i := 30; i < 90; i++ {
		in = append(in, reading(i, render(held)))
	}
	for i := 90; i < 120; i++ {
		in = append(in, reading(i, render(held+truth(i-89))))
	}
	out := runAll(r, in)
	checkMonotonic(t, out)
	for i, s := range out {
		if !s.Known || s.Corrected {
			t.Fatalf("frame %d = %+v, want accepted", i, s)
		}
	}
}

func TestReconciler_HoldRejectedWhenDisallowed(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, func(c *Config) { c.AllowHold = false })
	var in []recognize.RawReading
	for i := range 10 {
		in = append(in, reading(i, render(truth(i))))
	}
	// Frozen for 20 frames, well past the tolerance.
	for i := 10; i < 30; i++ {
		in = append(in, reading(i, render(truth(9))))
	}
	out := runAll(r, in)
	if r.Stats().Rejected == 0 {
		t.Error("frozen timer was not rejected")
	}
	checkMonotonic(t, out)
}

func TestReconciler_JitterHeld(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil)
	in := []recognize.RawReading{
		reading(0, "0:00:01.000"),
		reading(1, "0:00:01.033"),
		reading(2, "0:00:01.032"),
		reading(3, "0:00:01.066"),
	}
	out := runAll(r, in)
	if !out[2].Corrected || out[2].Value.Duration() != 1033*time.Millisecond {
		t.Errorf("frame 2 = %+v, want held at 1.033", out[2])
	}
}

func TestReconciler_OutputDelayBounded(t *testing.T) {
	t.Parallel()
	const window = 8
	r := newReconciler(t, func(c *Config) { c.Window = window })
	emitted := 0
	for i := range 100 {
		rd := reading(i, render(truth(i)))
		if i >= 20 && i < 60 {
			rd = recognize.RawReading{FrameIndex: i, Timestamp: time.Duration(i) * interval30}
		}
		emitted += len(r.Push(rd))
		if pending := i + 1 - emitted; pending > window {
			t.Fatalf("after frame %d, %d readings still pending", i, pending)
		}
	}
	if gaps := r.Stats().UnrecoverableGaps; gaps == 0 {
		t.Error("expected unrecoverable gaps for the occlusion")
	}
}

func TestReconciler_OutOfOrderDropped(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil)
	r.Push(reading(5, "0:00:00.166"))
	if out := r.Push(reading(3, "0:00:00.100")); out != nil {
		t.Errorf("out-of-order reading produced %v", out)
	}
	if r.Stats().OutOfOrder != 1 {
		t.Errorf("OutOfOrder = %d", r.Stats().OutOfOrder)
	}
}

func TestReconciler_FlushSingleReading(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil)
	if out := r.Push(reading(0, "0:00:05.000")); len(out) != 0 {
		t.Fatalf("single reading emitted before confirmation: %v", out)
	}
	out := r.Flush()
	if len(out) != 1 || !out[0].Known || out[0].Value.Duration() != 5*time.Second {
		t.Fatalf("Flush = %+v", out)
	}
}

func TestReconciler_PercentCarried(t *testing.T) {
	t.Parallel()
	g, err := igt.NewGrammar("P% H:MM:SS")
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig(g, time.Second)
	r, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	in := []recognize.RawReading{
		{FrameIndex: 0, Timestamp: 0, Text: "10% 0:01:00", Confidence: 1, Success: true},
		{FrameIndex: 1, Timestamp: time.Second, Text: "11% 0:01:01", Confidence: 1, Success: true},
		{FrameIndex: 2, Timestamp: 2 * time.Second, Success: false},
		{FrameIndex: 3, Timestamp: 3 * time.Second, Text: "9% 0:01:03", Confidence: 1, Success: true},
		{FrameIndex: 4, Timestamp: 4 * time.Second, Text: "12% 0:01:04", Confidence: 1, Success: true},
	}
	out := runAll(r, in)
	checkOrder(t, out, 5)
	if out[2].Value.Percent != 11 || !out[2].Corrected {
		t.Errorf("frame 2 = %+v, want corrected with 11%%", out[2])
	}
	if !out[3].Corrected || out[3].Value.Percent != 11 {
		t.Errorf("frame 3 = %+v, want percent regression rejected", out[3])
	}
	if out[4].Value.Percent != 12 {
		t.Errorf("frame 4 = %+v", out[4])
	}
}

// TestReconciler_RecoversCorruptedFrames feeds a 30 fps recording with 5% of
// frames corrupted to invalid text and checks every corrupted frame is
// repaired to the true value.
func TestReconciler_RecoversCorruptedFrames(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(7, 30))
	const n = 30 * 180
	in := make([]recognize.RawReading, n)
	corrupted := make(map[int]bool)
	for i := range in {
		text := render(truth(i))
		if i > 1 && rng.Float64() < 0.05 {
			corrupted[i] = true
			text = corruptText(rng)
		}
		in[i] = reading(i, text)
	}

	r := newReconciler(t, nil)
	out := runAll(r, in)
	checkOrder(t, out, n)
	checkMonotonic(t, out)
	for i := range corrupted {
		s := out[i]
		if !s.Known {
			t.Fatalf("corrupted frame %d left unknown", i)
		}
		if diff := s.Value.Duration() - truth(i); diff < -time.Millisecond || diff > time.Millisecond {
			t.Fatalf("frame %d: %v, want %v ±1ms", i, s.Value.Duration(), truth(i))
		}
	}
	if r.Stats().ParseFailures != len(corrupted) {
		t.Errorf("ParseFailures = %d, want %d", r.Stats().ParseFailures, len(corrupted))
	}
}

func corruptText(rng *rand.Rand) string {
	switch rng.IntN(4) {
	case 0:
		return fmt.Sprintf("0:%02d:%02d.%03d", rng.IntN(60), 60+rng.IntN(40), rng.IntN(1000))
	case 1:
		return "0:0O:1l.2B4"
	case 2:
		return ""
	default:
		return fmt.Sprintf("%d:%02d", rng.IntN(10), rng.IntN(60))
	}
}

// TestReconciler_MonotonicProperty checks the ordering and monotonicity
// guarantees over many random noisy streams.
func TestReconciler_MonotonicProperty(t *testing.T) {
	t.Parallel()
	for seed := range uint64(50) {
		rng := rand.New(rand.NewPCG(seed, 99))
		n := 200 + rng.IntN(800)
		in := make([]recognize.RawReading, n)
		base := 0
		for i := range in {
			if i-base > 90 && rng.Float64() < 0.01 {
				base = i
			}
			rd := reading(i, render(truth(i-base)))
			switch p := rng.Float64(); {
			case p < 0.08:
				rd.Text = corruptText(rng)
			case p < 0.13:
				rd.Text = render(time.Duration(rng.Int64N(int64(10 * time.Hour))))
			case p < 0.18:
				rd.Success = false
				rd.Text = ""
			case p < 0.20:
				rd.Confidence = rng.Float64()
			}
			in[i] = rd
		}

		r := newReconciler(t, func(c *Config) { c.MinConfidence = 0.1 })
		out := runAll(r, in)
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			checkOrder(t, out, n)
			checkMonotonic(t, out)
		})
	}
}

func TestReconciler_PercentRegressionIsReset(t *testing.T) {
	t.Parallel()
	g, err := igt.NewGrammar("P% H:MM:SS")
	if err != nil {
		t.Fatal(err)
	}
	r, err := New(DefaultConfig(g, time.Second))
	if err != nil {
		t.Fatal(err)
	}
	in := []recognize.RawReading{
		{FrameIndex: 0, Timestamp: 0, Text: "40% 0:01:28", Confidence: 1, Success: true},
		{FrameIndex: 1, Timestamp: time.Second, Text: "40% 0:01:29", Confidence: 1, Success: true},
		{FrameIndex: 2, Timestamp: 2 * time.Second, Text: "40% 0:01:30", Confidence: 1, Success: true},
		// New attempt: well above the reset ceiling, but the percentage fell.
		{FrameIndex: 3, Timestamp: 3 * time.Second, Text: "5% 0:00:08", Confidence: 1, Success: true},
		{FrameIndex: 4, Timestamp: 4 * time.Second, Text: "5% 0:00:09", Confidence: 1, Success: true},
	}
	out := runAll(r, in)
	checkOrder(t, out, 5)
	if !out[3].Reset || out[3].Value.Duration() != 8*time.Second || out[3].Value.Percent != 5 {
		t.Fatalf("frame 3 = %+v, want reset to 5%% 0:00:08", out[3])
	}
	if out[4].Reset || !out[4].Known || out[4].Value.Duration() != 9*time.Second {
		t.Errorf("frame 4 = %+v, want plain 0:00:09", out[4])
	}
	if got := r.Stats().Resets; got != 1 {
		t.Errorf("Resets = %d, want 1", got)
	}
}
