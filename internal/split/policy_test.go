package split

import (
	"testing"
	"time"

	"github.com/MrWong99/igtsplit/internal/reconcile"
)

func TestMarker_Match(t *testing.T) {
	t.Parallel()
	m := Marker{Names: []string{"World 1", "World 2", "Final Boss"}}
	tests := []struct {
		text string
		want int
		ok   bool
	}{
		{"World 1", 0, true},
		{"  world   2 ", 1, true},
		{"Wor1d 2", 1, true},
		{"FINAL BOSS", 2, true},
		{"Finel Bos", 2, true},
		{"", 0, false},
		{"xq", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := m.Match(tt.text)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("Match(%q) = %d, %v; want %d, %v", tt.text, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMarker_LastFinal(t *testing.T) {
	t.Parallel()
	m := Marker{Names: []string{"start", "end"}, LastFinal: true}
	b := m.Crossed(reconcile.Sample{}, reconcile.Sample{Known: true, Marker: "end"})
	if len(b) != 1 || !b[0].Final || b[0].Label != "end" {
		t.Fatalf("Crossed = %+v", b)
	}
}

func TestInterval_FirstSampleCrossesNothing(t *testing.T) {
	t.Parallel()
	p := Interval{Every: time.Minute}
	if b := p.Crossed(reconcile.Sample{}, known(0, 5*time.Minute)); b != nil {
		t.Errorf("Crossed from unknown = %+v", b)
	}
	b := p.Crossed(known(0, 59*time.Second), known(1, 3*time.Minute))
	if len(b) != 3 || b[2].Key != "interval/3" {
		t.Errorf("Crossed = %+v", b)
	}
}

func TestPercent_NeedsPercent(t *testing.T) {
	t.Parallel()
	p := Percent{Splits: []Segment{{Name: "x", Percent: 1}}}
	if b := p.Crossed(known(0, 0), known(1, time.Second)); b != nil {
		t.Errorf("Crossed without percent = %+v", b)
	}
}

func TestPolicyFunc(t *testing.T) {
	t.Parallel()
	calls := 0
	var p Policy = PolicyFunc(func(_, _ reconcile.Sample) []Boundary {
		calls++
		return []Boundary{{Key: "k"}}
	})
	d := newDetector(t, p, nil)
	d.Feed(known(1, time.Second))
	d.Feed(known(2, 2*time.Second))
	if calls != 2 || len(d.Events()) != 1 {
		t.Errorf("calls = %d events = %d", calls, len(d.Events()))
	}
}
