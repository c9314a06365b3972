package igt

import (
	"errors"
	"testing"
	"time"
)

func TestCompile_Errors(t *testing.T) {
	t.Parallel()
	tests := []string{"", "   ", "HH:MM", "HHH:MM:SS", "MM:SS.ffff", "H:SS", "MM:SS:SS", "MM-SS", "MM:SS.f.ff"}
	for _, pattern := range tests {
		t.Run(pattern, func(t *testing.T) {
			t.Parallel()
			if _, err := Compile(pattern); !errors.Is(err, ErrPattern) {
				t.Errorf("Compile(%q) err = %v, want ErrPattern", pattern, err)
			}
		})
	}
}

func TestFormat_Parse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		pattern string
		text    string
		want    time.Duration
		percent int
	}{
		{"millis", "H:MM:SS.fff", "1:02:03.456", time.Hour + 2*time.Minute + 3*time.Second + 456*time.Millisecond, -1},
		{"two digit hours", "HH:MM:SS", "00:01:59", time.Minute + 59*time.Second, -1},
		{"centis", "M:SS.ff", "3:07.25", 3*time.Minute + 7*time.Second + 250*time.Millisecond, -1},
		{"tenths", "MM:SS.f", "00:09.7", 9*time.Second + 700*time.Millisecond, -1},
		{"leading minutes unbounded", "MM:SS", "75:10", 75*time.Minute + 10*time.Second, -1},
		{"leading seconds unbounded", "S.fff", "125.500", 125*time.Second + 500*time.Millisecond, -1},
		{"surrounding whitespace", "MM:SS", "  01:02 \n", time.Minute + 2*time.Second, -1},
		{"leading colon artifact", "MM:SS", ": 01:02", time.Minute + 2*time.Second, -1},
		{"percent", "P% H:MM:SS", ": 117% 3:03:23", 3*time.Hour + 3*time.Minute + 23*time.Second, 117},
		{"percent extra spaces", "P% H:MM:SS", "5%   0:00:42", 42 * time.Second, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := MustCompile(tt.pattern).Parse(tt.text)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.text, err)
			}
			if got.Duration() != tt.want {
				t.Errorf("Duration = %v, want %v", got.Duration(), tt.want)
			}
			if tt.percent >= 0 {
				if !got.HasPercent || got.Percent != tt.percent {
					t.Errorf("Percent = %d (has=%v), want %d", got.Percent, got.HasPercent, tt.percent)
				}
			} else if got.HasPercent {
				t.Error("HasPercent = true, want false")
			}
		})
	}
}

func TestFormat_ParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pattern string
		text    string
	}{
		{"HH:MM:SS", "00:01:88"},
		{"HH:MM:SS", "00:61:00"},
		{"H:MM:SS.fff", "0:00:01.45"},
		{"MM:SS", "1:02"},
		{"MM:SS", "01:O2"},
		{"MM:SS", ""},
		{"MM:SS", "01:02:03"},
		{"P% H:MM:SS", "0:00:42"},
		{"HH:MM:SS", "99999999999:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			if _, err := MustCompile(tt.pattern).Parse(tt.text); !errors.Is(err, ErrParse) {
				t.Errorf("Parse(%q) err = %v, want ErrParse", tt.text, err)
			}
		})
	}
}

func TestFormat_Resolution(t *testing.T) {
	t.Parallel()
	tests := map[string]time.Duration{
		"H:MM:SS.fff": time.Millisecond,
		"M:SS.ff":     10 * time.Millisecond,
		"MM:SS.f":     100 * time.Millisecond,
		"HH:MM:SS":    time.Second,
	}
	for pattern, want := range tests {
		if got := MustCompile(pattern).Resolution(); got != want {
			t.Errorf("%q Resolution = %v, want %v", pattern, got, want)
		}
	}
}

func TestFormat_RenderRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pattern string
		text    string
	}{
		{"H:MM:SS.fff", "1:02:03.456"},
		{"HH:MM:SS", "00:01:59"},
		{"M:SS.ff", "3:07.25"},
		{"MM:SS", "75:10"},
		{"P% H:MM:SS", "117% 3:03:23"},
	}
	for _, tt := range tests {
		f := MustCompile(tt.pattern)
		v, err := f.Parse(tt.text)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.text, err)
		}
		if got := f.Render(v); got != tt.text {
			t.Errorf("Render(Parse(%q)) = %q", tt.text, got)
		}
	}
}

func TestFormat_RenderTruncates(t *testing.T) {
	t.Parallel()
	v := FromDuration(61*time.Second + 999*time.Millisecond)
	if got := MustCompile("MM:SS").Render(v); got != "01:01" {
		t.Errorf("Render = %q, want 01:01", got)
	}
	if got := MustCompile("M:SS.f").Render(v); got != "1:01.9" {
		t.Errorf("Render = %q, want 1:01.9", got)
	}
}

func TestGrammar_ParseInOrder(t *testing.T) {
	t.Parallel()
	g, err := NewGrammar("H:MM:SS.fff", "MM:SS")
	if err != nil {
		t.Fatalf("NewGrammar: %v", err)
	}
	v, err := g.Parse("12:34")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v.Duration() != 12*time.Minute+34*time.Second {
		t.Errorf("Duration = %v", v.Duration())
	}
	if _, err := g.Parse("00:01:88"); !errors.Is(err, ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
	if got := g.Resolution(); got != time.Second {
		t.Errorf("Resolution = %v, want coarsest 1s", got)
	}
}

func TestGrammar_Charset(t *testing.T) {
	t.Parallel()
	g, err := NewGrammar("H:MM:SS.fff", "P% H:MM:SS")
	if err != nil {
		t.Fatalf("NewGrammar: %v", err)
	}
	if got, want := g.Charset(), "0123456789:.% "; got != want {
		t.Errorf("Charset = %q, want %q", got, want)
	}
	if !g.HasPercent() {
		t.Error("HasPercent = false")
	}
}

func TestNewGrammar_Empty(t *testing.T) {
	t.Parallel()
	if _, err := NewGrammar(); !errors.Is(err, ErrPattern) {
		t.Errorf("err = %v, want ErrPattern", err)
	}
}
