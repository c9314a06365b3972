// Package subtitle renders split events as SubRip (SRT) cues.
//
// Rendering is a pure function of the event list and [Options]: the same
// input always yields the same bytes. Timestamps use HH:MM:SS,mmm, cues are
// separated by one blank line and lines end in LF.
//
// A cue starts at its event's video timestamp. How long it stays on screen is
// set by [EndMode]:
//
//   - EndFixed (default): Display after the start, cut short at the next
//     cue's start so cues never overlap.
//   - EndNext: until the next cue starts; the last cue lasts Display.
//
// A cue that would end at or before its start lasts one millisecond.
package subtitle

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrWong99/igtsplit/internal/split"
)

// DefaultDisplay is the on-screen time of a cue when Options.Display is zero.
const DefaultDisplay = 5 * time.Second

// EndMode selects the cue end-time convention.
type EndMode int

const (
	EndFixed EndMode = iota
	EndNext
)

// ParseEndMode maps "fixed" and "next" to an EndMode.
func ParseEndMode(s string) (EndMode, error) {
	switch strings.ToLower(s) {
	case "", "fixed":
		return EndFixed, nil
	case "next":
		return EndNext, nil
	default:
		return 0, fmt.Errorf("subtitle: unknown end mode %q", s)
	}
}

// Options control rendering.
type Options struct {
	End     EndMode
	Display time.Duration

	// Window is the number of splits of the current run listed in each cue,
	// newest last. Values below 1 mean 1.
	Window int

	// Compare holds reference times by label, usually the personal best.
	// When an event's label has an entry the line gets a "(+M:SS)" or
	// "(-M:SS)" suffix.
	Compare map[string]time.Duration
}

// Cue is one subtitle entry.
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// Render converts events, which must be in timestamp order, into cues.
func Render(events []split.Event, opts Options) []Cue {
	display := opts.Display
	if display <= 0 {
		display = DefaultDisplay
	}
	window := max(opts.Window, 1)

	cues := make([]Cue, 0, len(events))
	for i, e := range events {
		first := i
		for first > 0 && i-first+1 < window && events[first-1].Run == e.Run {
			first--
		}
		lines := make([]string, 0, i-first+1)
		for _, w := range events[first : i+1] {
			lines = append(lines, Line(w, opts.Compare))
		}

		end := e.Timestamp + display
		if i+1 < len(events) {
			next := events[i+1].Timestamp
			if opts.End == EndNext || next < end {
				end = next
			}
		}
		if end <= e.Timestamp {
			end = e.Timestamp + time.Millisecond
		}
		cues = append(cues, Cue{
			Index: i + 1,
			Start: e.Timestamp,
			End:   end,
			Text:  strings.Join(lines, "\n"),
		})
	}
	return cues
}

// Line renders one event as "<label>: <igt>", or the IGT alone when the event
// has no label, followed by the comparison delta when compare has the label.
func Line(e split.Event, compare map[string]time.Duration) string {
	text := e.IGT.String()
	if e.Label != "" {
		text = e.Label + ": " + text
	}
	if ref, ok := compare[e.Label]; ok && e.Label != "" {
		text += " (" + Delta(e.IGT.Duration()-ref) + ")"
	}
	return text
}

// Delta formats d as a signed M:SS difference, truncated to whole seconds.
func Delta(d time.Duration) string {
	sign := "+"
	if d < 0 {
		sign = "-"
		d = -d
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%s%d:%02d", sign, s/60, s%60)
}

// Timestamp formats d as HH:MM:SS,mmm. Negative durations render as zero.
func Timestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := int64(d / time.Millisecond)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}

// Write writes cues in SRT format.
func Write(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	for i, c := range cues {
		if i > 0 {
			bw.WriteByte('\n')
		}
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n", c.Index, Timestamp(c.Start), Timestamp(c.End), c.Text)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("subtitle: write: %w", err)
	}
	return nil
}

// Encode renders events and returns the SRT bytes.
func Encode(events []split.Event, opts Options) []byte {
	var buf bytes.Buffer
	_ = Write(&buf, Render(events, opts)) // bytes.Buffer writes do not fail
	return buf.Bytes()
}
