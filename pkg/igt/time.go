// Package igt defines the in-game timer value recognised from video frames and
// the grammar used to parse OCR text into such values.
//
// A [Time] is always normalised: Minutes and Seconds are below 60 and Millis
// below 1000, so two values with the same elapsed duration compare equal.
// Timer layouts are described by [Format] patterns such as "H:MM:SS.fff" or
// "P% H:MM:SS"; a [Grammar] tries several formats in order.
package igt

import (
	"fmt"
	"time"
)

// Time is a decomposed in-game timer reading.
type Time struct {
	Hours   int
	Minutes int
	Seconds int
	Millis  int

	// Percent is the completion percentage shown next to the timer by games
	// that display one. Only meaningful when HasPercent is true.
	Percent    int
	HasPercent bool
}

// FromDuration decomposes d into a normalised [Time]. Sub-millisecond
// precision is truncated. Negative durations clamp to zero.
func FromDuration(d time.Duration) Time {
	if d < 0 {
		d = 0
	}
	ms := int64(d / time.Millisecond)
	return Time{
		Hours:   int(ms / 3_600_000),
		Minutes: int(ms / 60_000 % 60),
		Seconds: int(ms / 1000 % 60),
		Millis:  int(ms % 1000),
	}
}

// Duration returns the total elapsed time represented by t.
func (t Time) Duration() time.Duration {
	return time.Duration(t.Hours)*time.Hour +
		time.Duration(t.Minutes)*time.Minute +
		time.Duration(t.Seconds)*time.Second +
		time.Duration(t.Millis)*time.Millisecond
}

// WithPercent returns a copy of t carrying the given completion percentage.
func (t Time) WithPercent(p int) Time {
	t.Percent = p
	t.HasPercent = true
	return t
}

// Compare returns -1, 0 or +1 depending on whether t is shorter than, equal
// to, or longer than u. The percentage is ignored.
func (t Time) Compare(u Time) int {
	a, b := t.Duration(), u.Duration()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// IsZero reports whether t represents zero elapsed time.
func (t Time) IsZero() bool { return t.Duration() == 0 }

// String renders t as H:MM:SS.mmm, the canonical layout used in subtitle cues.
func (t Time) String() string {
	return fmt.Sprintf("%d:%02d:%02d.%03d", t.Hours, t.Minutes, t.Seconds, t.Millis)
}

// HMS renders t as H:MM:SS, dropping the milliseconds. This is the layout of
// durations in the splits file.
func (t Time) HMS() string {
	return fmt.Sprintf("%d:%02d:%02d", t.Hours, t.Minutes, t.Seconds)
}
