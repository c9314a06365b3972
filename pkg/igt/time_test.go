package igt

import (
	"testing"
	"time"
)

func TestFromDuration(t *testing.T) {
	t.Parallel()
	got := FromDuration(2*time.Hour + 61*time.Minute + 59*time.Second + 1500*time.Microsecond)
	want := Time{Hours: 3, Minutes: 1, Seconds: 59, Millis: 1}
	if got != want {
		t.Errorf("FromDuration = %+v, want %+v", got, want)
	}
	if z := FromDuration(-time.Second); !z.IsZero() {
		t.Errorf("negative duration = %+v, want zero", z)
	}
}

func TestTime_String(t *testing.T) {
	t.Parallel()
	v := Time{Hours: 0, Minutes: 1, Seconds: 2, Millis: 30}
	if got := v.String(); got != "0:01:02.030" {
		t.Errorf("String = %q", got)
	}
	if got := v.HMS(); got != "0:01:02" {
		t.Errorf("HMS = %q", got)
	}
}

func TestTime_Compare(t *testing.T) {
	t.Parallel()
	a := FromDuration(time.Second)
	b := FromDuration(2 * time.Second).WithPercent(40)
	if a.Compare(b) != -1 || b.Compare(a) != 1 || a.Compare(a.WithPercent(3)) != 0 {
		t.Error("Compare ordering is wrong")
	}
}
