// Package splitsfile reads and writes the versioned JSON splits file: the
// ordered list of segments of a game, keyed by completion percent, together
// with the personal-best time of each segment.
//
//	{
//	  "version": 1,
//	  "splits": {
//	    "splits": [
//	      {"name": "Forest", "percent": 25, "duration": "0:12:34"}
//	    ]
//	  }
//	}
//
// Durations are H:MM:SS. A missing or empty duration means no personal best
// is recorded for that segment.
package splitsfile

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/igtsplit/internal/split"
	"github.com/MrWong99/igtsplit/pkg/igt"
)

// Version is the file version written by this package.
const Version = 1

var (
	// ErrUnsupportedVersion is returned for files of an unknown version.
	ErrUnsupportedVersion = errors.New("splitsfile: unsupported version")

	// ErrInvalid is returned for files whose content breaks the format rules.
	ErrInvalid = errors.New("splitsfile: invalid splits")
)

// Split is one segment.
type Split struct {
	Name    string
	Percent int

	// Time is the personal-best IGT at the end of the segment; zero when
	// unknown.
	Time time.Duration
}

// File is a loaded splits file. Splits are sorted by percent.
type File struct {
	Path   string
	Splits []Split
}

type fileV1 struct {
	Version int      `json:"version"`
	Splits  splitsV1 `json:"splits"`
}

type splitsV1 struct {
	Splits []splitV1 `json:"splits"`
}

type splitV1 struct {
	Name     string `json:"name"`
	Percent  int    `json:"percent"`
	Duration string `json:"duration,omitempty"`
}

// New returns a File for path with the given splits, validated and sorted.
func New(path string, splits []Split) (*File, error) {
	f := &File{Path: path, Splits: slices.Clone(splits)}
	if err := f.normalize(); err != nil {
		return nil, err
	}
	return f, nil
}

// Load reads the splits file at path.
func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("splitsfile: open %s: %w", path, err)
	}
	defer fh.Close()
	f, err := Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Decode parses a splits file from r.
func Decode(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("splitsfile: read: %w", err)
	}
	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("splitsfile: parse version: %w", err)
	}
	if probe.Version == nil {
		return nil, fmt.Errorf("%w: missing version", ErrUnsupportedVersion)
	}
	if *probe.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, *probe.Version)
	}

	var v1 fileV1
	if err := json.Unmarshal(data, &v1); err != nil {
		return nil, fmt.Errorf("splitsfile: parse: %w", err)
	}
	f := &File{}
	for _, s := range v1.Splits.Splits {
		var d time.Duration
		if s.Duration != "" {
			d, err = ParseHMS(s.Duration)
			if err != nil {
				return nil, fmt.Errorf("%w: split %q: %w", ErrInvalid, s.Name, err)
			}
		}
		f.Splits = append(f.Splits, Split{Name: s.Name, Percent: s.Percent, Time: d})
	}
	if err := f.normalize(); err != nil {
		return nil, err
	}
	return f, nil
}

// normalize sorts the splits by percent and rejects duplicate percentages.
func (f *File) normalize() error {
	slices.SortStableFunc(f.Splits, func(a, b Split) int { return cmp.Compare(a.Percent, b.Percent) })
	for i := 1; i < len(f.Splits); i++ {
		if f.Splits[i].Percent == f.Splits[i-1].Percent {
			return fmt.Errorf("%w: duplicate percent %d", ErrInvalid, f.Splits[i].Percent)
		}
	}
	return nil
}

// Encode writes f as indented JSON.
func (f *File) Encode(w io.Writer) error {
	v1 := fileV1{Version: Version, Splits: splitsV1{Splits: make([]splitV1, 0, len(f.Splits))}}
	for _, s := range f.Splits {
		e := splitV1{Name: s.Name, Percent: s.Percent}
		if s.Time > 0 {
			e.Duration = FormatHMS(s.Time)
		}
		v1.Splits.Splits = append(v1.Splits.Splits, e)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v1); err != nil {
		return fmt.Errorf("splitsfile: encode: %w", err)
	}
	return nil
}

// Save writes f to f.Path. The file is replaced atomically: the content goes
// to a temporary file in the same directory which is then renamed over the
// target.
func (f *File) Save() error {
	if f.Path == "" {
		return errors.New("splitsfile: no path to save to")
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), "."+filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("splitsfile: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := f.Encode(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("splitsfile: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("splitsfile: close: %w", err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("splitsfile: replace %s: %w", f.Path, err)
	}
	return nil
}

// Segments returns the splits as detector segments; At is the personal-best
// time.
func (f *File) Segments() []split.Segment {
	out := make([]split.Segment, len(f.Splits))
	for i, s := range f.Splits {
		out[i] = split.Segment{Name: s.Name, Percent: s.Percent, At: s.Time}
	}
	return out
}

// Compare returns the personal-best time of every split that has one, keyed
// by name.
func (f *File) Compare() map[string]time.Duration {
	out := make(map[string]time.Duration, len(f.Splits))
	for _, s := range f.Splits {
		if s.Time > 0 {
			out[s.Name] = s.Time
		}
	}
	return out
}

// Final returns the personal-best time of the last split.
func (f *File) Final() (time.Duration, bool) {
	if len(f.Splits) == 0 {
		return 0, false
	}
	last := f.Splits[len(f.Splits)-1]
	return last.Time, last.Time > 0
}

// UpdatePB replaces the personal best with run when run is finished and
// faster than the recorded final time. run holds the events of one run; its
// last event must be the final one. Split times are taken from events whose
// label matches a split name and truncated to whole seconds; splits the run
// did not reach lose their time. It reports whether f changed.
func (f *File) UpdatePB(run []split.Event) bool {
	if len(run) == 0 || len(f.Splits) == 0 {
		return false
	}
	final := run[len(run)-1]
	if final.Kind != split.KindFinal {
		return false
	}
	if pb, ok := f.Final(); ok && final.IGT.Duration().Truncate(time.Second) >= pb {
		return false
	}
	times := make(map[string]time.Duration, len(run))
	for _, e := range run {
		if e.Label != "" {
			times[e.Label] = e.IGT.Duration().Truncate(time.Second)
		}
	}
	for i := range f.Splits {
		f.Splits[i].Time = times[f.Splits[i].Name]
	}
	f.Splits[len(f.Splits)-1].Time = final.IGT.Duration().Truncate(time.Second)
	return true
}

// FormatHMS renders d as H:MM:SS, truncated to whole seconds.
func FormatHMS(d time.Duration) string {
	return igt.FromDuration(d).HMS()
}

// ParseHMS parses an H:MM:SS duration.
func ParseHMS(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration %q: expected H:MM:SS", s)
	}
	var n [3]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 32)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		n[i] = v
	}
	if n[1] >= 60 || n[2] >= 60 {
		return 0, fmt.Errorf("invalid duration %q: minutes or seconds out of range", s)
	}
	return time.Duration(n[0])*time.Hour + time.Duration(n[1])*time.Minute + time.Duration(n[2])*time.Second, nil
}
