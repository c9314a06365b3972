package igt

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrParse is returned when OCR text does not match any configured timer
// format or carries an out-of-range field.
var ErrParse = errors.New("igt: text does not match timer grammar")

// ErrPattern is returned by [Compile] for malformed format patterns.
var ErrPattern = errors.New("igt: invalid format pattern")

type field int

const (
	fieldNone field = iota
	fieldHours
	fieldMinutes
	fieldSeconds
	fieldFraction
	fieldPercent
)

// token is one element of a compiled pattern: either a numeric field or a
// literal separator.
type token struct {
	field   field
	width   int // exact digit count; 0 means one or more digits
	literal string
}

// Format is a compiled timer layout.
//
// Pattern tokens:
//
//	H, M, S  one or more digits of hours, minutes, seconds
//	HH, MM, SS  exactly two digits
//	f, ff, fff  exactly n fraction digits (tenths, centiseconds, milliseconds)
//	P  one or more digits of completion percentage
//	: . %  literal separators
//	" "  one or more spaces
//
// The most significant time field is unbounded (e.g. "MM:SS" accepts 75:10);
// inner minute and second fields must be below 60.
type Format struct {
	pattern string
	tokens  []token
	re      *regexp.Regexp
	groups  []field
	leading field
	digits  int // fraction digits
}

// Compile parses a format pattern.
func Compile(pattern string) (*Format, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrPattern)
	}
	f := &Format{pattern: pattern}
	seen := make(map[field]bool)
	var re strings.Builder
	re.WriteString("^")

	for i := 0; i < len(pattern); {
		c := pattern[i]
		run := 1
		for i+run < len(pattern) && pattern[i+run] == c {
			run++
		}
		switch c {
		case 'H', 'M', 'S', 'P':
			fd := map[byte]field{'H': fieldHours, 'M': fieldMinutes, 'S': fieldSeconds, 'P': fieldPercent}[c]
			if run > 2 {
				return nil, fmt.Errorf("%w: %q: run of %d %c", ErrPattern, pattern, run, c)
			}
			if seen[fd] {
				return nil, fmt.Errorf("%w: %q: field %c repeated", ErrPattern, pattern, c)
			}
			seen[fd] = true
			width := 0
			if run == 2 {
				width = 2
				re.WriteString(`(\d{2})`)
			} else {
				re.WriteString(`(\d+)`)
			}
			f.tokens = append(f.tokens, token{field: fd, width: width})
			f.groups = append(f.groups, fd)
			i += run
		case 'f':
			if run > 3 {
				return nil, fmt.Errorf("%w: %q: at most 3 fraction digits", ErrPattern, pattern)
			}
			if seen[fieldFraction] {
				return nil, fmt.Errorf("%w: %q: fraction repeated", ErrPattern, pattern)
			}
			seen[fieldFraction] = true
			f.digits = run
			fmt.Fprintf(&re, `(\d{%d})`, run)
			f.tokens = append(f.tokens, token{field: fieldFraction, width: run})
			f.groups = append(f.groups, fieldFraction)
			i += run
		case ':', '.', '%':
			for range run {
				re.WriteString(regexp.QuoteMeta(string(c)))
				f.tokens = append(f.tokens, token{literal: string(c)})
			}
			i += run
		case ' ':
			re.WriteString(`\s+`)
			f.tokens = append(f.tokens, token{literal: " "})
			i += run
		default:
			return nil, fmt.Errorf("%w: %q: unexpected character %q", ErrPattern, pattern, c)
		}
	}
	re.WriteString("$")

	if !seen[fieldSeconds] {
		return nil, fmt.Errorf("%w: %q: seconds field is required", ErrPattern, pattern)
	}
	if seen[fieldHours] && !seen[fieldMinutes] {
		return nil, fmt.Errorf("%w: %q: hours without minutes", ErrPattern, pattern)
	}
	switch {
	case seen[fieldHours]:
		f.leading = fieldHours
	case seen[fieldMinutes]:
		f.leading = fieldMinutes
	default:
		f.leading = fieldSeconds
	}

	f.re = regexp.MustCompile(re.String())
	return f, nil
}

// MustCompile is like [Compile] but panics on error. Intended for package-level
// defaults and tests.
func MustCompile(pattern string) *Format {
	f, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return f
}

// Pattern returns the source pattern of f.
func (f *Format) Pattern() string { return f.pattern }

// HasPercent reports whether the layout includes a completion percentage.
func (f *Format) HasPercent() bool {
	for _, g := range f.groups {
		if g == fieldPercent {
			return true
		}
	}
	return false
}

// Resolution is the unit of the least significant field: 1ms for "fff",
// 10ms for "ff", 100ms for "f" and one second otherwise.
func (f *Format) Resolution() time.Duration {
	switch f.digits {
	case 1:
		return 100 * time.Millisecond
	case 2:
		return 10 * time.Millisecond
	case 3:
		return time.Millisecond
	}
	return time.Second
}

// Parse matches text against the layout and returns the normalised value.
// Surrounding whitespace and a leading ':' left over from a label are ignored.
func (f *Format) Parse(text string) (Time, error) {
	s := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(s, ":"); ok {
		s = strings.TrimSpace(rest)
	}
	m := f.re.FindStringSubmatch(s)
	if m == nil {
		return Time{}, fmt.Errorf("%w: %q does not match %q", ErrParse, text, f.pattern)
	}

	var (
		hours, minutes, seconds, fraction, percent int64
		hasPercent                                 bool
	)
	for i, g := range f.groups {
		v, err := strconv.ParseInt(m[i+1], 10, 32)
		if err != nil {
			return Time{}, fmt.Errorf("%w: %q: %v", ErrParse, text, err)
		}
		switch g {
		case fieldHours:
			hours = v
		case fieldMinutes:
			minutes = v
		case fieldSeconds:
			seconds = v
		case fieldFraction:
			fraction = v
		case fieldPercent:
			percent = v
			hasPercent = true
		}
	}

	if f.leading != fieldMinutes && f.leading != fieldSeconds && minutes >= 60 {
		return Time{}, fmt.Errorf("%w: %q: minutes %d out of range", ErrParse, text, minutes)
	}
	if f.leading != fieldSeconds && seconds >= 60 {
		return Time{}, fmt.Errorf("%w: %q: seconds %d out of range", ErrParse, text, seconds)
	}

	scale := int64(1)
	for range 3 - f.digits {
		scale *= 10
	}
	ms := ((hours*60+minutes)*60+seconds)*1000 + fraction*scale
	if ms < 0 || ms > int64(1<<62)/int64(time.Millisecond) {
		return Time{}, fmt.Errorf("%w: %q: value overflows", ErrParse, text)
	}

	t := FromDuration(time.Duration(ms) * time.Millisecond)
	if hasPercent {
		t = t.WithPercent(int(percent))
	}
	return t, nil
}

// Render formats t in the layout of f. The most significant field absorbs
// larger units (75 minutes in "MM:SS" renders as "75:00"). Precision finer
// than the layout is truncated.
func (f *Format) Render(t Time) string {
	ms := int64(t.Duration() / time.Millisecond)
	var b strings.Builder
	for _, tok := range f.tokens {
		if tok.field == fieldNone {
			b.WriteString(tok.literal)
			continue
		}
		var v int64
		switch tok.field {
		case fieldHours:
			v = ms / 3_600_000
		case fieldMinutes:
			v = ms / 60_000
			if f.leading == fieldHours {
				v %= 60
			}
		case fieldSeconds:
			v = ms / 1000
			if f.leading != fieldSeconds {
				v %= 60
			}
		case fieldFraction:
			v = ms % 1000
			for range 3 - tok.width {
				v /= 10
			}
		case fieldPercent:
			if t.HasPercent {
				v = int64(t.Percent)
			}
		}
		if tok.width > 0 {
			fmt.Fprintf(&b, "%0*d", tok.width, v)
		} else {
			b.WriteString(strconv.FormatInt(v, 10))
		}
	}
	return b.String()
}

// Charset returns the characters a recognizer must allow for this layout.
func (f *Format) Charset() string {
	cs := "0123456789"
	for _, tok := range f.tokens {
		if tok.field == fieldNone && !strings.Contains(cs, tok.literal) {
			cs += tok.literal
		}
	}
	return cs
}

// Grammar is an ordered set of accepted timer formats.
type Grammar []*Format

// NewGrammar compiles each pattern in order.
func NewGrammar(patterns ...string) (Grammar, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("%w: no formats configured", ErrPattern)
	}
	g := make(Grammar, 0, len(patterns))
	for _, p := range patterns {
		f, err := Compile(p)
		if err != nil {
			return nil, err
		}
		g = append(g, f)
	}
	return g, nil
}

// Parse returns the value of the first format that matches text.
func (g Grammar) Parse(text string) (Time, error) {
	for _, f := range g {
		if t, err := f.Parse(text); err == nil {
			return t, nil
		}
	}
	return Time{}, fmt.Errorf("%w: %q matches none of %d formats", ErrParse, text, len(g))
}

// Resolution returns the coarsest resolution among the formats.
func (g Grammar) Resolution() time.Duration {
	var res time.Duration
	for _, f := range g {
		if r := f.Resolution(); r > res {
			res = r
		}
	}
	return res
}

// Charset returns the union of all format charsets.
func (g Grammar) Charset() string {
	var cs string
	for _, f := range g {
		for _, r := range f.Charset() {
			if !strings.ContainsRune(cs, r) {
				cs += string(r)
			}
		}
	}
	return cs
}

// HasPercent reports whether any format carries a percentage.
func (g Grammar) HasPercent() bool {
	for _, f := range g {
		if f.HasPercent() {
			return true
		}
	}
	return false
}
