package split

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/igtsplit/internal/reconcile"
)

const (
	defaultMarkerScore   = 0.85
	defaultPhoneticScore = 0.70
)

// Marker splits on the text of a separately recognized marker region, such as
// a level name shown on screen. The text is matched against Names with
// Jaro-Winkler similarity; names that also share a Double Metaphone code with
// the text are accepted at a lower score, which tolerates OCR letter
// confusions like "Wor1d 2" for "World 2".
type Marker struct {
	Names []string

	// MinScore is the similarity a name needs without a phonetic match.
	// Zero means 0.85.
	MinScore float64

	// LastFinal makes the last name finish the run.
	LastFinal bool
}

// Crossed implements [Policy]. It ignores prev: a marker is a boundary as soon
// as it is visible, and the detector's per-run debounce keeps it from
// firing twice.
func (p Marker) Crossed(_, cur reconcile.Sample) []Boundary {
	i, ok := p.Match(cur.Marker)
	if !ok {
		return nil
	}
	return []Boundary{{
		Key:   "marker/" + p.Names[i],
		Label: p.Names[i],
		Final: p.LastFinal && i == len(p.Names)-1,
	}}
}

// Match returns the index of the name that best matches text.
func (p Marker) Match(text string) (int, bool) {
	text = strings.ToLower(strings.Join(strings.Fields(text), " "))
	if text == "" {
		return 0, false
	}
	minScore := p.MinScore
	if minScore <= 0 {
		minScore = defaultMarkerScore
	}
	tokens := strings.Fields(text)
	codes := metaphoneCodes(tokens)

	best, bestScore := -1, 0.0
	for i, name := range p.Names {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" {
			continue
		}
		nameTokens := strings.Fields(lower)
		score := matchr.JaroWinkler(text, lower, false)
		if s := matchr.JaroWinkler(strings.Join(tokens, ""), strings.Join(nameTokens, ""), false); s > score {
			score = s
		}
		threshold := minScore
		if sharesCode(codes, metaphoneCodes(nameTokens)) {
			threshold = min(threshold, defaultPhoneticScore)
		}
		if score >= threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, best >= 0
}

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, 2*len(tokens))
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func sharesCode(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
