package wake

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultPhoneticThreshold = 0.82

// phoneticDetector is the optional second-chance detection pass. Speech
// providers routinely mis-hear the brand word of a wake phrase ("mantra",
// "mentor"); the detector slides a window of the phrase's word count over the
// transcript and accepts windows that both share a Double Metaphone code with
// the phrase and exceed a Jaro-Winkler similarity threshold.
type phoneticDetector struct {
	phrases   []phoneticPhrase
	threshold float64
}

type phoneticPhrase struct {
	words []string
	codes map[string]struct{}
	full  string
}

func newPhoneticDetector(phrases []string, threshold float64) *phoneticDetector {
	if threshold <= 0 {
		threshold = defaultPhoneticThreshold
	}
	d := &phoneticDetector{threshold: threshold}
	for _, p := range phrases {
		words := strings.Fields(strings.ToLower(p))
		if len(words) == 0 {
			continue
		}
		d.phrases = append(d.phrases, phoneticPhrase{
			words: words,
			codes: metaphoneCodes(words),
			full:  strings.Join(words, " "),
		})
	}
	return d
}

// detect returns the byte index of the first phonetically acceptable window,
// or false when none qualifies.
func (d *phoneticDetector) detect(text string) (int, bool) {
	lower := strings.ToLower(text)
	tokens := strings.Fields(lower)
	if len(tokens) == 0 {
		return 0, false
	}

	for _, p := range d.phrases {
		n := len(p.words)
		if len(tokens) < n {
			continue
		}
		for i := 0; i+n <= len(tokens); i++ {
			window := tokens[i : i+n]
			if !codesOverlap(metaphoneCodes(window), p.codes) {
				continue
			}
			candidate := strings.Join(window, " ")
			if matchr.JaroWinkler(candidate, p.full, false) >= d.threshold {
				return strings.Index(lower, window[0]), true
			}
		}
	}
	return 0, false
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
// Empty codes (short or vowel-only words) are excluded.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
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

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
