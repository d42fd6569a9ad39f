// Package wake implements tolerant wake-phrase detection on noisy speech
// transcripts, residue stripping for phrases split across utterance
// boundaries, and keyword classifiers used to decide which context a query
// needs (vision, location, geocoding, weather).
//
// Speech-to-text output is messy: the provider may insert whitespace inside a
// word ("hey mentr a"), vary casing, or cut an utterance in the middle of the
// phrase ("hey mentr" | "a, how much is the ticket"). The matcher therefore
// builds, per phrase, a pattern that tolerates optional whitespace between
// adjacent characters of a word and requires at least one whitespace character
// where the phrase itself has a space. A second, end-anchored pattern accepts
// a truncated last word so that detection still arms when the stream boundary
// falls inside the phrase; [Matcher.StripResidue] then removes the completing
// fragment from the front of the next utterance.
package wake

import (
	"regexp"
	"strings"
)

// DefaultPhrases is the built-in wake-phrase set.
var DefaultPhrases = []string{"hey mentra"}

// Match describes a successful wake-phrase detection.
type Match struct {
	// Phrase is the canonical phrase that matched.
	Phrase string

	// Index is the byte offset of the match start within the input text.
	Index int

	// Tail is the text after the match, trimmed and with leading
	// punctuation ([,.] and whitespace) stripped.
	Tail string
}

// phrasePattern holds the compiled patterns for one wake phrase.
type phrasePattern struct {
	phrase string
	// full matches the complete phrase anywhere in the text.
	full *regexp.Regexp
	// truncated matches the phrase with 1..len-1 trailing characters of the
	// last word missing, anchored to the end of the text (modulo trailing
	// punctuation and whitespace).
	truncated *regexp.Regexp
	// residue matches a leading 1..len-1 character suffix of the last word
	// followed by at least one punctuation character and optional whitespace.
	residue *regexp.Regexp
}

// Matcher detects a closed set of wake phrases in transcript text.
// All methods are safe for concurrent use — the Matcher is read-only after
// construction.
type Matcher struct {
	patterns []phrasePattern
	phonetic *phoneticDetector
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticTolerance enables a phonetic second-chance detection pass for
// mis-transcribed wake phrases ("hey mantra", "hey mentor"). threshold is the
// minimum Jaro-Winkler similarity required; values at or below zero use the
// default of 0.82.
func WithPhoneticTolerance(threshold float64) Option {
	return func(m *Matcher) {
		m.phonetic = newPhoneticDetector(phrasesOf(m.patterns), threshold)
	}
}

// New builds a Matcher for the given phrases. Empty or whitespace-only
// phrases are skipped; if none remain, [DefaultPhrases] is used.
func New(phrases []string, opts ...Option) *Matcher {
	m := &Matcher{}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		m.patterns = append(m.patterns, compilePhrase(p))
	}
	if len(m.patterns) == 0 {
		for _, p := range DefaultPhrases {
			m.patterns = append(m.patterns, compilePhrase(p))
		}
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Detect reports whether text contains a wake phrase. The earliest full match
// wins; when no full match exists, a truncated phrase at the end of the text
// (stream boundary inside the last word) also counts, with an empty tail.
func (m *Matcher) Detect(text string) (Match, bool) {
	if strings.TrimSpace(text) == "" {
		return Match{}, false
	}

	best := -1
	var found Match
	for _, p := range m.patterns {
		loc := p.full.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if best == -1 || loc[0] < best {
			best = loc[0]
			found = Match{
				Phrase: p.phrase,
				Index:  loc[0],
				Tail:   trimTail(text[loc[1]:]),
			}
		}
	}
	if best >= 0 {
		return found, true
	}

	for _, p := range m.patterns {
		if loc := p.truncated.FindStringIndex(text); loc != nil {
			return Match{Phrase: p.phrase, Index: loc[0], Tail: ""}, true
		}
	}

	if m.phonetic != nil {
		if idx, ok := m.phonetic.detect(text); ok {
			return Match{Phrase: m.patterns[0].phrase, Index: idx, Tail: ""}, true
		}
	}
	return Match{}, false
}

// Remove deletes every tolerant occurrence of a wake phrase from text, trims
// leading punctuation left behind by the deletion and collapses runs of
// whitespace to single spaces.
func (m *Matcher) Remove(text string) string {
	out := text
	for _, p := range m.patterns {
		out = p.full.ReplaceAllString(out, " ")
	}
	return strings.Join(strings.Fields(trimTail(out)), " ")
}

// StripResidue removes a leading wake-word fragment from text. A fragment is
// any 1..len-1 character suffix of the last word of a phrase followed by at
// least one of ",.!?;:" and optional whitespace. Fragments are only stripped
// when followed by punctuation so that real words are never eaten. Text
// without a leading fragment is returned unchanged.
func (m *Matcher) StripResidue(text string) string {
	for _, p := range m.patterns {
		if p.residue == nil {
			continue
		}
		if loc := p.residue.FindStringIndex(text); loc != nil {
			return text[loc[1]:]
		}
	}
	return text
}

// Phrases returns the canonical phrases this matcher was built with.
func (m *Matcher) Phrases() []string {
	return phrasesOf(m.patterns)
}

func phrasesOf(patterns []phrasePattern) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.phrase
	}
	return out
}

// trimTail trims whitespace and leading [,.] punctuation from the text that
// follows a wake-phrase match.
func trimTail(s string) string {
	s = strings.TrimLeft(s, ",. \t\n\r")
	return strings.TrimSpace(s)
}

// compilePhrase builds the three patterns for one lowercase phrase.
func compilePhrase(phrase string) phrasePattern {
	words := strings.Fields(phrase)

	var full strings.Builder
	full.WriteString(`(?i)`)
	for wi, w := range words {
		if wi > 0 {
			full.WriteString(`\s+`)
		}
		chars := []rune(w)
		for ci, c := range chars {
			if ci > 0 {
				full.WriteString(`\s*`)
			}
			full.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	// Truncated form: all words but the last in full, then a prefix of the
	// last word built as nested optional groups so that any 1..len-1
	// character truncation still matches, anchored to the end of the text.
	var trunc strings.Builder
	trunc.WriteString(`(?i)`)
	for wi, w := range words[:len(words)-1] {
		if wi > 0 {
			trunc.WriteString(`\s+`)
		}
		chars := []rune(w)
		for ci, c := range chars {
			if ci > 0 {
				trunc.WriteString(`\s*`)
			}
			trunc.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	last := []rune(words[len(words)-1])
	if len(words) > 1 {
		trunc.WriteString(`\s+`)
	}
	for i, c := range last {
		if i > 0 {
			trunc.WriteString(`\s*(?:`)
		}
		trunc.WriteString(regexp.QuoteMeta(string(c)))
	}
	for i := 1; i < len(last); i++ {
		trunc.WriteString(`)?`)
	}
	trunc.WriteString(`[\s,.!?;:]*$`)

	// Residue form: alternation of every proper suffix of the last word,
	// longest first, anchored to the start of the text. A single-character
	// last word has no proper suffix and therefore no residue pattern.
	var residue *regexp.Regexp
	if len(last) > 1 {
		var suffixes []string
		for i := 1; i < len(last); i++ {
			suffixes = append(suffixes, regexp.QuoteMeta(string(last[i:])))
		}
		residue = regexp.MustCompile(`(?i)^(?:` + strings.Join(suffixes, `|`) + `)[,.!?;:]+\s*`)
	}

	return phrasePattern{
		phrase:    phrase,
		full:      regexp.MustCompile(full.String()),
		truncated: regexp.MustCompile(trunc.String()),
		residue:   residue,
	}
}
