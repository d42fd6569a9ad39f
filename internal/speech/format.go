// Package speech prepares assistant responses for text-to-speech playback on
// devices that have speakers but no display. Model output tends to carry
// markdown and written-form abbreviations that sound wrong when read aloud;
// the formatter strips the former and expands the latter, then re-joins the
// text as clean sentences.
package speech

import (
	"regexp"
	"strings"
)

var (
	// Markdown constructs that must not reach a speech synthesiser.
	codeBlockRe   = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe  = regexp.MustCompile("`([^`]*)`")
	boldItalicRe  = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+?)(\*{1,3}|_{1,3})`)
	headingRe     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	linkRe        = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bulletRe      = regexp.MustCompile(`(?m)^\s*[-*+•]\s+`)
	numberedRe    = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
	blockQuoteRe  = regexp.MustCompile(`(?m)^>\s?`)
	tableRowRe    = regexp.MustCompile(`(?m)^\|.*\|\s*$`)
	horizontalRe  = regexp.MustCompile(`(?m)^[-_*]{3,}\s*$`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	sentenceEndRe = regexp.MustCompile(`([.!?])\s+`)
)

// abbreviations maps written forms to their spoken expansion. Matching is
// case-sensitive on the abbreviation but tolerant of a trailing period.
var abbreviations = []struct {
	written, spoken string
}{
	{"e.g.", "for example"},
	{"i.e.", "that is"},
	{"etc.", "et cetera"},
	{"vs.", "versus"},
	{"approx.", "approximately"},
	{"min.", "minutes"},
	{"hr.", "hours"},
	{"Dr.", "Doctor"},
	{"Mt.", "Mount"},
	{"St.", "Saint"},
	{"km/h", "kilometers per hour"},
	{"mph", "miles per hour"},
	{"°C", " degrees Celsius"},
	{"°F", " degrees Fahrenheit"},
	{"%", " percent"},
	{"&", " and "},
}

// ForTTS converts a model response into text suitable for speech synthesis:
// markdown is stripped, abbreviations are expanded, and the result is
// re-joined as single-space-separated sentences.
func ForTTS(text string) string {
	out := StripMarkdown(text)
	out = ExpandAbbreviations(out)
	return strings.Join(Sentences(out), " ")
}

// StripMarkdown removes markdown syntax, keeping only the readable text.
// Code blocks are dropped entirely; inline code and links keep their text.
func StripMarkdown(text string) string {
	out := codeBlockRe.ReplaceAllString(text, " ")
	out = inlineCodeRe.ReplaceAllString(out, "$1")
	out = boldItalicRe.ReplaceAllString(out, "$2")
	out = headingRe.ReplaceAllString(out, "")
	out = linkRe.ReplaceAllString(out, "$1")
	out = tableRowRe.ReplaceAllString(out, " ")
	out = horizontalRe.ReplaceAllString(out, " ")
	out = bulletRe.ReplaceAllString(out, "")
	out = numberedRe.ReplaceAllString(out, "")
	out = blockQuoteRe.ReplaceAllString(out, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(out, " "))
}

// ExpandAbbreviations replaces written abbreviations with their spoken form.
func ExpandAbbreviations(text string) string {
	out := text
	for _, a := range abbreviations {
		out = strings.ReplaceAll(out, a.written, a.spoken)
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(out, " "))
}

// Sentences splits text on sentence-ending punctuation. Each returned element
// keeps its terminator; empty fragments are dropped.
func Sentences(text string) []string {
	marked := sentenceEndRe.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
