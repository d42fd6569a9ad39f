package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/mentravox/mentravox/internal/history"
)

// Context carries everything the assistant should know about the user's
// situation when answering a query. All fields are optional; empty fields are
// omitted from the prompt rather than rendering as empty headers.
type Context struct {
	// HasDisplay, HasSpeakers and HasCamera describe the connected hardware so
	// the model does not promise output the device cannot produce.
	HasDisplay  bool
	HasSpeakers bool
	HasCamera   bool

	// Location is a human-readable place name (e.g., "London, England").
	Location string

	// LocalTime is the user's wall-clock time, already formatted.
	LocalTime string

	// Timezone is the IANA zone name the local time was computed in.
	Timezone string

	// Notifications is the preformatted block of recent phone notifications.
	Notifications string

	// ConversationHistory holds the most recent turns, youngest last.
	ConversationHistory []history.Turn

	// RelatedHistory holds semantically similar past turns retrieved from the
	// recall index, when one is configured.
	RelatedHistory []history.Turn
}

// FormatSystemPrompt converts a [Context] into a system prompt string suitable
// for direct injection into the model call.
//
// The formatter is pure: it performs no I/O, has no side effects, and is safe
// for concurrent use.
func FormatSystemPrompt(c Context) string {
	var sb strings.Builder

	// ── Opening ───────────────────────────────────────────────────────────────
	sb.WriteString("You are Mentravox, a voice assistant running on smart glasses. ")
	sb.WriteString("Answer in one or two short sentences that sound natural when ")
	sb.WriteString("spoken aloud. Never use markdown, lists, or emoji.")

	// ── Device section ────────────────────────────────────────────────────────
	sb.WriteString("\n\n## Device\n")
	sb.WriteString(formatDeviceSection(c))

	// ── Situation section ─────────────────────────────────────────────────────
	if situation := formatSituationSection(c); situation != "" {
		sb.WriteString("\n\n## Situation\n")
		sb.WriteString(situation)
	}

	// ── Notifications section ─────────────────────────────────────────────────
	if n := strings.TrimSpace(c.Notifications); n != "" {
		sb.WriteString("\n\n## Recent Notifications\n")
		sb.WriteString(n)
	}

	// ── Recent conversation section ───────────────────────────────────────────
	if len(c.ConversationHistory) > 0 {
		sb.WriteString("\n\n## Recent Conversation\n")
		sb.WriteString(formatTurns(c.ConversationHistory))
	}

	// ── Related past exchanges section ────────────────────────────────────────
	if len(c.RelatedHistory) > 0 {
		sb.WriteString("\n\n## Related Past Exchanges\n")
		sb.WriteString(formatTurns(c.RelatedHistory))
	}

	return sb.String()
}

// formatDeviceSection renders the hardware capability lines.
func formatDeviceSection(c Context) string {
	return strings.Join([]string{
		"Display: " + yesNo(c.HasDisplay),
		"Speakers: " + yesNo(c.HasSpeakers),
		"Camera: " + yesNo(c.HasCamera),
	}, "\n")
}

// formatSituationSection renders location and time lines, omitting empties.
// Returns an empty string when nothing is known.
func formatSituationSection(c Context) string {
	var lines []string
	if c.Location != "" {
		lines = append(lines, "Location: "+c.Location)
	}
	if c.LocalTime != "" {
		lines = append(lines, "Local time: "+c.LocalTime)
	}
	if c.Timezone != "" {
		lines = append(lines, "Timezone: "+c.Timezone)
	}
	return strings.Join(lines, "\n")
}

// formatTurns renders conversation turns with relative timestamps and
// speaker labels, one exchange per pair of lines.
func formatTurns(turns []history.Turn) string {
	now := time.Now()
	var lines []string
	for _, turn := range turns {
		rel := formatRelativeTime(now.Sub(turn.Timestamp))
		query := turn.Query
		if turn.HadPhoto {
			query += " [sent a photo]"
		}
		lines = append(lines, fmt.Sprintf("[%s] User: %s", rel, query))
		lines = append(lines, fmt.Sprintf("[%s] You: %s", rel, turn.Response))
	}
	return strings.Join(lines, "\n")
}

// formatRelativeTime converts a duration to a compact human-readable label
// such as "just now", "30s ago", "2m ago", "1h ago", "3d ago".
func formatRelativeTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < 5*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// yesNo renders a capability flag for the device section.
func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
