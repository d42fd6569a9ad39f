// Package transcribe implements the per-user transcription accumulator: it
// watches the hardware transcription stream for a wake phrase, accumulates
// the spoken query across utterance boundaries, and emits it once speech has
// been silent for a configured window.
//
// The accumulator is deliberately forgiving about provider quirks: utterance
// ids are optional (the isFinal edge is then the only boundary), re-delivered
// finals for an already-confirmed utterance are ignored, and wake-word
// residue from a phrase split across utterances is stripped from the front of
// the following utterance.
package transcribe

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mentravox/mentravox/internal/wake"
	"github.com/mentravox/mentravox/pkg/glasses"
)

// DefaultSilenceWindow is how long speech must pause before the accumulated
// query is emitted.
const DefaultSilenceWindow = 1500 * time.Millisecond

// QueryFunc receives the accumulated query once the silence window elapses.
// speakerID is the diarisation label of the last confirmed utterance, if any.
type QueryFunc func(query, speakerID string)

// Option is a functional option for configuring an [Accumulator].
type Option func(*Accumulator)

// WithSilenceWindow overrides [DefaultSilenceWindow]. Values at or below zero
// keep the default.
func WithSilenceWindow(d time.Duration) Option {
	return func(a *Accumulator) {
		if d > 0 {
			a.silenceWindow = d
		}
	}
}

// Accumulator turns a noisy transcription stream into discrete queries.
// All exported methods are safe for concurrent use.
type Accumulator struct {
	userID        string
	matcher       *wake.Matcher
	onQueryReady  QueryFunc
	silenceWindow time.Duration

	mu                   sync.Mutex
	listening            bool
	confirmedTranscript  string
	currentUtteranceText string
	lastConfirmedUttID   string
	lastFinalSpeakerID   string
	timer                *time.Timer
	destroyed            bool
}

// New creates an Accumulator for one user. onQueryReady is invoked outside
// the accumulator's lock; long-running work should still be dispatched to its
// own goroutine by the callback.
func New(userID string, matcher *wake.Matcher, onQueryReady QueryFunc, opts ...Option) *Accumulator {
	a := &Accumulator{
		userID:        userID,
		matcher:       matcher,
		onQueryReady:  onQueryReady,
		silenceWindow: DefaultSilenceWindow,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// HandleTranscription processes one transcription event.
//
// When not listening the event text is checked for a wake phrase and
// everything else is ignored. When listening, residue and wake phrases are
// stripped and the remainder is accumulated: finals of a new utterance are
// appended to the confirmed transcript, interims overwrite the current
// utterance text, and every relevant event re-arms the silence timer.
func (a *Accumulator) HandleTranscription(ev glasses.TranscriptionEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}

	if !a.listening {
		match, ok := a.matcher.Detect(ev.Text)
		if !ok {
			return
		}
		a.listening = true
		a.confirmedTranscript = ""
		a.currentUtteranceText = ""
		a.lastConfirmedUttID = ""
		a.lastFinalSpeakerID = ev.SpeakerID
		if ev.IsFinal {
			// The wake utterance already ended; its tail is confirmed text.
			a.confirmedTranscript = match.Tail
			a.lastConfirmedUttID = ev.UtteranceID
		} else {
			a.currentUtteranceText = match.Tail
		}
		slog.Debug("transcribe: wake phrase detected",
			"userId", a.userID, "phrase", match.Phrase, "isFinal", ev.IsFinal)
		a.armTimerLocked()
		return
	}

	clean := a.matcher.Remove(a.matcher.StripResidue(ev.Text))

	if ev.IsFinal {
		if ev.UtteranceID != "" && ev.UtteranceID == a.lastConfirmedUttID {
			// Provider re-delivered a final for a confirmed utterance.
			return
		}
		a.confirmedTranscript = joinSpeech(a.confirmedTranscript, clean)
		a.currentUtteranceText = ""
		a.lastConfirmedUttID = ev.UtteranceID
		a.lastFinalSpeakerID = ev.SpeakerID
		a.armTimerLocked()
		return
	}

	a.currentUtteranceText = clean
	a.armTimerLocked()
}

// armTimerLocked (re)starts the silence timer. Callers must hold mu.
func (a *Accumulator) armTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.silenceWindow, a.silenceElapsed)
}

// silenceElapsed assembles and emits the accumulated query, then resets to
// the not-listening state. Emission is skipped while destroyed or when the
// assembled query is empty; the reset happens regardless.
func (a *Accumulator) silenceElapsed() {
	a.mu.Lock()

	full := strings.TrimSpace(a.confirmedTranscript + " " + a.currentUtteranceText)
	// Safety net: a wake phrase or residue that slipped through per-event
	// cleaning (split across the confirmed/current boundary) is removed once
	// more on the assembled text.
	full = strings.TrimSpace(a.matcher.Remove(a.matcher.StripResidue(full)))

	speakerID := a.lastFinalSpeakerID
	emit := full != "" && !a.destroyed

	a.listening = false
	a.confirmedTranscript = ""
	a.currentUtteranceText = ""
	a.lastConfirmedUttID = ""
	a.timer = nil
	a.mu.Unlock()

	if !emit {
		return
	}
	slog.Debug("transcribe: query ready", "userId", a.userID, "query", full)
	a.onQueryReady(full, speakerID)
}

// ClearTimer stops a pending silence timer without touching the rest of the
// state.
func (a *Accumulator) ClearTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Detach stops the silence timer and gates emission until [Reattach]. The
// accumulated text survives so that a transient hardware drop mid-sentence
// does not lose the utterance.
func (a *Accumulator) Detach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.destroyed = true
}

// Reattach re-enables emission after [Detach]. Must be called every time the
// accumulator is wired to a new hardware session.
func (a *Accumulator) Reattach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroyed = false
}

// Listening reports whether a wake phrase has armed the accumulator.
func (a *Accumulator) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

// joinSpeech concatenates two transcript fragments with a single space,
// tolerating empty parts.
func joinSpeech(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
