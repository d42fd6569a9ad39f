package transcribe

import (
	"testing"
	"time"

	"github.com/mentravox/mentravox/internal/wake"
	"github.com/mentravox/mentravox/pkg/glasses"
)

const testSilence = 60 * time.Millisecond

type emission struct {
	query   string
	speaker string
}

func newTestAccumulator(t *testing.T) (*Accumulator, chan emission) {
	t.Helper()
	emitted := make(chan emission, 8)
	acc := New("user-1", wake.New(wake.DefaultPhrases),
		func(query, speakerID string) {
			emitted <- emission{query: query, speaker: speakerID}
		},
		WithSilenceWindow(testSilence),
	)
	return acc, emitted
}

func awaitEmission(t *testing.T, ch chan emission) emission {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a query emission")
		return emission{}
	}
}

func expectNoEmission(t *testing.T, ch chan emission) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected emission %q", e.query)
	case <-time.After(4 * testSilence):
	}
}

func final(text, uttID, speakerID string) glasses.TranscriptionEvent {
	return glasses.TranscriptionEvent{Text: text, IsFinal: true, UtteranceID: uttID, SpeakerID: speakerID}
}

func interim(text, uttID string) glasses.TranscriptionEvent {
	return glasses.TranscriptionEvent{Text: text, IsFinal: false, UtteranceID: uttID}
}

func TestAccumulatorIgnoresSpeechWithoutWakePhrase(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(final("what time is it", "u1", "s1"))
	acc.HandleTranscription(interim("is anyone there", "u2"))

	if acc.Listening() {
		t.Error("accumulator armed without a wake phrase")
	}
	expectNoEmission(t, emitted)
}

func TestAccumulatorEmitsQueryAfterSilence(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(final("hey mentra what time is it", "u1", "s1"))

	got := awaitEmission(t, emitted)
	if got.query != "what time is it" {
		t.Errorf("query = %q, want %q", got.query, "what time is it")
	}
	if got.speaker != "s1" {
		t.Errorf("speaker = %q, want %q", got.speaker, "s1")
	}
	if acc.Listening() {
		t.Error("accumulator still listening after emission")
	}
}

// A wake phrase cut off mid-word by an interim still arms the accumulator,
// the final of the same utterance replays the full text, and a second
// utterance inside the silence window joins the first.
func TestAccumulatorJoinsUtterancesWithinSilenceWindow(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(interim("hey men", "u1"))
	if !acc.Listening() {
		t.Fatal("truncated wake phrase did not arm the accumulator")
	}
	acc.HandleTranscription(final("hey mentra what time is it", "u1", "s1"))
	acc.HandleTranscription(final("what's the weather", "u2", "s1"))

	got := awaitEmission(t, emitted)
	want := "what time is it what's the weather"
	if got.query != want {
		t.Errorf("query = %q, want %q", got.query, want)
	}
}

// A wake phrase split across an utterance boundary leaves the tail of the
// phrase at the start of the next utterance; the residue must not leak into
// the query.
func TestAccumulatorStripsWakeWordResidue(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(final("hey mentr", "u1", "s1"))
	if !acc.Listening() {
		t.Fatal("truncated wake phrase did not arm the accumulator")
	}
	acc.HandleTranscription(final("a, how much is the ticket", "u2", "s1"))

	got := awaitEmission(t, emitted)
	if got.query != "how much is the ticket" {
		t.Errorf("query = %q, want %q", got.query, "how much is the ticket")
	}
}

func TestAccumulatorIgnoresDuplicateFinal(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(final("hey mentra turn it up", "u1", "s1"))
	acc.HandleTranscription(final("hey mentra turn it up", "u1", "s1"))

	got := awaitEmission(t, emitted)
	if got.query != "turn it up" {
		t.Errorf("query = %q, want %q", got.query, "turn it up")
	}
}

func TestAccumulatorInterimOverwritesCurrentUtterance(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(final("hey mentra", "u1", "s1"))
	acc.HandleTranscription(interim("what ti", "u2"))
	acc.HandleTranscription(interim("what time is", "u2"))
	acc.HandleTranscription(final("what time is it", "u2", "s1"))

	got := awaitEmission(t, emitted)
	if got.query != "what time is it" {
		t.Errorf("query = %q, want %q", got.query, "what time is it")
	}
}

func TestAccumulatorFinalsWithoutUtteranceIDAlwaysConfirm(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(final("hey mentra turn", "", "s1"))
	acc.HandleTranscription(final("it up", "", "s1"))

	got := awaitEmission(t, emitted)
	if got.query != "turn it up" {
		t.Errorf("query = %q, want %q", got.query, "turn it up")
	}
}

func TestAccumulatorSkipsEmptyQuery(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(final("hey mentra", "u1", "s1"))

	expectNoEmission(t, emitted)
	if acc.Listening() {
		t.Error("accumulator still listening after the silence window")
	}
}

func TestAccumulatorRearmsAfterEmission(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(final("hey mentra first question", "u1", "s1"))
	if got := awaitEmission(t, emitted); got.query != "first question" {
		t.Fatalf("first query = %q, want %q", got.query, "first question")
	}

	acc.HandleTranscription(final("hey mentra second question", "u2", "s1"))
	if got := awaitEmission(t, emitted); got.query != "second question" {
		t.Errorf("second query = %q, want %q", got.query, "second question")
	}
}

func TestAccumulatorReportsLastFinalSpeaker(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(interim("hey mentra", "u1"))
	acc.HandleTranscription(final("hey mentra who said that", "u1", "s2"))

	got := awaitEmission(t, emitted)
	if got.speaker != "s2" {
		t.Errorf("speaker = %q, want %q", got.speaker, "s2")
	}
}

func TestAccumulatorDetachGatesEmission(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(final("hey mentra where am i", "u1", "s1"))
	acc.Detach()

	expectNoEmission(t, emitted)

	// Events arriving while detached are dropped.
	acc.HandleTranscription(final("hey mentra anyone home", "u2", "s1"))
	expectNoEmission(t, emitted)
}

// A transient hardware drop mid-sentence keeps the accumulated speech: after
// Reattach the next utterance continues the interrupted query.
func TestAccumulatorKeepsSpeechAcrossReattach(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(final("hey mentra how far is", "u1", "s1"))
	acc.Detach()
	acc.Reattach()
	acc.HandleTranscription(final("the nearest station", "u2", "s1"))

	got := awaitEmission(t, emitted)
	want := "how far is the nearest station"
	if got.query != want {
		t.Errorf("query = %q, want %q", got.query, want)
	}
}

func TestAccumulatorClearTimerHoldsEmission(t *testing.T) {
	t.Parallel()
	acc, emitted := newTestAccumulator(t)

	acc.HandleTranscription(final("hey mentra call", "u1", "s1"))
	acc.ClearTimer()

	expectNoEmission(t, emitted)

	// The next event re-arms the timer and the held speech is still there.
	acc.HandleTranscription(final("me a cab", "u2", "s1"))
	got := awaitEmission(t, emitted)
	if got.query != "call me a cab" {
		t.Errorf("query = %q, want %q", got.query, "call me a cab")
	}
}
