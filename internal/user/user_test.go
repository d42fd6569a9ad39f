package user

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mentravox/mentravox/internal/agent"
	"github.com/mentravox/mentravox/internal/events"
	"github.com/mentravox/mentravox/internal/resilience"
	"github.com/mentravox/mentravox/internal/settings"
	"github.com/mentravox/mentravox/internal/wake"
	"github.com/mentravox/mentravox/pkg/glasses"
	glassesmock "github.com/mentravox/mentravox/pkg/glasses/mock"
	"github.com/mentravox/mentravox/pkg/provider/llm"
	llmmock "github.com/mentravox/mentravox/pkg/provider/llm/mock"
)

// recorder collects broadcast events in order for assertion.
type recorder struct {
	id string

	mu     sync.Mutex
	events []string
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Write(event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// types decodes the type field of every recorded event.
func (r *recorder) types(t *testing.T) []string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, raw := range r.events {
		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			t.Fatalf("unmarshal event %q: %v", raw, err)
		}
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	user     *User
	bus      *events.Bus
	provider *llmmock.Provider
	store    settings.Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "The answer."},
		ModelCapabilities: llm.Capabilities{
			ContextWindow:   128000,
			MaxOutputTokens: 4096,
			SupportsVision:  true,
		},
	}
	bus := events.NewBus(nil)
	store := settings.NewMemory()
	ag := agent.New(provider, resilience.BreakerConfig{Name: "test"})

	u := New("user-1", cfg, Deps{
		Bus:      bus,
		Matcher:  wake.New(nil),
		Settings: store,
		Agent:    ag,
	})
	return &fixture{user: u, bus: bus, provider: provider, store: store}
}

func TestHandleQueryEventOrdering(t *testing.T) {
	f := newFixture(t, Config{})
	sess := &glassesmock.Session{
		Caps: glasses.Capabilities{HasDisplay: true, ModelName: "Even Realities G1"},
	}
	f.user.SetAppSession(sess)

	rec := &recorder{id: "sub-1"}
	f.bus.Subscribe("user-1", events.TopicChat, rec)

	resp := f.user.HandleQuery(context.Background(), "what is the capital of France", "")
	if resp != "The answer." {
		t.Fatalf("HandleQuery = %q, want %q", resp, "The answer.")
	}

	want := []string{"processing", "message", "message", "idle"}
	got := rec.types(t)
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}

	// The first message is the user's, the second the assistant's.
	var first, second struct {
		SenderID string `json:"senderId"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal([]byte(rec.events[1]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(rec.events[2]), &second); err != nil {
		t.Fatal(err)
	}
	if first.SenderID != "user-1" {
		t.Errorf("first message sender = %q, want user-1", first.SenderID)
	}
	if second.SenderID != AgentID || second.Content != "The answer." {
		t.Errorf("second message = %+v, want assistant response", second)
	}

	if len(sess.ShowTextWallCalls) != 1 {
		t.Fatalf("ShowTextWall calls = %d, want 1", len(sess.ShowTextWallCalls))
	}
	if d := sess.ShowTextWallCalls[0].Duration; d != 10*time.Second {
		t.Errorf("display duration = %v, want 10s", d)
	}
	if len(sess.SpeakCalls) != 0 {
		t.Errorf("Speak called %d times on a display-only device", len(sess.SpeakCalls))
	}
}

func TestHandleQueryWithoutSessionApologises(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.user.HandleQuery(context.Background(), "hello", "")
	if resp != apologyNoSession {
		t.Errorf("HandleQuery = %q, want the no-session apology", resp)
	}
	if len(f.provider.CompleteCalls) != 0 {
		t.Errorf("agent called %d times without a session", len(f.provider.CompleteCalls))
	}
	if n := f.bus.PendingCount("user-1", events.TopicChat); n != 0 {
		t.Errorf("pending chat events = %d, want 0 (no side effects)", n)
	}
}

func TestHandleQuerySpeakerOnlyFormatsForSpeech(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.CompleteResponse = &llm.CompletionResponse{Content: "**Paris** is at 15°C."}
	sess := &glassesmock.Session{
		Caps: glasses.Capabilities{HasSpeaker: true, ModelName: "Mentra Live"},
	}
	f.user.SetAppSession(sess)

	f.user.HandleQuery(context.Background(), "weather", "")

	if len(sess.SpeakCalls) != 1 {
		t.Fatalf("Speak calls = %d, want 1", len(sess.SpeakCalls))
	}
	spoken := sess.SpeakCalls[0].Text
	if strings.Contains(spoken, "**") || strings.Contains(spoken, "°C") {
		t.Errorf("spoken text %q still contains markup or symbols", spoken)
	}
	if len(sess.ShowTextWallCalls) != 0 {
		t.Errorf("ShowTextWall called on a device without a display")
	}
}

func TestHandleQueryAgentFailureDeliversApology(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.CompleteResponse = nil
	f.provider.CompleteErr = context.DeadlineExceeded
	sess := &glassesmock.Session{
		Caps: glasses.Capabilities{HasDisplay: true},
	}
	f.user.SetAppSession(sess)

	rec := &recorder{id: "sub-1"}
	f.bus.Subscribe("user-1", events.TopicChat, rec)

	resp := f.user.HandleQuery(context.Background(), "hello", "")
	if resp != apologyAgent {
		t.Fatalf("HandleQuery = %q, want the agent apology", resp)
	}

	// The apology still travels the normal path: displayed and broadcast.
	if len(sess.ShowTextWallCalls) != 1 || sess.ShowTextWallCalls[0].Text != apologyAgent {
		t.Errorf("apology not shown on the display: %+v", sess.ShowTextWallCalls)
	}
	got := rec.types(t)
	if len(got) == 0 || got[len(got)-1] != "idle" {
		t.Errorf("stream did not settle to idle after apology: %v", got)
	}
}

func TestHandleQueryPhotoFailureProceedsWithoutPhoto(t *testing.T) {
	f := newFixture(t, Config{})
	sess := &glassesmock.Session{
		Caps:            glasses.Capabilities{HasCamera: true, HasSpeaker: true},
		CapturePhotoErr: glasses.ErrNotSupported,
	}
	f.user.SetAppSession(sess)

	resp := f.user.HandleQuery(context.Background(), "what am I looking at", "")
	if resp != "The answer." {
		t.Fatalf("HandleQuery = %q, want normal response", resp)
	}
	if len(f.provider.CompleteCalls) != 1 {
		t.Fatalf("agent calls = %d, want 1", len(f.provider.CompleteCalls))
	}
	req := f.provider.CompleteCalls[0].Req
	for _, msg := range req.Messages {
		if len(msg.Images) != 0 {
			t.Errorf("request carries %d images after a failed capture", len(msg.Images))
		}
	}
}

func TestSetAppSessionReplacesPreviousListeners(t *testing.T) {
	f := newFixture(t, Config{})
	first := &glassesmock.Session{Caps: glasses.Capabilities{HasDisplay: true}}
	second := &glassesmock.Session{Caps: glasses.Capabilities{HasSpeaker: true}}

	f.user.SetAppSession(first)
	if n := first.TranscriptionListenerCount(); n != 1 {
		t.Fatalf("first session listeners = %d, want 1", n)
	}

	f.user.SetAppSession(second)
	if n := first.TranscriptionListenerCount(); n != 0 {
		t.Errorf("first session still has %d listeners after replacement", n)
	}
	if n := second.TranscriptionListenerCount(); n != 1 {
		t.Errorf("second session listeners = %d, want 1", n)
	}
	if got := f.user.Session(); got != glasses.Session(second) {
		t.Error("Session() does not return the replacement session")
	}
}

func TestClearAppSessionStopsAccumulation(t *testing.T) {
	f := newFixture(t, Config{SilenceWindow: 30 * time.Millisecond})
	sess := &glassesmock.Session{Caps: glasses.Capabilities{HasSpeaker: true}}
	f.user.SetAppSession(sess)

	sess.EmitTranscription(glasses.TranscriptionEvent{
		Text: "hey mentra what time is it", IsFinal: true,
	})
	f.user.ClearAppSession()

	time.Sleep(150 * time.Millisecond)
	if n := len(f.provider.CompleteCalls); n != 0 {
		t.Errorf("agent called %d times after detach", n)
	}
	if f.user.HasSession() {
		t.Error("HasSession() = true after ClearAppSession")
	}
}

func TestWakeWordRunsPipelineEndToEnd(t *testing.T) {
	f := newFixture(t, Config{SilenceWindow: 30 * time.Millisecond})
	sess := &glassesmock.Session{Caps: glasses.Capabilities{HasSpeaker: true}}
	f.user.SetAppSession(sess)

	sess.EmitTranscription(glasses.TranscriptionEvent{
		Text: "hey mentra what is two plus two", IsFinal: true,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.provider.CompleteCalls) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if n := len(f.provider.CompleteCalls); n != 1 {
		t.Fatalf("agent calls = %d, want 1", n)
	}
	if len(f.provider.CompleteCalls[0].Req.Messages) == 0 {
		t.Fatal("agent request has no messages")
	}
	last := f.provider.CompleteCalls[0].Req.Messages
	if got := last[len(last)-1].Content; !strings.Contains(got, "what is two plus two") {
		t.Errorf("agent query = %q, want the wake-word tail", got)
	}

	// The spoken response lands after the pipeline returns.
	for time.Now().Before(deadline) {
		if len(sess.SpeakCalls) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(sess.SpeakCalls) != 1 {
		t.Fatalf("Speak calls = %d, want 1", len(sess.SpeakCalls))
	}
}

func TestSettingsChangeFromHardwareUpdatesTimezone(t *testing.T) {
	f := newFixture(t, Config{})
	sess := &glassesmock.Session{Caps: glasses.Capabilities{HasSpeaker: true}}
	f.user.SetAppSession(sess)

	sess.EmitSettingsChange("timezone", "America/New_York")

	if tz := f.user.Settings().Timezone; tz != "America/New_York" {
		t.Fatalf("cached timezone = %q, want America/New_York", tz)
	}
	stored, err := f.store.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Timezone != "America/New_York" {
		t.Errorf("persisted timezone = %q, want America/New_York", stored.Timezone)
	}
}

func TestInitializeLoadsStoredSettings(t *testing.T) {
	f := newFixture(t, Config{})
	off := false
	if _, err := f.store.Update(context.Background(), "user-1",
		settings.Patch{ChatHistoryEnabled: &off}); err != nil {
		t.Fatal(err)
	}

	f.user.Initialize(context.Background())
	if f.user.Settings().ChatHistoryEnabled {
		t.Error("chat history still enabled after Initialize with stored opt-out")
	}
}
