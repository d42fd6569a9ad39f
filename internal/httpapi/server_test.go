package httpapi_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mentravox/mentravox/internal/agent"
	"github.com/mentravox/mentravox/internal/events"
	"github.com/mentravox/mentravox/internal/health"
	"github.com/mentravox/mentravox/internal/httpapi"
	"github.com/mentravox/mentravox/internal/resilience"
	"github.com/mentravox/mentravox/internal/session"
	"github.com/mentravox/mentravox/internal/settings"
	"github.com/mentravox/mentravox/internal/user"
	"github.com/mentravox/mentravox/internal/wake"
	"github.com/mentravox/mentravox/pkg/glasses"
	glassesmock "github.com/mentravox/mentravox/pkg/glasses/mock"
	"github.com/mentravox/mentravox/pkg/provider/llm"
	llmmock "github.com/mentravox/mentravox/pkg/provider/llm/mock"
)

type fixture struct {
	bus      *events.Bus
	registry *session.Registry
	store    settings.Store
	ts       *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := events.NewBus(nil)
	store := settings.NewMemory()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "ok"},
	}
	factory := func(userID string) *user.User {
		return user.New(userID, user.Config{}, user.Deps{
			Bus:      bus,
			Matcher:  wake.New(nil),
			Settings: store,
			Agent:    agent.New(provider, resilience.BreakerConfig{Name: "test"}),
		})
	}
	registry := session.NewRegistry(factory, bus)
	lifecycle := session.NewLifecycle(registry, bus, nil)

	srv := httpapi.NewServer(httpapi.Config{
		Registry:          registry,
		Lifecycle:         lifecycle,
		Bus:               bus,
		Settings:          store,
		Health:            health.New(),
		HeartbeatInterval: 50 * time.Millisecond,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{bus: bus, registry: registry, store: store, ts: ts}
}

// openSSE opens an SSE stream and returns the first n decoded events.
func openSSE(t *testing.T, url string, n int) []map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	var out []map[string]any
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for len(out) < n && scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		out = append(out, ev)
	}
	return out
}

func eventTypes(evs []map[string]any) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i], _ = ev["type"].(string)
	}
	return out
}

func TestChatStreamOpensWithConnectedAndHeartbeat(t *testing.T) {
	f := newFixture(t)
	f.registry.GetOrCreate("alice")

	evs := openSSE(t, f.ts.URL+"/api/chat/stream?userId=alice", 2)
	types := eventTypes(evs)
	if types[0] != "connected" {
		t.Errorf("first event = %q, want connected", types[0])
	}
	if types[1] != "session_heartbeat" {
		t.Errorf("second event = %q, want session_heartbeat", types[1])
	}
	if active, _ := evs[1]["active"].(bool); active {
		t.Error("heartbeat reports active hardware for a detached user")
	}
}

func TestChatStreamRequiresUserID(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/api/chat/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatStreamReplaysHistorySnapshot(t *testing.T) {
	f := newFixture(t)
	u, _ := f.registry.GetOrCreate("alice")
	u.History().AddTurn("what time is it", "It is noon.", false, "")

	evs := openSSE(t, f.ts.URL+"/api/chat/stream?userId=alice", 3)
	types := eventTypes(evs)
	want := []string{"connected", "history", "session_heartbeat"}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (all %v)", i, types[i], want[i], types)
		}
	}

	msgs, _ := evs[1]["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("history messages = %d, want 2 (user + assistant)", len(msgs))
	}
}

func TestChatStreamPendingReplayReplacesHistory(t *testing.T) {
	f := newFixture(t)
	u, _ := f.registry.GetOrCreate("alice")
	u.History().AddTurn("older", "exchange", false, "")

	// Broadcast with no stream attached queues the event.
	f.bus.Broadcast("alice", events.TopicChat,
		events.Message("msg_1", "alice", user.AgentID, "queued while away", ""))

	evs := openSSE(t, f.ts.URL+"/api/chat/stream?userId=alice", 3)
	types := eventTypes(evs)
	want := []string{"connected", "message", "session_heartbeat"}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (all %v)", i, types[i], want[i], types)
		}
	}
}

func TestTranscriptionStreamHeartbeats(t *testing.T) {
	f := newFixture(t)
	f.registry.GetOrCreate("alice")

	evs := openSSE(t, f.ts.URL+"/api/transcription-stream?userId=alice", 2)
	types := eventTypes(evs)
	if types[0] != "connected" || types[1] != "heartbeat" {
		t.Errorf("event types = %v, want [connected heartbeat]", types)
	}
}

func TestSpeakEndpoint(t *testing.T) {
	f := newFixture(t)
	u, _ := f.registry.GetOrCreate("alice")
	sess := &glassesmock.Session{Caps: glasses.Capabilities{HasSpeaker: true}}
	u.SetAppSession(sess)

	body, _ := json.Marshal(map[string]string{"userId": "alice", "text": "hello there"})
	resp, err := http.Post(f.ts.URL+"/api/speak", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(sess.SpeakCalls) != 1 || sess.SpeakCalls[0].Text != "hello there" {
		t.Errorf("SpeakCalls = %+v", sess.SpeakCalls)
	}
}

func TestSpeakWithoutSessionConflicts(t *testing.T) {
	f := newFixture(t)
	f.registry.GetOrCreate("alice")

	body, _ := json.Marshal(map[string]string{"userId": "alice", "text": "hello"})
	resp, err := http.Post(f.ts.URL+"/api/speak", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSpeakUnknownUser(t *testing.T) {
	f := newFixture(t)
	body, _ := json.Marshal(map[string]string{"userId": "nobody", "text": "hello"})
	resp, err := http.Post(f.ts.URL+"/api/speak", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestThemePreferenceRejectsUnknownTheme(t *testing.T) {
	f := newFixture(t)
	body, _ := json.Marshal(map[string]string{"userId": "alice", "theme": "blue"})
	resp, err := http.Post(f.ts.URL+"/api/theme-preference", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestThemePreferenceRoundTrip(t *testing.T) {
	f := newFixture(t)
	body, _ := json.Marshal(map[string]string{"userId": "alice", "theme": "light"})
	resp, err := http.Post(f.ts.URL+"/api/theme-preference", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST status = %d, want 200", resp.StatusCode)
	}

	getResp, err := http.Get(f.ts.URL + "/api/theme-preference?userId=alice")
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	var got map[string]string
	if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["theme"] != "light" {
		t.Errorf("theme = %q, want light", got["theme"])
	}
}

func TestSettingsPatchAndGet(t *testing.T) {
	f := newFixture(t)

	patch := `{"chatHistoryEnabled": false, "timezone": "Europe/Berlin"}`
	req, _ := http.NewRequest(http.MethodPatch,
		f.ts.URL+"/api/settings?userId=alice", strings.NewReader(patch))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH status = %d, want 200", resp.StatusCode)
	}

	getResp, err := http.Get(f.ts.URL + "/api/settings?userId=alice")
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()

	var got settings.Settings
	if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ChatHistoryEnabled {
		t.Error("chatHistoryEnabled still true after patch")
	}
	if got.Timezone != "Europe/Berlin" {
		t.Errorf("timezone = %q, want Europe/Berlin", got.Timezone)
	}
	if got.Theme != settings.DefaultTheme {
		t.Errorf("theme = %q, want untouched default %q", got.Theme, settings.DefaultTheme)
	}
}

func TestPhotoEndpoints(t *testing.T) {
	f := newFixture(t)
	u, _ := f.registry.GetOrCreate("alice")
	sess := &glassesmock.Session{
		Caps: glasses.Capabilities{HasCamera: true},
		Photo: glasses.Photo{
			RequestID: "photo_test1",
			Bytes:     []byte{0xff, 0xd8, 0xff, 0xe0},
			MimeType:  "image/jpeg",
		},
	}
	u.SetAppSession(sess)
	if _, err := u.Photos().Capture(context.Background()); err != nil {
		t.Fatalf("seed capture: %v", err)
	}

	resp, err := http.Get(f.ts.URL + "/api/latest-photo?userId=alice")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("latest-photo status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if !bytes.Equal(raw, sess.Photo.Bytes) {
		t.Error("latest-photo bytes do not match the capture")
	}

	b64Resp, err := http.Get(f.ts.URL + "/api/photo-base64/photo_test1?userId=alice")
	if err != nil {
		t.Fatal(err)
	}
	defer b64Resp.Body.Close()
	var body struct {
		RequestID string `json:"requestId"`
		MimeType  string `json:"mimeType"`
		Data      string `json:"data"`
	}
	if err := json.NewDecoder(b64Resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.RequestID != "photo_test1" || body.Data == "" {
		t.Errorf("photo-base64 body = %+v", body)
	}

	missing, err := http.Get(f.ts.URL + "/api/photo/unknown?userId=alice")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown photo status = %d, want 404", missing.StatusCode)
	}
}

func TestKillSessionSoftAndHard(t *testing.T) {
	f := newFixture(t)
	u, _ := f.registry.GetOrCreate("alice")
	u.SetAppSession(&glassesmock.Session{})

	resp, err := http.Post(f.ts.URL+"/api/debug/kill-session?userId=alice&mode=soft", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("soft kill status = %d, want 200", resp.StatusCode)
	}
	if u.HasSession() {
		t.Error("hardware still attached after soft kill")
	}
	if _, ok := f.registry.Get("alice"); !ok {
		t.Error("user removed by soft kill; grace period should retain it")
	}

	resp, err = http.Post(f.ts.URL+"/api/debug/kill-session?userId=alice&mode=nuke", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid mode status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(f.ts.URL+"/api/debug/kill-session?userId=alice&mode=hard", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("hard kill status = %d, want 200", resp.StatusCode)
	}
	if _, ok := f.registry.Get("alice"); ok {
		t.Error("user still present after hard kill")
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
