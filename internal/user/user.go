// Package user owns the per-user state of the assistant: the transcription
// accumulator, photo store, location manager, notification store and chat
// history, plus the query pipeline that ties them together for one spoken
// query.
//
// A User outlives any single hardware connection. The lifecycle controller
// attaches and detaches glasses sessions; everything else reads the current
// session through an accessor and tolerates its absence. Mutation of the
// session handle happens only here, under the user's state mutex.
package user

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mentravox/mentravox/internal/agent"
	"github.com/mentravox/mentravox/internal/events"
	"github.com/mentravox/mentravox/internal/geocode"
	"github.com/mentravox/mentravox/internal/history"
	"github.com/mentravox/mentravox/internal/location"
	"github.com/mentravox/mentravox/internal/notify"
	"github.com/mentravox/mentravox/internal/observe"
	"github.com/mentravox/mentravox/internal/photo"
	"github.com/mentravox/mentravox/internal/settings"
	"github.com/mentravox/mentravox/internal/transcribe"
	"github.com/mentravox/mentravox/internal/wake"
	"github.com/mentravox/mentravox/pkg/glasses"
)

// AgentID is the sender id the assistant uses on the chat stream.
const AgentID = "mentravox"

// Config carries the per-user tunables. Zero values select the defaults.
type Config struct {
	// SilenceWindow is how long speech must pause before a query is emitted.
	SilenceWindow time.Duration

	// DisplayDuration is how long responses stay on the glasses display.
	DisplayDuration time.Duration

	// ProcessingSoundURL, when set, is played while a query is being
	// answered.
	ProcessingSoundURL string

	// HistoryContext is how many recent turns enter the agent prompt.
	HistoryContext int

	// RecallLimit is how many semantically similar past turns enter the
	// prompt when a recall index is configured.
	RecallLimit int
}

// Deps are the process-wide collaborators a User is constructed with.
type Deps struct {
	Bus      *events.Bus
	Matcher  *wake.Matcher
	Geocoder geocode.Geocoder // may be nil
	Settings settings.Store
	History  history.Store   // may be nil
	Recall   *history.Recall // may be nil
	Agent    *agent.Adapter
	Metrics  *observe.Metrics // may be nil
}

// User is the aggregate for one wearer. All exported methods are safe for
// concurrent use; queries are serialised by a dedicated pipeline mutex so a
// second wake word spoken mid-answer waits for the in-flight turn.
type User struct {
	id  string
	cfg Config

	bus     *events.Bus
	store   settings.Store
	agent   *agent.Adapter
	metrics *observe.Metrics

	acc           *transcribe.Accumulator
	photos        *photo.Store
	location      *location.Manager
	notifications *notify.Store
	history       *history.Ring

	mu          sync.Mutex
	session     glasses.Session
	removers    []func()
	prefs       settings.Settings
	initialized bool

	pipelineMu sync.Mutex
}

// New creates a User with detached hardware. cfg zero values select the
// package defaults documented on [Config].
func New(userID string, cfg Config, deps Deps) *User {
	if cfg.DisplayDuration <= 0 {
		cfg.DisplayDuration = 10 * time.Second
	}
	if cfg.HistoryContext <= 0 {
		cfg.HistoryContext = 10
	}
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = 3
	}

	u := &User{
		id:      userID,
		cfg:     cfg,
		bus:     deps.Bus,
		store:   deps.Settings,
		agent:   deps.Agent,
		metrics: deps.Metrics,
		prefs:   settings.Default(),
	}

	u.photos = photo.New(userID, u.Session, deps.Bus)
	u.location = location.New(userID, u.Session, deps.Geocoder, u.timezoneName)
	u.notifications = notify.New(userID)
	u.history = history.New(userID, deps.History, u.historyEnabled,
		history.WithRecall(deps.Recall))

	var accOpts []transcribe.Option
	if cfg.SilenceWindow > 0 {
		accOpts = append(accOpts, transcribe.WithSilenceWindow(cfg.SilenceWindow))
	}
	u.acc = transcribe.New(userID, deps.Matcher, u.onQueryReady, accOpts...)

	return u
}

// ID returns the stable user identifier.
func (u *User) ID() string { return u.id }

// Session returns the currently attached hardware session, or nil. Handed as
// an accessor to the photo and location managers so they follow reconnects
// without rewiring.
func (u *User) Session() glasses.Session {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.session
}

// HasSession reports whether hardware is currently attached.
func (u *User) HasSession() bool { return u.Session() != nil }

// Photos returns the user's photo store.
func (u *User) Photos() *photo.Store { return u.photos }

// History returns the user's chat history ring.
func (u *User) History() *history.Ring { return u.history }

// Notifications returns the user's notification store.
func (u *User) Notifications() *notify.Store { return u.notifications }

// Accumulator returns the transcription accumulator. Exposed for the debug
// surface and tests.
func (u *User) Accumulator() *transcribe.Accumulator { return u.acc }

// Initialize performs the one-time setup of a freshly created User: the
// settings fetch from the durable store. It is idempotent; the lifecycle
// controller skips it on reconnect but calling it twice is harmless.
func (u *User) Initialize(ctx context.Context) {
	u.mu.Lock()
	if u.initialized {
		u.mu.Unlock()
		return
	}
	u.initialized = true
	u.mu.Unlock()

	if err := u.RefreshSettings(ctx); err != nil {
		slog.Warn("user: initial settings fetch failed", "userId", u.id, "error", err)
	}
}

// RefreshSettings re-reads the user's settings from the store into the
// in-memory cache the history and location components consult.
func (u *User) RefreshSettings(ctx context.Context) error {
	if u.store == nil {
		return nil
	}
	prefs, err := u.store.Get(ctx, u.id)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.prefs = prefs
	u.mu.Unlock()
	return nil
}

// Settings returns the cached settings snapshot.
func (u *User) Settings() settings.Settings {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.prefs
}

// SetAppSession attaches a hardware session. Any previously attached session
// is detached first so an ungraceful reconnect never leaves duplicate
// listeners, then the accumulator is re-enabled and the event callbacks are
// wired.
func (u *User) SetAppSession(s glasses.Session) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.session != nil {
		u.clearSessionLocked()
	}
	u.session = s
	u.acc.Reattach()

	u.removers = []func(){
		s.OnTranscription(u.handleTranscription),
		s.OnLocation(u.location.Update),
		s.OnNotification(u.notifications.Add),
		s.OnSettingsChange(u.handleSettingsChange),
	}
	slog.Info("user: hardware session attached",
		"userId", u.id, "model", s.Capabilities().ModelName)
}

// ClearAppSession detaches the hardware session: listeners are removed, the
// silence timer is stopped and the accumulator gated, and the handle is
// dropped. Safe to call when no session is attached.
func (u *User) ClearAppSession() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.clearSessionLocked()
}

// clearSessionLocked does the detach work. Callers must hold mu.
func (u *User) clearSessionLocked() {
	if u.session == nil {
		return
	}
	for _, remove := range u.removers {
		remove()
	}
	u.removers = nil
	u.acc.Detach()
	u.session = nil
	slog.Info("user: hardware session detached", "userId", u.id)
}

// Teardown releases the user's resources on hard removal. In-flight durable
// appends are left to finish on their own goroutines.
func (u *User) Teardown() {
	u.ClearAppSession()
}

// Speak forwards text to the hardware speakers.
func (u *User) Speak(ctx context.Context, text string) error {
	sess := u.Session()
	if sess == nil {
		return ErrNoSession
	}
	return sess.Speak(ctx, text)
}

// StopAudio stops any in-progress playback on the hardware.
func (u *User) StopAudio(ctx context.Context) error {
	sess := u.Session()
	if sess == nil {
		return ErrNoSession
	}
	return sess.StopAudio(ctx)
}

// handleTranscription mirrors the raw event onto the transcription stream
// for debugging subscribers, then feeds the accumulator.
func (u *User) handleTranscription(ev glasses.TranscriptionEvent) {
	u.bus.Broadcast(u.id, events.TopicTranscription,
		events.Transcription(ev.Text, ev.IsFinal, ev.SpeakerID))
	u.acc.HandleTranscription(ev)
}

// handleSettingsChange applies a settings change pushed by the hardware.
// Values are provider-shaped; anything unrecognised is ignored.
func (u *User) handleSettingsChange(key string, value any) {
	switch key {
	case "timezone":
		tz, ok := value.(string)
		if !ok {
			return
		}
		u.mu.Lock()
		u.prefs.Timezone = tz
		u.mu.Unlock()
		if u.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := u.store.Update(ctx, u.id, settings.Patch{Timezone: &tz}); err != nil {
				slog.Warn("user: persist timezone failed", "userId", u.id, "error", err)
			}
		}
	default:
		slog.Debug("user: ignoring settings change", "userId", u.id, "key", key)
	}
}

// historyEnabled is the EnabledFunc handed to the history ring.
func (u *User) historyEnabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.prefs.ChatHistoryEnabled
}

// timezoneName is the TimezoneFunc handed to the location manager.
func (u *User) timezoneName() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.prefs.Timezone
}

// onQueryReady is invoked by the accumulator's silence timer.
func (u *User) onQueryReady(query, speakerID string) {
	u.HandleQuery(context.Background(), query, speakerID)
}
