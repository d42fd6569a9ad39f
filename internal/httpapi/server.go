// Package httpapi exposes the Mentravox HTTP surface: server-sent event
// streams for chat, transcription and photo announcements, the REST
// endpoints used by the companion webview, and the operational endpoints
// (health, metrics, glasses bridge).
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mentravox/mentravox/internal/events"
	"github.com/mentravox/mentravox/internal/health"
	"github.com/mentravox/mentravox/internal/observe"
	"github.com/mentravox/mentravox/internal/session"
	"github.com/mentravox/mentravox/internal/settings"
)

// DefaultHeartbeatInterval is the gap between liveness events on each SSE
// stream.
const DefaultHeartbeatInterval = 15 * time.Second

// Config carries the server's collaborators and tunables.
type Config struct {
	Registry  *session.Registry
	Lifecycle *session.Lifecycle
	Bus       *events.Bus
	Settings  settings.Store
	Health    *health.Handler
	Metrics   *observe.Metrics // may be nil

	// Glasses, when set, is mounted at /ws/glasses and accepts hardware
	// bridge connections.
	Glasses http.Handler

	// HeartbeatInterval overrides [DefaultHeartbeatInterval]. Zero keeps the
	// default.
	HeartbeatInterval time.Duration
}

// Server holds the HTTP handler state. Build one with [NewServer] and mount
// [Server.Router].
type Server struct {
	registry  *session.Registry
	lifecycle *session.Lifecycle
	bus       *events.Bus
	settings  settings.Store
	health    *health.Handler
	metrics   *observe.Metrics
	glasses   http.Handler
	heartbeat time.Duration
}

// NewServer creates a Server from cfg.
func NewServer(cfg Config) *Server {
	hb := cfg.HeartbeatInterval
	if hb <= 0 {
		hb = DefaultHeartbeatInterval
	}
	return &Server{
		registry:  cfg.Registry,
		lifecycle: cfg.Lifecycle,
		bus:       cfg.Bus,
		settings:  cfg.Settings,
		health:    cfg.Health,
		metrics:   cfg.Metrics,
		glasses:   cfg.Glasses,
		heartbeat: hb,
	}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	if s.health != nil {
		s.health.Register(r)
		r.Get("/api/health", s.health.Healthz)
		r.Get("/api/health/ready", s.health.Readyz)
	}
	r.Handle("/metrics", promhttp.Handler())

	if s.glasses != nil {
		r.Handle("/ws/glasses", s.glasses)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/chat/stream", s.chatStream)
		r.Get("/transcription-stream", s.transcriptionStream)
		r.Get("/photo-stream", s.photoStream)

		r.Post("/speak", s.speak)
		r.Post("/stop-audio", s.stopAudio)
		r.Get("/theme-preference", s.getThemePreference)
		r.Post("/theme-preference", s.themePreference)
		r.Get("/settings", s.getSettings)
		r.Patch("/settings", s.patchSettings)

		r.Get("/latest-photo", s.latestPhoto)
		r.Get("/photo/{requestId}", s.photoByID)
		r.Get("/photo-base64/{requestId}", s.photoBase64)

		r.Post("/debug/kill-session", s.killSession)
	})

	return r
}

// userID extracts and validates the userId query parameter.
func userID(r *http.Request) (string, bool) {
	id := r.URL.Query().Get("userId")
	return id, id != ""
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
