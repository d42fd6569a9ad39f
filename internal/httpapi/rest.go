package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mentravox/mentravox/internal/events"
	"github.com/mentravox/mentravox/internal/settings"
	"github.com/mentravox/mentravox/internal/user"
	"github.com/mentravox/mentravox/pkg/glasses"
)

// speakRequest is the body of POST /api/speak.
type speakRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// speak pushes text to the glasses speakers.
func (s *Server) speak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "userId and text are required")
		return
	}
	u, ok := s.registry.Get(req.UserID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	if err := u.Speak(r.Context(), req.Text); err != nil {
		if errors.Is(err, user.ErrNoSession) || errors.Is(err, glasses.ErrNotSupported) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		slog.Warn("httpapi: speak failed", "userId", req.UserID, "error", err)
		writeError(w, http.StatusBadGateway, "speech output failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// stopAudio halts any in-progress playback.
func (s *Server) stopAudio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	u, ok := s.registry.Get(req.UserID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	if err := u.StopAudio(r.Context()); err != nil {
		if errors.Is(err, user.ErrNoSession) || errors.Is(err, glasses.ErrNotSupported) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "stop audio failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// themePreference persists the webview theme choice.
func (s *Server) themePreference(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Theme  string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.Theme != "dark" && req.Theme != "light" {
		writeError(w, http.StatusBadRequest, "theme must be dark or light")
		return
	}
	updated, err := s.settings.Update(r.Context(), req.UserID, settings.Patch{Theme: &req.Theme})
	if err != nil {
		slog.Error("httpapi: theme update failed", "userId", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "settings update failed")
		return
	}
	s.refreshUserSettings(r, req.UserID)
	writeJSON(w, http.StatusOK, updated)
}

// getThemePreference serves GET /api/theme-preference.
func (s *Server) getThemePreference(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	current, err := s.settings.Get(r.Context(), uid)
	if err != nil {
		slog.Error("httpapi: settings fetch failed", "userId", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "settings fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"theme": current.Theme})
}

// getSettings serves GET /api/settings.
func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	current, err := s.settings.Get(r.Context(), uid)
	if err != nil {
		slog.Error("httpapi: settings fetch failed", "userId", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "settings fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// patchSettings serves PATCH /api/settings. Absent fields keep their stored
// values.
func (s *Server) patchSettings(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	var patch settings.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if patch.Theme != nil && *patch.Theme != "dark" && *patch.Theme != "light" {
		writeError(w, http.StatusBadRequest, "theme must be dark or light")
		return
	}
	updated, err := s.settings.Update(r.Context(), uid, patch)
	if err != nil {
		slog.Error("httpapi: settings update failed", "userId", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "settings update failed")
		return
	}
	s.refreshUserSettings(r, uid)
	writeJSON(w, http.StatusOK, updated)
}

// refreshUserSettings syncs a live user's settings cache after a store
// write. Unknown users have nothing to refresh.
func (s *Server) refreshUserSettings(r *http.Request, uid string) {
	if u, ok := s.registry.Get(uid); ok {
		if err := u.RefreshSettings(r.Context()); err != nil {
			slog.Warn("httpapi: settings cache refresh failed", "userId", uid, "error", err)
		}
	}
}

// latestPhoto serves the newest captured photo as binary.
func (s *Server) latestPhoto(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	u, ok := s.registry.Get(uid)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	p, ok := u.Photos().Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no photo captured yet")
		return
	}
	servePhoto(w, p)
}

// photoByID serves one photo as binary by its request id.
func (s *Server) photoByID(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPhoto(w, r)
	if !ok {
		return
	}
	servePhoto(w, p)
}

// photoBase64 serves one photo as JSON with base64 data, for clients that
// cannot consume binary responses.
func (s *Server) photoBase64(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPhoto(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requestId": p.RequestID,
		"mimeType":  p.MimeType,
		"size":      p.Size,
		"data":      base64.StdEncoding.EncodeToString(p.Bytes),
	})
}

// lookupPhoto resolves the {requestId} route parameter against the user's
// photo store, writing the error response itself on failure.
func (s *Server) lookupPhoto(w http.ResponseWriter, r *http.Request) (glasses.Photo, bool) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return glasses.Photo{}, false
	}
	requestID := chi.URLParam(r, "requestId")
	u, ok := s.registry.Get(uid)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown user")
		return glasses.Photo{}, false
	}
	p, ok := u.Photos().Lookup(requestID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown photo")
		return glasses.Photo{}, false
	}
	return p, true
}

func servePhoto(w http.ResponseWriter, p glasses.Photo) {
	mime := p.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=31536000")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(p.Bytes)
}

// killSession serves POST /api/debug/kill-session?userId=...&mode=soft|hard.
// Soft mimics a hardware disconnect and starts the grace period; hard ends
// the session immediately.
func (s *Server) killSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	if _, ok := s.registry.Get(uid); !ok {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}

	mode := r.URL.Query().Get("mode")
	switch mode {
	case "", "soft":
		s.lifecycle.OnSessionStop(uid, "killed via debug endpoint")
	case "hard":
		s.bus.Broadcast(uid, events.TopicChat, events.SessionEnded("killed via debug endpoint"))
		s.bus.ClearPending(uid,
			events.TopicChat, events.TopicTranscription, events.TopicPhoto)
		s.registry.Remove(uid)
	default:
		writeError(w, http.StatusBadRequest, "mode must be soft or hard")
		return
	}
	slog.Info("httpapi: session killed", "userId", uid, "mode", mode)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
