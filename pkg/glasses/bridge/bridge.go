// Package bridge accepts WebSocket connections from the glasses companion
// app and exposes each one as a [glasses.Session].
//
// The wire protocol is JSON text frames in both directions, with one
// exception: photo payloads arrive as a binary frame immediately after their
// JSON metadata frame, so image bytes never pass through base64.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/mentravox/mentravox/pkg/glasses"
)

// ErrClosed is returned by pending requests when the bridge connection goes
// away before the hardware answers.
var ErrClosed = errors.New("bridge: connection closed")

const (
	// helloTimeout bounds the wait for the client's first frame.
	helloTimeout = 10 * time.Second

	// writeTimeout bounds a single outbound frame.
	writeTimeout = 10 * time.Second

	// readLimit caps inbound frames; photos dominate, so allow 8 MiB.
	readLimit = 8 << 20
)

// Hooks connect the bridge to the application's session lifecycle.
type Hooks struct {
	// OnConnect is called after the handshake with the live session. It must
	// not block; the read loop starts when it returns.
	OnConnect func(ctx context.Context, userID string, sess glasses.Session)

	// OnDisconnect is called once when the connection closes, with a short
	// reason.
	OnDisconnect func(userID, reason string)
}

// Handler upgrades GET /ws/glasses requests and runs one bridge session per
// connection.
type Handler struct {
	secret string
	hooks  Hooks
}

// NewHandler creates the WebSocket endpoint handler. secret, when non-empty,
// must match the X-Bridge-Secret header of every handshake.
func NewHandler(secret string, hooks Hooks) *Handler {
	return &Handler{secret: secret, hooks: hooks}
}

// frame is the JSON envelope for every text frame in both directions.
type frame struct {
	Type string `json:"type"`

	// hello
	Capabilities *capabilitiesPayload `json:"capabilities,omitempty"`

	// transcription
	Text        string `json:"text,omitempty"`
	IsFinal     bool   `json:"isFinal,omitempty"`
	UtteranceID string `json:"utteranceId,omitempty"`
	SpeakerID   string `json:"speakerId,omitempty"`

	// location
	Lat      float64 `json:"lat,omitempty"`
	Lng      float64 `json:"lng,omitempty"`
	Accuracy float64 `json:"accuracy,omitempty"`

	// notification
	Payload json.RawMessage `json:"payload,omitempty"`

	// settings_change
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`

	// photo metadata, photo_error, request correlation
	RequestID string `json:"requestId,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Error     string `json:"error,omitempty"`

	// outbound commands
	URL        string `json:"url,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

type capabilitiesPayload struct {
	HasCamera  bool   `json:"hasCamera"`
	HasDisplay bool   `json:"hasDisplay"`
	HasSpeaker bool   `json:"hasSpeaker"`
	ModelName  string `json:"modelName"`
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.Header.Get("X-Bridge-Secret") != h.secret {
		http.Error(w, "invalid bridge secret", http.StatusUnauthorized)
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("bridge: accept failed", "userId", userID, "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	sess, err := handshake(r.Context(), conn)
	if err != nil {
		slog.Warn("bridge: handshake failed", "userId", userID, "error", err)
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}
	sess.userID = userID

	slog.Info("bridge: glasses connected",
		"userId", userID, "model", sess.caps.ModelName, "kind", sess.caps.Kind())
	if h.hooks.OnConnect != nil {
		h.hooks.OnConnect(r.Context(), userID, sess)
	}

	reason := sess.readLoop(r.Context())

	sess.failPending()
	conn.Close(websocket.StatusNormalClosure, "")
	slog.Info("bridge: glasses disconnected", "userId", userID, "reason", reason)
	if h.hooks.OnDisconnect != nil {
		h.hooks.OnDisconnect(userID, reason)
	}
}

// handshake waits for the hello frame and builds the session.
func handshake(ctx context.Context, conn *websocket.Conn) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bridge: read hello: %w", err)
	}
	if typ != websocket.MessageText {
		return nil, errors.New("bridge: hello must be a text frame")
	}
	var hello frame
	if err := json.Unmarshal(data, &hello); err != nil {
		return nil, fmt.Errorf("bridge: decode hello: %w", err)
	}
	if hello.Type != "hello" || hello.Capabilities == nil {
		return nil, fmt.Errorf("bridge: unexpected first frame %q", hello.Type)
	}

	return &Session{
		conn: conn,
		caps: glasses.Capabilities{
			HasCamera:  hello.Capabilities.HasCamera,
			HasDisplay: hello.Capabilities.HasDisplay,
			HasSpeaker: hello.Capabilities.HasSpeaker,
			ModelName:  hello.Capabilities.ModelName,
		},
		photoWaits:    make(map[string]chan photoResult),
		locationWaits: make(map[string]chan glasses.Location),
	}, nil
}

type photoResult struct {
	photo glasses.Photo
	err   error
}

// Session is one live glasses connection. It implements [glasses.Session];
// all methods are safe for concurrent use.
type Session struct {
	conn   *websocket.Conn
	caps   glasses.Capabilities
	userID string

	writeMu sync.Mutex

	mu            sync.Mutex
	closed        bool
	transcription map[int]func(glasses.TranscriptionEvent)
	location      map[int]func(glasses.Location)
	notification  map[int]func(glasses.Notification)
	settings      map[int]func(key string, value any)
	nextListener  int
	photoWaits    map[string]chan photoResult
	locationWaits map[string]chan glasses.Location
	pendingPhoto  *frame // metadata awaiting its binary frame
}

var _ glasses.Session = (*Session)(nil)

// Capabilities implements glasses.Session.
func (s *Session) Capabilities() glasses.Capabilities { return s.caps }

// OnTranscription implements glasses.Session.
func (s *Session) OnTranscription(fn func(glasses.TranscriptionEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transcription == nil {
		s.transcription = make(map[int]func(glasses.TranscriptionEvent))
	}
	id := s.nextListener
	s.nextListener++
	s.transcription[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.transcription, id)
	}
}

// OnLocation implements glasses.Session.
func (s *Session) OnLocation(fn func(glasses.Location)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.location == nil {
		s.location = make(map[int]func(glasses.Location))
	}
	id := s.nextListener
	s.nextListener++
	s.location[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.location, id)
	}
}

// OnNotification implements glasses.Session.
func (s *Session) OnNotification(fn func(glasses.Notification)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notification == nil {
		s.notification = make(map[int]func(glasses.Notification))
	}
	id := s.nextListener
	s.nextListener++
	s.notification[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.notification, id)
	}
}

// OnSettingsChange implements glasses.Session.
func (s *Session) OnSettingsChange(fn func(key string, value any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		s.settings = make(map[int]func(string, any))
	}
	id := s.nextListener
	s.nextListener++
	s.settings[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.settings, id)
	}
}

// CapturePhoto implements glasses.Session. It sends a capture command and
// waits for the correlated metadata plus binary frame.
func (s *Session) CapturePhoto(ctx context.Context) (glasses.Photo, error) {
	if !s.caps.HasCamera {
		return glasses.Photo{}, glasses.ErrNotSupported
	}
	requestID := "photo_" + gonanoid.Must(21)

	ch := make(chan photoResult, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return glasses.Photo{}, ErrClosed
	}
	s.photoWaits[requestID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.photoWaits, requestID)
		s.mu.Unlock()
	}()

	if err := s.write(ctx, frame{Type: "capture_photo", RequestID: requestID}); err != nil {
		return glasses.Photo{}, err
	}

	select {
	case <-ctx.Done():
		return glasses.Photo{}, ctx.Err()
	case res := <-ch:
		return res.photo, res.err
	}
}

// Speak implements glasses.Session.
func (s *Session) Speak(ctx context.Context, text string) error {
	if !s.caps.HasSpeaker {
		return glasses.ErrNotSupported
	}
	return s.write(ctx, frame{Type: "speak", Text: text})
}

// ShowTextWall implements glasses.Session.
func (s *Session) ShowTextWall(ctx context.Context, text string, duration time.Duration) error {
	if !s.caps.HasDisplay {
		return glasses.ErrNotSupported
	}
	return s.write(ctx, frame{
		Type:       "show_text_wall",
		Text:       text,
		DurationMs: duration.Milliseconds(),
	})
}

// PlayAudio implements glasses.Session.
func (s *Session) PlayAudio(ctx context.Context, url string) error {
	if !s.caps.HasSpeaker {
		return glasses.ErrNotSupported
	}
	return s.write(ctx, frame{Type: "play_audio", URL: url})
}

// StopAudio implements glasses.Session.
func (s *Session) StopAudio(ctx context.Context) error {
	if !s.caps.HasSpeaker {
		return glasses.ErrNotSupported
	}
	return s.write(ctx, frame{Type: "stop_audio"})
}

// LatestLocation implements glasses.Session. It requests fresh coordinates
// and waits for the correlated reply.
func (s *Session) LatestLocation(ctx context.Context) (glasses.Location, error) {
	requestID := "loc_" + gonanoid.Must(21)

	ch := make(chan glasses.Location, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return glasses.Location{}, ErrClosed
	}
	s.locationWaits[requestID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.locationWaits, requestID)
		s.mu.Unlock()
	}()

	if err := s.write(ctx, frame{Type: "request_location", RequestID: requestID}); err != nil {
		return glasses.Location{}, err
	}

	select {
	case <-ctx.Done():
		return glasses.Location{}, ctx.Err()
	case loc := <-ch:
		return loc, nil
	}
}

// write serialises one outbound frame. Frames are serialised on a mutex
// because the websocket allows only one concurrent writer.
func (s *Session) write(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("bridge: marshal %s: %w", f.Type, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("bridge: write %s: %w", f.Type, err)
	}
	return nil
}

// readLoop processes inbound frames until the connection drops. Returns a
// short close reason.
func (s *Session) readLoop(ctx context.Context) string {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return "closed by client"
			}
			if ctx.Err() != nil {
				return "server shutting down"
			}
			return fmt.Sprintf("read error: %v", err)
		}

		switch typ {
		case websocket.MessageText:
			s.handleTextFrame(data)
		case websocket.MessageBinary:
			s.handleBinaryFrame(data)
		}
	}
}

// handleTextFrame dispatches one JSON frame from the glasses app.
func (s *Session) handleTextFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Debug("bridge: malformed frame", "userId", s.userID, "error", err)
		return
	}

	switch f.Type {
	case "transcription":
		ev := glasses.TranscriptionEvent{
			Text:        f.Text,
			IsFinal:     f.IsFinal,
			UtteranceID: f.UtteranceID,
			SpeakerID:   f.SpeakerID,
			Timestamp:   time.Now(),
		}
		for _, fn := range s.transcriptionListeners() {
			fn(ev)
		}

	case "location":
		loc := glasses.Location{
			Lat:      f.Lat,
			Lng:      f.Lng,
			Accuracy: f.Accuracy,
			FixedAt:  time.Now(),
		}
		if f.RequestID != "" {
			s.mu.Lock()
			ch, ok := s.locationWaits[f.RequestID]
			delete(s.locationWaits, f.RequestID)
			s.mu.Unlock()
			if ok {
				ch <- loc
				return
			}
		}
		for _, fn := range s.locationListeners() {
			fn(loc)
		}

	case "notification":
		n := glasses.Notification{Payload: f.Payload}
		for _, fn := range s.notificationListeners() {
			fn(n)
		}

	case "settings_change":
		var value any
		if err := json.Unmarshal(f.Value, &value); err != nil {
			slog.Debug("bridge: malformed settings value", "userId", s.userID, "key", f.Key)
			return
		}
		for _, fn := range s.settingsListeners() {
			fn(f.Key, value)
		}

	case "photo":
		// Metadata first; the image bytes follow as a binary frame.
		s.mu.Lock()
		s.pendingPhoto = &f
		s.mu.Unlock()

	case "photo_error":
		s.mu.Lock()
		ch, ok := s.photoWaits[f.RequestID]
		delete(s.photoWaits, f.RequestID)
		s.mu.Unlock()
		if ok {
			ch <- photoResult{err: fmt.Errorf("bridge: capture failed: %s", f.Error)}
		}

	default:
		slog.Debug("bridge: unknown frame type", "userId", s.userID, "type", f.Type)
	}
}

// handleBinaryFrame pairs image bytes with the preceding metadata frame.
func (s *Session) handleBinaryFrame(data []byte) {
	s.mu.Lock()
	meta := s.pendingPhoto
	s.pendingPhoto = nil
	var ch chan photoResult
	if meta != nil {
		var ok bool
		ch, ok = s.photoWaits[meta.RequestID]
		if ok {
			delete(s.photoWaits, meta.RequestID)
		}
	}
	s.mu.Unlock()

	if meta == nil {
		slog.Debug("bridge: binary frame without metadata", "userId", s.userID, "size", len(data))
		return
	}
	if ch == nil {
		slog.Debug("bridge: photo for unknown request", "userId", s.userID, "requestId", meta.RequestID)
		return
	}

	ch <- photoResult{photo: glasses.Photo{
		RequestID: meta.RequestID,
		Bytes:     data,
		MimeType:  meta.MimeType,
		Filename:  meta.Filename,
		Size:      len(data),
		Taken:     time.Now(),
	}}
}

// failPending wakes every in-flight request with ErrClosed.
func (s *Session) failPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.photoWaits {
		ch <- photoResult{err: ErrClosed}
		delete(s.photoWaits, id)
	}
	for id := range s.locationWaits {
		delete(s.locationWaits, id)
	}
}

func (s *Session) transcriptionListeners() []func(glasses.TranscriptionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(glasses.TranscriptionEvent), 0, len(s.transcription))
	for _, fn := range s.transcription {
		out = append(out, fn)
	}
	return out
}

func (s *Session) locationListeners() []func(glasses.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(glasses.Location), 0, len(s.location))
	for _, fn := range s.location {
		out = append(out, fn)
	}
	return out
}

func (s *Session) notificationListeners() []func(glasses.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(glasses.Notification), 0, len(s.notification))
	for _, fn := range s.notification {
		out = append(out, fn)
	}
	return out
}

func (s *Session) settingsListeners() []func(string, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(string, any), 0, len(s.settings))
	for _, fn := range s.settings {
		out = append(out, fn)
	}
	return out
}
