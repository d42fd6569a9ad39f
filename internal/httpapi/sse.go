package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mentravox/mentravox/internal/events"
	"github.com/mentravox/mentravox/internal/history"
	"github.com/mentravox/mentravox/internal/ident"
	"github.com/mentravox/mentravox/internal/user"
)

// sseWriteTimeout bounds a single event write so one stalled client cannot
// block a broadcast.
const sseWriteTimeout = 5 * time.Second

// historyReplayAge is how far back chat turns are replayed to a fresh stream.
const historyReplayAge = 24 * time.Hour

// sseSubscriber writes bus events to one SSE connection. Write is called
// both from the stream's own goroutine (heartbeats, replay) and from
// broadcasting goroutines, so all writes serialise on the mutex.
type sseSubscriber struct {
	id string

	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSESubscriber(w http.ResponseWriter) *sseSubscriber {
	return &sseSubscriber{
		id: ident.NewSubscriber(),
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// ID implements events.Subscriber.
func (s *sseSubscriber) ID() string { return s.id }

// Write implements events.Subscriber. The payload is already JSON.
func (s *sseSubscriber) Write(event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Not every ResponseWriter supports write deadlines; those that don't
	// still get the write, just unbounded.
	if err := s.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", event); err != nil {
		return err
	}
	return s.rc.Flush()
}

// writeEvent marshals v and writes it as one SSE frame.
func (s *sseSubscriber) writeEvent(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Write(string(data))
}

// openStream prepares w for server-sent events.
func openStream(w http.ResponseWriter) *sseSubscriber {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return newSSESubscriber(w)
}

// chatStream serves GET /api/chat/stream. The stream opens with a connected
// event, then either the replay of events queued while no stream was
// attached or a snapshot of recent chat history, then an immediate session
// heartbeat followed by periodic ones.
func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}

	sub := openStream(w)
	if err := sub.writeEvent(events.Connected()); err != nil {
		return
	}

	flushed := s.bus.Subscribe(uid, events.TopicChat, sub)
	defer s.bus.Unsubscribe(uid, events.TopicChat, sub.ID())
	slog.Debug("httpapi: chat stream opened", "userId", uid, "flushedPending", flushed)

	recipient := r.URL.Query().Get("recipientId")
	if recipient == "" {
		recipient = user.AgentID
	}

	if !flushed {
		if u, found := s.registry.Get(uid); found {
			if msgs := historyMessages(u, recipient); len(msgs) > 0 {
				if err := sub.writeEvent(events.History(msgs)); err != nil {
					return
				}
			}
		}
	}

	if err := sub.writeEvent(events.SessionHeartbeat(s.hasSession(uid))); err != nil {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			slog.Debug("httpapi: chat stream closed", "userId", uid)
			return
		case <-ticker.C:
			if err := sub.writeEvent(events.SessionHeartbeat(s.hasSession(uid))); err != nil {
				return
			}
		}
	}
}

// transcriptionStream serves GET /api/transcription-stream, mirroring raw
// transcription updates for debugging clients.
func (s *Server) transcriptionStream(w http.ResponseWriter, r *http.Request) {
	s.plainStream(w, r, events.TopicTranscription)
}

// photoStream serves GET /api/photo-stream, announcing captured photos by
// reference.
func (s *Server) photoStream(w http.ResponseWriter, r *http.Request) {
	s.plainStream(w, r, events.TopicPhoto)
}

// plainStream is the shared loop for the transcription and photo streams:
// connected, pending replay, then periodic heartbeats.
func (s *Server) plainStream(w http.ResponseWriter, r *http.Request, topic events.Topic) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}

	sub := openStream(w)
	if err := sub.writeEvent(events.Connected()); err != nil {
		return
	}

	s.bus.Subscribe(uid, topic, sub)
	defer s.bus.Unsubscribe(uid, topic, sub.ID())
	slog.Debug("httpapi: stream opened", "userId", uid, "topic", topic)

	if err := sub.writeEvent(events.Heartbeat()); err != nil {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sub.writeEvent(events.Heartbeat()); err != nil {
				return
			}
		}
	}
}

// hasSession reports whether the user currently has hardware attached.
func (s *Server) hasSession(uid string) bool {
	u, ok := s.registry.Get(uid)
	return ok && u.HasSession()
}

// historyMessages renders the user's recent turns as a replayable message
// list, one user and one assistant message per turn. recipient is the
// assistant id the stream addressed, normally [user.AgentID].
func historyMessages(u *user.User, recipient string) []events.HistoryMessage {
	turns := u.History().RecentTurns(history.DefaultCapacity, historyReplayAge)
	msgs := make([]events.HistoryMessage, 0, len(turns)*2)
	for _, turn := range turns {
		msgs = append(msgs, events.HistoryMessage{
			ID:          ident.NewMessage(),
			SenderID:    u.ID(),
			RecipientID: recipient,
			Content:     turn.Query,
			Timestamp:   turn.Timestamp,
			Image:       turn.PhotoRef,
		})
		msgs = append(msgs, events.HistoryMessage{
			ID:          ident.NewMessage(),
			SenderID:    recipient,
			RecipientID: u.ID(),
			Content:     turn.Response,
			Timestamp:   turn.Timestamp,
		})
	}
	return msgs
}
