package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mentravox/mentravox/internal/agent"
	"github.com/mentravox/mentravox/internal/events"
	"github.com/mentravox/mentravox/internal/ident"
	"github.com/mentravox/mentravox/internal/speech"
	"github.com/mentravox/mentravox/pkg/glasses"
)

// ErrNoSession is returned when an operation needs attached hardware and
// there is none.
var ErrNoSession = errors.New("user: no hardware session attached")

// Apology texts spoken when a query cannot be answered normally.
const (
	apologyNoSession = "I can't reach your glasses right now. Please check the connection and try again."
	apologyAgent     = "Sorry, I couldn't come up with an answer just now. Please try again."
)

// outputTimeout bounds each hardware output call (display, speech).
const outputTimeout = 10 * time.Second

// notificationContext is how many recent phone notifications enter the prompt.
const notificationContext = 5

// historyContextAge is how far back recent turns are pulled into the prompt.
const historyContextAge = time.Hour

// HandleQuery runs the full query pipeline for one spoken query and returns
// the response text. Pipelines for the same user run strictly one at a time;
// a wake word spoken mid-answer accumulates concurrently and runs after the
// in-flight turn finishes.
//
// Event ordering on the chat stream is part of the contract: processing, then
// the user message, then the assistant message, then idle. The user message
// is broadcast before the agent call starts, and the assistant message before
// the turn is recorded in history.
func (u *User) HandleQuery(ctx context.Context, query, speakerID string) string {
	sess := u.Session()
	if sess == nil {
		slog.Warn("user: query with no hardware session", "userId", u.id)
		return apologyNoSession
	}

	u.pipelineMu.Lock()
	defer u.pipelineMu.Unlock()

	start := time.Now()
	caps := sess.Capabilities()
	slog.Info("user: query started",
		"userId", u.id, "query", query, "speakerId", speakerID, "glasses", caps.Kind())

	u.bus.Broadcast(u.id, events.TopicChat, events.Processing())

	if u.cfg.ProcessingSoundURL != "" && caps.HasSpeaker {
		go func() {
			pctx, cancel := context.WithTimeout(context.Background(), outputTimeout)
			defer cancel()
			if err := sess.PlayAudio(pctx, u.cfg.ProcessingSoundURL); err != nil {
				slog.Debug("user: processing sound failed", "userId", u.id, "error", err)
			}
		}()
	}

	var photos [][]byte
	var photoRef string
	if caps.HasCamera {
		p, err := u.photos.Capture(ctx)
		if err != nil {
			slog.Warn("user: photo capture failed", "userId", u.id, "error", err)
		} else {
			photoRef = p.RequestID
			photos = u.photos.ContextBytes()
			u.metrics.RecordPhotoCaptured(ctx)
		}
	}

	var locStr string
	if snap, ok := u.location.Refresh(ctx, query); ok {
		if snap.Place != "" {
			locStr = snap.Place
		} else {
			locStr = fmt.Sprintf("%.4f, %.4f", snap.Lat, snap.Lng)
		}
	}
	localTime, tz := u.location.LocalTime()

	related, err := u.history.SearchTurns(ctx, query, u.cfg.RecallLimit)
	if err != nil {
		slog.Debug("user: history recall failed", "userId", u.id, "error", err)
	}

	agentCtx := agent.Context{
		HasDisplay:          caps.HasDisplay,
		HasSpeakers:         caps.HasSpeaker,
		HasCamera:           caps.HasCamera,
		Location:            locStr,
		LocalTime:           localTime,
		Timezone:            tz,
		Notifications:       u.notifications.FormatForPrompt(notificationContext),
		ConversationHistory: u.history.RecentTurns(u.cfg.HistoryContext, historyContextAge),
		RelatedHistory:      related,
	}

	u.bus.Broadcast(u.id, events.TopicChat,
		events.Message(ident.NewMessage(), u.id, AgentID, query, photoRef))

	agentStart := time.Now()
	response, err := u.agent.Generate(ctx, query, photos, agentCtx)
	apologised := err != nil
	u.metrics.RecordAgentCall(ctx, time.Since(agentStart).Seconds(), apologised)
	if err != nil {
		slog.Error("user: agent generate failed", "userId", u.id, "error", err)
		response = apologyAgent
	}

	u.deliver(sess, caps, response)

	u.bus.Broadcast(u.id, events.TopicChat,
		events.Message(ident.NewMessage(), AgentID, u.id, response, ""))

	u.history.AddTurn(query, response, photoRef != "", photoRef)

	u.bus.Broadcast(u.id, events.TopicChat, events.Idle())
	u.metrics.RecordQuery(ctx, time.Since(start).Seconds(), apologised)
	slog.Info("user: query finished",
		"userId", u.id, "duration", time.Since(start), "apologised", apologised)

	return response
}

// deliver pushes the response to the hardware outputs the device has. Output
// failures are logged and never fail the pipeline; the chat stream still
// carries the response. Speaker-only devices get a text rendering tuned for
// speech synthesis.
func (u *User) deliver(sess glasses.Session, caps glasses.Capabilities, response string) {
	spoken := response
	if caps.HasSpeaker && !caps.HasDisplay {
		spoken = speech.ForTTS(response)
	}

	if caps.HasDisplay {
		ctx, cancel := context.WithTimeout(context.Background(), outputTimeout)
		if err := sess.ShowTextWall(ctx, response, u.cfg.DisplayDuration); err != nil {
			slog.Warn("user: display output failed", "userId", u.id, "error", err)
		}
		cancel()
	}
	if caps.HasSpeaker {
		ctx, cancel := context.WithTimeout(context.Background(), outputTimeout)
		if err := sess.Speak(ctx, spoken); err != nil {
			slog.Warn("user: speech output failed", "userId", u.id, "error", err)
		}
		cancel()
	}
}
