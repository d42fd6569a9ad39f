package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/mentravox/mentravox/internal/events"
	"github.com/mentravox/mentravox/internal/observe"
	"github.com/mentravox/mentravox/pkg/glasses"
)

// welcomeTimeout bounds the welcome sound playback call.
const welcomeTimeout = 10 * time.Second

// Lifecycle reacts to hardware connect and disconnect. It decides whether a
// connect is fresh or a reconnect within the grace period, wires the session
// into the User, and announces the transition on the chat stream.
type Lifecycle struct {
	registry *Registry
	bus      *events.Bus
	metrics  *observe.Metrics

	// WelcomeSoundURL, when set, is played once on a fresh connection to
	// glasses with speakers.
	WelcomeSoundURL string
}

// NewLifecycle creates a lifecycle controller. metrics may be nil.
func NewLifecycle(registry *Registry, bus *events.Bus, metrics *observe.Metrics) *Lifecycle {
	return &Lifecycle{registry: registry, bus: bus, metrics: metrics}
}

// OnSessionStart handles a hardware connection for userID.
//
// The removal cancellation runs before the user lookup so a connect that
// races the grace timer is classified correctly: a cancelled pending removal
// means this is a reconnect and the one-time initialisation is skipped.
func (l *Lifecycle) OnSessionStart(ctx context.Context, userID string, sess glasses.Session) {
	wasReconnect := l.registry.CancelRemoval(userID)
	u, created := l.registry.GetOrCreate(userID)
	if !wasReconnect {
		u.Initialize(ctx)
	}
	u.SetAppSession(sess)
	l.metrics.SessionAttached(ctx, 1)

	caps := sess.Capabilities()
	if wasReconnect {
		slog.Info("session: reconnected within grace period",
			"userId", userID, "glasses", caps.Kind())
		l.bus.Broadcast(userID, events.TopicChat, events.SessionReconnected(caps.Kind()))
		return
	}

	slog.Info("session: started",
		"userId", userID, "glasses", caps.Kind(), "created", created)
	l.bus.Broadcast(userID, events.TopicChat, events.SessionStarted(caps.Kind()))

	if l.WelcomeSoundURL != "" && caps.HasSpeaker {
		go func() {
			wctx, cancel := context.WithTimeout(context.Background(), welcomeTimeout)
			defer cancel()
			if err := sess.PlayAudio(wctx, l.WelcomeSoundURL); err != nil {
				slog.Debug("session: welcome sound failed", "userId", userID, "error", err)
			}
		}()
	}
}

// OnSessionStop handles a hardware disconnect for userID. The user's state
// and queued events are preserved for the grace period; only the expiry of
// that period announces session_ended.
func (l *Lifecycle) OnSessionStop(userID, reason string) {
	u, ok := l.registry.Get(userID)
	if !ok {
		return
	}
	wasAttached := u.HasSession()
	u.ClearAppSession()
	if wasAttached {
		l.metrics.SessionAttached(context.Background(), -1)
	}

	slog.Info("session: stopped, awaiting reconnect", "userId", userID, "reason", reason)
	l.bus.Broadcast(userID, events.TopicChat, events.SessionReconnecting(reason))
	l.registry.SoftRemove(userID)
}
