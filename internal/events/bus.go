// Package events implements the per-user event bus that carries session
// lifecycle, transcription and photo events from the write paths (pipeline,
// lifecycle controller, stores) to the server-push subscribers.
//
// State is held per (userId, topic): a set of subscribers and a FIFO of
// pending serialised events. Broadcasts while no subscriber is attached are
// queued (bounded, drop-oldest) and drained into the first subscriber of that
// topic, which lets a browser that joins mid-query replay the in-flight turn.
//
// Ordering guarantee: the per-topic lock is held both while writing a
// broadcast to the subscriber set and while draining the pending queue into a
// new subscriber, so no event broadcast before Subscribe returns can arrive
// interleaved with events broadcast after.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// PendingLimit caps each pending FIFO; the oldest event is dropped when a
// broadcast would exceed it.
const PendingLimit = 200

// Subscriber receives serialised events for one (userId, topic) pair.
//
// Write is called with the per-topic lock held and must therefore bound its
// own blocking (the server-push transport applies a write deadline). A Write
// error removes the subscriber; removal is silent and idempotent.
type Subscriber interface {
	// ID uniquely identifies the subscriber within its topic.
	ID() string

	// Write delivers one serialised event.
	Write(event string) error
}

// Recorder receives bus activity counts. Implementations must be safe for
// concurrent use; a nil Recorder disables instrumentation.
type Recorder interface {
	EventBroadcast(topic string, delivered int)
	EventQueued(topic string)
	SubscriberRemoved(topic string)
}

type busKey struct {
	userID string
	topic  Topic
}

type topicState struct {
	mu      sync.Mutex
	subs    map[string]Subscriber
	pending []string
}

// Bus is the process-wide event fan-out. All methods are safe for concurrent
// use; no per-user lock is required by callers.
type Bus struct {
	mu     sync.Mutex
	topics map[busKey]*topicState

	recorder Recorder
}

// NewBus returns an empty Bus. recorder may be nil.
func NewBus(recorder Recorder) *Bus {
	return &Bus{
		topics:   make(map[busKey]*topicState),
		recorder: recorder,
	}
}

// state returns the per-(user, topic) state, creating it when create is set.
func (b *Bus) state(userID string, topic Topic, create bool) *topicState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.topics[busKey{userID, topic}]
	if !ok && create {
		st = &topicState{subs: make(map[string]Subscriber)}
		b.topics[busKey{userID, topic}] = st
	}
	return st
}

// Broadcast serialises event and delivers it to every subscriber of
// (userID, topic). With no subscribers attached the event is queued instead.
// Subscribers whose Write fails are removed. Returns the number of
// subscribers written successfully; a queued event counts as zero.
func (b *Bus) Broadcast(userID string, topic Topic, event any) int {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("events: marshal broadcast", "userId", userID, "topic", topic, "err", err)
		return 0
	}
	s := string(data)

	st := b.state(userID, topic, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.subs) == 0 {
		if len(st.pending) >= PendingLimit {
			st.pending = st.pending[1:]
		}
		st.pending = append(st.pending, s)
		if b.recorder != nil {
			b.recorder.EventQueued(string(topic))
		}
		return 0
	}

	delivered := 0
	for id, sub := range st.subs {
		if err := sub.Write(s); err != nil {
			slog.Debug("events: subscriber write failed, removing",
				"userId", userID, "topic", topic, "subscriberId", id, "err", err)
			delete(st.subs, id)
			if b.recorder != nil {
				b.recorder.SubscriberRemoved(string(topic))
			}
			continue
		}
		delivered++
	}
	if b.recorder != nil {
		b.recorder.EventBroadcast(string(topic), delivered)
	}
	return delivered
}

// Subscribe registers sub for (userID, topic). When the pending FIFO is
// non-empty it is drained into sub in order, cleared, and flushedPending is
// true. Events queued during the drain are observed by sub afterwards.
func (b *Bus) Subscribe(userID string, topic Topic, sub Subscriber) (flushedPending bool) {
	st := b.state(userID, topic, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.subs[sub.ID()] = sub

	if len(st.pending) == 0 {
		return false
	}
	for _, s := range st.pending {
		if err := sub.Write(s); err != nil {
			slog.Debug("events: pending flush write failed, removing",
				"userId", userID, "topic", topic, "subscriberId", sub.ID(), "err", err)
			delete(st.subs, sub.ID())
			break
		}
	}
	st.pending = nil
	return true
}

// Unsubscribe removes the subscriber with the given id. Unknown ids are a
// no-op.
func (b *Bus) Unsubscribe(userID string, topic Topic, id string) {
	st := b.state(userID, topic, false)
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.subs, id)
}

// ClearPending drops queued events for the user. With no topics given, all
// three topics are cleared. Invoked on hard session end so that a permanent
// disconnect cannot grow queues without bound.
func (b *Bus) ClearPending(userID string, topics ...Topic) {
	if len(topics) == 0 {
		topics = []Topic{TopicChat, TopicTranscription, TopicPhoto}
	}
	for _, topic := range topics {
		st := b.state(userID, topic, false)
		if st == nil {
			continue
		}
		st.mu.Lock()
		st.pending = nil
		st.mu.Unlock()
	}
}

// SubscriberCount returns the number of live subscribers for (userID, topic).
func (b *Bus) SubscriberCount(userID string, topic Topic) int {
	st := b.state(userID, topic, false)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}

// PendingCount returns the number of queued events for (userID, topic).
func (b *Bus) PendingCount(userID string, topic Topic) int {
	st := b.state(userID, topic, false)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.pending)
}
