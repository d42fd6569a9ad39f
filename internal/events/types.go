package events

import "time"

// Topic identifies one of the three per-user fan-out channels.
type Topic string

const (
	TopicChat          Topic = "chat"
	TopicTranscription Topic = "transcription"
	TopicPhoto         Topic = "photo"
)

// Chat event types as they appear on the wire.
const (
	TypeConnected           = "connected"
	TypeHistory             = "history"
	TypeMessage             = "message"
	TypeProcessing          = "processing"
	TypeIdle                = "idle"
	TypeSessionStarted      = "session_started"
	TypeSessionReconnecting = "session_reconnecting"
	TypeSessionReconnected  = "session_reconnected"
	TypeSessionEnded        = "session_ended"
	TypeSessionHeartbeat    = "session_heartbeat"
	TypeHeartbeat           = "heartbeat"
	TypeTranscription       = "transcription"
)

// ChatEvent is the envelope for every topic-chat event. Only the fields
// relevant to the Type are populated; use the constructors below.
type ChatEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	ID          string `json:"id,omitempty"`
	SenderID    string `json:"senderId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	Content     string `json:"content,omitempty"`

	// Image is an opaque photo reference (request id), never binary data.
	Image string `json:"image,omitempty"`

	Messages []HistoryMessage `json:"messages,omitempty"`

	GlassesType string `json:"glassesType,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Active      *bool  `json:"active,omitempty"`
}

// HistoryMessage is one entry of a history replay.
type HistoryMessage struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId,omitempty"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Image       string    `json:"image,omitempty"`
}

// Connected is the first event on any freshly opened stream.
func Connected() ChatEvent {
	return ChatEvent{Type: TypeConnected, Timestamp: time.Now()}
}

// History replays stored chat turns to a new subscriber.
func History(messages []HistoryMessage) ChatEvent {
	return ChatEvent{Type: TypeHistory, Timestamp: time.Now(), Messages: messages}
}

// Message is one chat message from either the user or the assistant.
func Message(id, senderID, recipientID, content, image string) ChatEvent {
	return ChatEvent{
		Type:        TypeMessage,
		Timestamp:   time.Now(),
		ID:          id,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Image:       image,
	}
}

// Processing signals that a query pipeline has started.
func Processing() ChatEvent {
	return ChatEvent{Type: TypeProcessing, Timestamp: time.Now()}
}

// Idle signals that the query pipeline has finished.
func Idle() ChatEvent {
	return ChatEvent{Type: TypeIdle, Timestamp: time.Now()}
}

// SessionStarted announces a fresh hardware connection.
func SessionStarted(glassesType string) ChatEvent {
	return ChatEvent{Type: TypeSessionStarted, Timestamp: time.Now(), GlassesType: glassesType}
}

// SessionReconnecting announces a hardware disconnect within the grace period.
func SessionReconnecting(reason string) ChatEvent {
	return ChatEvent{Type: TypeSessionReconnecting, Timestamp: time.Now(), Reason: reason}
}

// SessionReconnected announces a hardware reconnect within the grace period.
func SessionReconnected(glassesType string) ChatEvent {
	return ChatEvent{Type: TypeSessionReconnected, Timestamp: time.Now(), GlassesType: glassesType}
}

// SessionEnded announces the hard end of a session after the grace period.
func SessionEnded(reason string) ChatEvent {
	return ChatEvent{Type: TypeSessionEnded, Timestamp: time.Now(), Reason: reason}
}

// SessionHeartbeat carries stream liveness plus whether hardware is attached.
func SessionHeartbeat(active bool) ChatEvent {
	return ChatEvent{Type: TypeSessionHeartbeat, Timestamp: time.Now(), Active: &active}
}

// Heartbeat is the liveness tick for the transcription and photo streams.
func Heartbeat() ChatEvent {
	return ChatEvent{Type: TypeHeartbeat, Timestamp: time.Now()}
}

// TranscriptionEvent mirrors raw transcription events onto the debugging
// stream.
type TranscriptionEvent struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	SpeakerID string    `json:"speakerId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcription wraps one raw transcription update for the stream.
func Transcription(text string, isFinal bool, speakerID string) TranscriptionEvent {
	return TranscriptionEvent{
		Type:      TypeTranscription,
		Text:      text,
		IsFinal:   isFinal,
		SpeakerID: speakerID,
		Timestamp: time.Now(),
	}
}

// PhotoEvent announces a captured photo by reference. Raw bytes never travel
// over the bus; clients fetch the binary by request id.
type PhotoEvent struct {
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
	MimeType  string    `json:"mimeType"`
	Filename  string    `json:"filename,omitempty"`
	Size      int       `json:"size"`
	UserID    string    `json:"userId"`
}
