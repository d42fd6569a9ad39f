package glasses

import (
	"encoding/json"
	"time"
)

// TranscriptionEvent is one speech-to-text update from the wearable host.
//
// Within one UtteranceID the Text is cumulative — each event replaces the
// previous text of that utterance; across utterance ids the text restarts.
// Events arrive in delivery order. UtteranceID and SpeakerID are optional;
// hosts that do not segment utterances leave UtteranceID empty and the
// IsFinal edge is the only boundary.
type TranscriptionEvent struct {
	// Text is the transcript so far for the current utterance.
	Text string `json:"text"`

	// IsFinal marks the last event of an utterance.
	IsFinal bool `json:"isFinal"`

	// UtteranceID identifies the utterance this event belongs to, if the
	// provider segments utterances.
	UtteranceID string `json:"utteranceId,omitempty"`

	// SpeakerID is a pass-through diarisation label, if provided.
	SpeakerID string `json:"speakerId,omitempty"`

	// Timestamp is when the host produced the event.
	Timestamp time.Time `json:"timestamp"`
}

// Location is a device coordinate fix.
type Location struct {
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Accuracy float64   `json:"accuracy,omitempty"`
	FixedAt  time.Time `json:"fixedAt"`
}

// Notification is a phone notification mirrored by the glasses host. The
// payload is opaque to the core — it is queued, aged out, and stringified for
// prompt inclusion, never interpreted.
type Notification struct {
	Payload json.RawMessage `json:"payload"`
}

// String returns the raw payload for prompt inclusion.
func (n Notification) String() string {
	return string(n.Payload)
}

// Photo is one captured camera frame with its binary payload.
type Photo struct {
	// RequestID correlates the capture request with the delivered binary.
	RequestID string `json:"requestId"`

	Bytes    []byte    `json:"-"`
	MimeType string    `json:"mimeType"`
	Filename string    `json:"filename,omitempty"`
	Size     int       `json:"size"`
	Taken    time.Time `json:"taken"`
}
