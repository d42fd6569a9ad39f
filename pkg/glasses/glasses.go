// Package glasses defines the Session interface for a connected pair of smart
// glasses and the event types the hardware emits.
//
// A Session is the capability object handed to the per-user state by the
// lifecycle controller when the wearable host connects. It exposes the device
// capabilities, callback registration for transcription, location,
// notification and settings-change events, and imperative calls (capture a
// photo, speak, show text, play audio). Everything except attachment and
// detachment treats the Session as read-only; only the lifecycle controller
// replaces it.
//
// Implementations must be safe for concurrent use. Callback registration
// returns a removal function so that a detach can drop exactly the listeners
// it installed; removal functions are idempotent.
package glasses

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned by imperative calls the device cannot perform
// (e.g. CapturePhoto on glasses without a camera).
var ErrNotSupported = errors.New("glasses: operation not supported by device")

// Capabilities describes what a connected device can do.
type Capabilities struct {
	// HasCamera indicates the device can capture photos.
	HasCamera bool

	// HasDisplay indicates the device can render a text wall.
	HasDisplay bool

	// HasSpeaker indicates the device can play synthesized speech and audio.
	HasSpeaker bool

	// ModelName is the hardware model identifier reported by the host.
	ModelName string
}

// Kind maps the capability set to the coarse device class used in lifecycle
// events: "display" when a display is present, otherwise "camera".
func (c Capabilities) Kind() string {
	if c.HasDisplay {
		return "display"
	}
	return "camera"
}

// Session is an open connection to one user's glasses.
//
// Callers must not retain the Session past the lifecycle controller's detach;
// all imperative calls on a closed Session return an error.
type Session interface {
	// Capabilities returns the device capability set. The value is fixed for
	// the lifetime of the session.
	Capabilities() Capabilities

	// OnTranscription registers a callback for speech transcription events.
	// The returned function removes the registration.
	OnTranscription(fn func(TranscriptionEvent)) (remove func())

	// OnLocation registers a callback for location updates pushed by the
	// device.
	OnLocation(fn func(Location)) (remove func())

	// OnNotification registers a callback for phone notifications mirrored
	// through the glasses host.
	OnNotification(fn func(Notification)) (remove func())

	// OnSettingsChange registers a callback for user-settings changes
	// (timezone, metric system, ...). Values are provider-shaped.
	OnSettingsChange(fn func(key string, value any)) (remove func())

	// CapturePhoto requests one photo from the device camera and blocks
	// until the binary arrives or ctx expires.
	CapturePhoto(ctx context.Context) (Photo, error)

	// Speak synthesizes text on the device speakers.
	Speak(ctx context.Context, text string) error

	// ShowTextWall renders text on the display for the given duration.
	ShowTextWall(ctx context.Context, text string, duration time.Duration) error

	// PlayAudio plays the audio file at url on the device speakers.
	PlayAudio(ctx context.Context, url string) error

	// StopAudio stops any in-progress speech or audio playback.
	StopAudio(ctx context.Context) error

	// LatestLocation asks the host for a fresh coordinate.
	LatestLocation(ctx context.Context) (Location, error)
}
