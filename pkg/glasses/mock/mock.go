// Package mock provides a scriptable test double for the glasses.Session
// interface.
//
// Tests drive the inbound side with EmitTranscription, EmitLocation,
// EmitNotification and EmitSettingsChange, and inspect the outbound side
// through the recorded call slices. Imperative calls can be failed by setting
// the corresponding Err field.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/mentravox/mentravox/pkg/glasses"
)

// SpeakCall records a single invocation of Session.Speak.
type SpeakCall struct {
	Text string
}

// ShowTextWallCall records a single invocation of Session.ShowTextWall.
type ShowTextWallCall struct {
	Text     string
	Duration time.Duration
}

// PlayAudioCall records a single invocation of Session.PlayAudio.
type PlayAudioCall struct {
	URL string
}

// Session is a mock implementation of glasses.Session.
// The zero value is usable; set Caps before handing it to code under test.
type Session struct {
	mu sync.Mutex

	// Caps is returned by Capabilities.
	Caps glasses.Capabilities

	// Photo is returned by CapturePhoto when CapturePhotoErr is nil.
	Photo glasses.Photo

	// Loc is returned by LatestLocation when LatestLocationErr is nil.
	Loc glasses.Location

	// CapturePhotoDelay, when set, makes CapturePhoto wait before returning
	// so tests can exercise context deadlines.
	CapturePhotoDelay time.Duration

	CapturePhotoErr   error
	SpeakErr          error
	ShowTextWallErr   error
	PlayAudioErr      error
	StopAudioErr      error
	LatestLocationErr error

	// --- Call records ---

	SpeakCalls         []SpeakCall
	ShowTextWallCalls  []ShowTextWallCall
	PlayAudioCalls     []PlayAudioCall
	StopAudioCallCount int
	CaptureCallCount   int
	LocationCallCount  int

	transcription map[int]func(glasses.TranscriptionEvent)
	location      map[int]func(glasses.Location)
	notification  map[int]func(glasses.Notification)
	settings      map[int]func(key string, value any)
	nextListener  int
}

// Capabilities returns Caps.
func (s *Session) Capabilities() glasses.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Caps
}

// OnTranscription registers fn and returns its removal function.
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

// OnLocation registers fn and returns its removal function.
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

// OnNotification registers fn and returns its removal function.
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

// OnSettingsChange registers fn and returns its removal function.
func (s *Session) OnSettingsChange(fn func(key string, value any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		s.settings = make(map[int]func(key string, value any))
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

// CapturePhoto records the call, honours CapturePhotoDelay against ctx, and
// returns Photo or CapturePhotoErr.
func (s *Session) CapturePhoto(ctx context.Context) (glasses.Photo, error) {
	s.mu.Lock()
	s.CaptureCallCount++
	delay := s.CapturePhotoDelay
	photo := s.Photo
	err := s.CapturePhotoErr
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return glasses.Photo{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return glasses.Photo{}, err
	}
	return photo, nil
}

// Speak records the call and returns SpeakErr.
func (s *Session) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SpeakCalls = append(s.SpeakCalls, SpeakCall{Text: text})
	return s.SpeakErr
}

// ShowTextWall records the call and returns ShowTextWallErr.
func (s *Session) ShowTextWall(_ context.Context, text string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ShowTextWallCalls = append(s.ShowTextWallCalls, ShowTextWallCall{Text: text, Duration: duration})
	return s.ShowTextWallErr
}

// PlayAudio records the call and returns PlayAudioErr.
func (s *Session) PlayAudio(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayAudioCalls = append(s.PlayAudioCalls, PlayAudioCall{URL: url})
	return s.PlayAudioErr
}

// StopAudio records the call and returns StopAudioErr.
func (s *Session) StopAudio(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopAudioCallCount++
	return s.StopAudioErr
}

// LatestLocation returns Loc or LatestLocationErr.
func (s *Session) LatestLocation(_ context.Context) (glasses.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LocationCallCount++
	if s.LatestLocationErr != nil {
		return glasses.Location{}, s.LatestLocationErr
	}
	return s.Loc, nil
}

// EmitTranscription delivers ev to every registered transcription listener.
func (s *Session) EmitTranscription(ev glasses.TranscriptionEvent) {
	for _, fn := range s.snapshotTranscription() {
		fn(ev)
	}
}

// EmitLocation delivers loc to every registered location listener.
func (s *Session) EmitLocation(loc glasses.Location) {
	s.mu.Lock()
	fns := make([]func(glasses.Location), 0, len(s.location))
	for _, fn := range s.location {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(loc)
	}
}

// EmitNotification delivers n to every registered notification listener.
func (s *Session) EmitNotification(n glasses.Notification) {
	s.mu.Lock()
	fns := make([]func(glasses.Notification), 0, len(s.notification))
	for _, fn := range s.notification {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// EmitSettingsChange delivers a settings change to every registered listener.
func (s *Session) EmitSettingsChange(key string, value any) {
	s.mu.Lock()
	fns := make([]func(string, any), 0, len(s.settings))
	for _, fn := range s.settings {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(key, value)
	}
}

// TranscriptionListenerCount returns the number of live transcription
// listeners. Thread-safe.
func (s *Session) TranscriptionListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcription)
}

func (s *Session) snapshotTranscription() []func(glasses.TranscriptionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fns := make([]func(glasses.TranscriptionEvent), 0, len(s.transcription))
	for _, fn := range s.transcription {
		fns = append(fns, fn)
	}
	return fns
}

// Ensure Session implements glasses.Session at compile time.
var _ glasses.Session = (*Session)(nil)
