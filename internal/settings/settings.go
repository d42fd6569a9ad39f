// Package settings holds per-user preferences the core depends on: UI theme,
// whether chat turns are persisted, and the wearer's timezone. The store is
// deliberately small key-value state; anything richer belongs to the web
// layer.
package settings

import "context"

// Defaults applied when a user has no stored settings.
const (
	DefaultTheme              = "dark"
	DefaultChatHistoryEnabled = true
)

// Settings is one user's preference set.
type Settings struct {
	Theme              string `json:"theme"`
	ChatHistoryEnabled bool   `json:"chatHistoryEnabled"`
	Timezone           string `json:"timezone,omitempty"`
}

// Default returns the settings applied to unknown users.
func Default() Settings {
	return Settings{
		Theme:              DefaultTheme,
		ChatHistoryEnabled: DefaultChatHistoryEnabled,
	}
}

// Patch is a partial settings update; nil fields are left unchanged.
type Patch struct {
	Theme              *string `json:"theme"`
	ChatHistoryEnabled *bool   `json:"chatHistoryEnabled"`
	Timezone           *string `json:"timezone"`
}

// Apply returns s with the patch's non-nil fields applied.
func (p Patch) Apply(s Settings) Settings {
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.ChatHistoryEnabled != nil {
		s.ChatHistoryEnabled = *p.ChatHistoryEnabled
	}
	if p.Timezone != nil {
		s.Timezone = *p.Timezone
	}
	return s
}

// Store persists per-user settings.
type Store interface {
	// Get returns the user's settings, or defaults when none are stored.
	Get(ctx context.Context, userID string) (Settings, error)

	// Update applies a patch and returns the resulting settings.
	Update(ctx context.Context, userID string, patch Patch) (Settings, error)
}
