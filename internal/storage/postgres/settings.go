package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mentravox/mentravox/internal/settings"
)

// SettingsStore persists per-user settings. Unknown users read as defaults;
// updates upsert. Obtain one via [Store.Settings].
type SettingsStore struct {
	db querier
}

// Get implements [settings.Store].
func (s *SettingsStore) Get(ctx context.Context, userID string) (settings.Settings, error) {
	const q = `
		SELECT theme, chat_history_enabled, timezone
		FROM   user_settings
		WHERE  user_id = $1`

	var out settings.Settings
	err := s.db.QueryRow(ctx, q, userID).Scan(&out.Theme, &out.ChatHistoryEnabled, &out.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return settings.Default(), nil
	}
	if err != nil {
		return settings.Settings{}, fmt.Errorf("postgres: get settings: %w", err)
	}
	return out, nil
}

// Update implements [settings.Store]. The patch is applied to the stored
// settings (or the defaults) and the result written back in one upsert.
func (s *SettingsStore) Update(ctx context.Context, userID string, patch settings.Patch) (settings.Settings, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return settings.Settings{}, err
	}
	next := patch.Apply(current)

	const q = `
		INSERT INTO user_settings (user_id, theme, chat_history_enabled, timezone, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET
		    theme                = EXCLUDED.theme,
		    chat_history_enabled = EXCLUDED.chat_history_enabled,
		    timezone             = EXCLUDED.timezone,
		    updated_at           = now()`

	if _, err := s.db.Exec(ctx, q, userID, next.Theme, next.ChatHistoryEnabled, next.Timezone); err != nil {
		return settings.Settings{}, fmt.Errorf("postgres: update settings: %w", err)
	}
	return next, nil
}
