package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/mentravox/mentravox/internal/history"
)

// HistoryStore is the durable chat-turn backend. Appends are keyed by
// (userID, calendar day) so a day's conversation can be fetched as one
// document. Obtain one via [Store.History].
type HistoryStore struct {
	db querier
}

// AppendTurn implements [history.Store].
func (h *HistoryStore) AppendTurn(ctx context.Context, userID, day string, turn history.Turn) error {
	const q = `
		INSERT INTO chat_turns
		    (user_id, day, query, response, had_photo, photo_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := h.db.Exec(ctx, q,
		userID,
		day,
		turn.Query,
		turn.Response,
		turn.HadPhoto,
		turn.PhotoRef,
		turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append turn: %w", err)
	}
	return nil
}

// TurnsForDay returns the stored turns for one (userID, day), oldest first.
func (h *HistoryStore) TurnsForDay(ctx context.Context, userID, day string) ([]history.Turn, error) {
	const q = `
		SELECT query, response, had_photo, photo_ref, created_at
		FROM   chat_turns
		WHERE  user_id = $1 AND day = $2
		ORDER  BY created_at`

	rows, err := h.db.Query(ctx, q, userID, day)
	if err != nil {
		return nil, fmt.Errorf("postgres: turns for day: %w", err)
	}
	defer rows.Close()

	var turns []history.Turn
	for rows.Next() {
		var (
			t  history.Turn
			at time.Time
		)
		if err := rows.Scan(&t.Query, &t.Response, &t.HadPhoto, &t.PhotoRef, &at); err != nil {
			return nil, fmt.Errorf("postgres: scan turn: %w", err)
		}
		t.Timestamp = at
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate turns: %w", err)
	}
	return turns, nil
}
