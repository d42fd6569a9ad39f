package postgres

import (
	"context"
	"fmt"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mentravox/mentravox/internal/history"
)

// TurnIndex stores embedded chat turns for semantic recall. Vectors are
// computed by the caller (see history.Recall); this type only persists and
// searches them. Obtain one via [Store.TurnIndex].
type TurnIndex struct {
	db querier
}

// IndexTurn implements [history.VectorStore].
func (t *TurnIndex) IndexTurn(ctx context.Context, userID string, turn history.Turn, embedding []float32) error {
	const q = `
		INSERT INTO turn_index
		    (user_id, query, response, had_photo, photo_ref, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := t.db.Exec(ctx, q,
		userID,
		turn.Query,
		turn.Response,
		turn.HadPhoto,
		turn.PhotoRef,
		turn.Timestamp,
		pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("postgres: index turn: %w", err)
	}
	return nil
}

// SearchTurns implements [history.VectorStore]. Results are ordered by
// ascending cosine distance (most similar first).
func (t *TurnIndex) SearchTurns(ctx context.Context, userID string, embedding []float32, k int) ([]history.Turn, error) {
	const q = `
		SELECT query, response, had_photo, photo_ref, created_at
		FROM   turn_index
		WHERE  user_id = $1
		ORDER  BY embedding <=> $2
		LIMIT  $3`

	rows, err := t.db.Query(ctx, q, userID, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: search turns: %w", err)
	}
	defer rows.Close()

	var turns []history.Turn
	for rows.Next() {
		var (
			turn history.Turn
			at   time.Time
		)
		if err := rows.Scan(&turn.Query, &turn.Response, &turn.HadPhoto, &turn.PhotoRef, &at); err != nil {
			return nil, fmt.Errorf("postgres: scan indexed turn: %w", err)
		}
		turn.Timestamp = at
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate indexed turns: %w", err)
	}
	return turns, nil
}

var _ history.VectorStore = (*TurnIndex)(nil)
