package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlChatTurns = `
CREATE TABLE IF NOT EXISTS chat_turns (
    id         BIGSERIAL   PRIMARY KEY,
    user_id    TEXT        NOT NULL,
    day        TEXT        NOT NULL,
    query      TEXT        NOT NULL,
    response   TEXT        NOT NULL,
    had_photo  BOOLEAN     NOT NULL DEFAULT FALSE,
    photo_ref  TEXT        NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_turns_user_day
    ON chat_turns (user_id, day);

CREATE INDEX IF NOT EXISTS idx_chat_turns_created_at
    ON chat_turns (created_at);
`

const ddlUserSettings = `
CREATE TABLE IF NOT EXISTS user_settings (
    user_id              TEXT        PRIMARY KEY,
    theme                TEXT        NOT NULL,
    chat_history_enabled BOOLEAN     NOT NULL,
    timezone             TEXT        NOT NULL DEFAULT '',
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// ddlTurnIndex is parameterised with the embedding dimension; created only
// when an embeddings provider is configured.
const ddlTurnIndex = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turn_index (
    id         BIGSERIAL   PRIMARY KEY,
    user_id    TEXT        NOT NULL,
    query      TEXT        NOT NULL,
    response   TEXT        NOT NULL,
    had_photo  BOOLEAN     NOT NULL DEFAULT FALSE,
    photo_ref  TEXT        NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    embedding  vector(%d)  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turn_index_user
    ON turn_index (user_id);

CREATE INDEX IF NOT EXISTS idx_turn_index_embedding
    ON turn_index USING hnsw (embedding vector_cosine_ops);
`

// Migrate ensures all tables and indexes exist. The turn_index table is only
// created when embeddingDimensions is positive; changing the dimension after
// first migration requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	stmts := []string{ddlChatTurns, ddlUserSettings}
	if embeddingDimensions > 0 {
		stmts = append(stmts, fmt.Sprintf(ddlTurnIndex, embeddingDimensions))
	}
	for _, ddl := range stmts {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("exec ddl: %w", err)
		}
	}
	return nil
}
