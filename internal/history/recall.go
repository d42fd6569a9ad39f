package history

import (
	"context"
	"fmt"

	"github.com/mentravox/mentravox/pkg/provider/embeddings"
)

// VectorStore persists embedded turns and searches them by vector similarity.
// Implemented by the Postgres turn index; tests provide their own.
type VectorStore interface {
	IndexTurn(ctx context.Context, userID string, turn Turn, embedding []float32) error
	SearchTurns(ctx context.Context, userID string, embedding []float32, k int) ([]Turn, error)
}

// Recall ties an embeddings provider to a vector store so past turns can be
// retrieved from a paraphrased follow-up days later. Both dependencies are
// required; when either is unconfigured the feature is absent and no Recall
// is constructed.
type Recall struct {
	embedder embeddings.Provider
	store    VectorStore
}

// NewRecall creates a Recall. Returns nil when either dependency is nil so
// callers can pass the result straight to [WithRecall].
func NewRecall(embedder embeddings.Provider, store VectorStore) *Recall {
	if embedder == nil || store == nil {
		return nil
	}
	return &Recall{embedder: embedder, store: store}
}

// IndexTurn embeds the turn's query and response together and stores the
// vector.
func (r *Recall) IndexTurn(ctx context.Context, userID string, turn Turn) error {
	vec, err := r.embedder.Embed(ctx, turn.Query+"\n"+turn.Response)
	if err != nil {
		return fmt.Errorf("history: embed turn: %w", err)
	}
	if err := r.store.IndexTurn(ctx, userID, turn, vec); err != nil {
		return fmt.Errorf("history: index turn: %w", err)
	}
	return nil
}

// SearchTurns returns up to k past turns semantically similar to query, most
// similar first.
func (r *Recall) SearchTurns(ctx context.Context, userID, query string, k int) ([]Turn, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("history: embed query: %w", err)
	}
	turns, err := r.store.SearchTurns(ctx, userID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("history: search turns: %w", err)
	}
	return turns, nil
}
