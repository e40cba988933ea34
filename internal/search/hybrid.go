package search

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kaiketsu-ai/kaiketsu/internal/embedding"
	"github.com/kaiketsu-ai/kaiketsu/internal/model"
)

// Fusion weights for the two retrieval legs. Vector similarity carries most
// of the signal; lexical rank keeps exact-term matches from drowning.
const (
	vectorWeight  = 0.7
	lexicalWeight = 0.3
)

// VectorIndex is the ANN leg of hybrid search (implemented by QdrantIndex).
type VectorIndex interface {
	Query(ctx context.Context, embedding []float32, category *model.Category, limit int) ([]Hit, error)
	Healthy(ctx context.Context) error
}

// Hybrid fuses Postgres lexical search with a vector index.
// vector may be nil (no index configured): retrieval degrades to
// lexical-only, which also happens transparently when the index errors.
type Hybrid struct {
	embedder embedding.Provider
	vector   VectorIndex
	lexical  Lexical
	logger   *slog.Logger
}

// NewHybrid creates a hybrid searcher.
func NewHybrid(embedder embedding.Provider, vector VectorIndex, lexical Lexical, logger *slog.Logger) *Hybrid {
	return &Hybrid{embedder: embedder, vector: vector, lexical: lexical, logger: logger}
}

// HybridSearch runs both legs concurrently and fuses their scores.
// A vector-leg failure (embedding or index) downgrades to lexical-only; a
// lexical-leg failure downgrades to vector-only. Only both legs failing is
// an error.
func (h *Hybrid) HybridSearch(ctx context.Context, query string, category *model.Category, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	var vectorHits, lexicalHits []Hit
	var vectorErr, lexicalErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if h.vector == nil {
			vectorErr = fmt.Errorf("search: no vector index configured")
			return nil
		}
		vec, err := h.embedder.Embed(gctx, query)
		if err != nil {
			vectorErr = fmt.Errorf("search: embed query: %w", err)
			return nil
		}
		vectorHits, vectorErr = h.vector.Query(gctx, vec.Slice(), category, topK)
		return nil
	})
	g.Go(func() error {
		lexicalHits, lexicalErr = h.lexical.SearchArticlesLexical(gctx, query, category, topK)
		return nil
	})
	_ = g.Wait() // leg errors are captured, never returned from the goroutines

	switch {
	case vectorErr != nil && lexicalErr != nil:
		return nil, fmt.Errorf("search: both legs failed: vector: %v; lexical: %w", vectorErr, lexicalErr)
	case vectorErr != nil:
		h.logger.Warn("search: vector leg unavailable, lexical-only results", "error", vectorErr)
		return fuse(nil, lexicalHits, vectorWeight, lexicalWeight, topK), nil
	case lexicalErr != nil:
		h.logger.Warn("search: lexical leg unavailable, vector-only results", "error", lexicalErr)
		return fuse(vectorHits, nil, vectorWeight, lexicalWeight, topK), nil
	}

	return fuse(vectorHits, lexicalHits, vectorWeight, lexicalWeight, topK), nil
}

// Healthy reports the vector index's health; with no index configured the
// searcher is healthy as long as lexical search (Postgres) is, which the
// caller checks separately.
func (h *Hybrid) Healthy(ctx context.Context) error {
	if h.vector == nil {
		return nil
	}
	return h.vector.Healthy(ctx)
}
