// Package search provides hybrid retrieval over the knowledge base:
// lexical full-text search in Postgres fused with vector similarity from an
// external index, with transparent fallback to lexical-only when the vector
// index is unreachable.
package search

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/kaiketsu-ai/kaiketsu/internal/model"
)

// Hit is an article reference with a raw retrieval score. The caller
// hydrates full articles from Postgres (source of truth).
type Hit struct {
	ArticleID uuid.UUID
	Score     float64
}

// Searcher is the hybrid retrieval contract consumed by the knowledge
// scorer. Implementations must be safe for concurrent use.
type Searcher interface {
	// HybridSearch returns article hits for the query, ordered by
	// descending raw score, at most topK. category, when non-nil,
	// restricts results to that category.
	HybridSearch(ctx context.Context, query string, category *model.Category, topK int) ([]Hit, error)

	// Healthy returns nil if the retrieval backend is reachable.
	Healthy(ctx context.Context) error
}

// Lexical is the Postgres full-text leg of hybrid search, implemented by
// the storage layer. Scores are ts_rank values (unnormalized).
type Lexical interface {
	SearchArticlesLexical(ctx context.Context, query string, category *model.Category, limit int) ([]Hit, error)
}

// fuse merges the vector and lexical legs with weighted score fusion.
// Lexical ts_rank scores are normalized by the leg's max before weighting so
// both legs contribute on a comparable [0,1] scale. Articles found by both
// legs sum their weighted contributions. Ordering is deterministic: fused
// score descending, then article ID ascending.
func fuse(vector, lexical []Hit, vectorWeight, lexicalWeight float64, topK int) []Hit {
	var lexMax float64
	for _, h := range lexical {
		if h.Score > lexMax {
			lexMax = h.Score
		}
	}

	fused := make(map[uuid.UUID]float64, len(vector)+len(lexical))
	for _, h := range vector {
		fused[h.ArticleID] += vectorWeight * h.Score
	}
	for _, h := range lexical {
		score := h.Score
		if lexMax > 0 {
			score /= lexMax
		}
		fused[h.ArticleID] += lexicalWeight * score
	}

	out := make([]Hit, 0, len(fused))
	for id, score := range fused {
		out = append(out, Hit{ArticleID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ArticleID.String() < out[j].ArticleID.String()
	})

	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
