// Package knowledge scores knowledge-base articles against a classified
// ticket. Retrieval scores from hybrid search are adjusted by boosts derived
// from article usage statistics, so answers that resolved tickets before
// rank ahead of equally relevant but unproven ones.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kaiketsu-ai/kaiketsu/internal/model"
	"github.com/kaiketsu-ai/kaiketsu/internal/search"
)

// Boost multipliers applied to raw retrieval scores.
const (
	categoryBoost   = 1.2  // article category matches the classified category
	popularityBoost = 1.1  // resolution_count above popularityCutoff
	ratingBoost     = 1.05 // rating above ratingCutoff

	popularityCutoff = 50
	ratingCutoff     = 4.0
)

// ArticleStore hydrates full articles for the IDs returned by search.
type ArticleStore interface {
	GetArticlesByIDs(ctx context.Context, ids []uuid.UUID) ([]model.KnowledgeArticle, error)
}

// Scorer retrieves and ranks candidate articles for a classified ticket.
type Scorer struct {
	searcher  search.Searcher
	store     ArticleStore
	topK      int
	filterMin float64 // classification confidence required to filter by category
	timeout   time.Duration
	logger    *slog.Logger
}

// NewScorer creates a scorer. topK caps the number of matches returned;
// filterMin is the classification confidence below which the category filter
// is skipped (an uncertain category would hide the right article).
func NewScorer(searcher search.Searcher, store ArticleStore, topK int, filterMin float64, timeout time.Duration, logger *slog.Logger) *Scorer {
	if topK <= 0 {
		topK = 5
	}
	return &Scorer{
		searcher:  searcher,
		store:     store,
		topK:      topK,
		filterMin: filterMin,
		timeout:   timeout,
		logger:    logger,
	}
}

// Score retrieves candidate articles and returns them ranked by adjusted
// score. Retrieval failure is non-fatal: it returns empty matches together
// with the error so the caller can record it and continue; the pipeline then
// escalates on the weak-match signal rather than aborting the run.
func (s *Scorer) Score(ctx context.Context, ticket model.Ticket, c model.Classification) ([]model.ScoredMatch, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	query := buildQuery(ticket, c)

	var category *model.Category
	if c.Confidence >= s.filterMin && model.ValidCategory(c.Category) {
		category = &c.Category
	}

	hits, err := s.searcher.HybridSearch(ctx, query, category, s.topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(hits))
	rawByID := make(map[uuid.UUID]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ArticleID
		rawByID[h.ArticleID] = h.Score
	}

	articles, err := s.store.GetArticlesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("knowledge: hydrate articles: %w", err)
	}
	if len(articles) < len(ids) {
		s.logger.Warn("knowledge: search returned stale article IDs",
			"requested", len(ids), "found", len(articles))
	}

	matches := make([]model.ScoredMatch, 0, len(articles))
	for _, a := range articles {
		raw := rawByID[a.ID]
		matches = append(matches, model.ScoredMatch{
			Article:       a,
			RawScore:      raw,
			AdjustedScore: raw * boostFor(a, c.Category),
		})
	}

	sortMatches(matches)
	if len(matches) > s.topK {
		matches = matches[:s.topK]
	}
	return matches, nil
}

// maxQueryLen caps the search text so oversized ticket bodies don't blow up
// tsquery parsing or the embedding call.
const maxQueryLen = 500

// buildQuery concatenates subject, body, and the classified category into
// the search text, whitespace-collapsed. The category rides along as a
// "category:<value>" token so both retrieval legs see it even when the
// confidence is too low for a hard filter.
func buildQuery(ticket model.Ticket, c model.Classification) string {
	parts := []string{ticket.Subject, ticket.Body}
	if model.ValidCategory(c.Category) {
		parts = append(parts, "category:"+string(c.Category))
	}
	query := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if len(query) > maxQueryLen {
		query = query[:maxQueryLen]
	}
	return query
}

// boostFor returns the combined multiplier for an article. Boosts compound.
func boostFor(a model.KnowledgeArticle, category model.Category) float64 {
	boost := 1.0
	if a.Category == category {
		boost *= categoryBoost
	}
	if a.ResolutionCount > popularityCutoff {
		boost *= popularityBoost
	}
	if a.Rating > ratingCutoff {
		boost *= ratingBoost
	}
	return boost
}

// sortMatches orders deterministically: adjusted score descending, then raw
// score descending, then resolution count descending, then article ID
// ascending.
func sortMatches(matches []model.ScoredMatch) {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.AdjustedScore != b.AdjustedScore {
			return a.AdjustedScore > b.AdjustedScore
		}
		if a.RawScore != b.RawScore {
			return a.RawScore > b.RawScore
		}
		if a.Article.ResolutionCount != b.Article.ResolutionCount {
			return a.Article.ResolutionCount > b.Article.ResolutionCount
		}
		return a.Article.ID.String() < b.Article.ID.String()
	})
}
