package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaiketsu-ai/kaiketsu/internal/model"
	"github.com/kaiketsu-ai/kaiketsu/internal/search"
)

type fakeSearcher struct {
	hits     []search.Hit
	err      error
	query    string
	category *model.Category
	topK     int
}

func (f *fakeSearcher) HybridSearch(ctx context.Context, query string, category *model.Category, topK int) ([]search.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.query = query
	f.category = category
	f.topK = topK
	return f.hits, f.err
}

func (f *fakeSearcher) Healthy(context.Context) error { return nil }

type fakeStore struct {
	articles map[uuid.UUID]model.KnowledgeArticle
	err      error
}

func (f *fakeStore) GetArticlesByIDs(_ context.Context, ids []uuid.UUID) ([]model.KnowledgeArticle, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.KnowledgeArticle
	for _, id := range ids {
		if a, ok := f.articles[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func newTestScorer(searcher search.Searcher, store ArticleStore) *Scorer {
	return NewScorer(searcher, store, 5, 0.6, time.Second, slog.New(slog.DiscardHandler))
}

func article(category model.Category, resolutionCount int, rating float64) model.KnowledgeArticle {
	return model.KnowledgeArticle{
		ID:              uuid.New(),
		Title:           "article",
		Content:         "content",
		Category:        category,
		ResolutionCount: resolutionCount,
		Rating:          rating,
	}
}

func classification(category model.Category, confidence float64) model.Classification {
	return model.Classification{Category: category, Priority: model.PriorityMedium, Confidence: confidence}
}

func TestScoreBoosts(t *testing.T) {
	ctx := context.Background()
	ticket := model.Ticket{Subject: "billing question", Body: "charged twice"}

	tests := []struct {
		name    string
		article model.KnowledgeArticle
		want    float64 // adjusted score for a raw score of 0.5
	}{
		{name: "no boosts", article: article(model.CategoryTechnical, 10, 3.0), want: 0.5},
		{name: "category boost", article: article(model.CategoryBilling, 10, 3.0), want: 0.5 * 1.2},
		{name: "popularity boost", article: article(model.CategoryTechnical, 51, 3.0), want: 0.5 * 1.1},
		{name: "rating boost", article: article(model.CategoryTechnical, 10, 4.5), want: 0.5 * 1.05},
		{name: "all boosts compound", article: article(model.CategoryBilling, 51, 4.5), want: 0.5 * 1.2 * 1.1 * 1.05},
		{name: "cutoffs are exclusive", article: article(model.CategoryTechnical, 50, 4.0), want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{hits: []search.Hit{{ArticleID: tt.article.ID, Score: 0.5}}}
			store := &fakeStore{articles: map[uuid.UUID]model.KnowledgeArticle{tt.article.ID: tt.article}}

			matches, err := newTestScorer(searcher, store).Score(ctx, ticket, classification(model.CategoryBilling, 0.9))
			require.NoError(t, err)
			require.Len(t, matches, 1)
			assert.InDelta(t, 0.5, matches[0].RawScore, 1e-9)
			assert.InDelta(t, tt.want, matches[0].AdjustedScore, 1e-9)
		})
	}
}

func TestScoreCategoryFilter(t *testing.T) {
	ctx := context.Background()
	ticket := model.Ticket{Subject: "invoice", Body: "question"}
	a := article(model.CategoryBilling, 0, 0)
	store := &fakeStore{articles: map[uuid.UUID]model.KnowledgeArticle{a.ID: a}}

	t.Run("applied at high confidence", func(t *testing.T) {
		searcher := &fakeSearcher{hits: []search.Hit{{ArticleID: a.ID, Score: 0.5}}}
		_, err := newTestScorer(searcher, store).Score(ctx, ticket, classification(model.CategoryBilling, 0.6))
		require.NoError(t, err)
		require.NotNil(t, searcher.category)
		assert.Equal(t, model.CategoryBilling, *searcher.category)
	})

	t.Run("skipped at low confidence", func(t *testing.T) {
		searcher := &fakeSearcher{hits: []search.Hit{{ArticleID: a.ID, Score: 0.5}}}
		_, err := newTestScorer(searcher, store).Score(ctx, ticket, classification(model.CategoryBilling, 0.59))
		require.NoError(t, err)
		assert.Nil(t, searcher.category)
	})

	t.Run("skipped for unknown category", func(t *testing.T) {
		searcher := &fakeSearcher{hits: []search.Hit{{ArticleID: a.ID, Score: 0.5}}}
		_, err := newTestScorer(searcher, store).Score(ctx, ticket, classification("mystery", 0.9))
		require.NoError(t, err)
		assert.Nil(t, searcher.category)
	})
}

func TestScoreQueryBuild(t *testing.T) {
	ctx := context.Background()
	a := article(model.CategoryBilling, 0, 0)
	store := &fakeStore{articles: map[uuid.UUID]model.KnowledgeArticle{a.ID: a}}

	t.Run("category token appended", func(t *testing.T) {
		searcher := &fakeSearcher{hits: []search.Hit{{ArticleID: a.ID, Score: 0.5}}}
		ticket := model.Ticket{Subject: "Refund please", Body: "I was billed twice"}

		_, err := newTestScorer(searcher, store).Score(ctx, ticket, classification(model.CategoryBilling, 0.9))
		require.NoError(t, err)
		assert.Equal(t, "Refund please I was billed twice category:billing", searcher.query)
	})

	t.Run("unknown category omitted", func(t *testing.T) {
		searcher := &fakeSearcher{hits: []search.Hit{{ArticleID: a.ID, Score: 0.5}}}
		ticket := model.Ticket{Subject: "Refund please", Body: "I was billed twice"}

		_, err := newTestScorer(searcher, store).Score(ctx, ticket, classification("mystery", 0.9))
		require.NoError(t, err)
		assert.Equal(t, "Refund please I was billed twice", searcher.query)
	})

	t.Run("whitespace collapsed and length capped", func(t *testing.T) {
		searcher := &fakeSearcher{hits: []search.Hit{{ArticleID: a.ID, Score: 0.5}}}
		ticket := model.Ticket{Subject: "  spaced\t\tout ", Body: strings.Repeat("word ", 200)}

		_, err := newTestScorer(searcher, store).Score(ctx, ticket, classification(model.CategoryBilling, 0.9))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(searcher.query, "spaced out word"))
		assert.LessOrEqual(t, len(searcher.query), 500)
		assert.NotContains(t, searcher.query, "  ")
	})
}

func TestScoreZeroTimeoutMeansNoDeadline(t *testing.T) {
	ctx := context.Background()
	a := article(model.CategoryBilling, 0, 0)
	searcher := &fakeSearcher{hits: []search.Hit{{ArticleID: a.ID, Score: 0.5}}}
	store := &fakeStore{articles: map[uuid.UUID]model.KnowledgeArticle{a.ID: a}}

	scorer := NewScorer(searcher, store, 5, 0.6, 0, slog.New(slog.DiscardHandler))
	matches, err := scorer.Score(ctx, model.Ticket{Subject: "help", Body: "billing"}, classification(model.CategoryBilling, 0.9))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestScoreOrdering(t *testing.T) {
	ctx := context.Background()
	ticket := model.Ticket{Subject: "help", Body: "ordering"}

	// Same raw score; the boosted billing article must rank first. The two
	// unboosted articles tie on adjusted and raw, so resolution count breaks it.
	boosted := article(model.CategoryBilling, 0, 0)
	popularTie := article(model.CategoryTechnical, 20, 0)
	quietTie := article(model.CategoryTechnical, 5, 0)

	searcher := &fakeSearcher{hits: []search.Hit{
		{ArticleID: quietTie.ID, Score: 0.5},
		{ArticleID: boosted.ID, Score: 0.5},
		{ArticleID: popularTie.ID, Score: 0.5},
	}}
	store := &fakeStore{articles: map[uuid.UUID]model.KnowledgeArticle{
		boosted.ID: boosted, popularTie.ID: popularTie, quietTie.ID: quietTie,
	}}

	matches, err := newTestScorer(searcher, store).Score(ctx, ticket, classification(model.CategoryBilling, 0.9))
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, boosted.ID, matches[0].Article.ID)
	assert.Equal(t, popularTie.ID, matches[1].Article.ID)
	assert.Equal(t, quietTie.ID, matches[2].Article.ID)
}

func TestScoreFullTie(t *testing.T) {
	ctx := context.Background()
	ticket := model.Ticket{Subject: "help", Body: "tie"}

	a1 := article(model.CategoryTechnical, 5, 0)
	a2 := article(model.CategoryTechnical, 5, 0)

	searcher := &fakeSearcher{hits: []search.Hit{
		{ArticleID: a1.ID, Score: 0.5},
		{ArticleID: a2.ID, Score: 0.5},
	}}
	store := &fakeStore{articles: map[uuid.UUID]model.KnowledgeArticle{a1.ID: a1, a2.ID: a2}}

	matches, err := newTestScorer(searcher, store).Score(ctx, ticket, classification(model.CategoryBilling, 0.9))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Less(t, matches[0].Article.ID.String(), matches[1].Article.ID.String())
}

func TestScoreFailuresAndEmpties(t *testing.T) {
	ctx := context.Background()
	ticket := model.Ticket{Subject: "help", Body: "failure"}
	c := classification(model.CategoryGeneral, 0.9)

	t.Run("search failure returns error with no matches", func(t *testing.T) {
		searcher := &fakeSearcher{err: errors.New("both legs failed")}
		matches, err := newTestScorer(searcher, &fakeStore{}).Score(ctx, ticket, c)
		assert.Error(t, err)
		assert.Empty(t, matches)
	})

	t.Run("store failure returns error", func(t *testing.T) {
		searcher := &fakeSearcher{hits: []search.Hit{{ArticleID: uuid.New(), Score: 0.5}}}
		_, err := newTestScorer(searcher, &fakeStore{err: errors.New("db down")}).Score(ctx, ticket, c)
		assert.Error(t, err)
	})

	t.Run("no hits is not an error", func(t *testing.T) {
		matches, err := newTestScorer(&fakeSearcher{}, &fakeStore{}).Score(ctx, ticket, c)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("stale IDs from the index are skipped", func(t *testing.T) {
		a := article(model.CategoryGeneral, 0, 0)
		searcher := &fakeSearcher{hits: []search.Hit{
			{ArticleID: a.ID, Score: 0.5},
			{ArticleID: uuid.New(), Score: 0.9}, // deleted article still indexed
		}}
		store := &fakeStore{articles: map[uuid.UUID]model.KnowledgeArticle{a.ID: a}}

		matches, err := newTestScorer(searcher, store).Score(ctx, ticket, c)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, a.ID, matches[0].Article.ID)
	})
}
