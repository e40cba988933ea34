package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/kaiketsu-ai/kaiketsu/internal/model"
	"github.com/kaiketsu-ai/kaiketsu/internal/search"
)

const articleColumns = `id, title, content, category, tags, resolution_count, rating, created_at`

func scanArticle(row pgx.Row) (model.KnowledgeArticle, error) {
	var a model.KnowledgeArticle
	err := row.Scan(
		&a.ID, &a.Title, &a.Content, &a.Category, &a.Tags,
		&a.ResolutionCount, &a.Rating, &a.CreatedAt,
	)
	return a, err
}

// CreateArticle inserts a new knowledge article.
func (db *DB) CreateArticle(ctx context.Context, article model.KnowledgeArticle) (model.KnowledgeArticle, error) {
	if article.ID == uuid.Nil {
		article.ID = uuid.New()
	}
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now().UTC()
	}
	if article.Tags == nil {
		article.Tags = []string{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO knowledge_articles (id, title, content, category, tags, resolution_count, rating, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		article.ID, article.Title, article.Content, string(article.Category), article.Tags,
		article.ResolutionCount, article.Rating, article.Embedding, article.CreatedAt,
	)
	if err != nil {
		return model.KnowledgeArticle{}, fmt.Errorf("storage: create article: %w", err)
	}
	return article, nil
}

// GetArticle retrieves a knowledge article by ID.
func (db *DB) GetArticle(ctx context.Context, id uuid.UUID) (model.KnowledgeArticle, error) {
	a, err := scanArticle(db.pool.QueryRow(ctx,
		`SELECT `+articleColumns+` FROM knowledge_articles WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.KnowledgeArticle{}, fmt.Errorf("storage: article %s: %w", id, ErrNotFound)
		}
		return model.KnowledgeArticle{}, fmt.Errorf("storage: get article: %w", err)
	}
	return a, nil
}

// GetArticlesByIDs hydrates articles for a set of IDs, preserving the input
// order. IDs with no matching row are silently skipped; the caller decides
// whether a missing article matters.
func (db *DB) GetArticlesByIDs(ctx context.Context, ids []uuid.UUID) ([]model.KnowledgeArticle, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+articleColumns+` FROM knowledge_articles WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get articles by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]model.KnowledgeArticle, len(ids))
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan article: %w", err)
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: get articles by ids: %w", err)
	}

	articles := make([]model.KnowledgeArticle, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			articles = append(articles, a)
		}
	}
	return articles, nil
}

// ListArticles returns articles, newest first, optionally filtered by
// category. limit is clamped to [1, 500] with a default of 100.
func (db *DB) ListArticles(ctx context.Context, category *model.Category, limit, offset int) ([]model.KnowledgeArticle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+articleColumns+` FROM knowledge_articles
		 WHERE ($1::text IS NULL OR category = $1)
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		(*string)(category), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list articles: %w", err)
	}
	defer rows.Close()

	var articles []model.KnowledgeArticle
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan article: %w", err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// UpdateArticleEmbedding stores the embedding vector for an article.
// Called after (re)indexing; the pipeline itself never writes embeddings.
func (db *DB) UpdateArticleEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE knowledge_articles SET embedding = $1, updated_at = now() WHERE id = $2`,
		embedding, id,
	)
	if err != nil {
		return fmt.Errorf("storage: update article embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: article %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteArticle removes a knowledge article.
func (db *DB) DeleteArticle(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM knowledge_articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: article %s: %w", id, ErrNotFound)
	}
	return nil
}

// SearchArticlesLexical is the Postgres full-text leg of hybrid search.
// Scores are raw ts_rank values; the search package normalizes them before
// fusion. plainto_tsquery keeps arbitrary ticket text from breaking query
// syntax.
func (db *DB) SearchArticlesLexical(ctx context.Context, query string, category *model.Category, limit int) ([]search.Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, ts_rank(search_tsv, plainto_tsquery('english', $1)) AS rank
		 FROM knowledge_articles
		 WHERE search_tsv @@ plainto_tsquery('english', $1)
		   AND ($2::text IS NULL OR category = $2)
		 ORDER BY rank DESC, id ASC
		 LIMIT $3`,
		query, (*string)(category), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: lexical search: %w", err)
	}
	defer rows.Close()

	var hits []search.Hit
	for rows.Next() {
		var h search.Hit
		if err := rows.Scan(&h.ArticleID, &h.Score); err != nil {
			return nil, fmt.Errorf("storage: scan lexical hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// IncrementArticleUsage bumps resolution_count for every article an AI
// resolution cited. Runs once per resolved ticket at resolution time, so
// usage accrues whether or not the customer ever sends feedback.
func (db *DB) IncrementArticleUsage(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.pool.Exec(ctx,
		`UPDATE knowledge_articles
		 SET resolution_count = resolution_count + 1, updated_at = now()
		 WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("storage: increment article usage: %w", err)
	}
	return nil
}

// RecordArticleFeedback stores one feedback entry and folds a rating into
// the article's running average via the rating_count column. Usage counts
// are not touched here; IncrementArticleUsage owns those at resolution
// time. Retried on serialization conflicts since popular articles see
// concurrent feedback.
func (db *DB) RecordArticleFeedback(ctx context.Context, ticketID, articleID uuid.UUID, helpful bool, rating *float64) error {
	return WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin feedback tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx,
			`INSERT INTO article_feedback (id, ticket_id, article_id, helpful, rating)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), ticketID, articleID, helpful, rating,
		); err != nil {
			return fmt.Errorf("storage: insert feedback: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE knowledge_articles
			 SET rating = CASE WHEN $1::float8 IS NOT NULL
			                   THEN (rating * rating_count + $1) / (rating_count + 1)
			                   ELSE rating END,
			     rating_count = rating_count + CASE WHEN $1::float8 IS NOT NULL THEN 1 ELSE 0 END,
			     updated_at = now()
			 WHERE id = $2`,
			rating, articleID,
		)
		if err != nil {
			return fmt.Errorf("storage: update article stats: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("storage: article %s: %w", articleID, ErrNotFound)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit feedback tx: %w", err)
		}
		return nil
	})
}
