package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaiketsu-ai/kaiketsu/internal/model"
	"github.com/kaiketsu-ai/kaiketsu/internal/search"
	"github.com/kaiketsu-ai/kaiketsu/internal/server"
	"github.com/kaiketsu-ai/kaiketsu/internal/storage"
	"github.com/kaiketsu-ai/kaiketsu/internal/workflow"
)

// fakeStore is an in-memory server.Store.
type fakeStore struct {
	tickets     map[uuid.UUID]model.Ticket
	articles    map[uuid.UUID]model.KnowledgeArticle
	decisions   map[uuid.UUID]model.EscalationDecision
	resolutions map[uuid.UUID]model.Resolution
	embeddings  map[uuid.UUID]pgvector.Vector
	pingErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tickets:     make(map[uuid.UUID]model.Ticket),
		articles:    make(map[uuid.UUID]model.KnowledgeArticle),
		decisions:   make(map[uuid.UUID]model.EscalationDecision),
		resolutions: make(map[uuid.UUID]model.Resolution),
		embeddings:  make(map[uuid.UUID]pgvector.Vector),
	}
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) CreateTicket(_ context.Context, t model.Ticket) (model.Ticket, error) {
	t.ID = uuid.New()
	t.Status = model.StatusNew
	t.CreatedAt = time.Now()
	s.tickets[t.ID] = t
	return t, nil
}

func (s *fakeStore) GetTicket(_ context.Context, id uuid.UUID) (model.Ticket, error) {
	t, ok := s.tickets[id]
	if !ok {
		return model.Ticket{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *fakeStore) GetDecision(_ context.Context, id uuid.UUID) (model.EscalationDecision, error) {
	d, ok := s.decisions[id]
	if !ok {
		return model.EscalationDecision{}, storage.ErrNotFound
	}
	return d, nil
}

func (s *fakeStore) GetResolution(_ context.Context, id uuid.UUID) (model.Resolution, error) {
	r, ok := s.resolutions[id]
	if !ok {
		return model.Resolution{}, storage.ErrNotFound
	}
	return r, nil
}

func (s *fakeStore) CreateArticle(_ context.Context, a model.KnowledgeArticle) (model.KnowledgeArticle, error) {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	s.articles[a.ID] = a
	return a, nil
}

func (s *fakeStore) GetArticle(_ context.Context, id uuid.UUID) (model.KnowledgeArticle, error) {
	a, ok := s.articles[id]
	if !ok {
		return model.KnowledgeArticle{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *fakeStore) ListArticles(_ context.Context, category *model.Category, _, _ int) ([]model.KnowledgeArticle, error) {
	var out []model.KnowledgeArticle
	for _, a := range s.articles {
		if category == nil || a.Category == *category {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteArticle(_ context.Context, id uuid.UUID) error {
	if _, ok := s.articles[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.articles, id)
	return nil
}

func (s *fakeStore) UpdateArticleEmbedding(_ context.Context, id uuid.UUID, v pgvector.Vector) error {
	s.embeddings[id] = v
	return nil
}

// fakePipeline is a canned server.Processor.
type fakePipeline struct {
	state      model.WorkflowState
	processErr error
	outcomeErr error

	outcomeTicket uuid.UUID
	outcomeRating *float64
}

func (p *fakePipeline) Process(_ context.Context, t model.Ticket) (model.WorkflowState, error) {
	state := p.state
	state.Ticket = t
	return state, p.processErr
}

func (p *fakePipeline) ProcessBatch(ctx context.Context, tickets []model.Ticket) []workflow.BatchResult {
	results := make([]workflow.BatchResult, len(tickets))
	for i, t := range tickets {
		if err := t.Validate(); err != nil {
			results[i] = workflow.BatchResult{State: model.WorkflowState{Ticket: t}, Err: err}
			continue
		}
		state, err := p.Process(ctx, t)
		results[i] = workflow.BatchResult{State: state, Err: err}
	}
	return results
}

func (p *fakePipeline) RecordOutcome(_ context.Context, ticketID uuid.UUID, _ bool, rating *float64) error {
	p.outcomeTicket = ticketID
	p.outcomeRating = rating
	return p.outcomeErr
}

// fakeEmbedder returns a fixed vector.
type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) Embed(context.Context, string) (pgvector.Vector, error) {
	if e.err != nil {
		return pgvector.Vector{}, e.err
	}
	return pgvector.NewVector([]float32{0.1, 0.2, 0.3}), nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i := range texts {
		v, err := e.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

func (e *fakeEmbedder) Dimensions() int { return 3 }

// fakeIndexer records vector index writes.
type fakeIndexer struct {
	upserts []search.ArticlePoint
	deleted []uuid.UUID
}

func (i *fakeIndexer) Upsert(_ context.Context, points []search.ArticlePoint) error {
	i.upserts = append(i.upserts, points...)
	return nil
}

func (i *fakeIndexer) DeleteByIDs(_ context.Context, ids []uuid.UUID) error {
	i.deleted = append(i.deleted, ids...)
	return nil
}

// fakeSearcher only exists for the health probe.
type fakeSearcher struct {
	healthErr error
}

func (s *fakeSearcher) HybridSearch(context.Context, string, *model.Category, int) ([]search.Hit, error) {
	return nil, nil
}

func (s *fakeSearcher) Healthy(context.Context) error { return s.healthErr }

type testEnv struct {
	store    *fakeStore
	pipeline *fakePipeline
	indexer  *fakeIndexer
	searcher *fakeSearcher
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newFakeStore(),
		pipeline: &fakePipeline{},
		indexer:  &fakeIndexer{},
		searcher: &fakeSearcher{},
	}
	env.pipeline.state = model.WorkflowState{
		Status:     model.StatusResolved,
		Resolution: &model.Resolution{Response: "done", AgentType: model.AgentAI, Confidence: 0.8},
	}
	srv := server.New(server.ServerConfig{
		Store:               env.store,
		Pipeline:            env.pipeline,
		Embedder:            &fakeEmbedder{},
		Indexer:             env.indexer,
		Searcher:            env.searcher,
		Logger:              slog.New(slog.DiscardHandler),
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestProcessTicket(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/tickets", map[string]string{
		"subject": "Cannot log in",
		"body":    "Password reset email never arrives.",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		TicketID   uuid.UUID         `json:"ticket_id"`
		Status     model.Status      `json:"status"`
		Resolution *model.Resolution `json:"resolution"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.TicketID)
	assert.Equal(t, model.StatusResolved, resp.Status)
	require.NotNil(t, resp.Resolution)
	assert.Equal(t, "done", resp.Resolution.Response)

	// Ticket was persisted before processing.
	assert.Contains(t, env.store.tickets, resp.TicketID)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestProcessTicketRejectsEmpty(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/tickets", map[string]string{"subject": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_ticket")
	assert.Empty(t, env.store.tickets)
}

func TestProcessTicketRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/tickets", map[string]string{
		"subject": "hi", "bogus": "field",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestProcessBatch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/tickets/batch", map[string]any{
		"tickets": []map[string]string{
			{"subject": "first"},
			{"subject": ""},
			{"subject": "third"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Results []struct {
			Status model.Status `json:"status"`
			Error  string       `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Empty(t, resp.Results[0].Error)
	assert.Contains(t, resp.Results[1].Error, "invalid ticket")
	assert.Empty(t, resp.Results[2].Error)
}

func TestProcessBatchLimits(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/tickets/batch", map[string]any{
		"tickets": []map[string]string{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := make([]map[string]string, 51)
	for i := range big {
		big[i] = map[string]string{"subject": fmt.Sprintf("t%d", i)}
	}
	rec = env.do(t, http.MethodPost, "/v1/tickets/batch", map[string]any{"tickets": big})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "50")
}

func TestGetTicket(t *testing.T) {
	env := newTestEnv(t)

	ticket, err := env.store.CreateTicket(context.Background(), model.Ticket{Subject: "hello"})
	require.NoError(t, err)
	env.store.decisions[ticket.ID] = model.EscalationDecision{Escalate: true, Category: model.EscalateLegal}
	env.store.resolutions[ticket.ID] = model.Resolution{TicketID: ticket.ID, Response: "handoff"}

	rec := env.do(t, http.MethodGet, "/v1/tickets/"+ticket.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Ticket     model.Ticket              `json:"ticket"`
		Decision   *model.EscalationDecision `json:"decision"`
		Resolution *model.Resolution         `json:"resolution"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ticket.ID, resp.Ticket.ID)
	require.NotNil(t, resp.Decision)
	assert.Equal(t, model.EscalateLegal, resp.Decision.Category)
	require.NotNil(t, resp.Resolution)
}

func TestGetTicketNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/tickets/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/tickets/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedback(t *testing.T) {
	env := newTestEnv(t)
	ticketID := uuid.New()

	rec := env.do(t, http.MethodPost, "/v1/feedback", map[string]any{
		"ticket_id":   ticketID,
		"was_helpful": true,
		"rating":      4.5,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, ticketID, env.pipeline.outcomeTicket)
	require.NotNil(t, env.pipeline.outcomeRating)
	assert.InDelta(t, 4.5, *env.pipeline.outcomeRating, 1e-9)
}

func TestFeedbackErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/feedback", map[string]any{"was_helpful": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.pipeline.outcomeErr = storage.ErrNotFound
	rec = env.do(t, http.MethodPost, "/v1/feedback", map[string]any{
		"ticket_id": uuid.New(), "was_helpful": false,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateArticle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/articles", map[string]any{
		"title":    "Password reset walkthrough",
		"content":  "Use the reset link on the login page.",
		"category": "account",
		"tags":     []string{"password"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var article model.KnowledgeArticle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &article))
	assert.NotEqual(t, uuid.Nil, article.ID)
	assert.Equal(t, model.CategoryAccount, article.Category)

	// Embedded into Postgres and mirrored to the vector index.
	assert.Contains(t, env.store.embeddings, article.ID)
	require.Len(t, env.indexer.upserts, 1)
	assert.Equal(t, article.ID, env.indexer.upserts[0].ID)
}

func TestCreateArticleValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/articles", map[string]any{
		"title": "no content", "content": "", "category": "account",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/articles", map[string]any{
		"title": "t", "content": "c", "category": "nonsense",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown category")
}

func TestListArticles(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.CreateArticle(context.Background(), model.KnowledgeArticle{
		Title: "a", Content: "c", Category: model.CategoryBilling,
	})
	require.NoError(t, err)
	_, err = env.store.CreateArticle(context.Background(), model.KnowledgeArticle{
		Title: "b", Content: "c", Category: model.CategoryTechnical,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/v1/articles?category=billing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Articles []model.KnowledgeArticle `json:"articles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Articles, 1)
	assert.Equal(t, "a", resp.Articles[0].Title)

	rec = env.do(t, http.MethodGet, "/v1/articles?category=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteArticle(t *testing.T) {
	env := newTestEnv(t)
	article, err := env.store.CreateArticle(context.Background(), model.KnowledgeArticle{
		Title: "a", Content: "c", Category: model.CategoryGeneral,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodDelete, "/v1/articles/"+article.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, env.store.articles, article.ID)
	assert.Equal(t, []uuid.UUID{article.ID}, env.indexer.deleted)

	rec = env.do(t, http.MethodDelete, "/v1/articles/"+article.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	env.searcher.healthErr = fmt.Errorf("qdrant unreachable")
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	env.store.pingErr = fmt.Errorf("connection refused")
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"down"`)
}

func TestRequestIDPropagated(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
