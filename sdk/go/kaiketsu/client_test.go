package kaiketsu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(serverURL string) *Client {
	return NewClient(Config{BaseURL: serverURL, Timeout: 5 * time.Second})
}

func TestProcessTicket(t *testing.T) {
	ticketID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/tickets": func(w http.ResponseWriter, r *http.Request) {
			var req TicketRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Password reset fails", req.Subject)

			writeJSON(w, http.StatusOK, TriageResult{
				TicketID: ticketID,
				Status:   "resolved",
				Classification: &Classification{
					Category: "account", Priority: "medium", Confidence: 0.85,
				},
				Resolution: &Resolution{
					TicketID: ticketID, Response: "Use the reset link.",
					Confidence: 0.9, AgentType: "ai",
				},
			})
		},
	})
	defer srv.Close()

	result, err := newTestClient(srv.URL).ProcessTicket(context.Background(), TicketRequest{
		Subject: "Password reset fails",
		Body:    "The reset email never arrives.",
	})
	require.NoError(t, err)
	assert.Equal(t, ticketID, result.TicketID)
	assert.Equal(t, "resolved", result.Status)
	require.NotNil(t, result.Classification)
	assert.Equal(t, "account", result.Classification.Category)
	require.NotNil(t, result.Resolution)
	assert.Equal(t, "ai", result.Resolution.AgentType)
}

func TestProcessTicketValidationError(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/tickets": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      map[string]any{"code": "invalid_ticket", "message": "ticket needs a subject or body"},
				"request_id": "req-123",
			})
		},
	})
	defer srv.Close()

	_, err := newTestClient(srv.URL).ProcessTicket(context.Background(), TicketRequest{})
	require.Error(t, err)
	assert.True(t, IsInvalid(err))

	apiErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "invalid_ticket", apiErr.Code)
	assert.Equal(t, "req-123", apiErr.RequestID)
}

func TestProcessBatch(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/tickets/batch": func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Tickets []TicketRequest `json:"tickets"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Tickets, 2)

			writeJSON(w, http.StatusOK, map[string]any{
				"results": []BatchResult{
					{TriageResult: TriageResult{TicketID: uuid.New(), Status: "resolved"}},
					{TriageResult: TriageResult{Status: "new"}, Error: "empty ticket"},
				},
			})
		},
	})
	defer srv.Close()

	results, err := newTestClient(srv.URL).ProcessBatch(context.Background(), []TicketRequest{
		{Subject: "one", Body: "body"},
		{},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, "empty ticket", results[1].Error)
}

func TestGetTicketNotFound(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/tickets/{ticket_id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"code": "not_found", "message": "ticket not found"},
			})
		},
	})
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetTicket(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRecordFeedback(t *testing.T) {
	ticketID := uuid.New()
	var got FeedbackRequest

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/feedback": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		},
	})
	defer srv.Close()

	rating := 4.5
	err := newTestClient(srv.URL).RecordFeedback(context.Background(), FeedbackRequest{
		TicketID:   ticketID,
		WasHelpful: true,
		Rating:     &rating,
	})
	require.NoError(t, err)
	assert.Equal(t, ticketID, got.TicketID)
	assert.True(t, got.WasHelpful)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 4.5, *got.Rating)
}

func TestArticleLifecycle(t *testing.T) {
	articleID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/articles": func(w http.ResponseWriter, r *http.Request) {
			var req ArticleRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeJSON(w, http.StatusCreated, Article{
				ID: articleID, Title: req.Title, Content: req.Content, Category: req.Category,
			})
		},
		"GET /v1/articles": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "billing", r.URL.Query().Get("category"))
			assert.Equal(t, "10", r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, map[string]any{
				"articles": []Article{{ID: articleID, Title: "Refund policy", Category: "billing"}},
			})
		},
		"DELETE /v1/articles/{article_id}": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, articleID.String(), r.PathValue("article_id"))
			w.WriteHeader(http.StatusNoContent)
		},
	})
	defer srv.Close()

	client := newTestClient(srv.URL)

	created, err := client.CreateArticle(context.Background(), ArticleRequest{
		Title: "Refund policy", Content: "Refunds within 30 days.", Category: "billing",
	})
	require.NoError(t, err)
	assert.Equal(t, articleID, created.ID)

	articles, err := client.ListArticles(context.Background(), &ListArticlesOptions{Category: "billing", Limit: 10})
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Refund policy", articles[0].Title)

	require.NoError(t, client.DeleteArticle(context.Background(), articleID))
}

func TestHealthDegraded(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, Health{
				Status:  "degraded",
				Version: "1.2.3",
				Components: map[string]string{
					"database": "ok",
					"search":   "vector index unreachable",
				},
			})
		},
	})
	defer srv.Close()

	health, err := newTestClient(srv.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
}

func TestHealthDown(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, Health{
				Status:     "down",
				Components: map[string]string{"database": "connection refused"},
			})
		},
	})
	defer srv.Close()

	health, err := newTestClient(srv.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "down", health.Status)
}

func TestRateLimited(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/tickets": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]any{"code": "rate_limited", "message": "too many requests"},
			})
		},
	})
	defer srv.Close()

	_, err := newTestClient(srv.URL).ProcessTicket(context.Background(), TicketRequest{Subject: "x", Body: "y"})
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
}
