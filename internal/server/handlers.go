package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/kaiketsu-ai/kaiketsu/internal/embedding"
	"github.com/kaiketsu-ai/kaiketsu/internal/model"
	"github.com/kaiketsu-ai/kaiketsu/internal/search"
	"github.com/kaiketsu-ai/kaiketsu/internal/storage"
	"github.com/kaiketsu-ai/kaiketsu/internal/workflow"
)

// maxBatchTickets caps one batch request.
const maxBatchTickets = 50

// Processor is the pipeline surface the handlers drive.
type Processor interface {
	Process(ctx context.Context, ticket model.Ticket) (model.WorkflowState, error)
	ProcessBatch(ctx context.Context, tickets []model.Ticket) []workflow.BatchResult
	RecordOutcome(ctx context.Context, ticketID uuid.UUID, wasHelpful bool, rating *float64) error
}

// Store is the persistence surface the handlers read and write.
type Store interface {
	Ping(ctx context.Context) error
	CreateTicket(ctx context.Context, ticket model.Ticket) (model.Ticket, error)
	GetTicket(ctx context.Context, id uuid.UUID) (model.Ticket, error)
	GetDecision(ctx context.Context, ticketID uuid.UUID) (model.EscalationDecision, error)
	GetResolution(ctx context.Context, ticketID uuid.UUID) (model.Resolution, error)
	CreateArticle(ctx context.Context, article model.KnowledgeArticle) (model.KnowledgeArticle, error)
	GetArticle(ctx context.Context, id uuid.UUID) (model.KnowledgeArticle, error)
	ListArticles(ctx context.Context, category *model.Category, limit, offset int) ([]model.KnowledgeArticle, error)
	DeleteArticle(ctx context.Context, id uuid.UUID) error
	UpdateArticleEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error
}

// Indexer mirrors article writes into the vector index. Nil disables it;
// retrieval then runs lexical-only.
type Indexer interface {
	Upsert(ctx context.Context, points []search.ArticlePoint) error
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	store       Store
	pipeline    Processor
	embedder    embedding.Provider
	indexer     Indexer
	searcher    search.Searcher
	logger      *slog.Logger
	version     string
	maxBody     int64
	openAPISpec []byte
}

// HandlersDeps bundles dependencies for NewHandlers.
type HandlersDeps struct {
	Store               Store
	Pipeline            Processor
	Embedder            embedding.Provider
	Indexer             Indexer
	Searcher            search.Searcher
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:       deps.Store,
		pipeline:    deps.Pipeline,
		embedder:    deps.Embedder,
		indexer:     deps.Indexer,
		searcher:    deps.Searcher,
		logger:      deps.Logger,
		version:     deps.Version,
		maxBody:     deps.MaxRequestBodyBytes,
		openAPISpec: deps.OpenAPISpec,
	}
}

// --- tickets ---------------------------------------------------------------

type ticketRequest struct {
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
}

func (req ticketRequest) ticket() model.Ticket {
	return model.Ticket{
		Subject:       req.Subject,
		Body:          req.Body,
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
	}
}

type processResponse struct {
	TicketID       uuid.UUID                 `json:"ticket_id"`
	Status         model.Status              `json:"status"`
	Classification *model.Classification     `json:"classification,omitempty"`
	Decision       *model.EscalationDecision `json:"decision,omitempty"`
	Resolution     *model.Resolution         `json:"resolution,omitempty"`
	Notes          []string                  `json:"notes,omitempty"`
}

func toProcessResponse(state model.WorkflowState) processResponse {
	return processResponse{
		TicketID:       state.Ticket.ID,
		Status:         state.Status,
		Classification: state.Classification,
		Decision:       state.Decision,
		Resolution:     state.Resolution,
		Notes:          state.Notes,
	}
}

// HandleProcessTicket creates a ticket and runs the full triage pipeline.
func (h *Handlers) HandleProcessTicket(w http.ResponseWriter, r *http.Request) {
	var req ticketRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body: "+err.Error())
		return
	}

	ticket := req.ticket()
	if err := ticket.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_ticket", "ticket needs a subject or body")
		return
	}

	ticket, err := h.store.CreateTicket(r.Context(), ticket)
	if err != nil {
		h.logger.Error("create ticket", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to create ticket")
		return
	}

	state, err := h.pipeline.Process(r.Context(), ticket)
	if err != nil {
		h.logger.Error("process ticket", "ticket_id", ticket.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "pipeline run failed")
		return
	}

	writeJSON(w, http.StatusOK, toProcessResponse(state))
}

type batchRequest struct {
	Tickets []ticketRequest `json:"tickets"`
}

type batchItemResponse struct {
	processResponse
	Error string `json:"error,omitempty"`
}

// HandleProcessBatch creates and processes multiple tickets with bounded
// concurrency. One ticket's failure doesn't fail the batch.
func (h *Handlers) HandleProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body: "+err.Error())
		return
	}
	if len(req.Tickets) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "tickets must not be empty")
		return
	}
	if len(req.Tickets) > maxBatchTickets {
		writeError(w, r, http.StatusBadRequest, "invalid_request",
			"at most "+strconv.Itoa(maxBatchTickets)+" tickets per batch")
		return
	}

	tickets := make([]model.Ticket, len(req.Tickets))
	for i, tr := range req.Tickets {
		ticket := tr.ticket()
		if err := ticket.Validate(); err == nil {
			// Persist only valid tickets; invalid ones still flow through so
			// the response is positionally aligned with the request.
			if created, err := h.store.CreateTicket(r.Context(), ticket); err == nil {
				ticket = created
			} else {
				h.logger.Error("create ticket in batch", "index", i, "error", err)
			}
		}
		tickets[i] = ticket
	}

	results := h.pipeline.ProcessBatch(r.Context(), tickets)
	items := make([]batchItemResponse, len(results))
	for i, res := range results {
		items[i] = batchItemResponse{processResponse: toProcessResponse(res.State)}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// HandleGetTicket returns a ticket with its decision and resolution when the
// pipeline has produced them.
func (h *Handlers) HandleGetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("ticket_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid ticket id")
		return
	}

	ticket, err := h.store.GetTicket(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "ticket not found")
			return
		}
		h.logger.Error("get ticket", "ticket_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to load ticket")
		return
	}

	resp := map[string]any{"ticket": ticket}
	if decision, err := h.store.GetDecision(r.Context(), id); err == nil {
		resp["decision"] = decision
	}
	if resolution, err := h.store.GetResolution(r.Context(), id); err == nil {
		resp["resolution"] = resolution
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- feedback --------------------------------------------------------------

type feedbackRequest struct {
	TicketID   uuid.UUID `json:"ticket_id"`
	WasHelpful bool      `json:"was_helpful"`
	Rating     *float64  `json:"rating,omitempty"`
}

// HandleFeedback accepts the learning loop's outcome signal for a resolved
// ticket and forwards it to the article statistics.
func (h *Handlers) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body: "+err.Error())
		return
	}
	if req.TicketID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "ticket_id is required")
		return
	}

	err := h.pipeline.RecordOutcome(r.Context(), req.TicketID, req.WasHelpful, req.Rating)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "no resolution for ticket")
	default:
		// Out-of-range ratings come back as plain errors from the pipeline.
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	}
}

// --- knowledge articles ----------------------------------------------------

type articleRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags,omitempty"`
}

// HandleCreateArticle stores a knowledge article and mirrors it into the
// vector index. Indexing is best-effort: a failure leaves the article
// reachable through lexical search until the next reindex.
func (h *Handlers) HandleCreateArticle(w http.ResponseWriter, r *http.Request) {
	var req articleRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body: "+err.Error())
		return
	}
	if req.Title == "" || req.Content == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "title and content are required")
		return
	}
	category := model.Category(req.Category)
	if !model.ValidCategory(category) {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown category "+req.Category)
		return
	}

	article, err := h.store.CreateArticle(r.Context(), model.KnowledgeArticle{
		Title:    req.Title,
		Content:  req.Content,
		Category: category,
		Tags:     req.Tags,
	})
	if err != nil {
		h.logger.Error("create article", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to create article")
		return
	}

	h.indexArticle(r.Context(), article)
	writeJSON(w, http.StatusCreated, article)
}

// indexArticle embeds the article and mirrors it into Postgres and the
// vector index. Failures are logged, never surfaced to the client.
func (h *Handlers) indexArticle(ctx context.Context, article model.KnowledgeArticle) {
	vec, err := h.embedder.Embed(ctx, article.Title+"\n"+article.Content)
	if err != nil {
		h.logger.Warn("embed article", "article_id", article.ID, "error", err)
		return
	}
	if err := h.store.UpdateArticleEmbedding(ctx, article.ID, vec); err != nil {
		h.logger.Warn("store article embedding", "article_id", article.ID, "error", err)
	}
	if h.indexer == nil {
		return
	}
	if err := h.indexer.Upsert(ctx, []search.ArticlePoint{{
		ID:              article.ID,
		Category:        article.Category,
		Rating:          article.Rating,
		ResolutionCount: article.ResolutionCount,
		Embedding:       vec.Slice(),
	}}); err != nil {
		h.logger.Warn("index article", "article_id", article.ID, "error", err)
	}
}

// HandleGetArticle returns one knowledge article.
func (h *Handlers) HandleGetArticle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("article_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid article id")
		return
	}

	article, err := h.store.GetArticle(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "article not found")
			return
		}
		h.logger.Error("get article", "article_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to load article")
		return
	}
	writeJSON(w, http.StatusOK, article)
}

// HandleListArticles returns articles, optionally filtered by category.
func (h *Handlers) HandleListArticles(w http.ResponseWriter, r *http.Request) {
	var category *model.Category
	if c := r.URL.Query().Get("category"); c != "" {
		cat := model.Category(c)
		if !model.ValidCategory(cat) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown category "+c)
			return
		}
		category = &cat
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	articles, err := h.store.ListArticles(r.Context(), category, limit, offset)
	if err != nil {
		h.logger.Error("list articles", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to list articles")
		return
	}
	if articles == nil {
		articles = []model.KnowledgeArticle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles})
}

// HandleDeleteArticle removes an article from Postgres and the vector index.
func (h *Handlers) HandleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("article_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid article id")
		return
	}

	if err := h.store.DeleteArticle(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "article not found")
			return
		}
		h.logger.Error("delete article", "article_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "failed to delete article")
		return
	}
	if h.indexer != nil {
		if err := h.indexer.DeleteByIDs(r.Context(), []uuid.UUID{id}); err != nil {
			h.logger.Warn("deindex article", "article_id", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openAPISpec) == 0 {
		writeError(w, r, http.StatusNotFound, "not_found", "no OpenAPI spec embedded")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(h.openAPISpec)
}

// --- health ----------------------------------------------------------------

// HandleHealth reports component health. A down vector index degrades the
// service (retrieval falls back to lexical) but doesn't fail it.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	components := map[string]string{"database": "ok", "search": "ok"}

	if err := h.store.Ping(ctx); err != nil {
		components["database"] = err.Error()
		status = "down"
	}
	if h.searcher != nil {
		if err := h.searcher.Healthy(ctx); err != nil {
			components["search"] = err.Error()
			if status == "ok" {
				status = "degraded"
			}
		}
	}

	code := http.StatusOK
	if status == "down" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}
