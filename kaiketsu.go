// Package kaiketsu is the public API for embedding the Kaiketsu support
// triage server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := kaiketsu.New(
//	    kaiketsu.WithVersion(version),
//	    kaiketsu.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kaiketsu (root) imports
// internal/*, but internal/* never imports kaiketsu (root). Public types
// (TicketInput, TriageResult, etc.) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package kaiketsu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/kaiketsu-ai/kaiketsu/api"
	"github.com/kaiketsu-ai/kaiketsu/internal/classify"
	"github.com/kaiketsu-ai/kaiketsu/internal/config"
	"github.com/kaiketsu-ai/kaiketsu/internal/embedding"
	"github.com/kaiketsu-ai/kaiketsu/internal/escalate"
	"github.com/kaiketsu-ai/kaiketsu/internal/knowledge"
	"github.com/kaiketsu-ai/kaiketsu/internal/llm"
	"github.com/kaiketsu-ai/kaiketsu/internal/model"
	"github.com/kaiketsu-ai/kaiketsu/internal/ratelimit"
	"github.com/kaiketsu-ai/kaiketsu/internal/resolve"
	"github.com/kaiketsu-ai/kaiketsu/internal/search"
	"github.com/kaiketsu-ai/kaiketsu/internal/server"
	"github.com/kaiketsu-ai/kaiketsu/internal/storage"
	"github.com/kaiketsu-ai/kaiketsu/internal/telemetry"
	"github.com/kaiketsu-ai/kaiketsu/internal/workflow"
	"github.com/kaiketsu-ai/kaiketsu/migrations"
)

// App is the Kaiketsu server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	pipeline     *workflow.Pipeline
	vectorIndex  *search.QdrantIndex // nil when Qdrant is not configured
	limiter      ratelimit.Limiter   // nil when rate limiting is disabled
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Kaiketsu server. It connects to the database, runs
// migrations, wires the pipeline stages, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kaiketsu starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Run embedded migrations, then any extra (consumer) migrations.
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Language-model collaborator, shared by classification, advisory, and
	// generation. An empty API key still constructs a client; every call
	// then fails fast and the stage fallbacks apply.
	client := llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTemperature)
	if cfg.LLMAPIKey == "" {
		logger.Warn("no LLM API key configured, pipeline runs on rule fallbacks only")
	}

	var classifier llm.Classifier = client
	if o.classifier != nil {
		classifier = &classifierAdapter{c: o.classifier}
	}

	// Embedding provider — external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &embedderAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Qdrant vector index (optional; disabled when QDRANT_URL is empty).
	// Without it retrieval runs on the Postgres lexical leg alone.
	var vectorIndex *search.QdrantIndex
	var vector search.VectorIndex
	if cfg.QdrantURL != "" {
		vectorIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := vectorIndex.EnsureCollection(context.Background()); err != nil {
			_ = vectorIndex.Close()
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		vector = vectorIndex
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL), retrieval is lexical-only")
	}

	searcher := search.NewHybrid(embedder, vector, db, logger)

	// Assemble the pipeline stages.
	combiner := classify.NewCombiner(classifier, classify.DefaultRules(), cfg.ClassifyTimeout, logger)
	scorer := knowledge.NewScorer(searcher, db, cfg.TopK, cfg.CategoryFilterThreshold, cfg.SearchTimeout, logger)

	escalateRules := escalate.DefaultRules()
	escalateRules.Threshold = cfg.EscalationThreshold
	escalateRules.WeakMatchCutoff = cfg.WeakMatchCutoff
	escalateRules.Weights = escalate.Weights{
		Frustration:   cfg.WeightFrustration,
		WeakMatch:     cfg.WeightWeakMatch,
		LowConfidence: cfg.WeightLowConfidence,
		RepeatContact: cfg.WeightRepeatContact,
	}
	engine := escalate.NewEngine(client, escalateRules, cfg.AdvisoryTimeout, logger)

	router := resolve.NewRouter(client, cfg.GenerateTimeout, logger)

	pipeline, err := workflow.NewPipeline(combiner, scorer, engine, router, db, cfg.BatchConcurrency, logger)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("workflow: %w", err)
	}

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		logger.Info("rate limiting: disabled")
	}

	srvCfg := server.ServerConfig{
		Store:               db,
		Pipeline:            pipeline,
		Embedder:            embedder,
		Searcher:            searcher,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	}
	if vectorIndex != nil {
		srvCfg.Indexer = vectorIndex
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          server.New(srvCfg),
		pipeline:     pipeline,
		vectorIndex:  vectorIndex,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown is called automatically —
// callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully stops the HTTP server, drains in-flight pipeline
// runs, and closes the database pool and OTEL provider. Each run persists
// its decision and resolution as it goes, so nothing else needs flushing.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kaiketsu shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.vectorIndex != nil {
		_ = a.vectorIndex.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("kaiketsu stopped")
	return nil
}

// Handler returns the root HTTP handler, for mounting the API inside a
// larger server or exercising it in tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Triage runs the full pipeline for one ticket in-process, without going
// through HTTP. The ticket is persisted before the run.
func (a *App) Triage(ctx context.Context, input TicketInput) (TriageResult, error) {
	ticket := model.Ticket{
		Subject:       input.Subject,
		Body:          input.Body,
		CustomerID:    input.CustomerID,
		CustomerEmail: input.CustomerEmail,
		CustomerName:  input.CustomerName,
	}
	if err := ticket.Validate(); err != nil {
		return TriageResult{}, err
	}

	ticket, err := a.db.CreateTicket(ctx, ticket)
	if err != nil {
		return TriageResult{}, fmt.Errorf("create ticket: %w", err)
	}

	state, err := a.pipeline.Process(ctx, ticket)
	if err != nil {
		return TriageResult{}, err
	}
	return toPublicResult(state), nil
}

// RecordFeedback forwards resolution feedback to the learning loop.
// rating, when non-nil, must be in [0, 5].
func (a *App) RecordFeedback(ctx context.Context, ticketID uuid.UUID, wasHelpful bool, rating *float64) error {
	return a.pipeline.RecordOutcome(ctx, ticketID, wasHelpful, rating)
}

// ── Adapters (defined here because this file imports both sides) ───────────

// embedderAdapter wraps a public EmbeddingProvider to satisfy the internal
// embedding.Provider interface.
type embedderAdapter struct {
	p EmbeddingProvider
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v), nil
}

func (a *embedderAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vs))
	for i, v := range vs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *embedderAdapter) Dimensions() int { return a.p.Dimensions() }

// classifierAdapter wraps a public TicketClassifier to satisfy llm.Classifier.
type classifierAdapter struct {
	c TicketClassifier
}

func (a *classifierAdapter) Classify(ctx context.Context, subject, body string) (llm.ClassifySignal, error) {
	s, err := a.c.Classify(ctx, subject, body)
	if err != nil {
		return llm.ClassifySignal{}, err
	}
	return llm.ClassifySignal{
		Category:   s.Category,
		Priority:   s.Priority,
		Confidence: s.Confidence,
		Reasoning:  s.Reasoning,
	}, nil
}

// ── Type converters ────────────────────────────────────────────────────────

func toPublicResult(state model.WorkflowState) TriageResult {
	result := TriageResult{
		TicketID: state.Ticket.ID,
		Status:   string(state.Status),
		Notes:    state.Notes,
	}
	if c := state.Classification; c != nil {
		result.Classification = &Classification{
			Category:       Category(c.Category),
			Priority:       Priority(c.Priority),
			Confidence:     c.Confidence,
			Reasoning:      c.Reasoning,
			EscalationFlag: c.EscalationFlag,
		}
	}
	if d := state.Decision; d != nil {
		result.Decision = &EscalationDecision{
			Escalate:   d.Escalate,
			Category:   string(d.Category),
			SLA:        string(d.SLA),
			Confidence: d.Confidence,
			Reasoning:  d.Reasoning,
		}
	}
	if r := state.Resolution; r != nil {
		result.Resolution = &Resolution{
			TicketID:     r.TicketID,
			Response:     r.Response,
			Confidence:   r.Confidence,
			ArticlesUsed: r.ArticlesUsed,
			AgentType:    string(r.AgentType),
			CreatedAt:    r.CreatedAt,
		}
	}
	return result
}

// ── Helpers ────────────────────────────────────────────────────────────────

// newEmbeddingProvider creates an embedding provider based on configuration.
// Ollama is preferred: embeddings stay on-premises with no external API
// costs. When no Ollama server responds, the noop provider disables the
// vector leg and retrieval degrades to lexical search.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	if ollamaReachable(cfg.OllamaURL) {
		logger.Info("embedding provider: ollama",
			"url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", cfg.EmbeddingDimensions)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.EmbeddingDimensions)
	}
	logger.Warn("ollama unreachable, using noop embeddings (vector search disabled)", "url", cfg.OllamaURL)
	return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
