package kaiketsu

import "context"

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces the auto-detected
// Ollama/noop provider. Uses []float32 (not pgvector.Vector) to avoid
// forcing the pgvector dependency on external consumers; New() wraps it in
// an adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// ClassifySignal is a raw classification suggestion from an external
// classifier. Category and Priority are untrusted strings; the pipeline's
// deterministic rules always apply on top.
type ClassifySignal struct {
	Category   string
	Priority   string
	Confidence float64
	Reasoning  string
}

// TicketClassifier is an external classification signal source.
// When provided via WithClassifier, replaces the configured language-model
// classifier. Errors are absorbed by the pipeline's rule fallback, so an
// implementation may fail freely without breaking triage.
type TicketClassifier interface {
	Classify(ctx context.Context, subject, body string) (ClassifySignal, error)
}
