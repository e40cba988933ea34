package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// KnowledgeArticle is a knowledge-base entry. Rating and ResolutionCount are
// updated asynchronously by the learning feedback loop and read with eventual
// consistency — the scorer tolerates stale values.
type KnowledgeArticle struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  Category  `json:"category"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`

	// Usage statistics maintained by the learning loop.
	ResolutionCount int     `json:"resolution_count"`
	Rating          float64 `json:"rating"`

	// Embedding is stored in Postgres as the source of truth for the vector
	// index; it is never read by the decision pipeline itself.
	Embedding *pgvector.Vector `json:"-"`
}

// ScoredMatch pairs an article with its raw retrieval score and the adjusted
// score after boosts. Exists only for the duration of one pipeline run.
type ScoredMatch struct {
	Article       KnowledgeArticle `json:"article"`
	RawScore      float64          `json:"raw_score"`
	AdjustedScore float64          `json:"adjusted_score"`
}

// WorkflowState is the per-run aggregate carried through the pipeline.
// Owned exclusively by the run that created it; no stage mutates the output
// of an earlier stage.
type WorkflowState struct {
	Ticket         Ticket              `json:"ticket"`
	Classification *Classification     `json:"classification,omitempty"`
	Matches        []ScoredMatch       `json:"matches,omitempty"`
	Decision       *EscalationDecision `json:"decision,omitempty"`
	Resolution     *Resolution         `json:"resolution,omitempty"`
	Status         Status              `json:"status"`

	// Notes records non-fatal stage failures (external collaborator outages
	// absorbed by fallbacks) for observability. Never fatal to the run.
	Notes []string `json:"notes,omitempty"`
}

// AddNote appends a non-fatal error note.
func (s *WorkflowState) AddNote(note string) {
	s.Notes = append(s.Notes, note)
}
