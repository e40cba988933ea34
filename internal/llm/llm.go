// Package llm defines the external language-model collaborator contracts
// consumed by the triage pipeline: ticket classification, escalation
// advisory, and response generation.
//
// The pipeline treats every implementation as an unreliable remote signal:
// calls are bounded by the caller's context deadline and any error is
// absorbed by the calling stage's documented fallback, never propagated
// as a pipeline failure.
package llm

import (
	"context"
	"errors"

	"github.com/kaiketsu-ai/kaiketsu/internal/model"
)

// ErrUnavailable wraps any transport, timeout, or protocol failure from a
// collaborator. Stages match it only for logging; the fallback policy is
// the same for every external error.
var ErrUnavailable = errors.New("llm: collaborator unavailable")

// ClassifySignal is the raw classification output from the language model.
// Category and Priority are untrusted strings; the classification combiner
// maps them onto the domain enums and applies the deterministic rules.
type ClassifySignal struct {
	Category   string  `json:"category"`
	Priority   string  `json:"priority"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// TicketContext is the ticket summary passed to the advisory and
// generation calls.
type TicketContext struct {
	Subject  string
	Body     string
	Category model.Category
	Priority model.Priority
}

// Classifier produces a raw category/priority signal for a ticket.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (ClassifySignal, error)
}

// Advisor gives an independent escalation recommendation. The decision
// engine only lets it tip the scale when the deterministic weighted score
// is already at half the escalation threshold.
type Advisor interface {
	Advise(ctx context.Context, ticket TicketContext) (bool, error)
}

// Generator writes the body of an AI response from the ticket and the
// top-ranked knowledge articles. The resolution router owns the envelope
// (greeting, reference, signature); the generator owns only the body.
type Generator interface {
	Generate(ctx context.Context, ticket TicketContext, articles []model.KnowledgeArticle) (string, error)
}
