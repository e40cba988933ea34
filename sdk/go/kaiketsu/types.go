package kaiketsu

import (
	"time"

	"github.com/google/uuid"
)

// TicketRequest is a support ticket submitted for triage.
type TicketRequest struct {
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
}

// Ticket is a stored support ticket.
type Ticket struct {
	ID            uuid.UUID `json:"id"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	CustomerID    string    `json:"customer_id,omitempty"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	CustomerName  string    `json:"customer_name,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Classification is the category/priority assignment for a ticket.
type Classification struct {
	Category       string  `json:"category"`
	Priority       string  `json:"priority"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
	EscalationFlag bool    `json:"escalation_flag,omitempty"`
}

// EscalationDecision says whether a ticket was routed to a human team.
type EscalationDecision struct {
	Escalate   bool    `json:"escalate"`
	Category   string  `json:"category,omitempty"`
	SLA        string  `json:"sla"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Resolution is the outcome of a triage run: an AI-authored response or an
// escalation handoff notice.
type Resolution struct {
	TicketID     uuid.UUID   `json:"ticket_id"`
	Response     string      `json:"response"`
	Confidence   float64     `json:"confidence"`
	ArticlesUsed []uuid.UUID `json:"articles_used"`
	AgentType    string      `json:"agent_type"`
	CreatedAt    time.Time   `json:"created_at"`
}

// TriageResult is the full outcome of one pipeline run.
type TriageResult struct {
	TicketID       uuid.UUID           `json:"ticket_id"`
	Status         string              `json:"status"`
	Classification *Classification     `json:"classification,omitempty"`
	Decision       *EscalationDecision `json:"decision,omitempty"`
	Resolution     *Resolution         `json:"resolution,omitempty"`
	Notes          []string            `json:"notes,omitempty"`
}

// BatchResult is one entry from ProcessBatch, positionally aligned with
// the submitted tickets. Error is non-empty when that ticket's run failed.
type BatchResult struct {
	TriageResult
	Error string `json:"error,omitempty"`
}

// TicketDetail is a ticket together with its decision and resolution,
// when the pipeline has produced them.
type TicketDetail struct {
	Ticket     Ticket              `json:"ticket"`
	Decision   *EscalationDecision `json:"decision,omitempty"`
	Resolution *Resolution         `json:"resolution,omitempty"`
}

// FeedbackRequest records whether a resolution actually helped.
// Rating, when non-nil, must be in [0, 5].
type FeedbackRequest struct {
	TicketID   uuid.UUID `json:"ticket_id"`
	WasHelpful bool      `json:"was_helpful"`
	Rating     *float64  `json:"rating,omitempty"`
}

// ArticleRequest creates a knowledge-base article.
type ArticleRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags,omitempty"`
}

// Article is a knowledge-base article.
type Article struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	Category        string    `json:"category"`
	Tags            []string  `json:"tags"`
	ResolutionCount int       `json:"resolution_count"`
	Rating          float64   `json:"rating"`
	CreatedAt       time.Time `json:"created_at"`
}

// Health is the server's component health report.
type Health struct {
	Status     string            `json:"status"` // ok | degraded | down
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}
