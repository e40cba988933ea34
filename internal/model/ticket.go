// Package model defines the domain types shared across the triage pipeline:
// tickets, classifications, knowledge articles, scored matches, escalation
// decisions, and resolutions.
package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTicket is returned when a ticket fails validation before the
// pipeline starts. It is the only error a caller of Process sees for
// malformed input; everything else is absorbed by stage fallbacks.
var ErrInvalidTicket = errors.New("model: invalid ticket")

// Priority is the urgency level assigned to a ticket.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Level converts a priority to a numeric rank for comparisons.
// Unknown values rank as medium.
func (p Priority) Level() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 2
}

// Raise returns the priority one level above p, capped at critical.
func (p Priority) Raise() Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return p
	}
}

// Category is the subject-matter category of a ticket or article.
type Category string

const (
	CategoryAccount   Category = "account"
	CategoryBilling   Category = "billing"
	CategoryTechnical Category = "technical"
	CategoryProduct   Category = "product"
	CategoryGeneral   Category = "general"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryAccount, CategoryBilling, CategoryTechnical, CategoryProduct, CategoryGeneral:
		return true
	}
	return false
}

// Status tracks a ticket through the pipeline.
type Status string

const (
	StatusNew        Status = "new"
	StatusClassified Status = "classified"
	StatusSearched   Status = "searched"
	StatusEscalated  Status = "escalated"
	StatusResolved   Status = "resolved"
)

// Ticket is a customer-submitted support request. The workflow owns it for
// the duration of one pipeline run; persistence between runs lives in storage.
type Ticket struct {
	ID            uuid.UUID `json:"id"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	CustomerID    string    `json:"customer_id,omitempty"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	CustomerName  string    `json:"customer_name,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate rejects tickets the pipeline cannot meaningfully process.
// A ticket with neither subject nor body carries no signal to classify.
func (t Ticket) Validate() error {
	if strings.TrimSpace(t.Subject) == "" && strings.TrimSpace(t.Body) == "" {
		return ErrInvalidTicket
	}
	return nil
}

// FullText returns the lowercased subject+body used by keyword rules.
func (t Ticket) FullText() string {
	return strings.ToLower(t.Subject + " " + t.Body)
}

// Classification is the category/priority/confidence triple produced by the
// classification combiner. Immutable once produced; all later stages read it.
type Classification struct {
	Category   Category `json:"category"`
	Priority   Priority `json:"priority"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`

	// EscalationFlag is set when a legal-term rule fires during
	// classification; the escalation engine treats it as a forcing signal.
	EscalationFlag bool `json:"escalation_flag,omitempty"`
}

// EscalationCategory is the human team an escalated ticket routes to.
type EscalationCategory string

const (
	EscalateTechnical  EscalationCategory = "technical"
	EscalateBilling    EscalationCategory = "billing"
	EscalateManagement EscalationCategory = "management"
	EscalateLegal      EscalationCategory = "legal"
	EscalateSecurity   EscalationCategory = "security"
	EscalateGeneral    EscalationCategory = "general"
)

// SLAClass is the target response-time tier for an escalated ticket.
type SLAClass string

const (
	SLAUrgent   SLAClass = "urgent"
	SLAStandard SLAClass = "standard"
	SLALow      SLAClass = "low"
)

// EscalationDecision is the output of the escalation decision engine.
// Immutable once produced.
type EscalationDecision struct {
	Escalate   bool               `json:"escalate"`
	Category   EscalationCategory `json:"category,omitempty"`
	SLA        SLAClass           `json:"sla"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning"`
}

// AgentType identifies which path produced a resolution.
type AgentType string

const (
	AgentAI         AgentType = "ai"
	AgentEscalation AgentType = "escalation"
)

// Resolution is the terminal artifact of one pipeline run: either an
// AI-authored response or an escalation handoff notice.
type Resolution struct {
	TicketID     uuid.UUID   `json:"ticket_id"`
	Response     string      `json:"response"`
	Confidence   float64     `json:"confidence"`
	ArticlesUsed []uuid.UUID `json:"articles_used"`
	AgentType    AgentType   `json:"agent_type"`
	CreatedAt    time.Time   `json:"created_at"`
}
