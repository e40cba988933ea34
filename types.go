package kaiketsu

import (
	"time"

	"github.com/google/uuid"
)

// Category is a ticket or article subject-matter category.
type Category string

const (
	CategoryAccount   Category = "account"
	CategoryBilling   Category = "billing"
	CategoryTechnical Category = "technical"
	CategoryProduct   Category = "product"
	CategoryGeneral   Category = "general"
)

// Priority is a ticket urgency level.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// TicketInput is a customer support request submitted for triage.
type TicketInput struct {
	Subject       string
	Body          string
	CustomerID    string
	CustomerEmail string
	CustomerName  string
}

// Classification is the category/priority/confidence triple assigned to a
// ticket by the classification stage.
type Classification struct {
	Category   Category
	Priority   Priority
	Confidence float64
	Reasoning  string
	// EscalationFlag is set when legal language was detected during
	// classification; the decision engine treats it as a forcing signal.
	EscalationFlag bool
}

// EscalationDecision says whether a ticket goes to a human team, and if so
// which one and under which response-time tier.
type EscalationDecision struct {
	Escalate   bool
	Category   string // technical | billing | management | legal | security | general
	SLA        string // urgent | standard | low
	Confidence float64
	Reasoning  string
}

// Resolution is the terminal artifact of one triage run: either an
// AI-authored response or an escalation handoff notice.
type Resolution struct {
	TicketID     uuid.UUID
	Response     string
	Confidence   float64
	ArticlesUsed []uuid.UUID
	AgentType    string // ai | escalation
	CreatedAt    time.Time
}

// TriageResult is the full outcome of one pipeline run.
type TriageResult struct {
	TicketID       uuid.UUID
	Status         string // new | classified | searched | escalated | resolved
	Classification *Classification
	Decision       *EscalationDecision
	Resolution     *Resolution
	// Notes records non-fatal stage failures absorbed during the run.
	Notes []string
}

// Article is a knowledge-base entry.
type Article struct {
	ID              uuid.UUID
	Title           string
	Content         string
	Category        Category
	Tags            []string
	ResolutionCount int
	Rating          float64
	CreatedAt       time.Time
}
