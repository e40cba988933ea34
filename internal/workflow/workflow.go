// Package workflow sequences the triage pipeline for one ticket:
// classification, knowledge scoring, escalation decision, resolution routing.
// Each stage runs at most once per run and reads only the accumulated state;
// external-collaborator failures are absorbed by stage fallbacks and recorded
// as non-fatal notes, so a valid ticket always ends with a resolution.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kaiketsu-ai/kaiketsu/internal/escalate"
	"github.com/kaiketsu-ai/kaiketsu/internal/model"
	"github.com/kaiketsu-ai/kaiketsu/internal/telemetry"
)

// repeatContactWindow bounds how far back the repeat-contact lookup scans a
// customer's ticket history.
const repeatContactWindow = 7 * 24 * time.Hour

// Stage contracts. Each stage absorbs its own external failures and returns
// the absorbed error, when any, purely for the run's notes.
type (
	// Classifier produces the final classification for a ticket.
	Classifier interface {
		Classify(ctx context.Context, ticket model.Ticket) (model.Classification, error)
	}

	// Scorer retrieves and ranks knowledge articles. Unlike the other
	// stages its error is a real failure; the pipeline maps it to an empty
	// match set.
	Scorer interface {
		Score(ctx context.Context, ticket model.Ticket, c model.Classification) ([]model.ScoredMatch, error)
	}

	// Decider evaluates the escalation rule matrix.
	Decider interface {
		Decide(ctx context.Context, ticket model.Ticket, c model.Classification, matches []model.ScoredMatch, signals escalate.Signals) (model.EscalationDecision, error)
	}

	// Resolver produces the terminal resolution.
	Resolver interface {
		Resolve(ctx context.Context, ticket model.Ticket, c model.Classification, matches []model.ScoredMatch, decision model.EscalationDecision) (model.Resolution, error)
	}
)

// Store is the persistence surface the pipeline writes through. All writes
// are best-effort from the run's perspective: a storage failure is logged
// and noted but never fails the run.
type Store interface {
	UpdateTicketStatus(ctx context.Context, id uuid.UUID, status model.Status) error
	CountRecentTicketsByCustomer(ctx context.Context, customerID string, excludeTicket uuid.UUID, since time.Time) (int, error)
	SaveDecision(ctx context.Context, ticketID uuid.UUID, d model.EscalationDecision) error
	SaveResolution(ctx context.Context, r model.Resolution) error
	GetResolution(ctx context.Context, ticketID uuid.UUID) (model.Resolution, error)
	IncrementArticleUsage(ctx context.Context, articleIDs []uuid.UUID) error
	RecordArticleFeedback(ctx context.Context, ticketID, articleID uuid.UUID, helpful bool, rating *float64) error
}

// Pipeline runs the triage stages for tickets.
type Pipeline struct {
	classifier  Classifier
	scorer      Scorer
	decider     Decider
	resolver    Resolver
	store       Store
	concurrency int
	logger      *slog.Logger

	tracer    trace.Tracer
	processed metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewPipeline wires the four stages and the store into a pipeline.
// concurrency bounds ProcessBatch; values below 1 mean sequential.
func NewPipeline(classifier Classifier, scorer Scorer, decider Decider, resolver Resolver, store Store, concurrency int, logger *slog.Logger) (*Pipeline, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	meter := telemetry.Meter("kaiketsu/workflow")
	processed, err := meter.Int64Counter("kaiketsu.tickets.processed",
		metric.WithDescription("Tickets run through the triage pipeline, by outcome."))
	if err != nil {
		return nil, fmt.Errorf("workflow: create processed counter: %w", err)
	}
	duration, err := meter.Float64Histogram("kaiketsu.pipeline.duration",
		metric.WithDescription("End-to-end pipeline duration per ticket."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("workflow: create duration histogram: %w", err)
	}

	return &Pipeline{
		classifier:  classifier,
		scorer:      scorer,
		decider:     decider,
		resolver:    resolver,
		store:       store,
		concurrency: concurrency,
		logger:      logger,
		tracer:      telemetry.Tracer("kaiketsu/workflow"),
		processed:   processed,
		duration:    duration,
	}, nil
}

// Process runs the full pipeline for one ticket. It returns an error only
// for invalid input or cancellation between stages; every other failure is
// absorbed and the returned state always carries a Resolution.
func (p *Pipeline) Process(ctx context.Context, ticket model.Ticket) (model.WorkflowState, error) {
	start := time.Now()
	state := model.WorkflowState{Ticket: ticket, Status: model.StatusNew}

	if err := ticket.Validate(); err != nil {
		return state, err
	}

	ctx, span := p.tracer.Start(ctx, "workflow.process",
		trace.WithAttributes(attribute.String("ticket.id", ticket.ID.String())))
	defer span.End()

	// Classification. Never fails; an absorbed external failure becomes a note.
	if err := ctx.Err(); err != nil {
		return state, fmt.Errorf("workflow: canceled before classification: %w", err)
	}
	classification, absorbed := p.classifier.Classify(ctx, ticket)
	if absorbed != nil {
		state.AddNote("classification signal unavailable: " + absorbed.Error())
	}
	state.Classification = &classification
	p.setStatus(ctx, &state, model.StatusClassified)

	// Knowledge scoring. Retrieval failure degrades to an empty match set;
	// the decision engine then sees the weakest possible best match.
	if err := ctx.Err(); err != nil {
		return state, fmt.Errorf("workflow: canceled before search: %w", err)
	}
	matches, err := p.scorer.Score(ctx, ticket, classification)
	if err != nil {
		state.AddNote("knowledge search unavailable: " + err.Error())
		matches = nil
	}
	state.Matches = matches
	p.setStatus(ctx, &state, model.StatusSearched)

	// Escalation decision.
	if err := ctx.Err(); err != nil {
		return state, fmt.Errorf("workflow: canceled before decision: %w", err)
	}
	decision, absorbed := p.decider.Decide(ctx, ticket, classification, matches, p.signals(ctx, &state))
	if absorbed != nil {
		state.AddNote("advisory signal unavailable: " + absorbed.Error())
	}
	state.Decision = &decision
	if err := p.store.SaveDecision(ctx, ticket.ID, decision); err != nil {
		p.logger.Warn("workflow: persist decision", "ticket_id", ticket.ID, "error", err)
	}

	// Resolution routing. Generation failure degrades to a handoff inside
	// the router, so a resolution always comes back.
	if err := ctx.Err(); err != nil {
		return state, fmt.Errorf("workflow: canceled before resolution: %w", err)
	}
	resolution, absorbed := p.resolver.Resolve(ctx, ticket, classification, matches, decision)
	if absorbed != nil {
		state.AddNote("response generation unavailable: " + absorbed.Error())
	}
	state.Resolution = &resolution

	if resolution.AgentType == model.AgentEscalation {
		p.setStatus(ctx, &state, model.StatusEscalated)
	} else {
		p.setStatus(ctx, &state, model.StatusResolved)
	}
	if err := p.store.SaveResolution(ctx, resolution); err != nil {
		p.logger.Warn("workflow: persist resolution", "ticket_id", ticket.ID, "error", err)
	}

	// Usage accounting: every article an AI response cited counts as one
	// use, regardless of whether feedback ever arrives. Escalation handoffs
	// cite articles only as context, so they don't count.
	if resolution.AgentType == model.AgentAI && len(resolution.ArticlesUsed) > 0 {
		if err := p.store.IncrementArticleUsage(ctx, resolution.ArticlesUsed); err != nil {
			p.logger.Warn("workflow: record article usage", "ticket_id", ticket.ID, "error", err)
		}
	}

	p.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(resolution.AgentType))))
	p.duration.Record(ctx, time.Since(start).Seconds())

	p.logger.Info("workflow: ticket processed",
		"ticket_id", ticket.ID,
		"category", classification.Category,
		"priority", classification.Priority,
		"escalated", decision.Escalate,
		"agent_type", resolution.AgentType,
		"notes", len(state.Notes),
		"duration", time.Since(start))

	return state, nil
}

// BatchResult pairs one ticket's final state with its per-ticket error.
type BatchResult struct {
	State model.WorkflowState
	Err   error
}

// ProcessBatch runs the pipeline for multiple independent tickets with
// bounded concurrency. Results are positionally aligned with the input;
// one ticket's failure never affects the others.
func (p *Pipeline) ProcessBatch(ctx context.Context, tickets []model.Ticket) []BatchResult {
	results := make([]BatchResult, len(tickets))

	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for i, ticket := range tickets {
		g.Go(func() error {
			state, err := p.Process(ctx, ticket)
			results[i] = BatchResult{State: state, Err: err}
			return nil
		})
	}
	_ = g.Wait() // per-ticket errors live in results

	return results
}

// RecordOutcome accepts the learning loop's feedback for a processed ticket
// and forwards it to the article statistics for every article the resolution
// used. The pipeline itself never computes the statistics.
func (p *Pipeline) RecordOutcome(ctx context.Context, ticketID uuid.UUID, wasHelpful bool, rating *float64) error {
	if rating != nil && (*rating < 0 || *rating > 5) {
		return fmt.Errorf("workflow: rating %v out of range [0,5]", *rating)
	}

	resolution, err := p.store.GetResolution(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("workflow: record outcome: %w", err)
	}

	for _, articleID := range resolution.ArticlesUsed {
		if err := p.store.RecordArticleFeedback(ctx, ticketID, articleID, wasHelpful, rating); err != nil {
			return fmt.Errorf("workflow: forward feedback for article %s: %w", articleID, err)
		}
	}
	return nil
}

// signals gathers the decision inputs the engine cannot derive from text.
// Best-effort: a storage failure leaves the signal unset with a note.
func (p *Pipeline) signals(ctx context.Context, state *model.WorkflowState) escalate.Signals {
	ticket := state.Ticket
	prior, err := p.store.CountRecentTicketsByCustomer(ctx, ticket.CustomerID, ticket.ID, time.Now().Add(-repeatContactWindow))
	if err != nil {
		p.logger.Warn("workflow: repeat-contact lookup failed", "ticket_id", ticket.ID, "error", err)
		state.AddNote("repeat-contact lookup unavailable: " + err.Error())
		return escalate.Signals{}
	}
	return escalate.Signals{PriorContacts: prior}
}

// setStatus advances the run's status and mirrors it to storage best-effort.
func (p *Pipeline) setStatus(ctx context.Context, state *model.WorkflowState, status model.Status) {
	state.Status = status
	state.Ticket.Status = status
	if err := p.store.UpdateTicketStatus(ctx, state.Ticket.ID, status); err != nil {
		p.logger.Warn("workflow: persist ticket status",
			"ticket_id", state.Ticket.ID, "status", status, "error", err)
	}
}
