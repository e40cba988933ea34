package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kaiketsu-ai/kaiketsu/internal/model"
)

// SaveDecision persists the escalation decision for a ticket. Reprocessing a
// ticket overwrites the previous decision.
func (db *DB) SaveDecision(ctx context.Context, ticketID uuid.UUID, d model.EscalationDecision) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO decisions (ticket_id, escalate, category, sla, confidence, reasoning, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (ticket_id) DO UPDATE SET
		     escalate = EXCLUDED.escalate,
		     category = EXCLUDED.category,
		     sla = EXCLUDED.sla,
		     confidence = EXCLUDED.confidence,
		     reasoning = EXCLUDED.reasoning,
		     created_at = EXCLUDED.created_at`,
		ticketID, d.Escalate, string(d.Category), string(d.SLA),
		d.Confidence, d.Reasoning, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: save decision: %w", err)
	}
	return nil
}

// GetDecision retrieves the escalation decision for a ticket.
func (db *DB) GetDecision(ctx context.Context, ticketID uuid.UUID) (model.EscalationDecision, error) {
	var d model.EscalationDecision
	err := db.pool.QueryRow(ctx,
		`SELECT escalate, category, sla, confidence, reasoning
		 FROM decisions WHERE ticket_id = $1`, ticketID,
	).Scan(&d.Escalate, &d.Category, &d.SLA, &d.Confidence, &d.Reasoning)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EscalationDecision{}, fmt.Errorf("storage: decision for ticket %s: %w", ticketID, ErrNotFound)
		}
		return model.EscalationDecision{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return d, nil
}

// SaveResolution persists the terminal resolution for a ticket. Reprocessing
// overwrites, keeping resolutions one-per-ticket.
func (db *DB) SaveResolution(ctx context.Context, r model.Resolution) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.ArticlesUsed == nil {
		r.ArticlesUsed = []uuid.UUID{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO resolutions (ticket_id, response, confidence, articles_used, agent_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (ticket_id) DO UPDATE SET
		     response = EXCLUDED.response,
		     confidence = EXCLUDED.confidence,
		     articles_used = EXCLUDED.articles_used,
		     agent_type = EXCLUDED.agent_type,
		     created_at = EXCLUDED.created_at`,
		r.TicketID, r.Response, r.Confidence, r.ArticlesUsed, string(r.AgentType), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save resolution: %w", err)
	}
	return nil
}

// GetResolution retrieves the resolution for a ticket.
func (db *DB) GetResolution(ctx context.Context, ticketID uuid.UUID) (model.Resolution, error) {
	var r model.Resolution
	err := db.pool.QueryRow(ctx,
		`SELECT ticket_id, response, confidence, articles_used, agent_type, created_at
		 FROM resolutions WHERE ticket_id = $1`, ticketID,
	).Scan(&r.TicketID, &r.Response, &r.Confidence, &r.ArticlesUsed, &r.AgentType, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Resolution{}, fmt.Errorf("storage: resolution for ticket %s: %w", ticketID, ErrNotFound)
		}
		return model.Resolution{}, fmt.Errorf("storage: get resolution: %w", err)
	}
	return r, nil
}
