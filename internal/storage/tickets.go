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

const ticketColumns = `id, subject, body, customer_id, customer_email, customer_name, status, created_at`

func scanTicket(row pgx.Row) (model.Ticket, error) {
	var t model.Ticket
	err := row.Scan(
		&t.ID, &t.Subject, &t.Body, &t.CustomerID,
		&t.CustomerEmail, &t.CustomerName, &t.Status, &t.CreatedAt,
	)
	return t, err
}

// CreateTicket inserts a new ticket.
func (db *DB) CreateTicket(ctx context.Context, ticket model.Ticket) (model.Ticket, error) {
	if ticket.ID == uuid.Nil {
		ticket.ID = uuid.New()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now().UTC()
	}
	if ticket.Status == "" {
		ticket.Status = model.StatusNew
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO tickets (id, subject, body, customer_id, customer_email, customer_name, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ticket.ID, ticket.Subject, ticket.Body, ticket.CustomerID,
		ticket.CustomerEmail, ticket.CustomerName, string(ticket.Status), ticket.CreatedAt,
	)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("storage: create ticket: %w", err)
	}
	return ticket, nil
}

// GetTicket retrieves a ticket by ID.
func (db *DB) GetTicket(ctx context.Context, id uuid.UUID) (model.Ticket, error) {
	t, err := scanTicket(db.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Ticket{}, fmt.Errorf("storage: ticket %s: %w", id, ErrNotFound)
		}
		return model.Ticket{}, fmt.Errorf("storage: get ticket: %w", err)
	}
	return t, nil
}

// UpdateTicketStatus advances a ticket's pipeline status.
func (db *DB) UpdateTicketStatus(ctx context.Context, id uuid.UUID, status model.Status) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE tickets SET status = $1 WHERE id = $2`, string(status), id,
	)
	if err != nil {
		return fmt.Errorf("storage: update ticket status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: ticket %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountRecentTicketsByCustomer returns how many tickets the customer filed
// since the given time, excluding the ticket currently being processed.
// Feeds the repeat-contact escalation signal.
func (db *DB) CountRecentTicketsByCustomer(ctx context.Context, customerID string, excludeTicket uuid.UUID, since time.Time) (int, error) {
	if customerID == "" {
		return 0, nil
	}
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tickets
		 WHERE customer_id = $1 AND id <> $2 AND created_at >= $3`,
		customerID, excludeTicket, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count recent tickets: %w", err)
	}
	return count, nil
}
