package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const eventColumns = `id, payment_id, payload, created_at, updated_at, scheduled_at, published_at, publish_attempts, error`

// GetUnpublishedEvents locks up to limit due events. Rows locked by another
// producer are skipped.
func (r *PaymentRepository) GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*PaymentEventEntity, error) {
	query := `SELECT ` + eventColumns + `
	          FROM payment_event
	          WHERE scheduled_at IS NOT NULL AND scheduled_at <= now()
	          ORDER BY scheduled_at
	          LIMIT $1
	          FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying unpublished events")
	}
	defer rows.Close()

	var events []*PaymentEventEntity
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *PaymentRepository) UpdateEvent(ctx context.Context, tx pgx.Tx, e *PaymentEventEntity) error {
	query := `UPDATE payment_event
	          SET scheduled_at = $2, published_at = $3, publish_attempts = $4, error = $5, updated_at = now()
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query, e.ID, e.ScheduledAt, e.PublishedAt, e.PublishAttempts, e.Error)
	if err != nil {
		return errors.Wrap(err, "updating payment event")
	}
	return nil
}

func (r *PaymentRepository) SelectEventsByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*PaymentEventEntity, error) {
	query := `SELECT ` + eventColumns + ` FROM payment_event WHERE payment_id = $1`
	rows, err := r.pool.Query(ctx, query, paymentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying payment events")
	}
	defer rows.Close()

	var events []*PaymentEventEntity
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*PaymentEventEntity, error) {
	var e PaymentEventEntity
	err := row.Scan(&e.ID, &e.PaymentID, &e.Payload, &e.CreatedAt, &e.UpdatedAt, &e.ScheduledAt, &e.PublishedAt,
		&e.PublishAttempts, &e.Error)
	if err != nil {
		return nil, errors.Wrap(err, "scanning payment event")
	}
	return &e, nil
}
