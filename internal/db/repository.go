package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"mpesa-callback-service/internal/message"
)

var ErrDuplicatePayment = errors.New("payment already recorded for checkout request")

type RepositoryOptions struct {
	// UniqueCheckoutRequestID makes Insert return ErrDuplicatePayment instead of
	// writing a second row for the same checkout request.
	UniqueCheckoutRequestID bool
	// EmitEvents writes a payment_event outbox row in the same transaction as the payment.
	EmitEvents bool
}

type PaymentRepository struct {
	pool *pgxpool.Pool
	opts RepositoryOptions
}

func NewPaymentRepository(pool *pgxpool.Pool, opts RepositoryOptions) *PaymentRepository {
	return &PaymentRepository{pool: pool, opts: opts}
}

func (r *PaymentRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *PaymentRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Insert appends a payment row. Field contents are not validated.
func (r *PaymentRepository) Insert(ctx context.Context, entity *PaymentEntity) error {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now()
	}

	tx, err := r.BeginTx(ctx)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback(ctx)

	if r.opts.UniqueCheckoutRequestID {
		// Serialises concurrent callbacks for the same checkout request until commit.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entity.CheckoutRequestID); err != nil {
			return errors.Wrap(err, "locking checkout request")
		}

		var exists bool
		query := `SELECT EXISTS (SELECT 1 FROM payment WHERE checkout_request_id = $1)`
		if err := tx.QueryRow(ctx, query, entity.CheckoutRequestID).Scan(&exists); err != nil {
			return errors.Wrap(err, "checking for duplicate payment")
		}
		if exists {
			return ErrDuplicatePayment
		}
	}

	query := `INSERT INTO payment (id, checkout_request_id, result_code, amount, receipt_number, phone_number, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.Exec(ctx, query, entity.ID, entity.CheckoutRequestID, entity.ResultCode, entity.Amount,
		entity.ReceiptNumber, entity.PhoneNumber, entity.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "inserting payment")
	}

	if r.opts.EmitEvents {
		if err := r.insertEvent(ctx, tx, entity); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "committing payment")
	}
	return nil
}

// ListAll returns every stored payment. Rows come back in whatever order the
// database produces; callers must not depend on it.
func (r *PaymentRepository) ListAll(ctx context.Context) ([]*PaymentEntity, error) {
	query := `SELECT id, checkout_request_id, result_code, amount, receipt_number, phone_number, created_at FROM payment`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	defer rows.Close()

	payments := make([]*PaymentEntity, 0)
	for rows.Next() {
		var p PaymentEntity
		if err := rows.Scan(&p.ID, &p.CheckoutRequestID, &p.ResultCode, &p.Amount, &p.ReceiptNumber,
			&p.PhoneNumber, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning payment")
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading payments")
	}
	return payments, nil
}

func (r *PaymentRepository) insertEvent(ctx context.Context, tx pgx.Tx, entity *PaymentEntity) error {
	event := message.PaymentRecorded{
		ID:                uuid.New(),
		Event:             message.EventPaymentRecorded,
		PaymentID:         entity.ID,
		CheckoutRequestID: entity.CheckoutRequestID,
		Amount:            entity.Amount,
		ReceiptNumber:     entity.ReceiptNumber,
		PhoneNumber:       entity.PhoneNumber,
		RecordedAt:        entity.CreatedAt,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshalling payment event")
	}

	query := `INSERT INTO payment_event (id, payment_id, payload, created_at, updated_at, scheduled_at)
	          VALUES ($1, $2, $3, $4, $4, now())`
	if _, err := tx.Exec(ctx, query, event.ID, entity.ID, string(payload), entity.CreatedAt); err != nil {
		return errors.Wrap(err, "inserting payment event")
	}
	return nil
}
