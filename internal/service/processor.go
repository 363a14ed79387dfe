package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"

	"mpesa-callback-service/internal/db"
	"mpesa-callback-service/internal/logcontext"
	"mpesa-callback-service/internal/payment"
)

var (
	callbackSuccessCounter     = metrics.GetOrCreateCounter(`payment_callback_total{result="success"}`)
	callbackDuplicateCounter   = metrics.GetOrCreateCounter(`payment_callback_total{result="duplicate"}`)
	callbackCancelledCounter   = metrics.GetOrCreateCounter(`payment_callback_total{result="cancelled"}`)
	callbackFailedCounter      = metrics.GetOrCreateCounter(`payment_callback_total{result="failed"}`)
	callbackMalformedCounter   = metrics.GetOrCreateCounter(`payment_callback_total{result="malformed"}`)
	callbackStorageErrCounter  = metrics.GetOrCreateCounter(`payment_callback_total{result="storage_error"}`)
	callbackPartialMetaCounter = metrics.GetOrCreateCounter(`payment_callback_partial_metadata_total`)

	callbackDurationHistogram = metrics.GetOrCreateHistogram(`payment_callback_duration_milliseconds`)
)

// PaymentStore persists successful payments. Implementations must be safe for
// concurrent use.
type PaymentStore interface {
	Insert(ctx context.Context, entity *db.PaymentEntity) error
	ListAll(ctx context.Context) ([]*db.PaymentEntity, error)
}

// Decision is what happened to one callback.
type Decision struct {
	Outcome payment.Outcome
	Result  payment.Result
	// Payment is the stored row; nil unless Outcome is success and the row was written.
	Payment *db.PaymentEntity
	// Duplicate is set when the store already holds this checkout request.
	Duplicate bool
}

type CallbackProcessor struct {
	store  PaymentStore
	logger *slog.Logger
}

func NewCallbackProcessor(store PaymentStore, logger *slog.Logger) *CallbackProcessor {
	return &CallbackProcessor{store: store, logger: logger}
}

// Process extracts, classifies and, for successful payments, stores one
// callback. Errors wrap payment.ErrMalformedCallback or a storage failure.
func (p *CallbackProcessor) Process(ctx context.Context, body []byte) (Decision, error) {
	startTime := time.Now()
	defer func() {
		callbackDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	result, err := payment.Extract(body)
	if err != nil {
		p.logger.WarnContext(ctx, "Rejecting malformed callback", "error", err)
		callbackMalformedCounter.Inc()
		return Decision{}, err
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("checkoutRequestId", result.CheckoutRequestID))

	decision := Decision{
		Outcome: payment.Classify(result.ResultCode),
		Result:  result,
	}

	p.logger.InfoContext(ctx, "Callback classified",
		"resultCode", result.ResultCode, "resultDesc", result.ResultDesc, "outcome", decision.Outcome.String())

	switch decision.Outcome {
	case payment.OutcomeCancelled:
		callbackCancelledCounter.Inc()
		return decision, nil
	case payment.OutcomeFailed:
		callbackFailedCounter.Inc()
		return decision, nil
	}

	if !result.MetadataComplete() {
		p.logger.WarnContext(ctx, "Callback metadata is partially filled",
			"missing", result.PartialMetadata(), "malformed", result.MetadataMalformed)
		callbackPartialMetaCounter.Inc()
	}

	entity := &db.PaymentEntity{
		CheckoutRequestID: result.CheckoutRequestID,
		ResultCode:        result.ResultCode,
		Amount:            result.Amount,
		ReceiptNumber:     result.ReceiptNumber,
		PhoneNumber:       result.PhoneNumber,
	}

	if err := p.store.Insert(ctx, entity); err != nil {
		if errors.Is(err, db.ErrDuplicatePayment) {
			p.logger.InfoContext(ctx, "Payment already recorded, skipping")
			callbackDuplicateCounter.Inc()
			decision.Duplicate = true
			return decision, nil
		}

		p.logger.ErrorContext(ctx, "Error storing payment", "error", err)
		callbackStorageErrCounter.Inc()
		return decision, errors.Wrap(err, "storing payment")
	}

	p.logger.InfoContext(ctx, "Payment stored", "paymentId", entity.ID.String())
	callbackSuccessCounter.Inc()
	decision.Payment = entity
	return decision, nil
}

// ListPayments returns every stored payment in no particular order.
func (p *CallbackProcessor) ListPayments(ctx context.Context) ([]*db.PaymentEntity, error) {
	payments, err := p.store.ListAll(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error listing payments", "error", err)
		return nil, errors.Wrap(err, "listing payments")
	}
	return payments, nil
}
