package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"mpesa-callback-service/internal/config"
	"mpesa-callback-service/internal/db"
	"mpesa-callback-service/internal/logcontext"
)

const (
	defaultPollingIntervalMs   = 500
	defaultFetchSize           = 200
	defaultRetryPublishDelayMs = 10_000
	defaultMaxPublishAttempts  = 3
)

var (
	// producer batch metrics
	producerErrorFetchingCounter = metrics.GetOrCreateCounter(`payment_event_producer_total{result="fetching_failed"}`)
	producerErrorKafkaCounter    = metrics.GetOrCreateCounter(`payment_event_producer_total{result="publish_failed"}`)
	producerErrorUpdateCounter   = metrics.GetOrCreateCounter(`payment_event_producer_total{result="db_update_failed"}`)
	producerSuccessCounter       = metrics.GetOrCreateCounter(`payment_event_producer_total{result="success"}`)

	producerProcessDurationHistogram = metrics.GetOrCreateHistogram(`payment_event_producer_duration_milliseconds`)

	// producer per message metrics
	producerMessagesPublishedCounter   = metrics.GetOrCreateCounter(`payment_event_producer_messages_total{result="published"}`)
	producerMessagesMaxAttemptsCounter = metrics.GetOrCreateCounter(`payment_event_producer_messages_total{result="max_attempts_reached"}`)
	producerMessagesRescheduledCounter = metrics.GetOrCreateCounter(`payment_event_producer_messages_total{result="rescheduled"}`)
)

type EventRepository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*db.PaymentEventEntity, error)
	UpdateEvent(ctx context.Context, tx pgx.Tx, e *db.PaymentEventEntity) error
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer moves payment_event rows to Kafka. A failed batch is rescheduled
// with a delay that grows with each attempt until maxPublishAttempts.
type Producer struct {
	repo               EventRepository
	writer             MessageWriter
	pollingInterval    time.Duration
	fetchSize          int
	retryDelay         time.Duration
	maxPublishAttempts int
	logger             *slog.Logger
}

func NewProducer(repo EventRepository, writer MessageWriter, cfg config.Outbox, logger *slog.Logger) *Producer {
	return &Producer{
		repo:               repo,
		writer:             writer,
		pollingInterval:    time.Duration(orDefault(cfg.PollingIntervalMs, defaultPollingIntervalMs)) * time.Millisecond,
		fetchSize:          orDefault(cfg.FetchSize, defaultFetchSize),
		retryDelay:         time.Duration(orDefault(cfg.RescheduleDelayMs, defaultRetryPublishDelayMs)) * time.Millisecond,
		maxPublishAttempts: orDefault(cfg.MaxPublishAttempts, defaultMaxPublishAttempts),
		logger:             logger,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Start polls until ctx is cancelled. The returned channel is closed once the
// last batch has finished, so the writer and pool can be closed after it.
func (p *Producer) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.Process(ctx)
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "Context done, stopping producer")
				return
			}
		}
	}()
	return done
}

// Process publishes one batch of due events.
func (p *Producer) Process(ctx context.Context) {
	startTime := time.Now()
	defer func() {
		producerProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	// set runId as a correlation id for all logs in scope
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	defer tx.Rollback(ctx)

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.fetchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error fetching unpublished events", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	if len(events) == 0 {
		p.logger.DebugContext(ctx, "No unpublished events found")
		producerSuccessCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Writing payment events to Kafka", "count", len(events))

	err = p.writer.WriteMessages(ctx, toKafkaMessages(events)...)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error writing messages to Kafka", "error", err)
		producerErrorKafkaCounter.Inc()
	}

	now := time.Now()
	for _, event := range events {
		eventCtx := logcontext.AppendCtx(ctx, slog.String("eventId", event.ID.String()))

		event.PublishAttempts++

		if err != nil {
			errMsg := err.Error()
			event.Error = &errMsg

			if event.PublishAttempts >= p.maxPublishAttempts {
				p.logger.WarnContext(eventCtx, "Max publish attempts reached for payment event")
				event.ScheduledAt = nil

				producerMessagesMaxAttemptsCounter.Inc()
			} else {
				scheduledAt := now.Add(time.Duration(event.PublishAttempts) * p.retryDelay)
				event.ScheduledAt = &scheduledAt

				producerMessagesRescheduledCounter.Inc()
			}
		} else {
			event.ScheduledAt = nil
			event.PublishedAt = &now
			event.Error = nil

			producerMessagesPublishedCounter.Inc()
		}

		if err := p.repo.UpdateEvent(eventCtx, tx, event); err != nil {
			p.logger.ErrorContext(eventCtx, "Error updating payment event", "error", err)
			producerErrorUpdateCounter.Inc()
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Error committing transaction", "error", err)
		producerErrorUpdateCounter.Inc()
		return
	}

	producerSuccessCounter.Inc()
}

func toKafkaMessages(events []*db.PaymentEventEntity) []kafka.Message {
	kafkaMessages := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		kafkaMessages = append(kafkaMessages, kafka.Message{
			// payment id as key keeps events for one payment on one partition
			Key:   []byte(e.PaymentID.String()),
			Value: []byte(e.Payload),
		})
	}
	return kafkaMessages
}
