package db

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEntity is a stored successful payment. Optional fields are nil when
// the callback carried no metadata.
type PaymentEntity struct {
	ID                uuid.UUID `json:"id"`
	CheckoutRequestID string    `json:"checkoutRequestId"`
	ResultCode        int       `json:"resultCode"`
	Amount            *float64  `json:"amount"`
	ReceiptNumber     *string   `json:"receiptNumber"`
	PhoneNumber       *string   `json:"phoneNumber"`
	CreatedAt         time.Time `json:"createdAt"`
}

// PaymentEventEntity is an outbox row. ScheduledAt is nil once the event is
// published or has run out of publish attempts.
type PaymentEventEntity struct {
	ID              uuid.UUID
	PaymentID       uuid.UUID
	Payload         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	Error           *string
}
