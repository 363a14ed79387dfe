package message

import (
	"time"

	"github.com/google/uuid"
)

const EventPaymentRecorded = "payment.recorded"

// PaymentRecorded is published to Kafka for every stored payment.
type PaymentRecorded struct {
	ID                uuid.UUID `json:"id"`
	Event             string    `json:"event"`
	PaymentID         uuid.UUID `json:"paymentId"`
	CheckoutRequestID string    `json:"checkoutRequestId"`
	Amount            *float64  `json:"amount,omitempty"`
	ReceiptNumber     *string   `json:"receiptNumber,omitempty"`
	PhoneNumber       *string   `json:"phoneNumber,omitempty"`
	RecordedAt        time.Time `json:"recordedAt"`
}
