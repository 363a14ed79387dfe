package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"mpesa-callback-service/internal/db"
	"mpesa-callback-service/internal/payment"
	"mpesa-callback-service/internal/service"
)

const maxCallbackBytes = int64(64 << 10)

const (
	MessageProcessed       = "Payment processed successfully"
	MessageAlreadyRecorded = "Payment already processed"
	MessageCancelled       = "Transaction cancelled by user"
	MessageFailed          = "Payment failed"
	MessageStorageError    = "Failed to record payment"
	MessageInvalidPayload  = "Invalid callback payload"
	MessageListError       = "Failed to list payments"
)

type MessageResponse struct {
	Message string `json:"message"`
}

type CallbackService interface {
	Process(ctx context.Context, body []byte) (service.Decision, error)
	ListPayments(ctx context.Context) ([]*db.PaymentEntity, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	callbacks CallbackService
	pinger    Pinger
	logger    *slog.Logger
}

func NewHandler(callbacks CallbackService, pinger Pinger, logger *slog.Logger) *Handler {
	return &Handler{callbacks: callbacks, pinger: pinger, logger: logger}
}

// PaymentCallback handles POST /payment/callback from the gateway.
func (h *Handler) PaymentCallback(c *gin.Context) {
	ctx := c.Request.Context()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "Error reading callback body", "error", err)
		c.JSON(http.StatusBadRequest, MessageResponse{Message: MessageInvalidPayload})
		return
	}

	h.logger.DebugContext(ctx, "Callback received", "body", string(body))

	decision, err := h.callbacks.Process(ctx, body)
	if err != nil {
		if errors.Is(err, payment.ErrMalformedCallback) {
			c.JSON(http.StatusBadRequest, MessageResponse{Message: MessageInvalidPayload})
			return
		}
		c.JSON(http.StatusInternalServerError, MessageResponse{Message: MessageStorageError})
		return
	}

	switch decision.Outcome {
	case payment.OutcomeSuccess:
		if decision.Duplicate {
			c.JSON(http.StatusOK, MessageResponse{Message: MessageAlreadyRecorded})
			return
		}
		c.JSON(http.StatusOK, MessageResponse{Message: MessageProcessed})
	case payment.OutcomeCancelled:
		c.JSON(http.StatusOK, MessageResponse{Message: MessageCancelled})
	default:
		c.JSON(http.StatusInternalServerError, MessageResponse{Message: MessageFailed})
	}
}

// ListPayments handles GET /payments. The array order is unspecified.
func (h *Handler) ListPayments(c *gin.Context) {
	payments, err := h.callbacks.ListPayments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, MessageResponse{Message: MessageListError})
		return
	}
	c.JSON(http.StatusOK, payments)
}

func (h *Handler) Liveness(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Handler) Readiness(c *gin.Context) {
	if err := h.pinger.Ping(c.Request.Context()); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "Database ping failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, MessageResponse{Message: "Database unavailable"})
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "ok"})
}
