package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpesa-callback-service/internal/config"
	"mpesa-callback-service/internal/db"
	"mpesa-callback-service/internal/service"
	"mpesa-callback-service/internal/testhelpers"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

func newTestRouter(store *testhelpers.MemoryStore, cfg config.Server) *gin.Engine {
	logger := slog.Default()
	processor := service.NewCallbackProcessor(store, logger)
	return NewRouter(cfg, NewHandler(processor, stubPinger{}, logger), logger)
}

func postCallback(t *testing.T, r http.Handler, body string) (*httptest.ResponseRecorder, MessageResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/payment/callback", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestPaymentCallback(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		store         *testhelpers.MemoryStore
		expectStatus  int
		expectMessage string
		expectStored  int
	}{
		{
			name:          "success with metadata",
			body:          `{"Body":{"stkCallback":{"ResultCode":0,"CheckoutRequestID":"ws_1","CallbackMetadata":{"Item":[{"Name":"Amount","Value":100.0},{"Name":"MpesaReceiptNumber","Value":"ABC123"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`,
			store:         &testhelpers.MemoryStore{},
			expectStatus:  http.StatusOK,
			expectMessage: "Payment processed successfully",
			expectStored:  1,
		},
		{
			name:          "success without metadata",
			body:          `{"Body":{"stkCallback":{"ResultCode":0,"CheckoutRequestID":"ws_2"}}}`,
			store:         &testhelpers.MemoryStore{},
			expectStatus:  http.StatusOK,
			expectMessage: "Payment processed successfully",
			expectStored:  1,
		},
		{
			name:          "cancelled by user",
			body:          `{"Body":{"stkCallback":{"ResultCode":1031,"CheckoutRequestID":"ws_3"}}}`,
			store:         &testhelpers.MemoryStore{},
			expectStatus:  http.StatusOK,
			expectMessage: "Transaction cancelled by user",
		},
		{
			name:          "gateway failure",
			body:          `{"Body":{"stkCallback":{"ResultCode":2001,"CheckoutRequestID":"ws_4","ResultDesc":"The initiator information is invalid."}}}`,
			store:         &testhelpers.MemoryStore{},
			expectStatus:  http.StatusInternalServerError,
			expectMessage: "Payment failed",
		},
		{
			name:          "missing CheckoutRequestID",
			body:          `{"Body":{"stkCallback":{"ResultCode":0}}}`,
			store:         &testhelpers.MemoryStore{},
			expectStatus:  http.StatusBadRequest,
			expectMessage: "Invalid callback payload",
		},
		{
			name:          "missing CheckoutRequestID when cancelled",
			body:          `{"Body":{"stkCallback":{"ResultCode":1031}}}`,
			store:         &testhelpers.MemoryStore{},
			expectStatus:  http.StatusBadRequest,
			expectMessage: "Invalid callback payload",
		},
		{
			name:          "missing CheckoutRequestID when failed",
			body:          `{"Body":{"stkCallback":{"ResultCode":2001}}}`,
			store:         &testhelpers.MemoryStore{},
			expectStatus:  http.StatusBadRequest,
			expectMessage: "Invalid callback payload",
		},
		{
			name:          "success with unreadable metadata",
			body:          `{"Body":{"stkCallback":{"ResultCode":0,"CheckoutRequestID":"ws_7","CallbackMetadata":"oops"}}}`,
			store:         &testhelpers.MemoryStore{},
			expectStatus:  http.StatusOK,
			expectMessage: "Payment processed successfully",
			expectStored:  1,
		},
		{
			name:          "missing ResultCode",
			body:          `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_5"}}}`,
			store:         &testhelpers.MemoryStore{},
			expectStatus:  http.StatusBadRequest,
			expectMessage: "Invalid callback payload",
		},
		{
			name:          "not json",
			body:          `payment ok`,
			store:         &testhelpers.MemoryStore{},
			expectStatus:  http.StatusBadRequest,
			expectMessage: "Invalid callback payload",
		},
		{
			name:          "storage error",
			body:          `{"Body":{"stkCallback":{"ResultCode":0,"CheckoutRequestID":"ws_6"}}}`,
			store:         &testhelpers.MemoryStore{InsertErr: errors.New("disk full")},
			expectStatus:  http.StatusInternalServerError,
			expectMessage: "Failed to record payment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(tt.store, config.Server{})

			w, resp := postCallback(t, r, tt.body)

			assert.Equal(t, tt.expectStatus, w.Code)
			assert.Equal(t, tt.expectMessage, resp.Message)
			assert.Equal(t, tt.expectStored, tt.store.Len())
		})
	}
}

func TestPaymentCallback_StoredRecordMatchesInput(t *testing.T) {
	store := &testhelpers.MemoryStore{}
	r := newTestRouter(store, config.Server{})

	body := `{"Body":{"stkCallback":{"ResultCode":0,"CheckoutRequestID":"ws_1","CallbackMetadata":{"Item":[{"Name":"Amount","Value":100.0},{"Name":"MpesaReceiptNumber","Value":"ABC123"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`
	w, _ := postCallback(t, r, body)
	require.Equal(t, http.StatusOK, w.Code)

	payments, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "ws_1", payments[0].CheckoutRequestID)
	assert.Equal(t, 0, payments[0].ResultCode)
	assert.Equal(t, 100.0, *payments[0].Amount)
	assert.Equal(t, "ABC123", *payments[0].ReceiptNumber)
	assert.Equal(t, "254712345678", *payments[0].PhoneNumber)
}

func TestPaymentCallback_DuplicateWhenUnique(t *testing.T) {
	store := &testhelpers.MemoryStore{Unique: true}
	r := newTestRouter(store, config.Server{})
	body := `{"Body":{"stkCallback":{"ResultCode":0,"CheckoutRequestID":"ws_dup"}}}`

	w, resp := postCallback(t, r, body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MessageProcessed, resp.Message)

	w, resp = postCallback(t, r, body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MessageAlreadyRecorded, resp.Message)
	assert.Equal(t, 1, store.Len())
}

func TestListPayments(t *testing.T) {
	store := &testhelpers.MemoryStore{}
	amount := 100.0
	require.NoError(t, store.Insert(context.Background(), &db.PaymentEntity{CheckoutRequestID: "ws_1", Amount: &amount}))
	require.NoError(t, store.Insert(context.Background(), &db.PaymentEntity{CheckoutRequestID: "ws_2"}))

	r := newTestRouter(store, config.Server{})
	req := httptest.NewRequest(http.MethodGet, "/payments", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)

	ids := []any{got[0]["checkoutRequestId"], got[1]["checkoutRequestId"]}
	assert.ElementsMatch(t, []any{"ws_1", "ws_2"}, ids)
	for _, p := range got {
		if p["checkoutRequestId"] == "ws_2" {
			assert.Nil(t, p["amount"])
			assert.Contains(t, p, "receiptNumber")
		}
	}
}

func TestListPayments_Empty(t *testing.T) {
	r := newTestRouter(&testhelpers.MemoryStore{}, config.Server{})
	req := httptest.NewRequest(http.MethodGet, "/payments", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestListPayments_StorageError(t *testing.T) {
	r := newTestRouter(&testhelpers.MemoryStore{ListErr: errors.New("db down")}, config.Server{})
	req := httptest.NewRequest(http.MethodGet, "/payments", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"message":"Failed to list payments"}`, w.Body.String())
}

func TestListPayments_RequiresBearerWhenSecretSet(t *testing.T) {
	const secret = "test-secret"
	r := newTestRouter(&testhelpers.MemoryStore{}, config.Server{AuthSecret: secret})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/payments", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"}).
			SignedString([]byte("other-secret"))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/payments", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"}).
			SignedString([]byte(secret))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/payments", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("callback stays open", func(t *testing.T) {
		w, resp := postCallback(t, r, `{"Body":{"stkCallback":{"ResultCode":1031,"CheckoutRequestID":"ws_7"}}}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, MessageCancelled, resp.Message)
	})
}

func TestRequireBearer_SetsPrincipal(t *testing.T) {
	const secret = "test-secret"
	r := gin.New()
	r.GET("/whoami", RequireBearer(secret, slog.Default()), func(c *gin.Context) {
		principal, _ := Principal(c)
		c.String(http.StatusOK, principal)
	})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "reconciler"}).
		SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reconciler", w.Body.String())
}

func TestRequestLogger_PropagatesRequestID(t *testing.T) {
	r := newTestRouter(&testhelpers.MemoryStore{}, config.Server{})

	req := httptest.NewRequest(http.MethodGet, "/liveness", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestReadiness(t *testing.T) {
	logger := slog.Default()
	processor := service.NewCallbackProcessor(&testhelpers.MemoryStore{}, logger)
	r := NewRouter(config.Server{}, NewHandler(processor, stubPinger{err: errors.New("refused")}, logger), logger)

	req := httptest.NewRequest(http.MethodGet, "/readiness", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(&testhelpers.MemoryStore{}, config.Server{})
	postCallback(t, r, `{"Body":{"stkCallback":{"ResultCode":1031,"CheckoutRequestID":"ws_m"}}}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `payment_callback_total{result="cancelled"}`)
}
