// Package simulator posts gateway-shaped STK callbacks to a running service.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"mpesa-callback-service/internal/payload"
)

const defaultTimeout = 10 * time.Second

type Response struct {
	Status  int
	Message string
}

type Sender struct {
	client *http.Client
	logger *slog.Logger
}

func NewSender(timeout time.Duration, logger *slog.Logger) *Sender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sender{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Send posts cb to url. Any HTTP response is returned as-is; only transport
// and decoding problems are errors.
func (s *Sender) Send(ctx context.Context, url string, cb payload.Callback) (*Response, error) {
	body, err := json.Marshal(cb)
	if err != nil {
		return nil, errors.Wrap(err, "encoding callback")
	}

	s.logger.DebugContext(ctx, "Sending callback", "url", url, "payload", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "posting callback")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}

	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, errors.Wrapf(err, "decoding response %q", resp.Status)
	}

	s.logger.InfoContext(ctx, "Callback delivered", "status", resp.StatusCode, "message", msg.Message)
	return &Response{Status: resp.StatusCode, Message: msg.Message}, nil
}
