package metrics

import (
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"mpesa-callback-service/internal/config"
)

// Setup starts pushing the default metrics set when a push URL is configured.
// The /metrics endpoint is served regardless.
func Setup(cfg config.Metrics, logger *slog.Logger) {
	if cfg.URL == "" {
		return
	}

	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if err := metrics.InitPush(cfg.URL, interval, cfg.CommonLabels, true); err != nil {
		logger.Error("Error initializing metrics push", "error", err)
	}
}
