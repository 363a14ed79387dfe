package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"mpesa-callback-service/internal/api"
	"mpesa-callback-service/internal/config"
	"mpesa-callback-service/internal/db"
	"mpesa-callback-service/internal/kafka"
	"mpesa-callback-service/internal/logging"
	"mpesa-callback-service/internal/metrics"
	"mpesa-callback-service/internal/outbox"
	"mpesa-callback-service/internal/service"
)

func main() {
	cfg := config.MustLoadConfig(".")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connStr := cfg.Database.ConnString()
	if err := db.RunMigrations(connStr); err != nil {
		logger.Error("Error running migrations", "error", err)
		os.Exit(1)
	}

	dbpool, err := db.GetPool(ctx, connStr)
	if err != nil {
		logger.Error("Error connecting to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	repo := db.NewPaymentRepository(dbpool, db.RepositoryOptions{
		UniqueCheckoutRequestID: cfg.Payments.UniqueCheckoutRequestID,
		EmitEvents:              cfg.Outbox.Enabled,
	})

	var producerDone <-chan struct{}
	if cfg.Outbox.Enabled {
		writer := kafka.NewWriter(cfg.Kafka)
		defer writer.Close()

		producerDone = outbox.NewProducer(repo, writer, cfg.Outbox, logger).Start(ctx)
	}

	processor := service.NewCallbackProcessor(repo, logger)
	handler := api.NewHandler(processor, repo, logger)

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(cfg.Server, handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down server", "error", err)
	}

	// deferred closes of the writer and pool must wait for the last batch
	if producerDone != nil {
		<-producerDone
		logger.Info("Producer stopped")
	}
	logger.Info("Server stopped")
}
