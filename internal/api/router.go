package api

import (
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"mpesa-callback-service/internal/config"
)

func NewRouter(cfg config.Server, h *Handler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(logger), RequestLogger(logger))

	corsConfig := cors.Config{
		AllowOrigins:  cfg.AllowOrigins,
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	r.Use(cors.New(corsConfig))

	r.GET("/liveness", h.Liveness)
	r.GET("/readiness", h.Readiness)
	r.GET("/metrics", func(c *gin.Context) {
		metrics.WritePrometheus(c.Writer, true)
	})

	// The gateway cannot authenticate, so the callback route stays open.
	r.POST("/payment/callback", h.PaymentCallback)

	listing := r.Group("/")
	if cfg.AuthSecret != "" {
		listing.Use(RequireBearer(cfg.AuthSecret, logger))
	}
	listing.GET("/payments", h.ListPayments)

	return r
}
