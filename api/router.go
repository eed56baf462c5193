package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	Bookings *BookingHandler
	Webhooks *WebhookHandler
	Checks   map[string]HealthCheck
}

func NewRouter(cfg config.HTTPConfig, logger *zap.Logger, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(logger), RequestLogger(logger))
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	r.GET("/healthz", healthz(h.Checks))

	v1 := r.Group("/api/v1")
	v1.Use(RateLimit(cfg.RateLimitPerMinute, cfg.RateLimitBurst, logger))
	v1.Use(RequestTimeout(time.Duration(cfg.RequestTimeoutSecs) * time.Second))
	if h.Bookings != nil {
		h.Bookings.Register(v1)
	}
	if h.Webhooks != nil {
		h.Webhooks.Register(v1)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}

	allowAll := len(origins) == 0
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
			break
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
		return cfg
	}

	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		failed := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
