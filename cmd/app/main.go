package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/roombooking/api"
	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/bootstrap"
	"github.com/Domenick1991/roombooking/internal/gateway/stripegw"
	"github.com/Domenick1991/roombooking/internal/logger"
	"github.com/Domenick1991/roombooking/internal/service/reservation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.NewServices(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("init services", zap.Error(err))
	}
	defer func() {
		if err := services.Close(); err != nil {
			zl.Warn("close services", zap.Error(err))
		}
	}()

	reservations := reservation.NewReservationService(services.Ledger, services.Reconciler, zl.Named("reservation"))

	webhookOpts := []api.WebhookOption{api.WithWebhookLogger(zl.Named("webhook"))}
	if services.Cache != nil {
		webhookOpts = append(webhookOpts, api.WithDeduper(services.Cache))
	}
	if services.Producer != nil {
		webhookOpts = append(webhookOpts, api.WithPublisher(services.Producer, cfg.Kafka.PaymentEventsTopic))
	}

	router := api.NewRouter(cfg.HTTP, zl.Named("http"), api.Handlers{
		Bookings: api.NewBookingHandler(reservations, zl.Named("bookings")),
		Webhooks: api.NewWebhookHandler(
			stripegw.NewWebhookVerifier(cfg.Payment.StripeWebhookSecret),
			services.Reconciler,
			webhookOpts...,
		),
		Checks: services.Checks,
	})

	if err := bootstrap.Run(ctx, cfg.HTTP, router, zl); err != nil {
		zl.Error("server error", zap.Error(err))
	}
}
