package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/bootstrap"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/kafka"
	"github.com/Domenick1991/roombooking/internal/logger"
	"github.com/Domenick1991/roombooking/internal/service/payment"
	kafkaGo "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const consumerBackoff = 5 * time.Second

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

	if cfg.Database.Driver == config.DriverMemory {
		zl.Fatal("worker needs shared storage, database.driver memory is not supported")
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

	if cfg.Kafka.Enabled() {
		handler := paymentEventHandler(services.Reconciler, zl.Named("payment_events"))
		go runConsumer(ctx, cfg.Kafka, handler, zl)
	} else {
		zl.Info("kafka disabled, webhooks are reconciled by the api")
	}

	sweepTicker := time.NewTicker(time.Duration(cfg.Worker.SweepIntervalMinutes) * time.Minute)
	defer sweepTicker.Stop()

	staleAfter := time.Duration(cfg.Worker.StalePendingMinutes) * time.Minute
	for {
		select {
		case <-sweepTicker.C:
			result, err := services.Reconciler.ExpireStalePending(ctx, time.Now().Add(-staleAfter), cfg.Worker.SweepBatchSize)
			if err != nil {
				zl.Error("pending sweep failed", zap.Error(err))
				continue
			}
			if result.Errors > 0 {
				zl.Warn("pending sweep finished with errors", zap.Int("errors", result.Errors))
			}
		case <-ctx.Done():
			zl.Info("shutting down worker")
			return
		}
	}
}

// runConsumer rejoins the group after a handler failure, so the uncommitted message is fetched
// again from the last committed offset.
func runConsumer(ctx context.Context, cfg config.KafkaConfig, handler func(context.Context, kafkaGo.Message) error, zl *zap.Logger) {
	for ctx.Err() == nil {
		consumer := kafka.NewConsumer(cfg.Brokers, cfg.GroupID, cfg.PaymentEventsTopic)
		err := consumer.Consume(ctx, handler)
		if cerr := consumer.Close(); cerr != nil {
			zl.Warn("close consumer", zap.Error(cerr))
		}
		if err == nil {
			return
		}

		zl.Error("consumer stopped, restarting", zap.Error(err), zap.Duration("backoff", consumerBackoff))
		select {
		case <-time.After(consumerBackoff):
		case <-ctx.Done():
		}
	}
}

// paymentEventHandler applies gateway notifications. Only infrastructure failures are returned,
// which leaves the offset uncommitted so the message is redelivered.
func paymentEventHandler(reconciler payment.ReconcilerUseCase, zl *zap.Logger) func(context.Context, kafkaGo.Message) error {
	return func(ctx context.Context, msg kafkaGo.Message) error {
		var event kafka.PaymentEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			zl.Warn("decode payment event", zap.Error(err))
			return nil
		}

		booking, err := reconciler.ReconcileByExternalRef(ctx, event.PaymentRef)
		switch {
		case err == nil:
			zl.Info("payment event applied",
				zap.String("event_id", event.EventID),
				zap.String("booking_id", booking.ID),
				zap.String("status", string(booking.Status)))
			return nil
		case errors.Is(err, domain.ErrPaymentNotSuccessful), errors.Is(err, domain.ErrNotFound):
			zl.Info("payment event skipped", zap.String("event_id", event.EventID), zap.Error(err))
			return nil
		default:
			return err
		}
	}
}
