package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/roombooking/api"
	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/cache"
	"github.com/Domenick1991/roombooking/internal/gateway/stripegw"
	"github.com/Domenick1991/roombooking/internal/kafka"
	"github.com/Domenick1991/roombooking/internal/repository"
	"github.com/Domenick1991/roombooking/internal/service/booking"
	"github.com/Domenick1991/roombooking/internal/service/payment"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Services is the dependency graph shared by the API and the worker.
type Services struct {
	Ledger     *booking.BookingLedger
	Reconciler *payment.Reconciler
	Cache      *cache.RedisCache
	Producer   *kafka.Producer
	Checks     map[string]api.HealthCheck

	closers []func() error
}

// NewServices opens storage and the optional Redis and Kafka clients, then assembles the ledger
// and the reconciler on top of them.
func NewServices(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Services, error) {
	s := &Services{Checks: map[string]api.HealthCheck{}}

	repo, err := s.openRepository(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	opts := []booking.LedgerOption{
		booking.WithLogger(logger.Named("ledger")),
		booking.WithDefaultCurrency(cfg.Booking.Currency),
	}

	if cfg.Redis.Enabled() {
		s.Cache = cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Booking.StatsCacheTTLSeconds)*time.Second)
		s.closers = append(s.closers, s.Cache.Close)
		s.Checks["redis"] = s.Cache.Ping
		opts = append(opts, booking.WithStatsCache(s.Cache))
	}

	if cfg.Kafka.Enabled() {
		s.Producer = kafka.NewProducer(cfg.Kafka.Brokers, logger.Named("kafka"))
		s.closers = append(s.closers, s.Producer.Close)
		s.Checks["kafka"] = s.Producer.CheckConnection
		opts = append(opts, booking.WithEvents(s.Producer, cfg.Kafka.BookingEventsTopic))
	}

	availability := booking.NewAvailabilityChecker(
		cfg.Booking.HoldsPending(),
		time.Duration(cfg.Booking.PendingHoldMinutes)*time.Minute,
	)
	s.Ledger = booking.NewBookingLedger(repo, availability, opts...)

	gateway := stripegw.New(cfg.Payment.StripeSecretKey, cfg.Payment.ReturnURL)
	s.Reconciler = payment.NewReconciler(s.Ledger, gateway, logger.Named("reconciler"))

	return s, nil
}

func (s *Services) openRepository(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (repository.BookingRepository, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("using in-memory storage, bookings are lost on restart")
		return repository.NewMemoryBookingRepository(), nil
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s.closers = append(s.closers, func() error { pool.Close(); return nil })
	s.Checks["postgres"] = pool.Ping

	if cfg.ApplySchema {
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("bookings schema applied")
	}

	return repository.NewBookingRepository(pool), nil
}

// Close releases clients in reverse order of creation.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
