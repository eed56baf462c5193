package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/kafka"
	"github.com/Domenick1991/roombooking/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxTransitionAttempts = 3

// BookingUseCase is the single writer of booking status and payment status.
type BookingUseCase interface {
	CreateReservation(ctx context.Context, input CreateReservationInput) (*domain.Booking, error)
	TransitionStatus(ctx context.Context, id string, target domain.BookingStatus) (*domain.Booking, error)
	TransitionPaymentStatus(ctx context.Context, id string, target domain.PaymentStatus) (*domain.Booking, error)
	AttachPaymentRefs(ctx context.Context, id, paymentRef, payerRef string) (*domain.Booking, error)

	FindByID(ctx context.Context, id string) (*domain.Booking, error)
	FindByExternalPaymentRef(ctx context.Context, paymentRef string) (*domain.Booking, error)
	ListByRequester(ctx context.Context, requesterID string) ([]domain.Booking, error)
	ListByRoom(ctx context.Context, roomID string) ([]domain.Booking, error)
	ListActive(ctx context.Context) ([]domain.Booking, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Booking, error)
	Stats(ctx context.Context) (domain.Stats, error)
}

type StatsCache interface {
	GetStats(ctx context.Context) (*domain.Stats, error)
	SetStats(ctx context.Context, stats domain.Stats) error
	InvalidateStats(ctx context.Context) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type CreateReservationInput struct {
	RequesterID string    `json:"requester_id" validate:"required"`
	RoomID      string    `json:"room_id" validate:"required"`
	CheckIn     time.Time `json:"check_in" validate:"required"`
	CheckOut    time.Time `json:"check_out" validate:"required"`
	GuestCount  int       `json:"guest_count" validate:"min=1"`
	AmountCents int64     `json:"amount_cents" validate:"min=0"`
	Currency    string    `json:"currency" validate:"omitempty,len=3"`
}

type BookingLedger struct {
	bookings     repository.BookingRepository
	availability *AvailabilityChecker
	validator    *validator.Validate
	cache        StatsCache
	producer     Producer
	bookingTopic string
	currency     string
	logger       *zap.Logger
	now          func() time.Time
}

type LedgerOption func(*BookingLedger)

func WithStatsCache(cache StatsCache) LedgerOption {
	return func(l *BookingLedger) {
		l.cache = cache
	}
}

func WithEvents(producer Producer, topic string) LedgerOption {
	return func(l *BookingLedger) {
		l.producer = producer
		l.bookingTopic = topic
	}
}

func WithLogger(logger *zap.Logger) LedgerOption {
	return func(l *BookingLedger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithDefaultCurrency(currency string) LedgerOption {
	return func(l *BookingLedger) {
		if currency != "" {
			l.currency = strings.ToLower(currency)
		}
	}
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *BookingLedger) {
		l.now = now
		l.availability.now = now
	}
}

func NewBookingLedger(bookings repository.BookingRepository, availability *AvailabilityChecker, opts ...LedgerOption) *BookingLedger {
	if availability == nil {
		availability = NewAvailabilityChecker(false, 0)
	}
	l := &BookingLedger{
		bookings:     bookings,
		availability: availability,
		validator:    newValidator(),
		currency:     "inr",
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateReservation validates the request and, under the room's lock, checks availability and
// inserts a PENDING booking. A conflict persists nothing.
func (l *BookingLedger) CreateReservation(ctx context.Context, input CreateReservationInput) (*domain.Booking, error) {
	iv, err := l.validate(input)
	if err != nil {
		return nil, err
	}

	currency := strings.ToLower(input.Currency)
	if currency == "" {
		currency = l.currency
	}

	initial := domain.InitialState()
	booking := &domain.Booking{
		ID:            uuid.NewString(),
		RoomID:        input.RoomID,
		RequesterID:   input.RequesterID,
		Interval:      iv,
		GuestCount:    input.GuestCount,
		AmountCents:   input.AmountCents,
		Currency:      currency,
		Status:        initial.Status,
		PaymentStatus: initial.Payment,
	}

	err = l.bookings.WithRoomLock(ctx, booking.RoomID, func(ctx context.Context, tx repository.RoomTx) error {
		ok, err := l.availability.IsAvailable(ctx, tx, booking.RoomID, iv)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAvailabilityConflict
		}
		return tx.Insert(ctx, booking)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAvailabilityConflict) {
			l.logger.Info("reservation rejected: room unavailable",
				zap.String("room_id", booking.RoomID), zap.Stringer("interval", iv))
			return nil, fmt.Errorf("room %s %s: %w", booking.RoomID, iv, domain.ErrAvailabilityConflict)
		}
		l.logger.Error("create reservation failed", zap.String("room_id", booking.RoomID), zap.Error(err))
		return nil, err
	}

	l.logger.Info("reservation created",
		zap.String("booking_id", booking.ID),
		zap.String("room_id", booking.RoomID),
		zap.Stringer("interval", iv))
	l.invalidateStats(ctx)
	l.publish(ctx, kafka.EventBookingCreated, booking)
	return booking, nil
}

func (l *BookingLedger) TransitionStatus(ctx context.Context, id string, target domain.BookingStatus) (*domain.Booking, error) {
	return l.transition(ctx, id, false, func(s domain.State) (domain.State, error) {
		return s.WithStatus(target)
	})
}

// TransitionPaymentStatus moves the payment axis. COMPLETED confirms a PENDING booking when the
// room is still free for its dates and cancels it otherwise; FAILED cancels it.
func (l *BookingLedger) TransitionPaymentStatus(ctx context.Context, id string, target domain.PaymentStatus) (*domain.Booking, error) {
	return l.transition(ctx, id, true, func(s domain.State) (domain.State, error) {
		return s.WithPayment(target)
	})
}

func (l *BookingLedger) transition(ctx context.Context, id string, paymentDriven bool, step func(domain.State) (domain.State, error)) (*domain.Booking, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		current, err := l.bookings.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		from := current.State()
		next, err := step(from)
		if err != nil {
			return nil, fmt.Errorf("booking %s: %w", id, err)
		}

		var updated *domain.Booking
		if next.Status == domain.BookingStatusConfirmed && from.Status != domain.BookingStatusConfirmed {
			updated, err = l.confirm(ctx, current, next, paymentDriven)
		} else {
			updated, err = l.bookings.CompareAndSwap(ctx, id, from, next)
		}
		if errors.Is(err, domain.ErrStaleState) {
			l.logger.Debug("stale booking state, retrying",
				zap.String("booking_id", id), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		l.afterTransition(ctx, from, updated)
		return updated, nil
	}
	return nil, fmt.Errorf("booking %s: %w after %d attempts", id, domain.ErrStaleState, maxTransitionAttempts)
}

// confirm re-checks the room under its lock before writing CONFIRMED. When the dates were taken
// in the meantime a payment-driven confirmation ends CANCELLED; an explicit one fails.
func (l *BookingLedger) confirm(ctx context.Context, current *domain.Booking, next domain.State, paymentDriven bool) (*domain.Booking, error) {
	from := current.State()
	var updated *domain.Booking

	err := l.bookings.WithRoomLock(ctx, current.RoomID, func(ctx context.Context, tx repository.RoomTx) error {
		ok, err := l.availability.CanConfirm(ctx, tx, current)
		if err != nil {
			return err
		}
		target := next
		if !ok {
			if !paymentDriven {
				return domain.ErrAvailabilityConflict
			}
			l.logger.Warn("payment completed but dates were taken, cancelling booking",
				zap.String("booking_id", current.ID),
				zap.String("room_id", current.RoomID),
				zap.Stringer("interval", current.Interval))
			target.Status = domain.BookingStatusCancelled
		}
		updated, err = tx.CompareAndSwap(ctx, current.ID, from, target)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrAvailabilityConflict) {
			return nil, fmt.Errorf("confirm booking %s: %w", current.ID, domain.ErrAvailabilityConflict)
		}
		return nil, err
	}
	return updated, nil
}

func (l *BookingLedger) AttachPaymentRefs(ctx context.Context, id, paymentRef, payerRef string) (*domain.Booking, error) {
	if paymentRef == "" {
		return nil, domain.NewValidationError("payment_ref", "is required")
	}
	return l.bookings.AttachPaymentRefs(ctx, id, paymentRef, payerRef)
}

func (l *BookingLedger) FindByID(ctx context.Context, id string) (*domain.Booking, error) {
	return l.bookings.GetByID(ctx, id)
}

func (l *BookingLedger) FindByExternalPaymentRef(ctx context.Context, paymentRef string) (*domain.Booking, error) {
	return l.bookings.GetByPaymentRef(ctx, paymentRef)
}

func (l *BookingLedger) ListByRequester(ctx context.Context, requesterID string) ([]domain.Booking, error) {
	return l.bookings.ListByRequester(ctx, requesterID)
}

func (l *BookingLedger) ListByRoom(ctx context.Context, roomID string) ([]domain.Booking, error) {
	return l.bookings.ListByRoom(ctx, roomID)
}

func (l *BookingLedger) ListActive(ctx context.Context) ([]domain.Booking, error) {
	return l.bookings.ListActive(ctx, l.now())
}

func (l *BookingLedger) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Booking, error) {
	return l.bookings.ListStalePending(ctx, createdBefore, limit)
}

func (l *BookingLedger) Stats(ctx context.Context) (domain.Stats, error) {
	if l.cache != nil {
		cached, err := l.cache.GetStats(ctx)
		if err != nil {
			l.logger.Warn("read stats cache", zap.Error(err))
		} else if cached != nil {
			return *cached, nil
		}
	}

	stats, err := l.bookings.Stats(ctx)
	if err != nil {
		return domain.Stats{}, err
	}

	if l.cache != nil {
		if err := l.cache.SetStats(ctx, stats); err != nil {
			l.logger.Warn("write stats cache", zap.Error(err))
		}
	}
	return stats, nil
}

func (l *BookingLedger) afterTransition(ctx context.Context, from domain.State, b *domain.Booking) {
	l.logger.Info("booking transitioned",
		zap.String("booking_id", b.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", b.State()))
	l.invalidateStats(ctx)

	if from.Payment != b.PaymentStatus {
		switch b.PaymentStatus {
		case domain.PaymentStatusCompleted:
			l.publish(ctx, kafka.EventPaymentCompleted, b)
		case domain.PaymentStatusFailed:
			l.publish(ctx, kafka.EventPaymentFailed, b)
		}
	}
	if from.Status != b.Status {
		switch b.Status {
		case domain.BookingStatusConfirmed:
			l.publish(ctx, kafka.EventBookingConfirmed, b)
		case domain.BookingStatusCancelled:
			l.publish(ctx, kafka.EventBookingCancelled, b)
		}
	}
}

func (l *BookingLedger) invalidateStats(ctx context.Context) {
	if l.cache == nil {
		return
	}
	if err := l.cache.InvalidateStats(ctx); err != nil {
		l.logger.Warn("invalidate stats cache", zap.Error(err))
	}
}

func (l *BookingLedger) publish(ctx context.Context, eventType string, b *domain.Booking) {
	if l.producer == nil || l.bookingTopic == "" {
		return
	}
	event := kafka.NewBookingEvent(eventType, b, l.now())
	if err := l.producer.Publish(ctx, l.bookingTopic, b.ID, event); err != nil {
		l.logger.Warn("publish booking event",
			zap.String("type", eventType), zap.String("booking_id", b.ID), zap.Error(err))
	}
}

var _ BookingUseCase = (*BookingLedger)(nil)
