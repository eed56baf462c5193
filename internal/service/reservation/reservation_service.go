package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/service/booking"
	"github.com/Domenick1991/roombooking/internal/service/payment"
	"go.uber.org/zap"
)

// ReservationUseCase is the operation set served over HTTP.
type ReservationUseCase interface {
	CreateReservation(ctx context.Context, input CreateReservationInput) (*Reservation, error)
	ConfirmReservation(ctx context.Context, paymentRef string) (*domain.Booking, error)
	CancelReservation(ctx context.Context, bookingID string) (*domain.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error)
	ListRequesterBookings(ctx context.Context, requesterID string) ([]domain.Booking, error)
	ListRoomBookings(ctx context.Context, roomID string) ([]domain.Booking, error)
	ListActiveBookings(ctx context.Context) ([]domain.Booking, error)
	GetStats(ctx context.Context) (domain.Stats, error)
}

type CreateReservationInput struct {
	RequesterID      string
	RoomID           string
	CheckIn          time.Time
	CheckOut         time.Time
	GuestCount       int
	AmountCents      int64
	Currency         string
	PaymentMethodRef string
}

type Reservation struct {
	Booking      *domain.Booking
	ClientSecret string
}

type ReservationService struct {
	ledger     booking.BookingUseCase
	reconciler payment.ReconcilerUseCase
	logger     *zap.Logger
}

func NewReservationService(ledger booking.BookingUseCase, reconciler payment.ReconcilerUseCase, logger *zap.Logger) *ReservationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationService{ledger: ledger, reconciler: reconciler, logger: logger}
}

// CreateReservation admits the booking first and only then talks to the gateway, so a slow
// payment provider never holds the room lock. A declined charge leaves the booking CANCELLED and
// returns ErrPaymentNotSuccessful.
func (s *ReservationService) CreateReservation(ctx context.Context, input CreateReservationInput) (*Reservation, error) {
	if input.PaymentMethodRef == "" {
		return nil, domain.NewValidationError("payment_method_ref", "is required")
	}

	created, err := s.ledger.CreateReservation(ctx, booking.CreateReservationInput{
		RequesterID: input.RequesterID,
		RoomID:      input.RoomID,
		CheckIn:     input.CheckIn,
		CheckOut:    input.CheckOut,
		GuestCount:  input.GuestCount,
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
	})
	if err != nil {
		return nil, err
	}

	initiation, err := s.reconciler.InitiatePayment(ctx, created, input.PaymentMethodRef)
	if err != nil {
		s.logger.Warn("booking left pending after payment initiation error",
			zap.String("booking_id", created.ID), zap.Error(err))
		return nil, err
	}

	if initiation.Outcome == domain.PaymentOutcomeFailed {
		return nil, fmt.Errorf("booking %s: %w: charge declined", created.ID, domain.ErrPaymentNotSuccessful)
	}

	return &Reservation{Booking: initiation.Booking, ClientSecret: initiation.ClientSecret}, nil
}

func (s *ReservationService) ConfirmReservation(ctx context.Context, paymentRef string) (*domain.Booking, error) {
	if paymentRef == "" {
		return nil, domain.NewValidationError("payment_ref", "is required")
	}
	return s.reconciler.ReconcileByExternalRef(ctx, paymentRef)
}

func (s *ReservationService) CancelReservation(ctx context.Context, bookingID string) (*domain.Booking, error) {
	return s.ledger.TransitionStatus(ctx, bookingID, domain.BookingStatusCancelled)
}

func (s *ReservationService) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	return s.ledger.FindByID(ctx, bookingID)
}

func (s *ReservationService) ListRequesterBookings(ctx context.Context, requesterID string) ([]domain.Booking, error) {
	return s.ledger.ListByRequester(ctx, requesterID)
}

func (s *ReservationService) ListRoomBookings(ctx context.Context, roomID string) ([]domain.Booking, error) {
	return s.ledger.ListByRoom(ctx, roomID)
}

func (s *ReservationService) ListActiveBookings(ctx context.Context) ([]domain.Booking, error) {
	return s.ledger.ListActive(ctx)
}

func (s *ReservationService) GetStats(ctx context.Context) (domain.Stats, error) {
	return s.ledger.Stats(ctx)
}

var _ ReservationUseCase = (*ReservationService)(nil)
