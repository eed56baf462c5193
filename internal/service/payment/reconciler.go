package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"go.uber.org/zap"
)

// Gateway is the external payment provider.
type Gateway interface {
	CreatePayer(ctx context.Context, methodRef string) (string, error)
	ChargeNow(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error)
	GetOutcome(ctx context.Context, paymentRef string) (domain.PaymentOutcome, error)
}

// Ledger is the subset of the booking ledger the reconciler drives.
type Ledger interface {
	FindByExternalPaymentRef(ctx context.Context, paymentRef string) (*domain.Booking, error)
	AttachPaymentRefs(ctx context.Context, id, paymentRef, payerRef string) (*domain.Booking, error)
	TransitionStatus(ctx context.Context, id string, target domain.BookingStatus) (*domain.Booking, error)
	TransitionPaymentStatus(ctx context.Context, id string, target domain.PaymentStatus) (*domain.Booking, error)
	FindByID(ctx context.Context, id string) (*domain.Booking, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Booking, error)
}

type ReconcilerUseCase interface {
	InitiatePayment(ctx context.Context, booking *domain.Booking, methodRef string) (*Initiation, error)
	ReconcileByExternalRef(ctx context.Context, paymentRef string) (*domain.Booking, error)
	ExpireStalePending(ctx context.Context, createdBefore time.Time, limit int) (*SweepResult, error)
}

// Initiation is what the caller needs to finish the payment client side.
type Initiation struct {
	Booking      *domain.Booking
	PaymentRef   string
	PayerRef     string
	ClientSecret string
	Outcome      domain.PaymentOutcome
}

type SweepResult struct {
	Confirmed int
	Failed    int
	Expired   int
	Errors    int
}

type Reconciler struct {
	ledger  Ledger
	gateway Gateway
	logger  *zap.Logger
}

func NewReconciler(ledger Ledger, gateway Gateway, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{ledger: ledger, gateway: gateway, logger: logger}
}

// InitiatePayment registers the payer and charges immediately. It must not run under a room
// lock. A gateway error leaves the booking PENDING for a later sweep.
func (r *Reconciler) InitiatePayment(ctx context.Context, booking *domain.Booking, methodRef string) (*Initiation, error) {
	if methodRef == "" {
		return nil, domain.NewValidationError("payment_method_ref", "is required")
	}

	payerRef, err := r.gateway.CreatePayer(ctx, methodRef)
	if err != nil {
		r.logger.Error("create payer failed", zap.String("booking_id", booking.ID), zap.Error(err))
		return nil, fmt.Errorf("create payer for booking %s: %w: %w", booking.ID, domain.ErrGateway, err)
	}

	charge, err := r.gateway.ChargeNow(ctx, domain.ChargeRequest{
		BookingID:   booking.ID,
		PayerRef:    payerRef,
		MethodRef:   methodRef,
		AmountCents: booking.AmountCents,
		Currency:    booking.Currency,
	})
	if err != nil {
		r.logger.Error("charge failed", zap.String("booking_id", booking.ID), zap.Error(err))
		return nil, fmt.Errorf("charge booking %s: %w: %w", booking.ID, domain.ErrGateway, err)
	}

	updated, err := r.ledger.AttachPaymentRefs(ctx, booking.ID, charge.Ref, payerRef)
	if err != nil {
		return nil, err
	}

	switch charge.Outcome {
	case domain.PaymentOutcomeSucceeded:
		updated, err = r.settle(ctx, updated.ID, domain.PaymentStatusCompleted)
	case domain.PaymentOutcomeFailed:
		updated, err = r.settle(ctx, updated.ID, domain.PaymentStatusFailed)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("payment initiated",
		zap.String("booking_id", updated.ID),
		zap.String("payment_ref", charge.Ref),
		zap.String("outcome", string(charge.Outcome)))

	return &Initiation{
		Booking:      updated,
		PaymentRef:   charge.Ref,
		PayerRef:     payerRef,
		ClientSecret: charge.ClientSecret,
		Outcome:      charge.Outcome,
	}, nil
}

// ReconcileByExternalRef asks the gateway for the charge outcome and applies it. Repeating the
// call for a settled payment changes nothing.
func (r *Reconciler) ReconcileByExternalRef(ctx context.Context, paymentRef string) (*domain.Booking, error) {
	booking, err := r.ledger.FindByExternalPaymentRef(ctx, paymentRef)
	if err != nil {
		return nil, err
	}

	switch booking.PaymentStatus {
	case domain.PaymentStatusCompleted:
		return booking, nil
	case domain.PaymentStatusFailed:
		return nil, fmt.Errorf("payment %s: %w: failed", paymentRef, domain.ErrPaymentNotSuccessful)
	}

	outcome, err := r.gateway.GetOutcome(ctx, paymentRef)
	if err != nil {
		r.logger.Error("payment outcome lookup failed", zap.String("payment_ref", paymentRef), zap.Error(err))
		return nil, fmt.Errorf("payment %s: %w: %w", paymentRef, domain.ErrGateway, err)
	}

	switch outcome {
	case domain.PaymentOutcomeSucceeded:
		return r.settle(ctx, booking.ID, domain.PaymentStatusCompleted)
	case domain.PaymentOutcomeFailed:
		if _, err := r.settle(ctx, booking.ID, domain.PaymentStatusFailed); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("payment %s: %w: failed", paymentRef, domain.ErrPaymentNotSuccessful)
	default:
		return nil, fmt.Errorf("payment %s: %w: still pending", paymentRef, domain.ErrPaymentNotSuccessful)
	}
}

// settle moves the payment axis to target. Losing a race to another reconciler that already
// wrote the same target counts as success.
func (r *Reconciler) settle(ctx context.Context, bookingID string, target domain.PaymentStatus) (*domain.Booking, error) {
	updated, err := r.ledger.TransitionPaymentStatus(ctx, bookingID, target)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, domain.ErrInvalidTransition) {
		return nil, err
	}

	current, findErr := r.ledger.FindByID(ctx, bookingID)
	if findErr != nil {
		return nil, findErr
	}
	if current.PaymentStatus == target {
		return current, nil
	}
	return nil, err
}

// ExpireStalePending resolves bookings left PENDING since before createdBefore. Bookings with a
// payment reference are reconciled first; whatever is still unpaid is cancelled.
func (r *Reconciler) ExpireStalePending(ctx context.Context, createdBefore time.Time, limit int) (*SweepResult, error) {
	stale, err := r.ledger.ListStalePending(ctx, createdBefore, limit)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, b := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if b.PaymentRef != "" {
			updated, err := r.ReconcileByExternalRef(ctx, b.PaymentRef)
			switch {
			case err == nil:
				if updated.Status == domain.BookingStatusConfirmed {
					result.Confirmed++
				} else {
					result.Expired++
				}
				continue
			case errors.Is(err, domain.ErrPaymentNotSuccessful):
				current, findErr := r.ledger.FindByID(ctx, b.ID)
				if findErr == nil && current.PaymentStatus == domain.PaymentStatusFailed {
					result.Failed++
					continue
				}
			default:
				r.logger.Warn("sweep: reconcile failed", zap.String("booking_id", b.ID), zap.Error(err))
				result.Errors++
				continue
			}
		}

		if _, err := r.ledger.TransitionStatus(ctx, b.ID, domain.BookingStatusCancelled); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			r.logger.Warn("sweep: cancel failed", zap.String("booking_id", b.ID), zap.Error(err))
			result.Errors++
			continue
		}
		result.Expired++
	}

	if len(stale) > 0 {
		r.logger.Info("pending sweep finished",
			zap.Int("scanned", len(stale)),
			zap.Int("confirmed", result.Confirmed),
			zap.Int("failed", result.Failed),
			zap.Int("expired", result.Expired),
			zap.Int("errors", result.Errors))
	}
	return result, nil
}

var _ ReconcilerUseCase = (*Reconciler)(nil)
