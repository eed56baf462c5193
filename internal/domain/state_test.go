package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	allStatuses = []BookingStatus{BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled}
	allPayments = []PaymentStatus{PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed}
)

func TestBookingStatus_CanTransitionTo(t *testing.T) {
	allowed := map[BookingStatus]map[BookingStatus]bool{
		BookingStatusPending:   {BookingStatusConfirmed: true, BookingStatusCancelled: true},
		BookingStatusConfirmed: {BookingStatusCancelled: true},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			assert.Equal(t, allowed[from][to], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, BookingStatusCancelled.Terminal())
	assert.False(t, BookingStatusConfirmed.Terminal())
}

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	for _, from := range allPayments {
		for _, to := range allPayments {
			want := from == PaymentStatusPending && to != PaymentStatusPending
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestState_WithPayment_Cascades(t *testing.T) {
	next, err := InitialState().WithPayment(PaymentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, State{BookingStatusConfirmed, PaymentStatusCompleted}, next)

	next, err = InitialState().WithPayment(PaymentStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, State{BookingStatusCancelled, PaymentStatusFailed}, next)

	// отменённая бронь остаётся отменённой даже после оплаты
	cancelled := State{BookingStatusCancelled, PaymentStatusPending}
	next, err = cancelled.WithPayment(PaymentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, State{BookingStatusCancelled, PaymentStatusCompleted}, next)
}

func TestState_WithStatus_ConfirmRequiresCompletedPayment(t *testing.T) {
	start := InitialState()
	next, err := start.WithStatus(BookingStatusConfirmed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, start, next)
}

func TestState_IllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	for _, status := range allStatuses {
		for _, payment := range allPayments {
			from := State{status, payment}
			if !from.Valid() {
				continue
			}
			for _, target := range allStatuses {
				next, err := from.WithStatus(target)
				if err != nil {
					assert.True(t, errors.Is(err, ErrInvalidTransition))
					assert.Equal(t, from, next)
					continue
				}
				assert.True(t, next.Valid(), "%s -> status %s", from, target)
			}
			for _, target := range allPayments {
				next, err := from.WithPayment(target)
				if err != nil {
					assert.True(t, errors.Is(err, ErrInvalidTransition))
					assert.Equal(t, from, next)
					continue
				}
				assert.True(t, next.Valid(), "%s -> payment %s", from, target)
			}
		}
	}
}

func TestState_ConfirmedAndCompletedOnlyCancels(t *testing.T) {
	done := State{BookingStatusConfirmed, PaymentStatusCompleted}

	_, err := done.WithStatus(BookingStatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = done.WithPayment(PaymentStatusFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	next, err := done.WithStatus(BookingStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, State{BookingStatusCancelled, PaymentStatusCompleted}, next)
}
