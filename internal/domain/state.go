package domain

import "fmt"

var statusTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCancelled},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusCompleted, PaymentStatusFailed},
}

func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s BookingStatus) Terminal() bool {
	return len(statusTransitions[s]) == 0
}

func (p PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, allowed := range paymentTransitions[p] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (p PaymentStatus) Terminal() bool {
	return len(paymentTransitions[p]) == 0
}

// State is the joint (status, payment status) position of a booking.
type State struct {
	Status  BookingStatus
	Payment PaymentStatus
}

func InitialState() State {
	return State{Status: BookingStatusPending, Payment: PaymentStatusPending}
}

// Valid checks the cross-axis rules: CONFIRMED needs COMPLETED, FAILED needs CANCELLED.
func (s State) Valid() bool {
	if s.Status == BookingStatusConfirmed && s.Payment != PaymentStatusCompleted {
		return false
	}
	if s.Payment == PaymentStatusFailed && s.Status != BookingStatusCancelled {
		return false
	}
	return true
}

// WithStatus moves the status axis alone.
func (s State) WithStatus(target BookingStatus) (State, error) {
	if !s.Status.CanTransitionTo(target) {
		return s, fmt.Errorf("%w: status %s -> %s", ErrInvalidTransition, s.Status, target)
	}
	next := State{Status: target, Payment: s.Payment}
	if !next.Valid() {
		return s, fmt.Errorf("%w: status %s requires payment %s, have %s",
			ErrInvalidTransition, target, PaymentStatusCompleted, s.Payment)
	}
	return next, nil
}

// WithPayment moves the payment axis and applies the status cascade:
// COMPLETED confirms a PENDING booking, FAILED cancels it.
func (s State) WithPayment(target PaymentStatus) (State, error) {
	if !s.Payment.CanTransitionTo(target) {
		return s, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, s.Payment, target)
	}
	next := State{Status: s.Status, Payment: target}
	switch target {
	case PaymentStatusCompleted:
		if s.Status == BookingStatusPending {
			next.Status = BookingStatusConfirmed
		}
	case PaymentStatusFailed:
		next.Status = BookingStatusCancelled
	}
	if !next.Valid() {
		return s, fmt.Errorf("%w: payment %s -> %s leaves status %s",
			ErrInvalidTransition, s.Payment, target, next.Status)
	}
	return next, nil
}

func (s State) String() string {
	return fmt.Sprintf("%s/%s", s.Status, s.Payment)
}
