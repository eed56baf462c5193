package repository

import (
	"context"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
)

// OverlapQuery selects bookings of one room that overlap Interval and block admission.
// CONFIRMED bookings always block. When HoldPending is set, PENDING bookings created at or
// after PendingSince block as well.
type OverlapQuery struct {
	RoomID       string
	Interval     domain.Interval
	ExcludeID    string
	HoldPending  bool
	PendingSince time.Time
}

// RoomTx is the unit of work opened by WithRoomLock. Every call made through it runs while
// the room's admission lock is held and commits together when the callback returns nil.
type RoomTx interface {
	CountOverlapping(ctx context.Context, q OverlapQuery) (int, error)
	Insert(ctx context.Context, booking *domain.Booking) error
	CompareAndSwap(ctx context.Context, id string, expect, next domain.State) (*domain.Booking, error)
}

type BookingRepository interface {
	WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, tx RoomTx) error) error
	CompareAndSwap(ctx context.Context, id string, expect, next domain.State) (*domain.Booking, error)
	AttachPaymentRefs(ctx context.Context, id, paymentRef, payerRef string) (*domain.Booking, error)

	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetByPaymentRef(ctx context.Context, paymentRef string) (*domain.Booking, error)
	ListByRequester(ctx context.Context, requesterID string) ([]domain.Booking, error)
	ListByRoom(ctx context.Context, roomID string) ([]domain.Booking, error)
	ListActive(ctx context.Context, from time.Time) ([]domain.Booking, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Booking, error)
	Stats(ctx context.Context) (domain.Stats, error)
}
