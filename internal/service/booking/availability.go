package booking

import (
	"context"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/repository"
)

// AvailabilityChecker decides whether a room can take a reservation. It reads through the
// caller's RoomTx so the answer holds until that transaction commits.
type AvailabilityChecker struct {
	holdPending bool
	holdTTL     time.Duration
	now         func() time.Time
}

// NewAvailabilityChecker counts only CONFIRMED bookings as conflicts. With holdPending set,
// PENDING bookings younger than holdTTL also block new admissions.
func NewAvailabilityChecker(holdPending bool, holdTTL time.Duration) *AvailabilityChecker {
	return &AvailabilityChecker{
		holdPending: holdPending,
		holdTTL:     holdTTL,
		now:         time.Now,
	}
}

// IsAvailable reports whether a new reservation for iv may be admitted.
func (c *AvailabilityChecker) IsAvailable(ctx context.Context, tx repository.RoomTx, roomID string, iv domain.Interval) (bool, error) {
	q := repository.OverlapQuery{RoomID: roomID, Interval: iv}
	if c.holdPending && c.holdTTL > 0 {
		q.HoldPending = true
		q.PendingSince = c.now().Add(-c.holdTTL)
	}
	n, err := tx.CountOverlapping(ctx, q)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// CanConfirm reports whether b may become CONFIRMED, i.e. no other confirmed booking of the
// same room overlaps it. Pending holds are ignored here.
func (c *AvailabilityChecker) CanConfirm(ctx context.Context, tx repository.RoomTx, b *domain.Booking) (bool, error) {
	n, err := tx.CountOverlapping(ctx, repository.OverlapQuery{
		RoomID:    b.RoomID,
		Interval:  b.Interval,
		ExcludeID: b.ID,
	})
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
