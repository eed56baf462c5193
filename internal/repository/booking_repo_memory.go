package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
)

type memoryRecord struct {
	booking domain.Booking
	seq     uint64
}

// MemoryBookingRepository keeps bookings in process memory. It serialises admission per room
// with one mutex per room id and guards the booking map with a separate RWMutex.
type MemoryBookingRepository struct {
	rooms sync.Map // room id -> *sync.Mutex

	mu       sync.RWMutex
	bookings map[string]*memoryRecord
	seq      uint64
	now      func() time.Time
}

type MemoryOption func(*MemoryBookingRepository)

// WithClock overrides the timestamp source used for created_at/updated_at.
func WithClock(now func() time.Time) MemoryOption {
	return func(r *MemoryBookingRepository) {
		r.now = now
	}
}

func NewMemoryBookingRepository(opts ...MemoryOption) *MemoryBookingRepository {
	r := &MemoryBookingRepository{
		bookings: make(map[string]*memoryRecord),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemoryBookingRepository) roomMutex(roomID string) *sync.Mutex {
	m, _ := r.rooms.LoadOrStore(roomID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func (r *MemoryBookingRepository) WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, tx RoomTx) error) error {
	m := r.roomMutex(roomID)
	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryRoomTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (r *MemoryBookingRepository) CompareAndSwap(ctx context.Context, id string, expect, next domain.State) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if rec.booking.State() != expect {
		return nil, domain.ErrStaleState
	}
	r.applyLocked(rec, next)
	b := rec.booking
	return &b, nil
}

func (r *MemoryBookingRepository) AttachPaymentRefs(ctx context.Context, id, paymentRef, payerRef string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if rec.booking.PaymentRef != "" {
		if rec.booking.PaymentRef == paymentRef && rec.booking.PayerRef == payerRef {
			b := rec.booking
			return &b, nil
		}
		return nil, fmt.Errorf("%w: booking %s already has a payment reference", domain.ErrInvalidTransition, id)
	}
	for otherID, other := range r.bookings {
		if otherID != id && paymentRef != "" && other.booking.PaymentRef == paymentRef {
			return nil, fmt.Errorf("%w: payment reference %s belongs to booking %s", domain.ErrInvalidTransition, paymentRef, otherID)
		}
	}

	rec.booking.PaymentRef = paymentRef
	rec.booking.PayerRef = payerRef
	rec.booking.UpdatedAt = r.now()
	b := rec.booking
	return &b, nil
}

func (r *MemoryBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	b := rec.booking
	return &b, nil
}

func (r *MemoryBookingRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (*domain.Booking, error) {
	if paymentRef == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.bookings {
		if rec.booking.PaymentRef == paymentRef {
			b := rec.booking
			return &b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryBookingRepository) ListByRequester(ctx context.Context, requesterID string) ([]domain.Booking, error) {
	return r.newestFirst(func(b *domain.Booking) bool { return b.RequesterID == requesterID }), nil
}

func (r *MemoryBookingRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Booking, error) {
	return r.newestFirst(func(b *domain.Booking) bool { return b.RoomID == roomID }), nil
}

func (r *MemoryBookingRepository) ListActive(ctx context.Context, from time.Time) ([]domain.Booking, error) {
	today := domain.Day(from)

	r.mu.RLock()
	var active []domain.Booking
	for _, rec := range r.bookings {
		b := rec.booking
		if b.Status == domain.BookingStatusConfirmed && !b.Interval.CheckOut.Before(today) {
			active = append(active, b)
		}
	}
	r.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		if !active[i].Interval.CheckIn.Equal(active[j].Interval.CheckIn) {
			return active[i].Interval.CheckIn.Before(active[j].Interval.CheckIn)
		}
		return active[i].ID < active[j].ID
	})
	return active, nil
}

func (r *MemoryBookingRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Booking, error) {
	r.mu.RLock()
	var recs []*memoryRecord
	for _, rec := range r.bookings {
		b := rec.booking
		if b.Status == domain.BookingStatusPending && b.PaymentStatus == domain.PaymentStatusPending && b.CreatedAt.Before(createdBefore) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	stale := make([]domain.Booking, 0, len(recs))
	for _, rec := range recs {
		stale = append(stale, rec.booking)
	}
	r.mu.RUnlock()
	return stale, nil
}

func (r *MemoryBookingRepository) Stats(ctx context.Context) (domain.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s domain.Stats
	for _, rec := range r.bookings {
		b := rec.booking
		s.TotalBookings++
		switch b.Status {
		case domain.BookingStatusConfirmed:
			s.ConfirmedBookings++
			if b.PaymentStatus == domain.PaymentStatusCompleted {
				s.TotalRevenueCents += b.AmountCents
			}
		case domain.BookingStatusPending:
			s.PendingBookings++
		case domain.BookingStatusCancelled:
			s.CancelledBookings++
		}
	}
	return s, nil
}

func (r *MemoryBookingRepository) newestFirst(match func(*domain.Booking) bool) []domain.Booking {
	r.mu.RLock()
	var recs []*memoryRecord
	for _, rec := range r.bookings {
		if match(&rec.booking) {
			recs = append(recs, rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })
	out := make([]domain.Booking, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.booking)
	}
	return out
}

// applyLocked must be called with r.mu held for writing.
func (r *MemoryBookingRepository) applyLocked(rec *memoryRecord, next domain.State) {
	rec.booking.Status = next.Status
	rec.booking.PaymentStatus = next.Payment
	rec.booking.UpdatedAt = r.now()
}

type memorySwap struct {
	id     string
	expect domain.State
	next   domain.State
}

// memoryRoomTx buffers writes and applies them in commit, so a callback error leaves the
// store untouched.
type memoryRoomTx struct {
	repo    *MemoryBookingRepository
	inserts []domain.Booking
	swaps   []memorySwap
}

func (t *memoryRoomTx) CountOverlapping(ctx context.Context, q OverlapQuery) (int, error) {
	blocks := func(b *domain.Booking) bool {
		if b.RoomID != q.RoomID || b.ID == q.ExcludeID || !b.Interval.Overlaps(q.Interval) {
			return false
		}
		switch b.Status {
		case domain.BookingStatusConfirmed:
			return true
		case domain.BookingStatusPending:
			return q.HoldPending && !b.CreatedAt.Before(q.PendingSince)
		}
		return false
	}

	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()

	n := 0
	for _, rec := range t.repo.bookings {
		if blocks(&rec.booking) {
			n++
		}
	}
	for i := range t.inserts {
		if blocks(&t.inserts[i]) {
			n++
		}
	}
	return n, nil
}

func (t *memoryRoomTx) Insert(ctx context.Context, b *domain.Booking) error {
	t.repo.mu.RLock()
	_, exists := t.repo.bookings[b.ID]
	t.repo.mu.RUnlock()
	if exists {
		return fmt.Errorf("insert booking %s: %w: duplicate id", b.ID, domain.ErrPersistence)
	}

	now := t.repo.now()
	b.CreatedAt = now
	b.UpdatedAt = now
	t.inserts = append(t.inserts, *b)
	return nil
}

func (t *memoryRoomTx) CompareAndSwap(ctx context.Context, id string, expect, next domain.State) (*domain.Booking, error) {
	t.repo.mu.RLock()
	rec, ok := t.repo.bookings[id]
	var b domain.Booking
	if ok {
		b = rec.booking
	}
	t.repo.mu.RUnlock()

	if !ok {
		return nil, domain.ErrNotFound
	}
	if b.State() != expect {
		return nil, domain.ErrStaleState
	}

	t.swaps = append(t.swaps, memorySwap{id: id, expect: expect, next: next})
	b.Status = next.Status
	b.PaymentStatus = next.Payment
	b.UpdatedAt = t.repo.now()
	return &b, nil
}

func (t *memoryRoomTx) commit() error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range t.swaps {
		rec, ok := r.bookings[s.id]
		if !ok {
			return domain.ErrNotFound
		}
		if rec.booking.State() != s.expect {
			return domain.ErrStaleState
		}
	}
	for _, s := range t.swaps {
		r.applyLocked(r.bookings[s.id], s.next)
	}
	for _, b := range t.inserts {
		r.seq++
		r.bookings[b.ID] = &memoryRecord{booking: b, seq: r.seq}
	}
	return nil
}

var _ BookingRepository = (*MemoryBookingRepository)(nil)
