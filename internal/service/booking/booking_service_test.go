package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/kafka"
	"github.com/Domenick1991/roombooking/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock структуры

type MockStatsCache struct {
	mock.Mock
}

func (m *MockStatsCache) GetStats(ctx context.Context) (*domain.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Stats), args.Error(1)
}

func (m *MockStatsCache) SetStats(ctx context.Context, stats domain.Stats) error {
	args := m.Called(ctx, stats)
	return args.Error(0)
}

func (m *MockStatsCache) InvalidateStats(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func day(n int) time.Time {
	return time.Date(2025, time.July, n, 0, 0, 0, 0, time.UTC)
}

func reservationInput(room string, in, out int) CreateReservationInput {
	return CreateReservationInput{
		RequesterID: "user-1",
		RoomID:      room,
		CheckIn:     day(in),
		CheckOut:    day(out),
		GuestCount:  2,
		AmountCents: 10000,
	}
}

func newLedger(opts ...LedgerOption) (*BookingLedger, *repository.MemoryBookingRepository) {
	repo := repository.NewMemoryBookingRepository()
	return NewBookingLedger(repo, NewAvailabilityChecker(false, 0), opts...), repo
}

func confirmed(t *testing.T, l *BookingLedger, input CreateReservationInput) *domain.Booking {
	t.Helper()
	b, err := l.CreateReservation(context.Background(), input)
	require.NoError(t, err)
	b, err = l.TransitionPaymentStatus(context.Background(), b.ID, domain.PaymentStatusCompleted)
	require.NoError(t, err)
	require.Equal(t, domain.BookingStatusConfirmed, b.Status)
	return b
}

// ============================ Тесты для BookingLedger ============================

func TestBookingLedger_CreateReservation_Success(t *testing.T) {
	mockCache := &MockStatsCache{}
	mockProducer := &MockProducer{}
	ledger, _ := newLedger(WithStatsCache(mockCache), WithEvents(mockProducer, "booking_events"))

	ctx := context.Background()
	input := reservationInput("room-1", 1, 4)
	input.CheckIn = input.CheckIn.Add(14 * time.Hour)

	// Настройка моков
	mockCache.On("InvalidateStats", ctx).Return(nil).Once()
	mockProducer.On("Publish", ctx, "booking_events", mock.AnythingOfType("string"),
		mock.MatchedBy(func(e kafka.BookingEvent) bool {
			return e.Type == kafka.EventBookingCreated && e.RoomID == "room-1" && e.CheckIn == "2025-07-01"
		})).Return(nil).Once()

	// Выполнение
	b, err := ledger.CreateReservation(ctx, input)

	// Проверки
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.Equal(t, domain.PaymentStatusPending, b.PaymentStatus)
	assert.Equal(t, day(1), b.Interval.CheckIn)
	assert.Equal(t, "inr", b.Currency)
	assert.False(t, b.CreatedAt.IsZero())

	mockCache.AssertExpectations(t)
	mockProducer.AssertExpectations(t)
}

func TestBookingLedger_CreateReservation_ValidationErrors(t *testing.T) {
	ledger, repo := newLedger()

	tests := []struct {
		name   string
		mutate func(*CreateReservationInput)
		field  string
	}{
		{"missing requester", func(in *CreateReservationInput) { in.RequesterID = "" }, "requester_id"},
		{"missing room", func(in *CreateReservationInput) { in.RoomID = "" }, "room_id"},
		{"zero guests", func(in *CreateReservationInput) { in.GuestCount = 0 }, "guest_count"},
		{"negative amount", func(in *CreateReservationInput) { in.AmountCents = -1 }, "amount_cents"},
		{"check out before check in", func(in *CreateReservationInput) { in.CheckOut = day(1) }, "check_out"},
		{"same day", func(in *CreateReservationInput) { in.CheckOut = in.CheckIn.Add(6 * time.Hour) }, "check_out"},
		{"missing check in", func(in *CreateReservationInput) { in.CheckIn = time.Time{} }, "check_in"},
		{"bad currency", func(in *CreateReservationInput) { in.Currency = "rupee" }, "currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := reservationInput("room-1", 3, 5)
			tt.mutate(&input)

			b, err := ledger.CreateReservation(context.Background(), input)

			assert.Nil(t, b)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tt.field)
		})
	}

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalBookings, "validation failures must not persist anything")
}

func TestBookingLedger_CreateReservation_Overlap(t *testing.T) {
	tests := []struct {
		name      string
		existing  [2]int
		proposed  [2]int
		available bool
	}{
		{"adjacent", [2]int{1, 5}, [2]int{5, 10}, true},
		{"overlapping", [2]int{1, 5}, [2]int{4, 10}, false},
		{"fully contained", [2]int{1, 10}, [2]int{3, 6}, false},
		{"containing", [2]int{3, 6}, [2]int{1, 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, _ := newLedger()
			confirmed(t, ledger, reservationInput("room-1", tt.existing[0], tt.existing[1]))

			_, err := ledger.CreateReservation(context.Background(), reservationInput("room-1", tt.proposed[0], tt.proposed[1]))
			if tt.available {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrAvailabilityConflict)
			}

			// другая комната никогда не конфликтует
			_, err = ledger.CreateReservation(context.Background(), reservationInput("room-2", tt.proposed[0], tt.proposed[1]))
			assert.NoError(t, err)
		})
	}
}

func TestBookingLedger_CreateReservation_PendingAndCancelledDoNotBlock(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	pending, err := ledger.CreateReservation(ctx, reservationInput("room-1", 1, 5))
	require.NoError(t, err)

	_, err = ledger.CreateReservation(ctx, reservationInput("room-1", 2, 4))
	require.NoError(t, err)

	_, err = ledger.TransitionStatus(ctx, pending.ID, domain.BookingStatusCancelled)
	require.NoError(t, err)

	_, err = ledger.CreateReservation(ctx, reservationInput("room-1", 1, 5))
	assert.NoError(t, err)
}

func TestBookingLedger_CreateReservation_HoldPending(t *testing.T) {
	now := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	repo := repository.NewMemoryBookingRepository(repository.WithClock(clock))
	ledger := NewBookingLedger(repo, NewAvailabilityChecker(true, 15*time.Minute), WithClock(clock))
	ctx := context.Background()

	_, err := ledger.CreateReservation(ctx, reservationInput("room-1", 1, 5))
	require.NoError(t, err)

	_, err = ledger.CreateReservation(ctx, reservationInput("room-1", 3, 8))
	assert.ErrorIs(t, err, domain.ErrAvailabilityConflict)

	// по истечении удержания ожидающая бронь больше не блокирует
	now = now.Add(16 * time.Minute)
	_, err = ledger.CreateReservation(ctx, reservationInput("room-1", 3, 8))
	assert.NoError(t, err)
}

func TestBookingLedger_CreateReservation_ConcurrentRequestsAdmitOne(t *testing.T) {
	repo := repository.NewMemoryBookingRepository()
	ledger := NewBookingLedger(repo, NewAvailabilityChecker(true, time.Hour))
	ctx := context.Background()

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			input := reservationInput("room-1", 10, 15)
			input.RequesterID = fmt.Sprintf("user-%d", i)
			_, err := ledger.CreateReservation(ctx, input)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrAvailabilityConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)

	bookings, err := repo.ListByRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestBookingLedger_ConcurrentConfirmationsKeepInvariant(t *testing.T) {
	ledger, repo := newLedger()
	ctx := context.Background()

	// без удержания обе ожидающие брони проходят допуск
	const n = 8
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		b, err := ledger.CreateReservation(ctx, reservationInput("room-1", 1, 6))
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := ledger.TransitionPaymentStatus(ctx, id, domain.PaymentStatusCompleted)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	bookings, err := repo.ListByRoom(ctx, "room-1")
	require.NoError(t, err)

	confirmedCount := 0
	for _, b := range bookings {
		assert.Equal(t, domain.PaymentStatusCompleted, b.PaymentStatus)
		if b.Status == domain.BookingStatusConfirmed {
			confirmedCount++
		} else {
			assert.Equal(t, domain.BookingStatusCancelled, b.Status)
		}
	}
	assert.Equal(t, 1, confirmedCount)
}

func TestBookingLedger_TransitionStatus_ExplicitConfirmConflicts(t *testing.T) {
	ledger, repo := newLedger()
	ctx := context.Background()

	loser, err := ledger.CreateReservation(ctx, reservationInput("room-1", 1, 6))
	require.NoError(t, err)
	confirmed(t, ledger, reservationInput("room-1", 2, 4))

	// оплата прошла, но бронь ещё ожидает: переводим вручную в обход каскада
	_, err = repo.CompareAndSwap(ctx, loser.ID, domain.InitialState(),
		domain.State{Status: domain.BookingStatusPending, Payment: domain.PaymentStatusCompleted})
	require.NoError(t, err)

	_, err = ledger.TransitionStatus(ctx, loser.ID, domain.BookingStatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrAvailabilityConflict)

	current, err := ledger.FindByID(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, current.Status)
}

func TestBookingLedger_TransitionPaymentStatus(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	b, err := ledger.CreateReservation(ctx, reservationInput("room-1", 1, 3))
	require.NoError(t, err)

	failed, err := ledger.TransitionPaymentStatus(ctx, b.ID, domain.PaymentStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, failed.Status)
	assert.Equal(t, domain.PaymentStatusFailed, failed.PaymentStatus)

	_, err = ledger.TransitionPaymentStatus(ctx, b.ID, domain.PaymentStatusCompleted)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = ledger.TransitionPaymentStatus(ctx, "missing", domain.PaymentStatusCompleted)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBookingLedger_InvalidTransitionsLeaveStateUnchanged(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	pending, err := ledger.CreateReservation(ctx, reservationInput("room-1", 1, 3))
	require.NoError(t, err)

	_, err = ledger.TransitionStatus(ctx, pending.ID, domain.BookingStatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = ledger.TransitionStatus(ctx, pending.ID, domain.BookingStatusPending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	after, err := ledger.FindByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, pending.State(), after.State())

	done := confirmed(t, ledger, reservationInput("room-1", 5, 7))
	_, err = ledger.TransitionStatus(ctx, done.ID, domain.BookingStatusPending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = ledger.TransitionPaymentStatus(ctx, done.ID, domain.PaymentStatusFailed)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	cancelled, err := ledger.TransitionStatus(ctx, done.ID, domain.BookingStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.State{Status: domain.BookingStatusCancelled, Payment: domain.PaymentStatusCompleted}, cancelled.State())
}

func TestBookingLedger_Lookups(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	first, err := ledger.CreateReservation(ctx, reservationInput("room-1", 1, 3))
	require.NoError(t, err)
	second, err := ledger.CreateReservation(ctx, reservationInput("room-2", 1, 3))
	require.NoError(t, err)

	_, err = ledger.AttachPaymentRefs(ctx, first.ID, "pi_1", "cus_1")
	require.NoError(t, err)
	_, err = ledger.AttachPaymentRefs(ctx, second.ID, "", "cus_1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	byRef, err := ledger.FindByExternalPaymentRef(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byRef.ID)

	_, err = ledger.FindByExternalPaymentRef(ctx, "pi_unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mine, err := ledger.ListByRequester(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)

	room, err := ledger.ListByRoom(ctx, "room-2")
	require.NoError(t, err)
	require.Len(t, room, 1)
	assert.Equal(t, second.ID, room[0].ID)
}

func TestBookingLedger_ListActive(t *testing.T) {
	now := time.Date(2025, time.July, 4, 9, 0, 0, 0, time.UTC)
	repo := repository.NewMemoryBookingRepository()
	ledger := NewBookingLedger(repo, nil, WithClock(func() time.Time { return now }))

	past := confirmed(t, ledger, reservationInput("room-1", 1, 3))
	current := confirmed(t, ledger, reservationInput("room-1", 3, 6))
	future := confirmed(t, ledger, reservationInput("room-2", 10, 12))
	_, err := ledger.CreateReservation(context.Background(), reservationInput("room-3", 5, 7))
	require.NoError(t, err)

	active, err := ledger.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, current.ID, active[0].ID)
	assert.Equal(t, future.ID, active[1].ID)
	assert.NotEqual(t, past.ID, active[0].ID)
}

func TestBookingLedger_Stats(t *testing.T) {
	ledger, _ := newLedger()
	ctx := context.Background()

	for i, amount := range []int64{100, 200, 300} {
		input := reservationInput(fmt.Sprintf("room-%d", i), 1, 3)
		input.AmountCents = amount
		b, err := ledger.CreateReservation(ctx, input)
		require.NoError(t, err)
		if i < 2 {
			_, err = ledger.TransitionPaymentStatus(ctx, b.ID, domain.PaymentStatusCompleted)
			require.NoError(t, err)
		}
	}

	stats, err := ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalBookings)
	assert.Equal(t, int64(2), stats.ConfirmedBookings)
	assert.Equal(t, int64(1), stats.PendingBookings)
	assert.Equal(t, int64(300), stats.TotalRevenueCents)
}

func TestBookingLedger_Stats_UsesCache(t *testing.T) {
	mockCache := &MockStatsCache{}
	ledger, _ := newLedger(WithStatsCache(mockCache))
	ctx := context.Background()

	cached := &domain.Stats{TotalBookings: 42}
	mockCache.On("GetStats", ctx).Return(cached, nil).Once()

	stats, err := ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.TotalBookings)

	// промах кэша: считаем по хранилищу и кладём результат в кэш
	mockCache.On("GetStats", ctx).Return(nil, nil).Once()
	mockCache.On("SetStats", ctx, domain.Stats{}).Return(nil).Once()

	stats, err = ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalBookings)

	mockCache.AssertExpectations(t)
}

func TestBookingLedger_PublishFailureDoesNotFailTransition(t *testing.T) {
	mockProducer := &MockProducer{}
	ledger, _ := newLedger(WithEvents(mockProducer, "booking_events"))
	ctx := context.Background()

	mockProducer.On("Publish", ctx, "booking_events", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	b, err := ledger.CreateReservation(ctx, reservationInput("room-1", 1, 3))
	require.NoError(t, err)

	updated, err := ledger.TransitionPaymentStatus(ctx, b.ID, domain.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, updated.Status)

	// created + payment_completed + booking_confirmed
	mockProducer.AssertNumberOfCalls(t, "Publish", 3)
}
