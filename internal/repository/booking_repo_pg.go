package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

const bookingColumns = `id, room_id, requester_id, check_in, check_out, guest_count, amount_cents, currency,
	status, payment_status, payment_ref, payer_ref, created_at, updated_at`

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

// EnsureSchema creates the bookings table and its constraints when they are missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply bookings schema: %w", err)
	}
	return nil
}

// WithRoomLock opens a transaction and takes a transaction-scoped advisory lock keyed by the
// room id. Concurrent callers for the same room queue on the lock; other rooms are unaffected.
func (r *PGBookingRepository) WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, tx RoomTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return persistenceErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, roomID); err != nil {
		return persistenceErr("lock room", err)
	}

	if err := fn(ctx, &pgRoomTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return persistenceErr("commit", err)
	}
	return nil
}

func (r *PGBookingRepository) CompareAndSwap(ctx context.Context, id string, expect, next domain.State) (*domain.Booking, error) {
	return compareAndSwap(ctx, r.db, id, expect, next)
}

func (r *PGBookingRepository) AttachPaymentRefs(ctx context.Context, id, paymentRef, payerRef string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `UPDATE bookings SET payment_ref=$2, payer_ref=$3, updated_at=now()
		WHERE id=$1 AND (payment_ref = '' OR (payment_ref=$2 AND payer_ref=$3))
		RETURNING `+bookingColumns, id, paymentRef, payerRef)
	b, err := scanBooking(row)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, persistenceErr("attach payment refs", err)
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: booking %s already has a payment reference", domain.ErrInvalidTransition, id)
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	return getOne(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id), "get booking")
}

func (r *PGBookingRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (*domain.Booking, error) {
	if paymentRef == "" {
		return nil, domain.ErrNotFound
	}
	return getOne(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_ref=$1`, paymentRef), "get booking by payment ref")
}

func (r *PGBookingRepository) ListByRequester(ctx context.Context, requesterID string) ([]domain.Booking, error) {
	return r.list(ctx, "list requester bookings",
		`SELECT `+bookingColumns+` FROM bookings WHERE requester_id=$1 ORDER BY created_at DESC, id DESC`, requesterID)
}

func (r *PGBookingRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Booking, error) {
	return r.list(ctx, "list room bookings",
		`SELECT `+bookingColumns+` FROM bookings WHERE room_id=$1 ORDER BY created_at DESC, id DESC`, roomID)
}

func (r *PGBookingRepository) ListActive(ctx context.Context, from time.Time) ([]domain.Booking, error) {
	return r.list(ctx, "list active bookings",
		`SELECT `+bookingColumns+` FROM bookings WHERE status=$1 AND check_out >= $2 ORDER BY check_in ASC, id ASC`,
		domain.BookingStatusConfirmed, domain.Day(from))
}

func (r *PGBookingRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Booking, error) {
	return r.list(ctx, "list stale pending bookings",
		`SELECT `+bookingColumns+` FROM bookings
		WHERE status=$1 AND payment_status=$2 AND created_at < $3
		ORDER BY created_at ASC LIMIT $4`,
		domain.BookingStatusPending, domain.PaymentStatusPending, createdBefore, limit)
}

func (r *PGBookingRepository) Stats(ctx context.Context) (domain.Stats, error) {
	var s domain.Stats
	err := r.db.QueryRow(ctx, `SELECT
			count(*),
			count(*) FILTER (WHERE status=$1),
			count(*) FILTER (WHERE status=$2),
			count(*) FILTER (WHERE status=$3),
			COALESCE(sum(amount_cents) FILTER (WHERE status=$1 AND payment_status=$4), 0)::bigint
		FROM bookings`,
		domain.BookingStatusConfirmed, domain.BookingStatusPending, domain.BookingStatusCancelled, domain.PaymentStatusCompleted).
		Scan(&s.TotalBookings, &s.ConfirmedBookings, &s.PendingBookings, &s.CancelledBookings, &s.TotalRevenueCents)
	if err != nil {
		return domain.Stats{}, persistenceErr("booking stats", err)
	}
	return s, nil
}

func (r *PGBookingRepository) list(ctx context.Context, op, sql string, args ...any) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, persistenceErr(op, err)
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, persistenceErr(op, err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr(op, err)
	}
	return bookings, nil
}

type pgRoomTx struct {
	q querier
}

func (t *pgRoomTx) CountOverlapping(ctx context.Context, q OverlapQuery) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `SELECT count(*) FROM bookings
		WHERE room_id=$1 AND check_in < $3 AND $2 < check_out AND id <> $4
		AND (status=$5 OR ($6 AND status=$7 AND created_at >= $8))`,
		q.RoomID, q.Interval.CheckIn, q.Interval.CheckOut, q.ExcludeID,
		domain.BookingStatusConfirmed, q.HoldPending, domain.BookingStatusPending, q.PendingSince).Scan(&n)
	if err != nil {
		return 0, persistenceErr("count overlapping bookings", err)
	}
	return n, nil
}

func (t *pgRoomTx) Insert(ctx context.Context, b *domain.Booking) error {
	err := t.q.QueryRow(ctx, `INSERT INTO bookings
		(id, room_id, requester_id, check_in, check_out, guest_count, amount_cents, currency, status, payment_status, payment_ref, payer_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		b.ID, b.RoomID, b.RequesterID, b.Interval.CheckIn, b.Interval.CheckOut, b.GuestCount, b.AmountCents, b.Currency,
		b.Status, b.PaymentStatus, b.PaymentRef, b.PayerRef).
		Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return persistenceErr("insert booking", err)
	}
	return nil
}

func (t *pgRoomTx) CompareAndSwap(ctx context.Context, id string, expect, next domain.State) (*domain.Booking, error) {
	return compareAndSwap(ctx, t.q, id, expect, next)
}

func compareAndSwap(ctx context.Context, q querier, id string, expect, next domain.State) (*domain.Booking, error) {
	row := q.QueryRow(ctx, `UPDATE bookings SET status=$4, payment_status=$5, updated_at=now()
		WHERE id=$1 AND status=$2 AND payment_status=$3
		RETURNING `+bookingColumns,
		id, expect.Status, expect.Payment, next.Status, next.Payment)
	b, err := scanBooking(row)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, persistenceErr("update booking state", err)
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id=$1)`, id).Scan(&exists); err != nil {
		return nil, persistenceErr("check booking", err)
	}
	if !exists {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrStaleState
}

func getOne(row pgx.Row, op string) (*domain.Booking, error) {
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, persistenceErr(op, err)
	}
	return b, nil
}

func scanBooking(row scanner) (*domain.Booking, error) {
	var b domain.Booking
	if err := row.Scan(&b.ID, &b.RoomID, &b.RequesterID, &b.Interval.CheckIn, &b.Interval.CheckOut,
		&b.GuestCount, &b.AmountCents, &b.Currency, &b.Status, &b.PaymentStatus, &b.PaymentRef, &b.PayerRef,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Interval = domain.NewInterval(b.Interval.CheckIn, b.Interval.CheckOut)
	return &b, nil
}

// persistenceErr maps constraint violations onto domain errors and wraps everything else
// as ErrPersistence.
func persistenceErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			return fmt.Errorf("%s: %w", op, domain.ErrAvailabilityConflict)
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrInvalidTransition, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

var _ BookingRepository = (*PGBookingRepository)(nil)
