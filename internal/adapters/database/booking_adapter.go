package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	"github.com/zatekoja/slotbooking/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

const bookingsTable = "bookings"

var bookingColumns = []interface{}{
	goqu.I("bookings.id"),
	goqu.I("bookings.slot_id"),
	goqu.I("bookings.client_id"),
	goqu.I("bookings.status"),
	goqu.I("bookings.idempotency_key"),
	goqu.I("bookings.created_at"),
	goqu.I("bookings.cancelled_at"),
}

// BookingAdapter implements the BookingRepository interface
type BookingAdapter struct {
	client *postgres.Client
	db     goqu.DialectWrapper
}

// NewBookingAdapter creates a new booking adapter
func NewBookingAdapter(client *postgres.Client) repositories.BookingRepository {
	return &BookingAdapter{
		client: client,
		db:     goqu.Dialect("postgres"),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*entities.Booking, error) {
	booking := &entities.Booking{}
	var idempotencyKey sql.NullString
	var cancelledAt sql.NullTime

	if err := row.Scan(
		&booking.ID,
		&booking.SlotID,
		&booking.ClientID,
		&booking.Status,
		&idempotencyKey,
		&booking.CreatedAt,
		&cancelledAt,
	); err != nil {
		return nil, err
	}

	if idempotencyKey.Valid {
		booking.IdempotencyKey = &idempotencyKey.String
	}
	if cancelledAt.Valid {
		booking.CancelledAt = &cancelledAt.Time
	}
	return booking, nil
}

// Create creates a new booking
func (a *BookingAdapter) Create(ctx context.Context, booking *entities.Booking) error {
	record := goqu.Record{
		"id":              booking.ID,
		"slot_id":         booking.SlotID,
		"client_id":       booking.ClientID,
		"status":          booking.Status,
		"idempotency_key": nullString(booking.IdempotencyKey),
		"created_at":      booking.CreatedAt,
	}

	query, args, err := a.db.Insert(bookingsTable).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return translateError(err, "failed to create booking")
	}
	return nil
}

// GetByID retrieves a booking by ID
func (a *BookingAdapter) GetByID(ctx context.Context, id string) (*entities.Booking, error) {
	booking, err := a.findOne(ctx, goqu.Ex{"bookings.id": id})
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("booking with id %s not found", id))
	}
	return booking, nil
}

// FindByIdempotencyKey returns the client's booking created with key
func (a *BookingAdapter) FindByIdempotencyKey(ctx context.Context, clientID, key string) (*entities.Booking, error) {
	return a.findOne(ctx, goqu.Ex{"bookings.client_id": clientID, "bookings.idempotency_key": key})
}

// FindConfirmed returns the client's confirmed booking on the slot
func (a *BookingAdapter) FindConfirmed(ctx context.Context, slotID, clientID string) (*entities.Booking, error) {
	return a.findOne(ctx, goqu.Ex{
		"bookings.slot_id":   slotID,
		"bookings.client_id": clientID,
		"bookings.status":    entities.BookingStatusConfirmed,
	})
}

func (a *BookingAdapter) findOne(ctx context.Context, where goqu.Ex) (*entities.Booking, error) {
	query, args, err := a.db.From(bookingsTable).
		Select(bookingColumns...).
		Where(where).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	booking, err := scanBooking(a.client.Executor(ctx).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "failed to get booking")
	}
	return booking, nil
}

// Transition moves a booking between statuses only if it is still in the from status
func (a *BookingAdapter) Transition(ctx context.Context, id string, from, to entities.BookingStatus, at time.Time) (bool, error) {
	query, args, err := a.db.Update(bookingsTable).
		Set(goqu.Record{"status": to, "cancelled_at": at}).
		Where(goqu.Ex{"id": id, "status": from}).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build update query", err)
	}

	return a.execAffected(ctx, query, args, fmt.Sprintf("failed to update booking %s", id))
}

// MoveToSlot repoints a confirmed booking to another slot
func (a *BookingAdapter) MoveToSlot(ctx context.Context, id, fromSlotID, toSlotID string) (bool, error) {
	query, args, err := a.db.Update(bookingsTable).
		Set(goqu.Record{"slot_id": toSlotID}).
		Where(goqu.Ex{
			"id":      id,
			"slot_id": fromSlotID,
			"status":  entities.BookingStatusConfirmed,
		}).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build update query", err)
	}

	return a.execAffected(ctx, query, args, fmt.Sprintf("failed to move booking %s", id))
}

func (a *BookingAdapter) execAffected(ctx context.Context, query string, args []interface{}, message string) (bool, error) {
	result, err := a.client.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, translateError(err, message)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternalError("failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

// ExpireStarted expires confirmed bookings whose slot started at or before cutoff.
// It must run inside a transaction. Slot rows are locked before booking rows,
// the order Reserve, Cancel and Reschedule use, and slots locked by another
// transaction are skipped so a later sweep picks them up. The status predicate
// is evaluated by the UPDATE itself, so rows that left confirmed concurrently
// are not touched.
func (a *BookingAdapter) ExpireStarted(ctx context.Context, cutoff, at time.Time) ([]*entities.Booking, error) {
	slotIDs, err := a.lockStartedSlots(ctx, cutoff)
	if err != nil || len(slotIDs) == 0 {
		return nil, err
	}

	query, args, err := a.db.Update(bookingsTable).
		Set(goqu.Record{
			"status":       entities.BookingStatusExpired,
			"cancelled_at": at,
		}).
		Where(
			goqu.I("bookings.slot_id").In(slotIDs),
			goqu.I("bookings.status").Eq(entities.BookingStatusConfirmed),
		).
		Returning(bookingColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build expire query", err)
	}

	rows, err := a.client.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, "failed to expire bookings")
	}
	defer rows.Close()

	return collectBookings(rows)
}

// lockStartedSlots locks the occupied slots that started at or before cutoff,
// skipping rows another transaction holds
func (a *BookingAdapter) lockStartedSlots(ctx context.Context, cutoff time.Time) ([]string, error) {
	query, args, err := a.db.From(slotsTable).
		Select(goqu.I("time_slots.id")).
		Where(
			goqu.I("time_slots.is_booked").IsTrue(),
			goqu.I("time_slots.start_at").Lte(cutoff),
		).
		Order(goqu.I("time_slots.id").Asc()).
		ForUpdate(exp.SkipLocked).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build started slots query", err)
	}

	rows, err := a.client.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, "failed to lock started slots")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewInternalError("failed to scan slot id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, "failed to lock started slots")
	}
	return ids, nil
}

// CountUpcoming counts confirmed bookings whose slot starts in [from, to)
func (a *BookingAdapter) CountUpcoming(ctx context.Context, from, to time.Time) (int, error) {
	query, args, err := a.db.From(bookingsTable).
		Select(goqu.COUNT(goqu.Star())).
		Join(goqu.T(slotsTable), goqu.On(goqu.I("bookings.slot_id").Eq(goqu.I("time_slots.id")))).
		Where(
			goqu.I("bookings.status").Eq(entities.BookingStatusConfirmed),
			goqu.I("time_slots.start_at").Gte(from),
			goqu.I("time_slots.start_at").Lt(to),
		).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build count query", err)
	}

	var count int
	if err := a.client.Executor(ctx).QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, apperrors.NewInternalError("failed to count upcoming bookings", err)
	}
	return count, nil
}

// ListByClient retrieves bookings for a client
func (a *BookingAdapter) ListByClient(ctx context.Context, clientID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	return a.list(ctx, goqu.Ex{"bookings.client_id": clientID}, filter)
}

// ListBySpecialist retrieves bookings on slots owned by a specialist
func (a *BookingAdapter) ListBySpecialist(ctx context.Context, specialistID string, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	return a.list(ctx, goqu.Ex{"time_slots.specialist_id": specialistID}, filter)
}

func (a *BookingAdapter) list(ctx context.Context, where goqu.Ex, filter repositories.BookingFilter) ([]*entities.Booking, error) {
	ds := a.db.From(bookingsTable).
		Select(bookingColumns...).
		Join(goqu.T(slotsTable), goqu.On(goqu.I("bookings.slot_id").Eq(goqu.I("time_slots.id")))).
		Where(where)

	if filter.Status != "" {
		ds = ds.Where(goqu.I("bookings.status").Eq(filter.Status))
	}

	if filter.From != nil {
		ds = ds.Where(goqu.I("time_slots.start_at").Gte(*filter.From))
	}

	if filter.To != nil {
		ds = ds.Where(goqu.I("time_slots.start_at").Lt(*filter.To))
	}

	ds = ds.Order(goqu.I("bookings.id").Asc())

	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}

	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	rows, err := a.client.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list bookings", err)
	}
	defer rows.Close()

	return collectBookings(rows)
}

func collectBookings(rows *sql.Rows) ([]*entities.Booking, error) {
	var bookings []*entities.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan booking", err)
		}
		bookings = append(bookings, booking)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate bookings", err)
	}
	return bookings, nil
}
