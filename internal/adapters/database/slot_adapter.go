package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	"github.com/zatekoja/slotbooking/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

const slotsTable = "time_slots"

var slotColumns = []interface{}{"id", "specialist_id", "start_at", "end_at", "is_booked", "created_at"}

// SlotAdapter implements the SlotRepository interface
type SlotAdapter struct {
	client *postgres.Client
	db     goqu.DialectWrapper
}

// NewSlotAdapter creates a new slot adapter
func NewSlotAdapter(client *postgres.Client) repositories.SlotRepository {
	return &SlotAdapter{
		client: client,
		db:     goqu.Dialect("postgres"),
	}
}

// Create creates a new time slot
func (a *SlotAdapter) Create(ctx context.Context, slot *entities.TimeSlot) error {
	record := goqu.Record{
		"id":            slot.ID,
		"specialist_id": slot.SpecialistID,
		"start_at":      slot.StartAt,
		"end_at":        slot.EndAt,
		"is_booked":     slot.IsBooked,
		"created_at":    slot.CreatedAt,
	}

	query, args, err := a.db.Insert(slotsTable).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if pgErrorCode(err) == pgExclusionViolation {
			return apperrors.NewConflictError(apperrors.CodeSlotOverlap, "slot overlaps an existing slot")
		}
		return translateError(err, "failed to create slot")
	}
	return nil
}

// GetByID retrieves a time slot by ID
func (a *SlotAdapter) GetByID(ctx context.Context, id string) (*entities.TimeSlot, error) {
	query, args, err := a.db.From(slotsTable).
		Select(slotColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	return a.getOne(ctx, id, query, args)
}

// Lock reads a time slot with FOR UPDATE, optionally NOWAIT
func (a *SlotAdapter) Lock(ctx context.Context, id string, nowait bool) (*entities.TimeSlot, error) {
	wait := exp.Wait
	if nowait {
		wait = exp.NoWait
	}

	query, args, err := a.db.From(slotsTable).
		Select(slotColumns...).
		Where(goqu.Ex{"id": id}).
		ForUpdate(wait).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build lock query", err)
	}

	return a.getOne(ctx, id, query, args)
}

func (a *SlotAdapter) getOne(ctx context.Context, id, query string, args []interface{}) (*entities.TimeSlot, error) {
	slot := &entities.TimeSlot{}
	err := a.client.Executor(ctx).QueryRowContext(ctx, query, args...).Scan(
		&slot.ID,
		&slot.SpecialistID,
		&slot.StartAt,
		&slot.EndAt,
		&slot.IsBooked,
		&slot.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("slot with id %s not found", id))
	}
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("failed to get slot %s", id))
	}
	return slot, nil
}

// MarkOccupied flips is_booked from false to true
func (a *SlotAdapter) MarkOccupied(ctx context.Context, id string) (bool, error) {
	return a.setBooked(ctx, id, false, true)
}

// MarkFree flips is_booked from true to false
func (a *SlotAdapter) MarkFree(ctx context.Context, id string) (bool, error) {
	return a.setBooked(ctx, id, true, false)
}

func (a *SlotAdapter) setBooked(ctx context.Context, id string, from, to bool) (bool, error) {
	query, args, err := a.db.Update(slotsTable).
		Set(goqu.Record{"is_booked": to}).
		Where(goqu.Ex{"id": id, "is_booked": from}).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, translateError(err, fmt.Sprintf("failed to update slot %s", id))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternalError("failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

// DeleteFree deletes the slot while it is not booked
func (a *SlotAdapter) DeleteFree(ctx context.Context, id string) (bool, error) {
	query, args, err := a.db.Delete(slotsTable).
		Where(goqu.Ex{"id": id, "is_booked": false}).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build delete query", err)
	}

	result, err := a.client.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return false, apperrors.NewConflictError(apperrors.CodeSlotBooked, "slot has booking history and cannot be deleted")
		}
		return false, translateError(err, fmt.Sprintf("failed to delete slot %s", id))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternalError("failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

// HasOverlap reports whether the specialist owns a slot intersecting [start, end)
func (a *SlotAdapter) HasOverlap(ctx context.Context, specialistID string, start, end time.Time) (bool, error) {
	query, args, err := a.db.From(slotsTable).
		Select(goqu.L("1")).
		Where(
			goqu.Ex{"specialist_id": specialistID},
			goqu.C("start_at").Lt(end),
			goqu.C("end_at").Gt(start),
		).
		Limit(1).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build overlap query", err)
	}

	var one int
	err = a.client.Executor(ctx).QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewInternalError("failed to check slot overlap", err)
	}
	return true, nil
}

// ListBySpecialist retrieves slots for a specialist
func (a *SlotAdapter) ListBySpecialist(ctx context.Context, specialistID string, filter repositories.SlotFilter) ([]*entities.TimeSlot, error) {
	ds := a.db.From(slotsTable).
		Select(slotColumns...).
		Where(goqu.Ex{"specialist_id": specialistID})

	if filter.OnlyFree {
		ds = ds.Where(goqu.Ex{"is_booked": false})
	}

	if filter.From != nil {
		ds = ds.Where(goqu.C("start_at").Gte(*filter.From))
	}

	if filter.To != nil {
		ds = ds.Where(goqu.C("start_at").Lt(*filter.To))
	}

	ds = ds.Order(goqu.I("start_at").Asc())

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
		return nil, apperrors.NewInternalError("failed to list slots", err)
	}
	defer rows.Close()

	var slots []*entities.TimeSlot
	for rows.Next() {
		slot := &entities.TimeSlot{}
		if err := rows.Scan(
			&slot.ID,
			&slot.SpecialistID,
			&slot.StartAt,
			&slot.EndAt,
			&slot.IsBooked,
			&slot.CreatedAt,
		); err != nil {
			return nil, apperrors.NewInternalError("failed to scan slot", err)
		}
		slots = append(slots, slot)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate slots", err)
	}
	return slots, nil
}
