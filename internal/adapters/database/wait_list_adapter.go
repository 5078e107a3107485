package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/slotbooking/internal/domain/entities"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
	"github.com/zatekoja/slotbooking/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/slotbooking/pkg/errors"
)

const waitListTable = "wait_list_entries"

var waitListColumns = []interface{}{"id", "slot_id", "client_id", "created_at"}

// WaitListAdapter implements the WaitListRepository interface
type WaitListAdapter struct {
	client *postgres.Client
	db     goqu.DialectWrapper
}

// NewWaitListAdapter creates a new wait-list adapter
func NewWaitListAdapter(client *postgres.Client) repositories.WaitListRepository {
	return &WaitListAdapter{
		client: client,
		db:     goqu.Dialect("postgres"),
	}
}

// Create creates a new wait-list entry
func (a *WaitListAdapter) Create(ctx context.Context, entry *entities.WaitListEntry) error {
	record := goqu.Record{
		"id":         entry.ID,
		"slot_id":    entry.SlotID,
		"client_id":  entry.ClientID,
		"created_at": entry.CreatedAt,
	}

	query, args, err := a.db.Insert(waitListTable).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return translateError(err, "failed to create wait-list entry")
	}
	return nil
}

// GetByID retrieves a wait-list entry by ID
func (a *WaitListAdapter) GetByID(ctx context.Context, id string) (*entities.WaitListEntry, error) {
	query, args, err := a.db.From(waitListTable).
		Select(waitListColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	entry, err := a.scanOne(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("wait-list entry with id %s not found", id))
	}
	return entry, nil
}

// Exists reports whether the client is queued for the slot
func (a *WaitListAdapter) Exists(ctx context.Context, slotID, clientID string) (bool, error) {
	query, args, err := a.db.From(waitListTable).
		Select(waitListColumns...).
		Where(goqu.Ex{"slot_id": slotID, "client_id": clientID}).
		Limit(1).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build query", err)
	}

	entry, err := a.scanOne(ctx, query, args)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// Head returns the earliest entry for the slot
func (a *WaitListAdapter) Head(ctx context.Context, slotID string) (*entities.WaitListEntry, error) {
	query, args, err := a.db.From(waitListTable).
		Select(waitListColumns...).
		Where(goqu.Ex{"slot_id": slotID}).
		Order(goqu.I("created_at").Asc(), goqu.I("id").Asc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	return a.scanOne(ctx, query, args)
}

func (a *WaitListAdapter) scanOne(ctx context.Context, query string, args []interface{}) (*entities.WaitListEntry, error) {
	entry := &entities.WaitListEntry{}
	err := a.client.Executor(ctx).QueryRowContext(ctx, query, args...).Scan(
		&entry.ID,
		&entry.SlotID,
		&entry.ClientID,
		&entry.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "failed to get wait-list entry")
	}
	return entry, nil
}

// Delete removes an entry
func (a *WaitListAdapter) Delete(ctx context.Context, id string) error {
	query, args, err := a.db.Delete(waitListTable).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}

	result, err := a.client.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return translateError(err, "failed to delete wait-list entry")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("wait-list entry with id %s not found", id))
	}
	return nil
}

// ListBySlot retrieves the queue for a slot
func (a *WaitListAdapter) ListBySlot(ctx context.Context, slotID string) ([]*entities.WaitListEntry, error) {
	query, args, err := a.db.From(waitListTable).
		Select(waitListColumns...).
		Where(goqu.Ex{"slot_id": slotID}).
		Order(goqu.I("created_at").Asc(), goqu.I("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	rows, err := a.client.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list wait-list entries", err)
	}
	defer rows.Close()

	var entries []*entities.WaitListEntry
	for rows.Next() {
		entry := &entities.WaitListEntry{}
		if err := rows.Scan(&entry.ID, &entry.SlotID, &entry.ClientID, &entry.CreatedAt); err != nil {
			return nil, apperrors.NewInternalError("failed to scan wait-list entry", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate wait-list entries", err)
	}
	return entries, nil
}
