// Package memory provides a transactional in-memory store backed by go-memdb.
// Write transactions are serialized by go-memdb, which gives every unit of work
// exclusive access to all rows it touches.
package memory

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"
	"github.com/zatekoja/slotbooking/internal/domain/repositories"
)

const (
	slotsTable    = "time_slots"
	bookingsTable = "bookings"
	waitListTable = "wait_list_entries"
)

type txKey struct{}

// Store holds slots, bookings and wait-list entries in memory
type Store struct {
	db *memdb.MemDB
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			slotsTable: {
				Name: slotsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"specialist_id": {
						Name:    "specialist_id",
						Indexer: &memdb.StringFieldIndex{Field: "SpecialistID"},
					},
				},
			},
			bookingsTable: {
				Name: bookingsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"slot_id": {
						Name:    "slot_id",
						Indexer: &memdb.StringFieldIndex{Field: "SlotID"},
					},
					"client_id": {
						Name:    "client_id",
						Indexer: &memdb.StringFieldIndex{Field: "ClientID"},
					},
				},
			},
			waitListTable: {
				Name: waitListTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"slot_id": {
						Name:    "slot_id",
						Indexer: &memdb.StringFieldIndex{Field: "SlotID"},
					},
					"slot_client": {
						Name:   "slot_client",
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "SlotID"},
								&memdb.StringFieldIndex{Field: "ClientID"},
							},
						},
					},
				},
			},
		},
	}
}

// NewStore creates an empty store
func NewStore() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	return &Store{db: db}, nil
}

// Slots returns the slot repository view of the store
func (s *Store) Slots() repositories.SlotRepository {
	return &SlotStore{store: s}
}

// Bookings returns the booking repository view of the store
func (s *Store) Bookings() repositories.BookingRepository {
	return &BookingStore{store: s}
}

// WaitList returns the wait-list repository view of the store
func (s *Store) WaitList() repositories.WaitListRepository {
	return &WaitListStore{store: s}
}

// WithinTx runs fn inside a write transaction. A context that already carries
// one is reused, so nested units of work commit or roll back together.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	txn := s.db.Txn(true)
	// Abort is a no-op once the transaction has committed
	defer txn.Abort()

	if err := fn(context.WithValue(ctx, txKey{}, txn)); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

func txFromContext(ctx context.Context) (*memdb.Txn, bool) {
	txn, ok := ctx.Value(txKey{}).(*memdb.Txn)
	return txn, ok
}

// read runs fn against the transaction in ctx or a fresh snapshot
func (s *Store) read(ctx context.Context, fn func(txn *memdb.Txn) error) error {
	if txn, ok := txFromContext(ctx); ok {
		return fn(txn)
	}

	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(txn)
}

// write runs fn against the transaction in ctx or a single-statement transaction
func (s *Store) write(ctx context.Context, fn func(txn *memdb.Txn) error) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		txn, _ := txFromContext(ctx)
		return fn(txn)
	})
}
