package repositories

import (
	"context"
	"errors"
)

// ErrDuplicateKey is wrapped by adapters when an insert violates a uniqueness constraint
var ErrDuplicateKey = errors.New("duplicate key")

// Transactor runs a unit of work against the store.
// fn receives a context bound to the transaction; repositories called with that context
// take part in it. A nested WithinTx joins the outer transaction instead of opening a new one.
// Returning an error from fn rolls back every write made through the context.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
