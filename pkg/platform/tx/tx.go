// Package tx defines the transactional boundary used by every mutating core
// operation. A Runner executes fn atomically with respect to other calls that
// share at least one lock key; stores discover an open SQL transaction via From.
package tx

import (
	"context"
	"database/sql"
)

// Runner executes fn inside a transaction scoped by lock keys. Keys name the
// entities whose invariants fn reads and writes (e.g. "session:<id>").
type Runner interface {
	RunInTx(ctx context.Context, keys []string, fn func(txCtx context.Context) error) error
}

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}
