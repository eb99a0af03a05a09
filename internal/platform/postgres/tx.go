package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"slices"
	"time"

	dErrors "legisla/pkg/domain-errors"
	txcontext "legisla/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// TxRunner runs functions in SERIALIZABLE transactions. Each lock key takes
// a session-level advisory lock, in sorted order, on the connection before
// the transaction begins. The transaction snapshot is therefore taken after
// the previous holder of any shared key has committed, and calls sharing a
// key run one after another. Keys not shared are left to the serializable
// snapshot, whose failures surface as Conflict.
type TxRunner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewTxRunner returns a Postgres tx.Runner. A zero timeout uses 5s.
func NewTxRunner(db *sql.DB, timeout time.Duration) *TxRunner {
	return &TxRunner{db: db, timeout: timeout}
}

func (t *TxRunner) RunInTx(ctx context.Context, keys []string, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	// Joining an outer transaction keeps its snapshot; the keys are only
	// added to what it already holds.
	if tx, ok := txcontext.From(ctx); ok {
		for _, key := range sortedKeys(keys) {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
				return txError(fmt.Errorf("advisory lock %s: %w", key, err))
			}
		}
		return fn(ctx)
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := t.db.Conn(ctx)
	if err != nil {
		return txError(fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Close()

	locked := sortedKeys(keys)
	defer unlockAll(conn, len(locked) > 0)
	for _, key := range locked {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
			return txError(fmt.Errorf("advisory lock %s: %w", key, err))
		}
	}

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return txError(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return txError(err)
	}
	if err := tx.Commit(); err != nil {
		return txError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// unlockAll releases the session locks before the connection goes back to
// the pool. A connection that cannot be unlocked is discarded instead, which
// ends its session and its locks with it.
func unlockAll(conn *sql.Conn, held bool) {
	if !held {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock_all()`); err != nil {
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}
}

func sortedKeys(keys []string) []string {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}
