package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	dErrors "legisla/pkg/domain-errors"
	"legisla/pkg/platform/sentinel"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// IsUniqueViolation reports a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsForeignKeyViolation reports a reference to a missing row.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}

// IsSerializationFailure reports errors that a retry of the whole
// transaction can resolve.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// StoreError translates driver errors into sentinel facts for services.
// Unrecognised errors are wrapped with op.
func StoreError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return sentinel.ErrNotFound
	case IsUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, sentinel.ErrAlreadyUsed)
	case IsSerializationFailure(err):
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// txError maps a failure at the transaction boundary to a coded error.
// Errors that already carry a code pass through unchanged.
func txError(err error) error {
	var coded *dErrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case IsSerializationFailure(err), errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent update, retry the operation")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	default:
		return err
	}
}
