package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"legisla/internal/platform/postgres"
	"legisla/internal/routing"
	"legisla/internal/tramitation/models"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
	txcontext "legisla/pkg/platform/tx"
)

// PostgresStore persists tramitation steps. The partial unique index on
// open steps backs the single-open-step rule.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const stepColumns = `id, proposition_id, sequence, routing_type, target_unit, status, entered_at, exited_at, comment, result`

// Append inserts a step. A duplicate sequence or a second open step
// violates a unique index and yields sentinel.ErrAlreadyUsed.
func (s *PostgresStore) Append(ctx context.Context, step *models.Step) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO tramitation_steps (`+stepColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, uuid.UUID(step.ID), uuid.UUID(step.PropositionID), step.Sequence, string(step.RoutingType),
		step.TargetUnit, string(step.Status), step.EnteredAt, step.ExitedAt,
		nullString(step.Comment), nullString(string(step.Result)))
	if err != nil {
		return postgres.StoreError("append step", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, step *models.Step) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE tramitation_steps
		SET status = $2, exited_at = $3, comment = $4, result = $5
		WHERE id = $1
	`, uuid.UUID(step.ID), string(step.Status), step.ExitedAt, nullString(step.Comment), nullString(string(step.Result)))
	if err != nil {
		return postgres.StoreError("update step", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return postgres.StoreError("update step", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, propID id.PropositionID) (*models.Step, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+stepColumns+` FROM tramitation_steps
		WHERE proposition_id = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, uuid.UUID(propID))
	step, err := scanStep(row)
	if err != nil {
		return nil, postgres.StoreError("latest step", err)
	}
	return step, nil
}

func (s *PostgresStore) ListByProposition(ctx context.Context, propID id.PropositionID) ([]*models.Step, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+stepColumns+` FROM tramitation_steps
		WHERE proposition_id = $1
		ORDER BY sequence
	`, uuid.UUID(propID))
	if err != nil {
		return nil, postgres.StoreError("list steps", err)
	}
	defer rows.Close()

	out := []*models.Step{}
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, postgres.StoreError("scan step", err)
		}
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreError("iterate steps", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (*models.Step, error) {
	var (
		step        models.Step
		rawID       uuid.UUID
		rawProp     uuid.UUID
		routingType string
		status      string
		exitedAt    sql.NullTime
		comment     sql.NullString
		result      sql.NullString
	)
	if err := row.Scan(&rawID, &rawProp, &step.Sequence, &routingType, &step.TargetUnit, &status,
		&step.EnteredAt, &exitedAt, &comment, &result); err != nil {
		return nil, err
	}
	step.ID = id.StepID(rawID)
	step.PropositionID = id.PropositionID(rawProp)
	step.RoutingType = routing.Type(routingType)
	step.Status = models.StepStatus(status)
	if exitedAt.Valid {
		t := exitedAt.Time
		step.ExitedAt = &t
	}
	step.Comment = comment.String
	step.Result = models.Result(result.String)
	return &step, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
