package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"legisla/internal/platform/postgres"
	"legisla/internal/proposition/models"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
	txcontext "legisla/pkg/platform/tx"
)

// PostgresStore persists propositions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed proposition store.
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

const propositionColumns = `id, type, number, year, title, summary, status, version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *models.Proposition) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO propositions (`+propositionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, uuid.UUID(p.ID), string(p.Type), p.Number, p.Year, p.Title, p.Summary, string(p.Status), p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return postgres.StoreError("create proposition", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, propID id.PropositionID) (*models.Proposition, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+propositionColumns+` FROM propositions WHERE id = $1`, uuid.UUID(propID))
	p, err := scanProposition(row)
	if err != nil {
		return nil, postgres.StoreError("find proposition", err)
	}
	return p, nil
}

// Update writes p when the stored version matches and bumps p.Version.
func (s *PostgresStore) Update(ctx context.Context, p *models.Proposition) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE propositions
		SET title = $2, summary = $3, status = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $6
	`, uuid.UUID(p.ID), p.Title, p.Summary, string(p.Status), p.UpdatedAt, p.Version)
	if err != nil {
		return postgres.StoreError("update proposition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return postgres.StoreError("update proposition", err)
	}
	if n == 0 {
		if _, err := s.FindByID(ctx, p.ID); err != nil {
			return err
		}
		return sentinel.ErrConflict
	}
	p.Version++
	return nil
}

func (s *PostgresStore) List(ctx context.Context, status models.Status) ([]*models.Proposition, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+propositionColumns+`
		FROM propositions
		WHERE $1 = '' OR status = $1
		ORDER BY year DESC, type ASC, number DESC
	`, string(status))
	if err != nil {
		return nil, postgres.StoreError("list propositions", err)
	}
	defer rows.Close()

	var out []*models.Proposition
	for rows.Next() {
		p, err := scanProposition(rows)
		if err != nil {
			return nil, postgres.StoreError("scan proposition", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreError("iterate propositions", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposition(row rowScanner) (*models.Proposition, error) {
	var (
		p      models.Proposition
		rawID  uuid.UUID
		typ    string
		status string
	)
	if err := row.Scan(&rawID, &typ, &p.Number, &p.Year, &p.Title, &p.Summary, &status, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ID = id.PropositionID(rawID)
	p.Type = models.Type(typ)
	p.Status = models.Status(status)
	return &p, nil
}
