package roster

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"legisla/internal/platform/postgres"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
	txcontext "legisla/pkg/platform/tx"
)

// PostgresStore reads committee membership from PostgreSQL.
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

func (s *PostgresStore) PutCommittee(ctx context.Context, c Committee) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO committees (id, name, active) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active
	`, uuid.UUID(c.ID), c.Name, c.Active)
	if err != nil {
		return postgres.StoreError("put committee", err)
	}
	return nil
}

func (s *PostgresStore) PutMember(ctx context.Context, m Member) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO committee_members (committee_id, member_id, name, active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (committee_id, member_id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active
	`, uuid.UUID(m.CommitteeID), uuid.UUID(m.MemberID), m.Name, m.Active)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return sentinel.ErrNotFound
		}
		return postgres.StoreError("put committee member", err)
	}
	return nil
}

func (s *PostgresStore) ActiveMembers(ctx context.Context, committeeID id.CommitteeID) ([]id.MemberID, error) {
	var active bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT active FROM committees WHERE id = $1`, uuid.UUID(committeeID)).Scan(&active)
	if err != nil {
		return nil, postgres.StoreError("find committee", err)
	}
	if !active {
		return nil, sentinel.ErrNotFound
	}

	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT member_id FROM committee_members
		WHERE committee_id = $1 AND active
		ORDER BY member_id::text
	`, uuid.UUID(committeeID))
	if err != nil {
		return nil, postgres.StoreError("list committee members", err)
	}
	defer rows.Close()

	out := []id.MemberID{}
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, postgres.StoreError("scan committee member", err)
		}
		out = append(out, id.MemberID(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreError("iterate committee members", err)
	}
	return out, nil
}
