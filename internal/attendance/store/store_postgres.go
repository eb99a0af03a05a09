package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"legisla/internal/attendance/models"
	"legisla/internal/platform/postgres"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
	txcontext "legisla/pkg/platform/tx"
)

// PostgresStore persists attendance in PostgreSQL.
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

const recordColumns = `session_id, member_id, present, arrived_at, departed_at, justification, updated_at`

func (s *PostgresStore) Find(ctx context.Context, sessionID id.SessionID, memberID id.MemberID) (*models.Record, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM attendance WHERE session_id = $1 AND member_id = $2`,
		uuid.UUID(sessionID), uuid.UUID(memberID))
	r, err := scanRecord(row)
	if err != nil {
		return nil, postgres.StoreError("find attendance", err)
	}
	return r, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, r *models.Record) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO attendance (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, member_id) DO UPDATE SET
			present = EXCLUDED.present,
			arrived_at = EXCLUDED.arrived_at,
			departed_at = EXCLUDED.departed_at,
			justification = EXCLUDED.justification,
			updated_at = EXCLUDED.updated_at
	`, uuid.UUID(r.SessionID), uuid.UUID(r.MemberID), r.Present, r.ArrivedAt, r.DepartedAt,
		sql.NullString{String: r.Justification, Valid: r.Justification != ""}, r.UpdatedAt)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return sentinel.ErrNotFound
		}
		return postgres.StoreError("upsert attendance", err)
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID id.SessionID) ([]*models.Record, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance
		WHERE session_id = $1
		ORDER BY member_id::text
	`, uuid.UUID(sessionID))
	if err != nil {
		return nil, postgres.StoreError("list attendance", err)
	}
	defer rows.Close()

	out := []*models.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, postgres.StoreError("scan attendance", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreError("iterate attendance", err)
	}
	return out, nil
}

func (s *PostgresStore) PresentMembers(ctx context.Context, sessionID id.SessionID) ([]id.MemberID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT member_id FROM attendance
		WHERE session_id = $1 AND present
		ORDER BY member_id::text
	`, uuid.UUID(sessionID))
	if err != nil {
		return nil, postgres.StoreError("list present members", err)
	}
	defer rows.Close()

	var out []id.MemberID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, postgres.StoreError("scan present member", err)
		}
		out = append(out, id.MemberID(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreError("iterate present members", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		r             models.Record
		rawSession    uuid.UUID
		rawMember     uuid.UUID
		arrivedAt     sql.NullTime
		departedAt    sql.NullTime
		justification sql.NullString
	)
	if err := row.Scan(&rawSession, &rawMember, &r.Present, &arrivedAt, &departedAt, &justification, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.SessionID = id.SessionID(rawSession)
	r.MemberID = id.MemberID(rawMember)
	if arrivedAt.Valid {
		t := arrivedAt.Time
		r.ArrivedAt = &t
	}
	if departedAt.Valid {
		t := departedAt.Time
		r.DepartedAt = &t
	}
	r.Justification = justification.String
	return &r, nil
}
