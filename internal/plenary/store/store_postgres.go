package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"legisla/internal/platform/postgres"
	"legisla/internal/plenary/models"
	"legisla/internal/voting"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
	txcontext "legisla/pkg/platform/tx"
)

// PostgresStore persists the plenary aggregate. Unique indexes back the
// single IN_VOTING item per session and write-once results.
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

type rowScanner interface {
	Scan(dest ...any) error
}

// Sessions

func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`INSERT INTO sessions (id, title, scheduled_for, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.UUID(session.ID), session.Title, session.ScheduledFor, session.CreatedAt)
	if err != nil {
		return postgres.StoreError("create session", err)
	}
	return nil
}

func (s *PostgresStore) FindSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, title, scheduled_for, created_at FROM sessions WHERE id = $1`, uuid.UUID(sessionID))
	session, err := scanSession(row)
	if err != nil {
		return nil, postgres.StoreError("find session", err)
	}
	return session, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT id, title, scheduled_for, created_at FROM sessions ORDER BY scheduled_for DESC`)
	if err != nil {
		return nil, postgres.StoreError("list sessions", err)
	}
	defer rows.Close()

	out := []*models.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, postgres.StoreError("scan session", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreError("iterate sessions", err)
	}
	return out, nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session models.Session
		rawID   uuid.UUID
	)
	if err := row.Scan(&rawID, &session.Title, &session.ScheduledFor, &session.CreatedAt); err != nil {
		return nil, err
	}
	session.ID = id.SessionID(rawID)
	return &session, nil
}

// Agenda items

const itemColumns = `id, session_id, proposition_id, position, title, status, version, updated_at`

func (s *PostgresStore) CreateItem(ctx context.Context, item *models.AgendaItem) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO agenda_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.UUID(item.ID), uuid.UUID(item.SessionID), nullPropositionID(item.PropositionID),
		item.Position, item.Title, string(item.Status), item.Version, item.UpdatedAt)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return sentinel.ErrNotFound
		}
		return postgres.StoreError("create agenda item", err)
	}
	return nil
}

func (s *PostgresStore) FindItem(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM agenda_items WHERE id = $1`, uuid.UUID(itemID))
	item, err := scanItem(row)
	if err != nil {
		return nil, postgres.StoreError("find agenda item", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateItem(ctx context.Context, item *models.AgendaItem) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE agenda_items
		SET status = $2, title = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $5
	`, uuid.UUID(item.ID), string(item.Status), item.Title, item.UpdatedAt, item.Version)
	if err != nil {
		return postgres.StoreError("update agenda item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return postgres.StoreError("update agenda item", err)
	}
	if n == 0 {
		if _, err := s.FindItem(ctx, item.ID); err != nil {
			return err
		}
		return sentinel.ErrConflict
	}
	item.Version++
	return nil
}

func (s *PostgresStore) ListItems(ctx context.Context, sessionID id.SessionID) ([]*models.AgendaItem, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+itemColumns+` FROM agenda_items
		WHERE session_id = $1
		ORDER BY position
	`, uuid.UUID(sessionID))
	if err != nil {
		return nil, postgres.StoreError("list agenda items", err)
	}
	defer rows.Close()

	var out []*models.AgendaItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, postgres.StoreError("scan agenda item", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreError("iterate agenda items", err)
	}
	return out, nil
}

func scanItem(row rowScanner) (*models.AgendaItem, error) {
	var (
		item       models.AgendaItem
		rawID      uuid.UUID
		rawSession uuid.UUID
		rawProp    uuid.NullUUID
		status     string
	)
	if err := row.Scan(&rawID, &rawSession, &rawProp, &item.Position, &item.Title, &status, &item.Version, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.ID = id.AgendaItemID(rawID)
	item.SessionID = id.SessionID(rawSession)
	if rawProp.Valid {
		propID := id.PropositionID(rawProp.UUID)
		item.PropositionID = &propID
	}
	item.Status = models.ItemStatus(status)
	return &item, nil
}

func nullPropositionID(propID *id.PropositionID) uuid.NullUUID {
	if propID == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*propID), Valid: true}
}

// Ballots

func (s *PostgresStore) CreateBallot(ctx context.Context, b *models.Ballot) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO ballots (agenda_item_id, session_id, eligible, opened_at, present_count, quorum_minimum)
		VALUES ($1, $2, $3::text::uuid[], $4, $5, $6)
	`, uuid.UUID(b.AgendaItemID), uuid.UUID(b.SessionID), pq.Array(memberStrings(b.Eligible)),
		b.OpenedAt, b.PresentCount, b.QuorumMinimum)
	if err != nil {
		return postgres.StoreError("create ballot", err)
	}
	return nil
}

func (s *PostgresStore) FindBallot(ctx context.Context, itemID id.AgendaItemID) (*models.Ballot, error) {
	var (
		b          models.Ballot
		rawItem    uuid.UUID
		rawSession uuid.UUID
		eligible   []string
	)
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT agenda_item_id, session_id, eligible::text, opened_at, present_count, quorum_minimum
		FROM ballots WHERE agenda_item_id = $1
	`, uuid.UUID(itemID)).Scan(&rawItem, &rawSession, pq.Array(&eligible), &b.OpenedAt, &b.PresentCount, &b.QuorumMinimum)
	if err != nil {
		return nil, postgres.StoreError("find ballot", err)
	}
	b.AgendaItemID = id.AgendaItemID(rawItem)
	b.SessionID = id.SessionID(rawSession)
	b.Eligible, err = parseMembers(eligible)
	if err != nil {
		return nil, postgres.StoreError("parse ballot eligibility", err)
	}
	return &b, nil
}

// Votes

func (s *PostgresStore) UpsertVote(ctx context.Context, v *models.Vote) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO plenary_votes (agenda_item_id, session_id, member_id, choice, cast_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agenda_item_id, member_id) DO UPDATE SET choice = EXCLUDED.choice, cast_at = EXCLUDED.cast_at
	`, uuid.UUID(v.AgendaItemID), uuid.UUID(v.SessionID), uuid.UUID(v.MemberID), string(v.Choice), v.CastAt)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return sentinel.ErrNotFound
		}
		return postgres.StoreError("upsert vote", err)
	}
	return nil
}

const voteColumns = `agenda_item_id, session_id, member_id, choice, cast_at`

func (s *PostgresStore) FindVote(ctx context.Context, itemID id.AgendaItemID, memberID id.MemberID) (*models.Vote, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+voteColumns+` FROM plenary_votes WHERE agenda_item_id = $1 AND member_id = $2`,
		uuid.UUID(itemID), uuid.UUID(memberID))
	v, err := scanVote(row)
	if err != nil {
		return nil, postgres.StoreError("find vote", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVotes(ctx context.Context, itemID id.AgendaItemID) ([]*models.Vote, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+voteColumns+` FROM plenary_votes
		WHERE agenda_item_id = $1
		ORDER BY cast_at, member_id::text
	`, uuid.UUID(itemID))
	if err != nil {
		return nil, postgres.StoreError("list votes", err)
	}
	defer rows.Close()

	var out []*models.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, postgres.StoreError("scan vote", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreError("iterate votes", err)
	}
	return out, nil
}

func scanVote(row rowScanner) (*models.Vote, error) {
	var (
		v          models.Vote
		rawItem    uuid.UUID
		rawSession uuid.UUID
		rawMember  uuid.UUID
		choice     string
	)
	if err := row.Scan(&rawItem, &rawSession, &rawMember, &choice, &v.CastAt); err != nil {
		return nil, err
	}
	v.AgendaItemID = id.AgendaItemID(rawItem)
	v.SessionID = id.SessionID(rawSession)
	v.MemberID = id.MemberID(rawMember)
	v.Choice = voting.Choice(choice)
	return &v, nil
}

// Results

func (s *PostgresStore) CreateResult(ctx context.Context, r *models.Result) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO voting_results (agenda_item_id, session_id, yes, no, abstain, total_eligible, closed_at, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.UUID(r.AgendaItemID), uuid.UUID(r.SessionID), r.Yes, r.No, r.Abstain, r.TotalEligible, r.ClosedAt, string(r.Outcome))
	if err != nil {
		return postgres.StoreError("create voting result", err)
	}
	return nil
}

func (s *PostgresStore) FindResult(ctx context.Context, itemID id.AgendaItemID) (*models.Result, error) {
	var (
		r          models.Result
		rawItem    uuid.UUID
		rawSession uuid.UUID
		outcome    string
	)
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT agenda_item_id, session_id, yes, no, abstain, total_eligible, closed_at, outcome
		FROM voting_results WHERE agenda_item_id = $1
	`, uuid.UUID(itemID)).Scan(&rawItem, &rawSession, &r.Yes, &r.No, &r.Abstain, &r.TotalEligible, &r.ClosedAt, &outcome)
	if err != nil {
		return nil, postgres.StoreError("find voting result", err)
	}
	r.AgendaItemID = id.AgendaItemID(rawItem)
	r.SessionID = id.SessionID(rawSession)
	r.Outcome = voting.Outcome(outcome)
	return &r, nil
}

func memberStrings(members []id.MemberID) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.String()
	}
	return out
}

func parseMembers(raw []string) ([]id.MemberID, error) {
	out := make([]id.MemberID, 0, len(raw))
	for _, s := range raw {
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id.MemberID(u))
	}
	return out, nil
}
