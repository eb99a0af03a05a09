package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"legisla/internal/opinion/models"
	"legisla/internal/platform/postgres"
	"legisla/internal/voting"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
	txcontext "legisla/pkg/platform/tx"
)

// PostgresStore persists opinions. The unique index on (committee_id, year,
// number) backs the numbering the service assigns.
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

const opinionColumns = `id, proposition_id, committee_id, rapporteur_id, number, year, type, summary, status,
	outcome, rejection_reason, eligible::text, tally_yes, tally_no, tally_abstain, tally_eligible,
	version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, o *models.Opinion) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO opinions (id, proposition_id, committee_id, rapporteur_id, number, year, type, summary,
			status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, uuid.UUID(o.ID), uuid.UUID(o.PropositionID), nullCommittee(o.CommitteeID), uuid.UUID(o.RapporteurID),
		o.Number, o.Year, string(o.Type), o.Summary, string(o.Status), o.Version, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return sentinel.ErrNotFound
		}
		return postgres.StoreError("create opinion", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, opinionID id.OpinionID) (*models.Opinion, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+opinionColumns+` FROM opinions WHERE id = $1`, uuid.UUID(opinionID))
	o, err := scanOpinion(row)
	if err != nil {
		return nil, postgres.StoreError("find opinion", err)
	}
	return o, nil
}

// Update writes the mutable fields when versions match.
func (s *PostgresStore) Update(ctx context.Context, o *models.Opinion) error {
	var eligible any
	if o.Eligible != nil {
		eligible = pq.Array(memberStrings(o.Eligible))
	}
	var yes, no, abstain, total sql.NullInt64
	if o.Tally != nil {
		yes = sql.NullInt64{Int64: int64(o.Tally.Yes), Valid: true}
		no = sql.NullInt64{Int64: int64(o.Tally.No), Valid: true}
		abstain = sql.NullInt64{Int64: int64(o.Tally.Abstain), Valid: true}
		total = sql.NullInt64{Int64: int64(o.Tally.TotalEligible), Valid: true}
	}

	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE opinions SET
			status = $2,
			outcome = $3,
			rejection_reason = $4,
			eligible = $5::text::uuid[],
			tally_yes = $6,
			tally_no = $7,
			tally_abstain = $8,
			tally_eligible = $9,
			version = version + 1,
			updated_at = $10
		WHERE id = $1 AND version = $11
	`, uuid.UUID(o.ID), string(o.Status), nullString(string(o.Outcome)), nullString(o.RejectionReason),
		eligible, yes, no, abstain, total, o.UpdatedAt, o.Version)
	if err != nil {
		return postgres.StoreError("update opinion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return postgres.StoreError("update opinion", err)
	}
	if n == 0 {
		if _, err := s.FindByID(ctx, o.ID); err != nil {
			return err
		}
		return sentinel.ErrConflict
	}
	o.Version++
	return nil
}

func (s *PostgresStore) CountByCommitteeYear(ctx context.Context, committeeID *id.CommitteeID, year int) (int, error) {
	var n int
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT count(*) FROM opinions
		WHERE committee_id IS NOT DISTINCT FROM $1 AND year = $2
	`, nullCommittee(committeeID), year).Scan(&n)
	if err != nil {
		return 0, postgres.StoreError("count opinions", err)
	}
	return n, nil
}

func (s *PostgresStore) ListByProposition(ctx context.Context, propID id.PropositionID) ([]*models.Opinion, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+opinionColumns+` FROM opinions
		WHERE proposition_id = $1
		ORDER BY created_at, number
	`, uuid.UUID(propID))
	if err != nil {
		return nil, postgres.StoreError("list opinions", err)
	}
	defer rows.Close()

	var out []*models.Opinion
	for rows.Next() {
		o, err := scanOpinion(rows)
		if err != nil {
			return nil, postgres.StoreError("scan opinion", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreError("iterate opinions", err)
	}
	return out, nil
}

func scanOpinion(row rowScanner) (*models.Opinion, error) {
	var (
		o                       models.Opinion
		rawID, rawProp, rawRapp uuid.UUID
		rawCommittee            uuid.NullUUID
		typ, status             string
		outcome, reason         sql.NullString
		eligible                sql.NullString
		yes, no, abstain, total sql.NullInt64
	)
	err := row.Scan(&rawID, &rawProp, &rawCommittee, &rawRapp, &o.Number, &o.Year, &typ, &o.Summary, &status,
		&outcome, &reason, &eligible, &yes, &no, &abstain, &total,
		&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.ID = id.OpinionID(rawID)
	o.PropositionID = id.PropositionID(rawProp)
	o.RapporteurID = id.MemberID(rawRapp)
	if rawCommittee.Valid {
		committeeID := id.CommitteeID(rawCommittee.UUID)
		o.CommitteeID = &committeeID
	}
	o.Type = models.Type(typ)
	o.Status = models.Status(status)
	o.Outcome = models.Status(outcome.String)
	o.RejectionReason = reason.String
	if eligible.Valid {
		var raw pq.StringArray
		if err := raw.Scan(eligible.String); err != nil {
			return nil, err
		}
		if o.Eligible, err = parseMembers(raw); err != nil {
			return nil, err
		}
	}
	if total.Valid {
		o.Tally = &voting.Tally{
			Yes:           int(yes.Int64),
			No:            int(no.Int64),
			Abstain:       int(abstain.Int64),
			TotalEligible: int(total.Int64),
		}
	}
	return &o, nil
}

func (s *PostgresStore) UpsertVote(ctx context.Context, v *models.Vote) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO opinion_votes (opinion_id, member_id, choice, cast_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (opinion_id, member_id) DO UPDATE SET choice = EXCLUDED.choice, cast_at = EXCLUDED.cast_at
	`, uuid.UUID(v.OpinionID), uuid.UUID(v.MemberID), string(v.Choice), v.CastAt)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return sentinel.ErrNotFound
		}
		return postgres.StoreError("upsert opinion vote", err)
	}
	return nil
}

func (s *PostgresStore) FindVote(ctx context.Context, opinionID id.OpinionID, memberID id.MemberID) (*models.Vote, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT opinion_id, member_id, choice, cast_at FROM opinion_votes
		WHERE opinion_id = $1 AND member_id = $2
	`, uuid.UUID(opinionID), uuid.UUID(memberID))
	v, err := scanVote(row)
	if err != nil {
		return nil, postgres.StoreError("find opinion vote", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVotes(ctx context.Context, opinionID id.OpinionID) ([]*models.Vote, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT opinion_id, member_id, choice, cast_at FROM opinion_votes
		WHERE opinion_id = $1
		ORDER BY cast_at, member_id::text
	`, uuid.UUID(opinionID))
	if err != nil {
		return nil, postgres.StoreError("list opinion votes", err)
	}
	defer rows.Close()

	var out []*models.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, postgres.StoreError("scan opinion vote", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreError("iterate opinion votes", err)
	}
	return out, nil
}

func scanVote(row rowScanner) (*models.Vote, error) {
	var (
		v                 models.Vote
		rawOpinion, rawID uuid.UUID
		choice            string
	)
	if err := row.Scan(&rawOpinion, &rawID, &choice, &v.CastAt); err != nil {
		return nil, err
	}
	v.OpinionID = id.OpinionID(rawOpinion)
	v.MemberID = id.MemberID(rawID)
	v.Choice = voting.Choice(choice)
	return &v, nil
}

func nullCommittee(committeeID *id.CommitteeID) uuid.NullUUID {
	if committeeID == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*committeeID), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
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
