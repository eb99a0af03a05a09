// Package service tracks session attendance and computes the quorums that
// gate plenary and committee votes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"legisla/internal/attendance/models"
	"legisla/internal/events"
	plenarymodels "legisla/internal/plenary/models"
	"legisla/internal/platform/tracing"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
	"legisla/pkg/platform/audit"
	"legisla/pkg/platform/sentinel"
	"legisla/pkg/platform/tx"
	"legisla/pkg/requestcontext"
)

type Store interface {
	Find(ctx context.Context, sessionID id.SessionID, memberID id.MemberID) (*models.Record, error)
	Upsert(ctx context.Context, r *models.Record) error
	ListBySession(ctx context.Context, sessionID id.SessionID) ([]*models.Record, error)
	PresentMembers(ctx context.Context, sessionID id.SessionID) ([]id.MemberID, error)
}

type SessionFinder interface {
	FindSession(ctx context.Context, sessionID id.SessionID) (*plenarymodels.Session, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns attendance sheets. Marks share the session lock with plenary
// voting, so a ballot snapshot never sees a half-applied mark.
type Service struct {
	store         Store
	sessions      SessionFinder
	quorumMinimum int
	tx            tx.Runner
	logger        *slog.Logger
	auditor       AuditPublisher
	events        events.Publisher
	tracer        trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithQuorumMinimum sets the plenary head count needed for quorum.
func WithQuorumMinimum(n int) Option {
	return func(s *Service) {
		s.quorumMinimum = n
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

func WithEventPublisher(publisher events.Publisher) Option {
	return func(s *Service) {
		s.events = publisher
	}
}

func WithTx(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func New(store Store, sessions SessionFinder, opts ...Option) *Service {
	s := &Service{
		store:         store,
		sessions:      sessions,
		quorumMinimum: 1,
		tx:            tx.NewSharded(0),
		logger:        slog.New(slog.DiscardHandler),
		events:        events.Nop{},
		tracer:        tracing.Tracer("legisla/attendance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkPresent sets a member's presence for a session. Repeating the same
// mark is a no-op apart from the justification. Open ballots keep the
// eligibility they were opened with.
func (s *Service) MarkPresent(ctx context.Context, sessionID id.SessionID, memberID id.MemberID, present bool, justification string) (record *models.Record, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "attendance.MarkPresent",
		attribute.String("session_id", sessionID.String()),
		attribute.Bool("present", present),
	)
	defer func() { tracing.End(span, err) }()

	if memberID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "member id is required")
	}
	if err := models.ValidateJustification(justification); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var changed bool
	err = s.tx.RunInTx(ctx, []string{tx.Key("session", sessionID)}, func(ctx context.Context) error {
		if err := s.requireSession(ctx, sessionID); err != nil {
			return err
		}
		r, err := s.store.Find(ctx, sessionID, memberID)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			r = models.NewRecord(sessionID, memberID)
		case err != nil:
			return storeError(err, "failed to load attendance")
		}

		changed = r.ApplyMark(present, justification, now)
		if err := s.store.Upsert(ctx, r); err != nil {
			return storeError(err, "failed to save attendance")
		}
		record = r
		if !changed || s.auditor == nil {
			return nil
		}
		if err := s.auditor.Emit(ctx, audit.Event{
			Subject: "session:" + sessionID.String(),
			Action:  string(audit.EventAttendanceMarked),
			Detail:  fmt.Sprintf("member %s present=%t", memberID, present),
		}); err != nil {
			return storeError(err, "failed to record audit event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		if err := s.events.Publish(ctx, events.Event{
			Type:       events.AttendanceMarked,
			Key:        tx.Key("session", sessionID),
			OccurredAt: now,
			RequestID:  requestcontext.RequestID(ctx),
			Data:       record,
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to publish attendance event",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
	}
	return record, nil
}

// Quorum counts members present in a session against the configured
// minimum.
func (s *Service) Quorum(ctx context.Context, sessionID id.SessionID) (models.Quorum, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return models.Quorum{}, err
	}
	present, err := s.store.PresentMembers(ctx, sessionID)
	if err != nil {
		return models.Quorum{}, storeError(err, "failed to count attendance")
	}
	return models.NewQuorum(len(present), s.quorumMinimum), nil
}

// CommitteeQuorum checks accounted members against an absolute majority of
// the committee roster frozen when its vote opened. Members outside the
// roster are not counted. It returns QuorumNotMet alongside the counts when
// the majority is missing.
func (s *Service) CommitteeQuorum(ctx context.Context, committeeID id.CommitteeID, roster id.MemberSet, accounted []id.MemberID) (models.Quorum, error) {
	q := models.CommitteeQuorum(roster, accounted)
	if !q.Reached {
		s.logger.InfoContext(ctx, "committee quorum not met",
			"request_id", requestcontext.RequestID(ctx),
			"committee_id", committeeID,
			"present", q.Present,
			"minimum", q.Minimum,
		)
	}
	return q, q.Require()
}

// List returns the attendance sheet of a session.
func (s *Service) List(ctx context.Context, sessionID id.SessionID) ([]*models.Record, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	records, err := s.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "failed to list attendance")
	}
	return records, nil
}

func (s *Service) requireSession(ctx context.Context, sessionID id.SessionID) error {
	if _, err := s.sessions.FindSession(ctx, sessionID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return storeError(err, "failed to load session")
	}
	return nil
}

func storeError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "attendance changed concurrently, retry the operation")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
