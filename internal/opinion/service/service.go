// Package service drives committee opinions from draft through the
// committee vote to issuance and archival.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	attendancemodels "legisla/internal/attendance/models"
	"legisla/internal/events"
	"legisla/internal/opinion/metrics"
	"legisla/internal/opinion/models"
	"legisla/internal/platform/tracing"
	propmodels "legisla/internal/proposition/models"
	"legisla/internal/voting"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
	"legisla/pkg/platform/audit"
	"legisla/pkg/platform/sentinel"
	"legisla/pkg/platform/tx"
	"legisla/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, o *models.Opinion) error
	FindByID(ctx context.Context, opinionID id.OpinionID) (*models.Opinion, error)
	Update(ctx context.Context, o *models.Opinion) error
	CountByCommitteeYear(ctx context.Context, committeeID *id.CommitteeID, year int) (int, error)
	ListByProposition(ctx context.Context, propID id.PropositionID) ([]*models.Opinion, error)
	UpsertVote(ctx context.Context, v *models.Vote) error
	FindVote(ctx context.Context, opinionID id.OpinionID, memberID id.MemberID) (*models.Vote, error)
	ListVotes(ctx context.Context, opinionID id.OpinionID) ([]*models.Vote, error)
}

type PropositionFinder interface {
	FindByID(ctx context.Context, propID id.PropositionID) (*propmodels.Proposition, error)
}

type RosterReader interface {
	ActiveMembers(ctx context.Context, committeeID id.CommitteeID) ([]id.MemberID, error)
}

// QuorumChecker decides whether the accounted members form a committee
// quorum over the given roster.
type QuorumChecker interface {
	CommitteeQuorum(ctx context.Context, committeeID id.CommitteeID, roster id.MemberSet, accounted []id.MemberID) (attendancemodels.Quorum, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service serializes opinion transitions on the opinion key and numbering
// on the (committee, year) key.
type Service struct {
	store        Store
	propositions PropositionFinder
	roster       RosterReader
	quorum       QuorumChecker
	tx           tx.Runner
	logger       *slog.Logger
	metrics      *metrics.Metrics
	auditor      AuditPublisher
	events       events.Publisher
	tracer       trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
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

func New(store Store, propositions PropositionFinder, roster RosterReader, quorum QuorumChecker, opts ...Option) *Service {
	s := &Service{
		store:        store,
		propositions: propositions,
		roster:       roster,
		quorum:       quorum,
		tx:           tx.NewSharded(0),
		logger:       slog.New(slog.DiscardHandler),
		events:       events.Nop{},
		tracer:       tracing.Tracer("legisla/opinion"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest carries a new opinion. The committee is fixed at creation
// because it scopes the opinion's number.
type CreateRequest struct {
	PropositionID id.PropositionID
	CommitteeID   *id.CommitteeID
	RapporteurID  id.MemberID
	Type          models.Type
	Summary       string
}

func opinionKey(opinionID id.OpinionID) string {
	return tx.Key("opinion", opinionID)
}

func numberKey(committeeID id.CommitteeID, year int) string {
	return "opinion-number:" + committeeID.String() + ":" + strconv.Itoa(year)
}

// CreateOpinion drafts an opinion and assigns the next number for its
// committee and year in the same transaction.
func (s *Service) CreateOpinion(ctx context.Context, req CreateRequest) (opinion *models.Opinion, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "opinion.CreateOpinion",
		attribute.String("proposition_id", req.PropositionID.String()))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)
	year := now.Year()

	if _, err := models.ParseType(string(req.Type)); err != nil {
		return nil, err
	}
	if req.RapporteurID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "rapporteur id is required")
	}
	if req.CommitteeID == nil || req.CommitteeID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "committee id is required")
	}
	committeeID := *req.CommitteeID
	if _, err := s.findProposition(ctx, req.PropositionID); err != nil {
		return nil, err
	}
	active, err := s.activeMembers(ctx, committeeID)
	if err != nil {
		return nil, err
	}
	if !id.NewMemberSet(active).Contains(req.RapporteurID) {
		return nil, dErrors.New(dErrors.CodeValidation, "rapporteur is not an active member of the committee")
	}

	opinionID := id.OpinionID(uuid.New())
	err = s.tx.RunInTx(ctx, []string{numberKey(committeeID, year), opinionKey(opinionID)}, func(ctx context.Context) error {
		number, err := s.NextNumber(ctx, committeeID, year)
		if err != nil {
			return err
		}
		opinion, err = models.NewOpinion(opinionID, req.PropositionID, &committeeID, req.RapporteurID,
			number, year, req.Type, req.Summary, now)
		if err != nil {
			return err
		}
		if err := s.store.Create(ctx, opinion); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "opinion number taken concurrently, retry the operation")
			}
			return storeError(err, "failed to create opinion")
		}
		return s.emit(ctx, audit.EventOpinionCreated, opinion.ID,
			fmt.Sprintf("opinion %d/%d on proposition %s", opinion.Number, opinion.Year, opinion.PropositionID))
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, event(ctx, events.OpinionChanged, opinion))
	if s.metrics != nil {
		s.metrics.IncrementCreated()
	}
	s.observe("create", start)
	s.logger.InfoContext(ctx, "opinion created",
		"request_id", requestcontext.RequestID(ctx),
		"opinion_id", opinion.ID,
		"number", opinion.Number,
		"year", opinion.Year,
	)
	return opinion, nil
}

// NextNumber is the number the next opinion of the committee and year would
// get. Only a value read under the numbering lock is safe to assign.
func (s *Service) NextNumber(ctx context.Context, committeeID id.CommitteeID, year int) (int, error) {
	n, err := s.store.CountByCommitteeYear(ctx, &committeeID, year)
	if err != nil {
		return 0, storeError(err, "failed to count opinions")
	}
	return n + 1, nil
}

// SubmitForVote opens the committee vote and freezes the committee's
// active roster as the eligible voters.
func (s *Service) SubmitForVote(ctx context.Context, opinionID id.OpinionID) (opinion *models.Opinion, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "opinion.SubmitForVote", attribute.String("opinion_id", opinionID.String()))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	err = s.tx.RunInTx(ctx, []string{opinionKey(opinionID)}, func(ctx context.Context) error {
		opinion, err = s.find(ctx, opinionID)
		if err != nil {
			return err
		}
		if err := opinion.CanSubmitForVote(); err != nil {
			return err
		}
		active, err := s.activeMembers(ctx, *opinion.CommitteeID)
		if err != nil {
			return err
		}
		opinion.ApplySubmitForVote(active, now)
		if err := s.store.Update(ctx, opinion); err != nil {
			return storeError(err, "failed to submit opinion")
		}
		return s.emit(ctx, audit.EventOpinionSubmitted, opinionID,
			fmt.Sprintf("%d eligible committee members", len(opinion.Eligible)))
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event(ctx, events.OpinionChanged, opinion))
	s.observe("submit_for_vote", start)
	return opinion, nil
}

// CastOpinionVote records or replaces a committee member's vote.
func (s *Service) CastOpinionVote(ctx context.Context, opinionID id.OpinionID, memberID id.MemberID, choice voting.Choice) (vote *models.Vote, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "opinion.CastOpinionVote", attribute.String("opinion_id", opinionID.String()))
	defer func() { tracing.End(span, err) }()
	start := time.Now()

	if memberID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "member id is required")
	}
	if choice, err = voting.ParseChoice(string(choice)); err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, []string{opinionKey(opinionID)}, func(ctx context.Context) error {
		opinion, err := s.find(ctx, opinionID)
		if err != nil {
			return err
		}
		if err := opinion.CanAcceptVotes(); err != nil {
			return err
		}
		if !opinion.EligibleSet().Contains(memberID) {
			return dErrors.New(dErrors.CodeNotEligible, "member is not on the committee roster for this vote")
		}
		vote = &models.Vote{OpinionID: opinionID, MemberID: memberID, Choice: choice, CastAt: requestcontext.Now(ctx)}
		if err := s.store.UpsertVote(ctx, vote); err != nil {
			return storeError(err, "failed to record opinion vote")
		}
		return s.emit(ctx, audit.EventOpinionVoteCast, opinionID, "member "+memberID.String())
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{
		Type:       events.OpinionVoteCast,
		Key:        opinionKey(opinionID),
		OccurredAt: vote.CastAt,
		RequestID:  requestcontext.RequestID(ctx),
		Data:       vote,
	})
	s.observe("cast_vote", start)
	return vote, nil
}

// CloseOpinionVote records the committee's decision. It requires an
// absolute majority of the frozen roster to have voted. Repeating a close
// with the recorded outcome returns the stored opinion.
func (s *Service) CloseOpinionVote(ctx context.Context, opinionID id.OpinionID, outcome models.Status, rejectionReason string) (opinion *models.Opinion, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "opinion.CloseOpinionVote",
		attribute.String("opinion_id", opinionID.String()),
		attribute.String("outcome", string(outcome)),
	)
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	if outcome, err = models.ParseOutcome(string(outcome)); err != nil {
		return nil, err
	}

	var closedNow bool
	err = s.tx.RunInTx(ctx, []string{opinionKey(opinionID)}, func(ctx context.Context) error {
		opinion, err = s.find(ctx, opinionID)
		if err != nil {
			return err
		}
		if opinion.IsClosed() {
			if opinion.Outcome == outcome {
				return nil
			}
			return dErrors.New(dErrors.CodeInvalidState, "committee vote already closed as "+string(opinion.Outcome))
		}
		if err := opinion.CanClose(outcome, rejectionReason); err != nil {
			return err
		}
		votes, err := s.store.ListVotes(ctx, opinionID)
		if err != nil {
			return storeError(err, "failed to load opinion votes")
		}
		voters := make([]id.MemberID, 0, len(votes))
		for _, v := range votes {
			voters = append(voters, v.MemberID)
		}
		eligible := opinion.EligibleSet()
		if _, err := s.quorum.CommitteeQuorum(ctx, *opinion.CommitteeID, eligible, voters); err != nil {
			return err
		}

		opinion.ApplyClose(outcome, voting.Count(eligible, models.Choices(votes)), rejectionReason, now)
		if err := s.store.Update(ctx, opinion); err != nil {
			return storeError(err, "failed to close opinion vote")
		}
		closedNow = true
		t := opinion.Tally
		return s.emit(ctx, audit.EventOpinionVoteClosed, opinionID,
			fmt.Sprintf("%s (yes %d, no %d, abstain %d, eligible %d)", outcome, t.Yes, t.No, t.Abstain, t.TotalEligible))
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeQuorumNotMet) && s.metrics != nil {
			s.metrics.IncrementQuorumNotMet()
		}
		return nil, err
	}
	if !closedNow {
		return opinion, nil
	}

	s.publish(ctx, event(ctx, events.OpinionChanged, opinion))
	if s.metrics != nil {
		s.metrics.IncrementClosed(string(outcome))
	}
	s.observe("close_vote", start)
	return opinion, nil
}

// Issue publishes an approved opinion.
func (s *Service) Issue(ctx context.Context, opinionID id.OpinionID) (*models.Opinion, error) {
	return s.transition(ctx, "Issue", opinionID, models.StatusIssued, audit.EventOpinionIssued, (*models.Opinion).CanIssue)
}

// Archive files a decided or issued opinion.
func (s *Service) Archive(ctx context.Context, opinionID id.OpinionID) (*models.Opinion, error) {
	return s.transition(ctx, "Archive", opinionID, models.StatusArchived, audit.EventOpinionArchived, (*models.Opinion).CanArchive)
}

func (s *Service) transition(ctx context.Context, op string, opinionID id.OpinionID, to models.Status, action audit.AuditEvent, guard func(*models.Opinion) error) (opinion *models.Opinion, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "opinion."+op, attribute.String("opinion_id", opinionID.String()))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	err = s.tx.RunInTx(ctx, []string{opinionKey(opinionID)}, func(ctx context.Context) error {
		opinion, err = s.find(ctx, opinionID)
		if err != nil {
			return err
		}
		if err := guard(opinion); err != nil {
			return err
		}
		from := opinion.Status
		opinion.ApplyStatus(to, now)
		if err := s.store.Update(ctx, opinion); err != nil {
			return storeError(err, "failed to update opinion")
		}
		return s.emit(ctx, action, opinionID, fmt.Sprintf("%s -> %s", from, to))
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event(ctx, events.OpinionChanged, opinion))
	s.observe(op, start)
	return opinion, nil
}

func (s *Service) Get(ctx context.Context, opinionID id.OpinionID) (*models.Opinion, error) {
	return s.find(ctx, opinionID)
}

// ListByProposition returns every opinion issued on a proposition.
func (s *Service) ListByProposition(ctx context.Context, propID id.PropositionID) ([]*models.Opinion, error) {
	if _, err := s.findProposition(ctx, propID); err != nil {
		return nil, err
	}
	list, err := s.store.ListByProposition(ctx, propID)
	if err != nil {
		return nil, storeError(err, "failed to list opinions")
	}
	return list, nil
}

// Votes returns the votes cast on an opinion.
func (s *Service) Votes(ctx context.Context, opinionID id.OpinionID) ([]*models.Vote, error) {
	if _, err := s.find(ctx, opinionID); err != nil {
		return nil, err
	}
	votes, err := s.store.ListVotes(ctx, opinionID)
	if err != nil {
		return nil, storeError(err, "failed to load opinion votes")
	}
	return votes, nil
}

func (s *Service) find(ctx context.Context, opinionID id.OpinionID) (*models.Opinion, error) {
	o, err := s.store.FindByID(ctx, opinionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "opinion not found")
		}
		return nil, storeError(err, "failed to load opinion")
	}
	return o, nil
}

func (s *Service) findProposition(ctx context.Context, propID id.PropositionID) (*propmodels.Proposition, error) {
	p, err := s.propositions.FindByID(ctx, propID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "proposition not found")
		}
		return nil, storeError(err, "failed to load proposition")
	}
	return p, nil
}

func (s *Service) activeMembers(ctx context.Context, committeeID id.CommitteeID) ([]id.MemberID, error) {
	active, err := s.roster.ActiveMembers(ctx, committeeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "committee not found")
		}
		return nil, storeError(err, "failed to load committee roster")
	}
	return active, nil
}

func storeError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "opinion changed concurrently, retry the operation")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, opinionID id.OpinionID, detail string) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		Subject: "opinion:" + opinionID.String(),
		Action:  string(action),
		Detail:  detail,
	}); err != nil {
		return storeError(err, "failed to record audit event")
	}
	return nil
}

func event(ctx context.Context, typ events.Type, o *models.Opinion) events.Event {
	return events.Event{
		Type:       typ,
		Key:        opinionKey(o.ID),
		OccurredAt: requestcontext.Now(ctx),
		RequestID:  requestcontext.RequestID(ctx),
		Data:       o,
	}
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if err := s.events.Publish(ctx, evs...); err != nil {
		s.logger.WarnContext(ctx, "failed to publish opinion events",
			"request_id", requestcontext.RequestID(ctx),
			"count", len(evs),
			"error", err,
		)
	}
}

func (s *Service) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, start)
	}
}
