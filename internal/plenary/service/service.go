// Package service runs plenary sessions: the agenda, roll-call voting over
// the members present when a vote opens, and the write-once result that
// settles the linked proposition.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	attendancemodels "legisla/internal/attendance/models"
	"legisla/internal/events"
	"legisla/internal/platform/tracing"
	"legisla/internal/plenary/metrics"
	"legisla/internal/plenary/models"
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
	CreateSession(ctx context.Context, session *models.Session) error
	FindSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)

	CreateItem(ctx context.Context, item *models.AgendaItem) error
	FindItem(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error)
	UpdateItem(ctx context.Context, item *models.AgendaItem) error
	ListItems(ctx context.Context, sessionID id.SessionID) ([]*models.AgendaItem, error)

	CreateBallot(ctx context.Context, b *models.Ballot) error
	FindBallot(ctx context.Context, itemID id.AgendaItemID) (*models.Ballot, error)

	UpsertVote(ctx context.Context, v *models.Vote) error
	FindVote(ctx context.Context, itemID id.AgendaItemID, memberID id.MemberID) (*models.Vote, error)
	ListVotes(ctx context.Context, itemID id.AgendaItemID) ([]*models.Vote, error)

	CreateResult(ctx context.Context, r *models.Result) error
	FindResult(ctx context.Context, itemID id.AgendaItemID) (*models.Result, error)
}

type PropositionStore interface {
	FindByID(ctx context.Context, propID id.PropositionID) (*propmodels.Proposition, error)
	Update(ctx context.Context, p *propmodels.Proposition) error
}

// AttendanceReader supplies the members present in a session.
type AttendanceReader interface {
	PresentMembers(ctx context.Context, sessionID id.SessionID) ([]id.MemberID, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service serializes every agenda and vote mutation on the session key.
// Closing a vote linked to a proposition also takes the proposition key, so
// it never interleaves with a tramitation transition.
type Service struct {
	store         Store
	propositions  PropositionStore
	attendance    AttendanceReader
	quorumMinimum int
	tx            tx.Runner
	logger        *slog.Logger
	metrics       *metrics.Metrics
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithQuorumMinimum sets the head count below which opening a vote warns.
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

func New(store Store, propositions PropositionStore, attendance AttendanceReader, opts ...Option) *Service {
	s := &Service{
		store:         store,
		propositions:  propositions,
		attendance:    attendance,
		quorumMinimum: 1,
		tx:            tx.NewSharded(0),
		logger:        slog.New(slog.DiscardHandler),
		events:        events.Nop{},
		tracer:        tracing.Tracer("legisla/plenary"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddItemRequest describes a new agenda entry. Title defaults to the
// proposition's citation when a proposition is linked.
type AddItemRequest struct {
	PropositionID *id.PropositionID
	Title         string
}

// Opening is the outcome of OpenVoting.
type Opening struct {
	Item   *models.AgendaItem      `json:"item"`
	Ballot *models.Ballot          `json:"ballot"`
	Quorum attendancemodels.Quorum `json:"quorum"`
	// Warning is set when the session is below quorum. It never blocks.
	Warning string `json:"warning,omitempty"`
}

// Closing is the outcome of CloseVoting.
type Closing struct {
	Result      *models.Result          `json:"result"`
	Item        *models.AgendaItem      `json:"item"`
	Proposition *propmodels.Proposition `json:"proposition,omitempty"`
	// AlreadyClosed reports that the result was stored by an earlier call.
	AlreadyClosed bool `json:"already_closed"`
}

func sessionKey(sessionID id.SessionID) string {
	return tx.Key("session", sessionID)
}

func propositionKey(propID id.PropositionID) string {
	return tx.Key("proposition", propID)
}

// CreateSession schedules a plenary sitting.
func (s *Service) CreateSession(ctx context.Context, title string, scheduledFor time.Time) (session *models.Session, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "plenary.CreateSession")
	defer func() { tracing.End(span, err) }()

	session, err = models.NewSession(id.SessionID(uuid.New()), title, scheduledFor, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, []string{sessionKey(session.ID)}, func(ctx context.Context) error {
		if err := s.store.CreateSession(ctx, session); err != nil {
			return storeError(err, "failed to create session")
		}
		return s.emit(ctx, audit.EventSessionCreated, session.ID, session.Title)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "session created",
		"request_id", requestcontext.RequestID(ctx),
		"session_id", session.ID,
	)
	return session, nil
}

// AddAgendaItem appends an item at the end of the session's agenda.
func (s *Service) AddAgendaItem(ctx context.Context, sessionID id.SessionID, req AddItemRequest) (item *models.AgendaItem, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "plenary.AddAgendaItem", attribute.String("session_id", sessionID.String()))
	defer func() { tracing.End(span, err) }()
	now := requestcontext.Now(ctx)

	err = s.tx.RunInTx(ctx, []string{sessionKey(sessionID)}, func(ctx context.Context) error {
		if _, err := s.findSession(ctx, sessionID); err != nil {
			return err
		}
		title := strings.TrimSpace(req.Title)
		if req.PropositionID != nil {
			p, err := s.findProposition(ctx, *req.PropositionID)
			if err != nil {
				return err
			}
			if title == "" {
				title = p.Label() + " - " + p.Title
			}
		}
		items, err := s.store.ListItems(ctx, sessionID)
		if err != nil {
			return storeError(err, "failed to load agenda")
		}
		position := 1
		for _, other := range items {
			if other.Position >= position {
				position = other.Position + 1
			}
		}
		item, err = models.NewAgendaItem(id.AgendaItemID(uuid.New()), sessionID, req.PropositionID, position, title, now)
		if err != nil {
			return err
		}
		if err := s.store.CreateItem(ctx, item); err != nil {
			return storeError(err, "failed to add agenda item")
		}
		return s.emit(ctx, audit.EventAgendaItemAdded, sessionID, fmt.Sprintf("#%d %s", item.Position, item.Title))
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event(ctx, events.AgendaItemChanged, sessionID, item))
	return item, nil
}

// StartDiscussion brings a pending or postponed item to the floor.
func (s *Service) StartDiscussion(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error) {
	return s.transitionItem(ctx, "StartDiscussion", itemID, models.ItemInDiscussion, audit.EventDiscussionStarted,
		(*models.AgendaItem).CanStartDiscussion)
}

func (s *Service) Postpone(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error) {
	return s.transitionItem(ctx, "Postpone", itemID, models.ItemPostponed, audit.EventItemPostponed,
		(*models.AgendaItem).CanPostpone)
}

func (s *Service) Withdraw(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error) {
	return s.transitionItem(ctx, "Withdraw", itemID, models.ItemWithdrawn, audit.EventItemWithdrawn,
		(*models.AgendaItem).CanWithdraw)
}

func (s *Service) transitionItem(ctx context.Context, op string, itemID id.AgendaItemID, to models.ItemStatus, action audit.AuditEvent, guard func(*models.AgendaItem) error) (item *models.AgendaItem, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "plenary."+op, attribute.String("agenda_item_id", itemID.String()))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	sessionID, err := s.sessionOf(ctx, itemID)
	if err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, []string{sessionKey(sessionID)}, func(ctx context.Context) error {
		item, err = s.findItem(ctx, itemID)
		if err != nil {
			return err
		}
		if err := guard(item); err != nil {
			return err
		}
		from := item.Status
		item.ApplyStatus(to, now)
		if err := s.store.UpdateItem(ctx, item); err != nil {
			return storeError(err, "failed to update agenda item")
		}
		return s.emit(ctx, action, sessionID, fmt.Sprintf("item #%d %s -> %s", item.Position, from, to))
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event(ctx, events.AgendaItemChanged, sessionID, item))
	s.observe(strings.ToLower(op), start)
	return item, nil
}

// OpenVoting puts an item under vote. The ballot freezes the members
// present at this moment as the only eligible voters.
func (s *Service) OpenVoting(ctx context.Context, itemID id.AgendaItemID) (result *Opening, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "plenary.OpenVoting", attribute.String("agenda_item_id", itemID.String()))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	sessionID, err := s.sessionOf(ctx, itemID)
	if err != nil {
		return nil, err
	}
	err = s.tx.RunInTx(ctx, []string{sessionKey(sessionID)}, func(ctx context.Context) error {
		item, err := s.findItem(ctx, itemID)
		if err != nil {
			return err
		}
		if err := item.CanOpenVoting(); err != nil {
			return err
		}
		items, err := s.store.ListItems(ctx, sessionID)
		if err != nil {
			return storeError(err, "failed to load agenda")
		}
		for _, other := range items {
			if other.ID != item.ID && other.Status == models.ItemInVoting {
				return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("item #%d is already under vote", other.Position))
			}
		}
		present, err := s.attendance.PresentMembers(ctx, sessionID)
		if err != nil {
			return storeError(err, "failed to read attendance")
		}

		ballot := models.NewBallot(item, present, s.quorumMinimum, now)
		item.ApplyStatus(models.ItemInVoting, now)

		if err := s.store.UpdateItem(ctx, item); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeInvalidState, "another item is already under vote")
			}
			return storeError(err, "failed to open voting")
		}
		if err := s.store.CreateBallot(ctx, ballot); err != nil {
			return storeError(err, "failed to record ballot")
		}

		result = &Opening{
			Item:   item,
			Ballot: ballot,
			Quorum: attendancemodels.NewQuorum(ballot.PresentCount, ballot.QuorumMinimum),
		}
		if !result.Quorum.Reached {
			result.Warning = fmt.Sprintf("quorum not reached: %d present, %d required", result.Quorum.Present, result.Quorum.Minimum)
		}
		return s.emit(ctx, audit.EventVotingOpened, sessionID,
			fmt.Sprintf("item #%d opened with %d eligible", item.Position, ballot.PresentCount))
	})
	if err != nil {
		return nil, err
	}

	if result.Warning != "" {
		s.logger.WarnContext(ctx, "voting opened below quorum",
			"request_id", requestcontext.RequestID(ctx),
			"agenda_item_id", itemID,
			"present", result.Quorum.Present,
			"minimum", result.Quorum.Minimum,
		)
		if s.metrics != nil {
			s.metrics.IncrementQuorumWarnings()
		}
	}
	s.publish(ctx, event(ctx, events.VotingOpened, sessionID, result))
	s.observe("open_voting", start)
	return result, nil
}

// CastVote records or replaces a member's vote while the item is open.
func (s *Service) CastVote(ctx context.Context, itemID id.AgendaItemID, memberID id.MemberID, choice voting.Choice) (vote *models.Vote, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "plenary.CastVote", attribute.String("agenda_item_id", itemID.String()))
	defer func() { tracing.End(span, err) }()
	start := time.Now()

	if memberID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "member id is required")
	}
	if choice, err = voting.ParseChoice(string(choice)); err != nil {
		return nil, err
	}
	sessionID, err := s.sessionOf(ctx, itemID)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, []string{sessionKey(sessionID)}, func(ctx context.Context) error {
		item, err := s.findItem(ctx, itemID)
		if err != nil {
			return err
		}
		if err := item.CanAcceptVotes(); err != nil {
			return err
		}
		ballot, err := s.findBallot(ctx, itemID)
		if err != nil {
			return err
		}
		if !ballot.EligibleSet().Contains(memberID) {
			return dErrors.New(dErrors.CodeNotEligible, "member was not present when voting opened")
		}
		vote = &models.Vote{
			AgendaItemID: itemID,
			SessionID:    sessionID,
			MemberID:     memberID,
			Choice:       choice,
			CastAt:       requestcontext.Now(ctx),
		}
		if err := s.store.UpsertVote(ctx, vote); err != nil {
			return storeError(err, "failed to record vote")
		}
		return s.emit(ctx, audit.EventPlenaryVoteCast, sessionID, fmt.Sprintf("item #%d member %s", item.Position, memberID))
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, event(ctx, events.VoteCast, sessionID, vote))
	if s.metrics != nil {
		s.metrics.IncrementVotesCast()
	}
	s.observe("cast_vote", start)
	return vote, nil
}

// CloseVoting tallies the ballot and settles the item and its proposition.
// The result row is written before the item leaves IN_VOTING. Closing an
// already closed item returns the stored result.
func (s *Service) CloseVoting(ctx context.Context, itemID id.AgendaItemID) (closing *Closing, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "plenary.CloseVoting", attribute.String("agenda_item_id", itemID.String()))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	head, err := s.findItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	keys := []string{sessionKey(head.SessionID)}
	if head.PropositionID != nil {
		keys = append(keys, propositionKey(*head.PropositionID))
	}

	err = s.tx.RunInTx(ctx, keys, func(ctx context.Context) error {
		item, err := s.findItem(ctx, itemID)
		if err != nil {
			return err
		}
		stored, err := s.store.FindResult(ctx, itemID)
		switch {
		case err == nil:
			closing = &Closing{Result: stored, Item: item, AlreadyClosed: true}
			return nil
		case !errors.Is(err, sentinel.ErrNotFound):
			return storeError(err, "failed to load voting result")
		}
		if err := item.CanAcceptVotes(); err != nil {
			return err
		}
		ballot, err := s.findBallot(ctx, itemID)
		if err != nil {
			return err
		}
		votes, err := s.store.ListVotes(ctx, itemID)
		if err != nil {
			return storeError(err, "failed to load votes")
		}
		var p *propmodels.Proposition
		if item.PropositionID != nil {
			if p, err = s.findProposition(ctx, *item.PropositionID); err != nil {
				return err
			}
		}

		result := models.NewResult(ballot, ballot.Tally(votes), now)
		item.ApplyOutcome(result.Outcome, now)

		if err := s.store.CreateResult(ctx, result); err != nil {
			return storeError(err, "failed to store voting result")
		}
		if err := s.store.UpdateItem(ctx, item); err != nil {
			return storeError(err, "failed to close agenda item")
		}
		if p != nil {
			p.ApplyStatus(propositionStatus(result.Outcome), now)
			if err := s.propositions.Update(ctx, p); err != nil {
				return storeError(err, "failed to update proposition")
			}
		}
		closing = &Closing{Result: result, Item: item, Proposition: p}
		return s.emit(ctx, audit.EventVotingClosed, item.SessionID,
			fmt.Sprintf("item #%d %s (yes %d, no %d, abstain %d, eligible %d)",
				item.Position, result.Outcome, result.Yes, result.No, result.Abstain, result.TotalEligible))
	})
	if err != nil {
		return nil, err
	}
	if closing.AlreadyClosed {
		return closing, nil
	}

	evs := []events.Event{event(ctx, events.VotingClosed, head.SessionID, closing.Result)}
	if closing.Proposition != nil {
		evs = append(evs, events.Event{
			Type:       events.PropositionStatus,
			Key:        propositionKey(closing.Proposition.ID),
			OccurredAt: now,
			RequestID:  requestcontext.RequestID(ctx),
			Data:       closing.Proposition,
		})
	}
	s.publish(ctx, evs...)
	if s.metrics != nil {
		s.metrics.IncrementClosed(string(closing.Result.Outcome))
	}
	s.observe("close_voting", start)
	s.logger.InfoContext(ctx, "voting closed",
		"request_id", requestcontext.RequestID(ctx),
		"agenda_item_id", itemID,
		"outcome", closing.Result.Outcome,
	)
	return closing, nil
}

func propositionStatus(outcome voting.Outcome) propmodels.Status {
	if outcome == voting.OutcomeApproved {
		return propmodels.StatusApproved
	}
	return propmodels.StatusRejected
}

func (s *Service) GetSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	return s.findSession(ctx, sessionID)
}

func (s *Service) ListSessions(ctx context.Context) ([]*models.Session, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list sessions")
	}
	return sessions, nil
}

// Agenda returns the session's items in position order.
func (s *Service) Agenda(ctx context.Context, sessionID id.SessionID) ([]*models.AgendaItem, error) {
	if _, err := s.findSession(ctx, sessionID); err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "failed to load agenda")
	}
	return items, nil
}

func (s *Service) GetItem(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error) {
	return s.findItem(ctx, itemID)
}

func (s *Service) findSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	session, err := s.store.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, storeError(err, "failed to load session")
	}
	return session, nil
}

func (s *Service) findItem(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error) {
	item, err := s.store.FindItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "agenda item not found")
		}
		return nil, storeError(err, "failed to load agenda item")
	}
	return item, nil
}

// sessionOf resolves the lock key of an item. An item never changes
// session, so reading it outside the transaction is safe.
func (s *Service) sessionOf(ctx context.Context, itemID id.AgendaItemID) (id.SessionID, error) {
	item, err := s.findItem(ctx, itemID)
	if err != nil {
		return id.SessionID{}, err
	}
	return item.SessionID, nil
}

func (s *Service) findBallot(ctx context.Context, itemID id.AgendaItemID) (*models.Ballot, error) {
	b, err := s.store.FindBallot(ctx, itemID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "item is under vote without a ballot")
		}
		return nil, storeError(err, "failed to load ballot")
	}
	return b, nil
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

func storeError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "session changed concurrently, retry the operation")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, sessionID id.SessionID, detail string) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		Subject: "session:" + sessionID.String(),
		Action:  string(action),
		Detail:  detail,
	}); err != nil {
		return storeError(err, "failed to record audit event")
	}
	return nil
}

func event(ctx context.Context, typ events.Type, sessionID id.SessionID, data any) events.Event {
	return events.Event{
		Type:       typ,
		Key:        sessionKey(sessionID),
		OccurredAt: requestcontext.Now(ctx),
		RequestID:  requestcontext.RequestID(ctx),
		Data:       data,
	}
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if err := s.events.Publish(ctx, evs...); err != nil {
		s.logger.WarnContext(ctx, "failed to publish plenary events",
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
