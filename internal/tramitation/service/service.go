// Package service implements the tramitation engine: the step state machine
// that moves a proposition between institutional units.
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

	"legisla/internal/events"
	"legisla/internal/platform/tracing"
	propmodels "legisla/internal/proposition/models"
	"legisla/internal/routing"
	"legisla/internal/tramitation/metrics"
	"legisla/internal/tramitation/models"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
	"legisla/pkg/platform/audit"
	"legisla/pkg/platform/sentinel"
	"legisla/pkg/platform/tx"
	"legisla/pkg/requestcontext"
)

type PropositionStore interface {
	Create(ctx context.Context, p *propmodels.Proposition) error
	FindByID(ctx context.Context, propID id.PropositionID) (*propmodels.Proposition, error)
	Update(ctx context.Context, p *propmodels.Proposition) error
	List(ctx context.Context, status propmodels.Status) ([]*propmodels.Proposition, error)
}

type StepStore interface {
	Append(ctx context.Context, step *models.Step) error
	Update(ctx context.Context, step *models.Step) error
	Latest(ctx context.Context, propID id.PropositionID) (*models.Step, error)
	ListByProposition(ctx context.Context, propID id.PropositionID) ([]*models.Step, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service runs every tramitation transition inside one transaction keyed
// by the proposition.
type Service struct {
	propositions PropositionStore
	steps        StepStore
	catalog      *routing.Catalog
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

// WithTx sets the transaction runner. The default serializes in memory.
func WithTx(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

// New constructs the tramitation engine.
func New(propositions PropositionStore, steps StepStore, catalog *routing.Catalog, opts ...Option) *Service {
	s := &Service{
		propositions: propositions,
		steps:        steps,
		catalog:      catalog,
		tx:           tx.NewSharded(0),
		logger:       slog.New(slog.DiscardHandler),
		events:       events.Nop{},
		tracer:       tracing.Tracer("legisla/tramitation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitRequest carries the data of a new proposition.
type SubmitRequest struct {
	Type    propmodels.Type
	Number  int
	Year    int
	Title   string
	Summary string
}

// Transition reports the state after a tramitation operation.
type Transition struct {
	Proposition *propmodels.Proposition `json:"proposition"`
	// Concluded is the step this operation closed, if any.
	Concluded *models.Step `json:"concluded,omitempty"`
	// Current is the proposition's latest step afterwards.
	Current *models.Step `json:"current"`
}

func propositionKey(propID id.PropositionID) string {
	return tx.Key("proposition", propID)
}

// Submit registers a proposition and opens its first step at the catalog's
// entry unit.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (result *Transition, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "tramitation.Submit", attribute.String("type", string(req.Type)))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	p, err := propmodels.NewProposition(id.PropositionID(uuid.New()), req.Type, req.Number, req.Year, req.Title, req.Summary, now)
	if err != nil {
		return nil, err
	}
	entry, err := s.catalog.Entry(p.Type)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "routing catalog has no entry unit")
	}
	step, err := models.NewStep(id.StepID(uuid.New()), p.ID, 1, entry, "", now)
	if err != nil {
		return nil, err
	}
	if err := step.CanOpen(); err != nil {
		return nil, err
	}
	step.ApplyOpen()

	numberKey := "proposition-number:" + strings.ReplaceAll(p.Label(), " ", "/")
	err = s.tx.RunInTx(ctx, []string{numberKey, propositionKey(p.ID)}, func(ctx context.Context) error {
		if err := s.propositions.Create(ctx, p); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, p.Label()+" is already registered")
			}
			return storeError(err, "failed to create proposition")
		}
		if err := s.steps.Append(ctx, step); err != nil {
			return storeError(err, "failed to open entry step")
		}
		return s.emit(ctx, audit.EventPropositionSubmitted, p.ID, fmt.Sprintf("%s entered %s", p.Label(), step.TargetUnit))
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx,
		event(ctx, events.PropositionSubmitted, p.ID, p),
		event(ctx, events.StepOpened, p.ID, step),
	)
	if s.metrics != nil {
		s.metrics.IncrementSubmitted()
		s.metrics.ObserveTransition("submit", start)
	}
	s.logger.InfoContext(ctx, "proposition submitted",
		"request_id", requestcontext.RequestID(ctx),
		"proposition_id", p.ID,
		"label", p.Label(),
	)
	return &Transition{Proposition: p, Current: step}, nil
}

// Advance concludes the open step and opens one at the next unit of the
// routing catalog.
func (s *Service) Advance(ctx context.Context, propID id.PropositionID, comment string) (result *Transition, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "tramitation.Advance", attribute.String("proposition_id", propID.String()))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	var statusChanged bool
	err = s.tx.RunInTx(ctx, []string{propositionKey(propID)}, func(ctx context.Context) error {
		p, current, err := s.load(ctx, propID)
		if err != nil {
			return err
		}
		if err := current.CanConclude(); err != nil {
			return err
		}
		next, err := s.catalog.Next(p.Type, current.RoutingType)
		if err != nil {
			return routingError(err, current)
		}
		step, err := models.NewStep(id.StepID(uuid.New()), propID, current.Sequence+1, next, "", now)
		if err != nil {
			return err
		}

		if err := step.CanOpen(); err != nil {
			return err
		}
		current.ApplyConclude(now, comment, "")
		step.ApplyOpen()
		if p.Status == propmodels.StatusSubmitted {
			p.ApplyStatus(propmodels.StatusInProcess, now)
			statusChanged = true
		}

		if err := s.steps.Update(ctx, current); err != nil {
			return storeError(err, "failed to conclude step")
		}
		if err := s.steps.Append(ctx, step); err != nil {
			return storeError(err, "failed to open next step")
		}
		if statusChanged {
			if err := s.propositions.Update(ctx, p); err != nil {
				return storeError(err, "failed to update proposition")
			}
		}
		result = &Transition{Proposition: p, Concluded: current, Current: step}
		return s.emit(ctx, audit.EventStepAdvanced, propID,
			fmt.Sprintf("%s -> %s", current.RoutingType, step.RoutingType))
	})
	if err != nil {
		return nil, err
	}

	evs := []events.Event{
		event(ctx, events.StepConcluded, propID, result.Concluded),
		event(ctx, events.StepOpened, propID, result.Current),
	}
	if statusChanged {
		evs = append(evs, event(ctx, events.PropositionStatus, propID, result.Proposition))
	}
	s.publish(ctx, evs...)
	s.observe("advance", start)
	return result, nil
}

// Reopen brings the latest concluded step back into progress and returns
// the proposition to IN_PROCESS.
func (s *Service) Reopen(ctx context.Context, propID id.PropositionID) (result *Transition, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "tramitation.Reopen", attribute.String("proposition_id", propID.String()))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	err = s.tx.RunInTx(ctx, []string{propositionKey(propID)}, func(ctx context.Context) error {
		p, latest, err := s.load(ctx, propID)
		if err != nil {
			return err
		}
		if err := latest.CanReopen(); err != nil {
			return err
		}
		previous := latest.Result

		latest.ApplyReopen()
		p.ApplyStatus(propmodels.StatusInProcess, now)

		if err := s.steps.Update(ctx, latest); err != nil {
			return storeError(err, "failed to reopen step")
		}
		if err := s.propositions.Update(ctx, p); err != nil {
			return storeError(err, "failed to update proposition")
		}
		result = &Transition{Proposition: p, Current: latest}
		detail := fmt.Sprintf("reopened step %d at %s", latest.Sequence, latest.RoutingType)
		if previous != "" {
			detail += ", discarding result " + string(previous)
		}
		return s.emit(ctx, audit.EventStepReopened, propID, detail)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx,
		event(ctx, events.StepReopened, propID, result.Current),
		event(ctx, events.PropositionStatus, propID, result.Proposition),
	)
	s.observe("reopen", start)
	return result, nil
}

// Finalize concludes the open step with a result and derives the
// proposition status from it.
func (s *Service) Finalize(ctx context.Context, propID id.PropositionID, res models.Result, observations string) (result *Transition, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "tramitation.Finalize",
		attribute.String("proposition_id", propID.String()),
		attribute.String("result", string(res)),
	)
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	if _, err := models.ParseResult(string(res)); err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, []string{propositionKey(propID)}, func(ctx context.Context) error {
		p, current, err := s.load(ctx, propID)
		if err != nil {
			return err
		}
		if err := current.CanConclude(); err != nil {
			return err
		}

		current.ApplyConclude(now, observations, res)
		p.ApplyStatus(res.PropositionStatus(), now)

		if err := s.steps.Update(ctx, current); err != nil {
			return storeError(err, "failed to finalize step")
		}
		if err := s.propositions.Update(ctx, p); err != nil {
			return storeError(err, "failed to update proposition")
		}
		result = &Transition{Proposition: p, Concluded: current, Current: current}
		return s.emit(ctx, audit.EventStepFinalized, propID,
			fmt.Sprintf("%s at %s; proposition %s", res, current.RoutingType, p.Status))
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx,
		event(ctx, events.StepConcluded, propID, result.Concluded),
		event(ctx, events.PropositionStatus, propID, result.Proposition),
	)
	s.observe("finalize", start)
	return result, nil
}

// CreateManualStep routes the proposition outside the catalog. An open step
// is concluded first as superseded.
func (s *Service) CreateManualStep(ctx context.Context, propID id.PropositionID, routingType routing.Type, targetUnit, observations string) (result *Transition, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "tramitation.CreateManualStep",
		attribute.String("proposition_id", propID.String()),
		attribute.String("routing_type", string(routingType)),
	)
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	unit, ok := s.catalog.UnitFor(routingType)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown routing type "+string(routingType))
	}
	if t := strings.TrimSpace(targetUnit); t != "" {
		unit.TargetUnit = t
	}

	var statusChanged bool
	err = s.tx.RunInTx(ctx, []string{propositionKey(propID)}, func(ctx context.Context) error {
		p, err := s.findProposition(ctx, propID)
		if err != nil {
			return err
		}
		latest, err := s.steps.Latest(ctx, propID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return storeError(err, "failed to load steps")
		}

		sequence := 1
		if latest != nil {
			sequence = latest.Sequence + 1
		}
		step, err := models.NewStep(id.StepID(uuid.New()), propID, sequence, unit, observations, now)
		if err != nil {
			return err
		}

		var superseded *models.Step
		if latest != nil && latest.IsOpen() {
			latest.ApplyConclude(now, models.SupersededComment, "")
			superseded = latest
		}
		if err := step.CanOpen(); err != nil {
			return err
		}
		step.ApplyOpen()
		if p.Status == propmodels.StatusSubmitted {
			p.ApplyStatus(propmodels.StatusInProcess, now)
			statusChanged = true
		}

		if superseded != nil {
			if err := s.steps.Update(ctx, superseded); err != nil {
				return storeError(err, "failed to conclude superseded step")
			}
		}
		if err := s.steps.Append(ctx, step); err != nil {
			return storeError(err, "failed to open manual step")
		}
		if statusChanged {
			if err := s.propositions.Update(ctx, p); err != nil {
				return storeError(err, "failed to update proposition")
			}
		}
		result = &Transition{Proposition: p, Concluded: superseded, Current: step}
		return s.emit(ctx, audit.EventManualStepCreated, propID,
			fmt.Sprintf("manual routing to %s (%s)", step.RoutingType, step.TargetUnit))
	})
	if err != nil {
		return nil, err
	}

	var evs []events.Event
	if result.Concluded != nil {
		evs = append(evs, event(ctx, events.StepConcluded, propID, result.Concluded))
	}
	evs = append(evs, event(ctx, events.StepOpened, propID, result.Current))
	if statusChanged {
		evs = append(evs, event(ctx, events.PropositionStatus, propID, result.Proposition))
	}
	s.publish(ctx, evs...)
	s.observe("manual_step", start)
	return result, nil
}

// Veto records the executive veto of an approved proposition that sits at
// the executive unit.
func (s *Service) Veto(ctx context.Context, propID id.PropositionID, observations string) (result *Transition, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "tramitation.Veto", attribute.String("proposition_id", propID.String()))
	defer func() { tracing.End(span, err) }()
	start := time.Now()
	now := requestcontext.Now(ctx)

	err = s.tx.RunInTx(ctx, []string{propositionKey(propID)}, func(ctx context.Context) error {
		p, latest, err := s.load(ctx, propID)
		if err != nil {
			return err
		}
		if err := p.CanVeto(); err != nil {
			return err
		}
		if latest.RoutingType != routing.TypeExecutive {
			return dErrors.New(dErrors.CodeInvalidState, "veto requires the proposition to be at the executive")
		}

		var concluded *models.Step
		if latest.IsOpen() {
			latest.ApplyConclude(now, observations, models.ResultRejected)
			concluded = latest
		}
		p.ApplyVeto(now)

		if concluded != nil {
			if err := s.steps.Update(ctx, concluded); err != nil {
				return storeError(err, "failed to conclude executive step")
			}
		}
		if err := s.propositions.Update(ctx, p); err != nil {
			return storeError(err, "failed to update proposition")
		}
		result = &Transition{Proposition: p, Concluded: concluded, Current: latest}
		return s.emit(ctx, audit.EventPropositionVetoed, propID, strings.TrimSpace(observations))
	})
	if err != nil {
		return nil, err
	}

	evs := []events.Event{event(ctx, events.PropositionStatus, propID, result.Proposition)}
	if result.Concluded != nil {
		evs = append(evs, event(ctx, events.StepConcluded, propID, result.Concluded))
	}
	s.publish(ctx, evs...)
	s.observe("veto", start)
	return result, nil
}

// History returns the proposition's steps in sequence order.
func (s *Service) History(ctx context.Context, propID id.PropositionID) ([]*models.Step, error) {
	if _, err := s.findProposition(ctx, propID); err != nil {
		return nil, err
	}
	steps, err := s.steps.ListByProposition(ctx, propID)
	if err != nil {
		return nil, storeError(err, "failed to load history")
	}
	return steps, nil
}

// Get returns one proposition.
func (s *Service) Get(ctx context.Context, propID id.PropositionID) (*propmodels.Proposition, error) {
	return s.findProposition(ctx, propID)
}

// List returns propositions, optionally filtered by status.
func (s *Service) List(ctx context.Context, status propmodels.Status) ([]*propmodels.Proposition, error) {
	list, err := s.propositions.List(ctx, status)
	if err != nil {
		return nil, storeError(err, "failed to list propositions")
	}
	return list, nil
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

// load returns the proposition and its latest step. A proposition without
// steps cannot transition.
func (s *Service) load(ctx context.Context, propID id.PropositionID) (*propmodels.Proposition, *models.Step, error) {
	p, err := s.findProposition(ctx, propID)
	if err != nil {
		return nil, nil, err
	}
	latest, err := s.steps.Latest(ctx, propID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeInvalidState, "proposition has no tramitation step")
		}
		return nil, nil, storeError(err, "failed to load steps")
	}
	return p, latest, nil
}

func routingError(err error, current *models.Step) error {
	switch {
	case errors.Is(err, routing.ErrTerminal):
		return dErrors.New(dErrors.CodeInvalidState, string(current.RoutingType)+" is the final unit for this proposition")
	case errors.Is(err, routing.ErrNoRoute):
		return dErrors.New(dErrors.CodeInvalidState, "no routing rule from "+string(current.RoutingType))
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "routing lookup failed")
	}
}

func storeError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "proposition changed concurrently, retry the operation")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, propID id.PropositionID, detail string) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		Subject: "proposition:" + propID.String(),
		Action:  string(action),
		Detail:  detail,
	}); err != nil {
		return storeError(err, "failed to record audit event")
	}
	return nil
}

func event(ctx context.Context, typ events.Type, propID id.PropositionID, data any) events.Event {
	return events.Event{
		Type:       typ,
		Key:        propositionKey(propID),
		OccurredAt: requestcontext.Now(ctx),
		RequestID:  requestcontext.RequestID(ctx),
		Data:       data,
	}
}

// publish runs after commit. Delivery failures are logged; the transition
// stands.
func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if err := s.events.Publish(ctx, evs...); err != nil {
		s.logger.WarnContext(ctx, "failed to publish tramitation events",
			"request_id", requestcontext.RequestID(ctx),
			"count", len(evs),
			"error", err,
		)
	}
}

func (s *Service) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(operation, start)
	}
}
