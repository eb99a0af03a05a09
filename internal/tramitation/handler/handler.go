package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"legisla/internal/platform/middleware"
	propmodels "legisla/internal/proposition/models"
	"legisla/internal/routing"
	"legisla/internal/tramitation/models"
	"legisla/internal/tramitation/service"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/httputil"
	"legisla/pkg/requestcontext"
)

// Service defines the tramitation operations exposed over HTTP.
type Service interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.Transition, error)
	Advance(ctx context.Context, propID id.PropositionID, comment string) (*service.Transition, error)
	Reopen(ctx context.Context, propID id.PropositionID) (*service.Transition, error)
	Finalize(ctx context.Context, propID id.PropositionID, result models.Result, observations string) (*service.Transition, error)
	CreateManualStep(ctx context.Context, propID id.PropositionID, routingType routing.Type, targetUnit, observations string) (*service.Transition, error)
	Veto(ctx context.Context, propID id.PropositionID, observations string) (*service.Transition, error)
	History(ctx context.Context, propID id.PropositionID) ([]*models.Step, error)
	Get(ctx context.Context, propID id.PropositionID) (*propmodels.Proposition, error)
	List(ctx context.Context, status propmodels.Status) ([]*propmodels.Proposition, error)
}

// Handler wires tramitation endpoints to the engine.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts the proposition routes. Reads are open to every
// authenticated role; transitions are operator-only.
func (h *Handler) Register(r chi.Router) {
	r.Route("/propositions", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Use(middleware.ContentTypeJSON)

		r.Get("/", h.handleList)
		r.Get("/{propositionID}", h.handleGet)
		r.Get("/{propositionID}/steps", h.handleHistory)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(requestcontext.RoleOperator))
			r.Post("/", h.handleSubmit)
			r.Post("/{propositionID}/advance", h.handleAdvance)
			r.Post("/{propositionID}/reopen", h.handleReopen)
			r.Post("/{propositionID}/finalize", h.handleFinalize)
			r.Post("/{propositionID}/steps", h.handleManualStep)
			r.Post("/{propositionID}/veto", h.handleVeto)
		})
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	tr, err := h.service.Submit(ctx, service.SubmitRequest{
		Type:    propmodels.Type(req.Type),
		Number:  req.Number,
		Year:    req.Year,
		Title:   req.Title,
		Summary: req.Summary,
	})
	if err != nil {
		h.fail(ctx, w, "submit", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tr)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := propmodels.Status(strings.ToUpper(r.URL.Query().Get("status")))
	list, err := h.service.List(r.Context(), status)
	if err != nil {
		h.fail(r.Context(), w, "list", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"propositions": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	propID, ok := propositionID(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), propID)
	if err != nil {
		h.fail(r.Context(), w, "get", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	propID, ok := propositionID(w, r)
	if !ok {
		return
	}
	steps, err := h.service.History(r.Context(), propID)
	if err != nil {
		h.fail(r.Context(), w, "history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propID, ok := propositionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AdvanceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.respond(ctx, w, "advance", func() (*service.Transition, error) {
		return h.service.Advance(ctx, propID, req.Comment)
	})
}

func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propID, ok := propositionID(w, r)
	if !ok {
		return
	}
	h.respond(ctx, w, "reopen", func() (*service.Transition, error) {
		return h.service.Reopen(ctx, propID)
	})
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propID, ok := propositionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[FinalizeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.respond(ctx, w, "finalize", func() (*service.Transition, error) {
		return h.service.Finalize(ctx, propID, req.ParsedResult(), req.Observations)
	})
}

func (h *Handler) handleManualStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propID, ok := propositionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ManualStepRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.respond(ctx, w, "manual_step", func() (*service.Transition, error) {
		return h.service.CreateManualStep(ctx, propID, req.ParsedRoutingType(), req.TargetUnit, req.Observations)
	})
}

func (h *Handler) handleVeto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propID, ok := propositionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[VetoRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.respond(ctx, w, "veto", func() (*service.Transition, error) {
		return h.service.Veto(ctx, propID, req.Observations)
	})
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, op string, call func() (*service.Transition, error)) {
	start := time.Now()
	tr, err := call()
	if err != nil {
		h.fail(ctx, w, op, err)
		return
	}
	h.logger.InfoContext(ctx, "tramitation transition",
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
		"proposition_id", tr.Proposition.ID,
		"status", tr.Proposition.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, tr)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, "tramitation request failed",
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
		"error", err,
	)
	httputil.WriteError(w, err)
}

func propositionID(w http.ResponseWriter, r *http.Request) (id.PropositionID, bool) {
	propID, err := id.ParsePropositionID(chi.URLParam(r, "propositionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.PropositionID{}, false
	}
	return propID, true
}
