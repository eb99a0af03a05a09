package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"legisla/internal/opinion/models"
	"legisla/internal/opinion/service"
	"legisla/internal/platform/middleware"
	"legisla/internal/voting"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
	"legisla/pkg/platform/httputil"
	"legisla/pkg/requestcontext"
)

// Service defines the committee opinion operations exposed over HTTP.
type Service interface {
	CreateOpinion(ctx context.Context, req service.CreateRequest) (*models.Opinion, error)
	Get(ctx context.Context, opinionID id.OpinionID) (*models.Opinion, error)
	ListByProposition(ctx context.Context, propID id.PropositionID) ([]*models.Opinion, error)
	Votes(ctx context.Context, opinionID id.OpinionID) ([]*models.Vote, error)
	SubmitForVote(ctx context.Context, opinionID id.OpinionID) (*models.Opinion, error)
	CastOpinionVote(ctx context.Context, opinionID id.OpinionID, memberID id.MemberID, choice voting.Choice) (*models.Vote, error)
	CloseOpinionVote(ctx context.Context, opinionID id.OpinionID, outcome models.Status, rejectionReason string) (*models.Opinion, error)
	Issue(ctx context.Context, opinionID id.OpinionID) (*models.Opinion, error)
	Archive(ctx context.Context, opinionID id.OpinionID) (*models.Opinion, error)
}

type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts /opinions. Committee members vote for themselves; the
// operator drives every other transition.
func (h *Handler) Register(r chi.Router) {
	r.Route("/opinions", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Use(middleware.ContentTypeJSON)

		r.Get("/", h.handleList)
		r.Get("/{opinionID}", h.handleGet)
		r.Get("/{opinionID}/votes", h.handleVotes)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(requestcontext.RoleOperator))
			r.Post("/", h.handleCreate)
			r.Post("/{opinionID}/submit", h.transition("submit_for_vote", h.service.SubmitForVote))
			r.Post("/{opinionID}/vote/close", h.handleClose)
			r.Post("/{opinionID}/issue", h.transition("issue", h.service.Issue))
			r.Post("/{opinionID}/archive", h.transition("archive", h.service.Archive))
		})

		r.With(middleware.RequireRole(requestcontext.RoleLegislator)).Post("/{opinionID}/votes", h.handleCastVote)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CreateOpinionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	opinion, err := h.service.CreateOpinion(ctx, service.CreateRequest{
		PropositionID: req.parsedPropositionID,
		CommitteeID:   req.parsedCommitteeID,
		RapporteurID:  req.parsedRapporteurID,
		Type:          req.parsedType,
		Summary:       req.Summary,
	})
	if err != nil {
		h.fail(ctx, w, "create_opinion", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, opinion)
}

// handleList requires ?proposition_id=.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := strings.TrimSpace(r.URL.Query().Get("proposition_id"))
	if raw == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "proposition_id query parameter is required"))
		return
	}
	propID, err := id.ParsePropositionID(raw)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	opinions, err := h.service.ListByProposition(ctx, propID)
	if err != nil {
		h.fail(ctx, w, "list_opinions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"opinions": opinions})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	opinionID, ok := parseOpinionID(w, r)
	if !ok {
		return
	}
	opinion, err := h.service.Get(r.Context(), opinionID)
	if err != nil {
		h.fail(r.Context(), w, "get_opinion", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, opinion)
}

func (h *Handler) handleVotes(w http.ResponseWriter, r *http.Request) {
	opinionID, ok := parseOpinionID(w, r)
	if !ok {
		return
	}
	votes, err := h.service.Votes(r.Context(), opinionID)
	if err != nil {
		h.fail(r.Context(), w, "opinion_votes", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"votes": votes})
}

func (h *Handler) transition(op string, call func(context.Context, id.OpinionID) (*models.Opinion, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opinionID, ok := parseOpinionID(w, r)
		if !ok {
			return
		}
		opinion, err := call(r.Context(), opinionID)
		if err != nil {
			h.fail(r.Context(), w, op, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, opinion)
	}
}

func (h *Handler) handleCastVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opinionID, ok := parseOpinionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CastVoteRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	vote, err := h.service.CastOpinionVote(ctx, opinionID, requestcontext.ActorID(ctx), req.parsedChoice)
	if err != nil {
		h.fail(ctx, w, "cast_opinion_vote", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, vote)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opinionID, ok := parseOpinionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CloseVoteRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	opinion, err := h.service.CloseOpinionVote(ctx, opinionID, req.parsedOutcome, req.RejectionReason)
	if err != nil {
		h.fail(ctx, w, "close_opinion_vote", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, opinion)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, "opinion request failed",
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
		"error", err,
	)
	httputil.WriteError(w, err)
}

func parseOpinionID(w http.ResponseWriter, r *http.Request) (id.OpinionID, bool) {
	opinionID, err := id.ParseOpinionID(chi.URLParam(r, "opinionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.OpinionID{}, false
	}
	return opinionID, true
}
