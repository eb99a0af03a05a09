package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"legisla/internal/platform/middleware"
	"legisla/internal/plenary/models"
	"legisla/internal/plenary/service"
	"legisla/internal/voting"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/httputil"
	"legisla/pkg/requestcontext"
)

// Service defines the plenary operations exposed over HTTP.
type Service interface {
	CreateSession(ctx context.Context, title string, scheduledFor time.Time) (*models.Session, error)
	GetSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	Agenda(ctx context.Context, sessionID id.SessionID) ([]*models.AgendaItem, error)
	AddAgendaItem(ctx context.Context, sessionID id.SessionID, req service.AddItemRequest) (*models.AgendaItem, error)
	GetItem(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error)
	StartDiscussion(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error)
	Postpone(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error)
	Withdraw(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error)
	OpenVoting(ctx context.Context, itemID id.AgendaItemID) (*service.Opening, error)
	CastVote(ctx context.Context, itemID id.AgendaItemID, memberID id.MemberID, choice voting.Choice) (*models.Vote, error)
	CloseVoting(ctx context.Context, itemID id.AgendaItemID) (*service.Closing, error)
}

// Handler serves the operator console's session and voting endpoints.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts /sessions and /agenda-items. Agenda and vote control is
// operator-only; casting a vote is legislator-only and always on the
// caller's own behalf.
func (h *Handler) Register(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Use(middleware.ContentTypeJSON)

		r.Get("/", h.handleListSessions)
		r.Get("/{sessionID}", h.handleGetSession)
		r.Get("/{sessionID}/agenda", h.handleAgenda)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(requestcontext.RoleOperator))
			r.Post("/", h.handleCreateSession)
			r.Post("/{sessionID}/agenda", h.handleAddItem)
		})
	})

	r.Route("/agenda-items", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Use(middleware.ContentTypeJSON)

		r.Get("/{itemID}", h.handleGetItem)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(requestcontext.RoleOperator))
			r.Post("/{itemID}/discuss", h.itemTransition("discuss", h.service.StartDiscussion))
			r.Post("/{itemID}/postpone", h.itemTransition("postpone", h.service.Postpone))
			r.Post("/{itemID}/withdraw", h.itemTransition("withdraw", h.service.Withdraw))
			r.Post("/{itemID}/voting/open", h.handleOpenVoting)
			r.Post("/{itemID}/voting/close", h.handleCloseVoting)
		})

		r.With(middleware.RequireRole(requestcontext.RoleLegislator)).Post("/{itemID}/votes", h.handleCastVote)
	})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CreateSessionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	session, err := h.service.CreateSession(ctx, req.Title, req.ScheduledFor)
	if err != nil {
		h.fail(ctx, w, "create_session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListSessions(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "list_sessions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	session, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		h.fail(r.Context(), w, "get_session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) handleAgenda(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	items, err := h.service.Agenda(r.Context(), sessionID)
	if err != nil {
		h.fail(r.Context(), w, "agenda", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AddItemRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	item, err := h.service.AddAgendaItem(ctx, sessionID, service.AddItemRequest{
		PropositionID: req.ParsedPropositionID(),
		Title:         req.Title,
	})
	if err != nil {
		h.fail(ctx, w, "add_item", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, item)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), itemID)
	if err != nil {
		h.fail(r.Context(), w, "get_item", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) itemTransition(op string, call func(context.Context, id.AgendaItemID) (*models.AgendaItem, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID, ok := parseItemID(w, r)
		if !ok {
			return
		}
		item, err := call(r.Context(), itemID)
		if err != nil {
			h.fail(r.Context(), w, op, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, item)
	}
}

func (h *Handler) handleOpenVoting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}
	opening, err := h.service.OpenVoting(ctx, itemID)
	if err != nil {
		h.fail(ctx, w, "open_voting", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, opening)
}

func (h *Handler) handleCastVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CastVoteRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	vote, err := h.service.CastVote(ctx, itemID, requestcontext.ActorID(ctx), req.ParsedChoice())
	if err != nil {
		h.fail(ctx, w, "cast_vote", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, vote)
}

func (h *Handler) handleCloseVoting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}
	closing, err := h.service.CloseVoting(ctx, itemID)
	if err != nil {
		h.fail(ctx, w, "close_voting", err)
		return
	}
	h.logger.InfoContext(ctx, "voting closed",
		"request_id", requestcontext.RequestID(ctx),
		"agenda_item_id", itemID,
		"outcome", closing.Result.Outcome,
		"already_closed", closing.AlreadyClosed,
	)
	httputil.WriteJSON(w, http.StatusOK, closing)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, "plenary request failed",
		"request_id", requestcontext.RequestID(ctx),
		"operation", op,
		"error", err,
	)
	httputil.WriteError(w, err)
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (id.SessionID, bool) {
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.SessionID{}, false
	}
	return sessionID, true
}

func parseItemID(w http.ResponseWriter, r *http.Request) (id.AgendaItemID, bool) {
	itemID, err := id.ParseAgendaItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.AgendaItemID{}, false
	}
	return itemID, true
}
