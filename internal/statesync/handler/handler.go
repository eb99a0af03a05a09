package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"legisla/internal/platform/middleware"
	"legisla/internal/plenary/models"
	"legisla/internal/statesync/metrics"
	"legisla/internal/statesync/service"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/httputil"
	"legisla/pkg/requestcontext"
)

// Service defines the polling reads exposed over HTTP.
type Service interface {
	CurrentAgendaItem(ctx context.Context, sessionID id.SessionID) (*models.AgendaItem, error)
	MyVote(ctx context.Context, sessionID id.SessionID, memberID id.MemberID) (*service.VoteState, error)
	VotingTally(ctx context.Context, itemID id.AgendaItemID) (*service.TallyView, error)
	LatestResult(ctx context.Context, itemID id.AgendaItemID) (*models.Result, error)
	SessionSnapshot(ctx context.Context, sessionID id.SessionID) (*service.Snapshot, error)
}

type Handler struct {
	service      Service
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(service Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, metrics: m, jwtValidator: jwtValidator}
}

// Register mounts /sync. All reads are open to any authenticated caller
// except my-vote, which answers for the caller only.
func (h *Handler) Register(r chi.Router) {
	r.Route("/sync", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

		r.Get("/sessions/{sessionID}", h.handleSnapshot)
		r.Get("/sessions/{sessionID}/current", h.handleCurrent)
		r.With(middleware.RequireRole(requestcontext.RoleLegislator)).Get("/sessions/{sessionID}/my-vote", h.handleMyVote)
		r.Get("/agenda-items/{itemID}/tally", h.handleTally)
		r.Get("/agenda-items/{itemID}/result", h.handleResult)
	})
}

// handleSnapshot answers 304 when If-None-Match carries the current version.
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.service.SessionSnapshot(ctx, sessionID)
	if err != nil {
		h.fail(ctx, w, "session_snapshot", err)
		return
	}
	etag := `"` + snap.Version + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if matchesETag(r.Header.Get("If-None-Match"), etag) {
		if h.metrics != nil {
			h.metrics.IncrementNotModified()
		}
		w.WriteHeader(http.StatusNotModified)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

func matchesETag(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag || candidate == "*" {
			return true
		}
	}
	return false
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	item, err := h.service.CurrentAgendaItem(r.Context(), sessionID)
	if err != nil {
		h.fail(r.Context(), w, "current_agenda_item", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (h *Handler) handleMyVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	state, err := h.service.MyVote(ctx, sessionID, requestcontext.ActorID(ctx))
	if err != nil {
		h.fail(ctx, w, "my_vote", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

func (h *Handler) handleTally(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}
	view, err := h.service.VotingTally(r.Context(), itemID)
	if err != nil {
		h.fail(r.Context(), w, "voting_tally", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseItemID(w, r)
	if !ok {
		return
	}
	result, err := h.service.LatestResult(r.Context(), itemID)
	if err != nil {
		h.fail(r.Context(), w, "latest_result", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.DebugContext(ctx, "sync read failed",
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
