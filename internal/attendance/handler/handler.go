package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"legisla/internal/attendance/models"
	"legisla/internal/platform/middleware"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
	"legisla/pkg/platform/httputil"
	"legisla/pkg/requestcontext"
)

type Service interface {
	MarkPresent(ctx context.Context, sessionID id.SessionID, memberID id.MemberID, present bool, justification string) (*models.Record, error)
	Quorum(ctx context.Context, sessionID id.SessionID) (models.Quorum, error)
	List(ctx context.Context, sessionID id.SessionID) ([]*models.Record, error)
}

type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts /attendance. Any authenticated terminal may read the
// sheet and the quorum; only the operator console marks presence.
func (h *Handler) Register(r chi.Router) {
	r.Route("/attendance/{sessionID}", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Use(middleware.ContentTypeJSON)

		r.Get("/", h.handleList)
		r.Get("/quorum", h.handleQuorum)
		r.With(middleware.RequireRole(requestcontext.RoleOperator)).
			Put("/members/{memberID}", h.handleMark)
	})
}

// MarkRequest is the body of PUT /attendance/{sessionID}/members/{memberID}.
type MarkRequest struct {
	Present       *bool  `json:"present"`
	Justification string `json:"justification"`
}

func (r *MarkRequest) Validate() error {
	if r == nil || r.Present == nil {
		return dErrors.New(dErrors.CodeValidation, "present is required")
	}
	return models.ValidateJustification(r.Justification)
}

func (h *Handler) handleMark(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	memberID, err := id.ParseMemberID(chi.URLParam(r, "memberID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[MarkRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	record, err := h.service.MarkPresent(ctx, sessionID, memberID, *req.Present, req.Justification)
	if err != nil {
		h.fail(ctx, w, "mark", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	records, err := h.service.List(r.Context(), sessionID)
	if err != nil {
		h.fail(r.Context(), w, "list", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleQuorum(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	q, err := h.service.Quorum(r.Context(), sessionID)
	if err != nil {
		h.fail(r.Context(), w, "quorum", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, q)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, "attendance request failed",
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
