package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/middleware"
	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/services"
)

type UserHandler struct {
	engine *services.Orchestrator
	logger *zap.Logger
}

func NewUserHandler(engine *services.Orchestrator, logger *zap.Logger) *UserHandler {
	return &UserHandler{engine: engine, logger: logger}
}

func (h *UserHandler) Warn(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.GetUserID(r.Context())
	userID := chi.URLParam(r, "userId")

	var req models.WarnUserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := h.engine.WarnUser(ctx, adminID, userID, req)
	writeResult(w, h.logger, http.StatusOK, res, err)
}

func (h *UserHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.GetUserID(r.Context())
	userID := chi.URLParam(r, "userId")

	var req models.SuspendUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errors))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := h.engine.SuspendUser(ctx, adminID, userID, req)
	writeResult(w, h.logger, http.StatusOK, res, err)
}

func (h *UserHandler) Ban(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.GetUserID(r.Context())
	userID := chi.URLParam(r, "userId")

	var req models.BanUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errors))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := h.engine.BanUser(ctx, adminID, userID, req)
	writeResult(w, h.logger, http.StatusOK, res, err)
}

func (h *UserHandler) ResetWarnings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	ctx, cancel := contextWithTimeout(r.Context(), requestTimeout)
	defer cancel()

	user, err := h.engine.ResetWarnings(ctx, userID)
	writeResult(w, h.logger, http.StatusOK, user, err)
}
