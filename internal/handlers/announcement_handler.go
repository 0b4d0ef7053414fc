package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/middleware"
	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/services"
)

type AnnouncementHandler struct {
	engine *services.Orchestrator
	logger *zap.Logger
}

func NewAnnouncementHandler(engine *services.Orchestrator, logger *zap.Logger) *AnnouncementHandler {
	return &AnnouncementHandler{engine: engine, logger: logger}
}

type announcementAction func(ctx context.Context, id string) (*models.Announcement, error)

func (h *AnnouncementHandler) handle(action string, fn announcementAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "announcementId")
		ctx, cancel := contextWithTimeout(r.Context(), requestTimeout)
		defer cancel()

		a, err := fn(ctx, id)
		if err == nil {
			h.logger.Info("announcement action",
				zap.String("action", action),
				zap.String("announcement_id", id),
				zap.String("admin_id", middleware.GetUserID(r.Context())),
			)
		}
		writeResult(w, h.logger, http.StatusOK, a, err)
	}
}

func (h *AnnouncementHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.handle("approve", h.engine.ApproveAnnouncement)(w, r)
}

func (h *AnnouncementHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.handle("decline", h.engine.DeclineAnnouncement)(w, r)
}

func (h *AnnouncementHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.handle("remove", h.engine.RemoveAnnouncement)(w, r)
}

func (h *AnnouncementHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := h.engine.ForceEvaluateAnnouncements(ctx)
	writeResult(w, h.logger, http.StatusOK, res, err)
}
