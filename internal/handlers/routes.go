package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/services"
)

// AdminRoutes mounts the moderation admin API on r. Callers add the
// authentication middleware.
func AdminRoutes(r chi.Router, engine *services.Orchestrator, logger *zap.Logger) {
	announcementHandler := NewAnnouncementHandler(engine, logger)
	reportHandler := NewReportHandler(engine, logger)
	userHandler := NewUserHandler(engine, logger)
	configHandler := NewConfigHandler(engine, logger)

	r.Route("/announcements", func(r chi.Router) {
		r.Post("/evaluate", announcementHandler.Evaluate)
		r.Route("/{announcementId}", func(r chi.Router) {
			r.Post("/approve", announcementHandler.Approve)
			r.Post("/decline", announcementHandler.Decline)
			r.Post("/remove", announcementHandler.Remove)
		})
	})

	r.Patch("/reports/{reportId}", reportHandler.UpdateStatus)
	r.Get("/posts/{postId}/severity", reportHandler.PostSeverity)

	r.Route("/users/{userId}", func(r chi.Router) {
		r.Post("/warn", userHandler.Warn)
		r.Post("/suspend", userHandler.Suspend)
		r.Post("/ban", userHandler.Ban)
		r.Post("/reset-warnings", userHandler.ResetWarnings)
	})

	r.Route("/config", func(r chi.Router) {
		r.Get("/", configHandler.Get)
		r.Patch("/", configHandler.Update)
		r.Get("/logs", configHandler.ChangeLog)
	})
}

// SweepRoutes exposes the sweeps for an external scheduler. Triggering a
// sweep needs the same admin credentials as the admin API.
func SweepRoutes(r chi.Router, engine *services.Orchestrator, auth func(http.Handler) http.Handler, logger *zap.Logger) {
	r.With(auth).Post("/sweeps/{sweep}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "sweep")
		// Sweeps may take longer than an admin request.
		ctx, cancel := contextWithTimeout(r.Context(), 5*requestTimeout)
		defer cancel()

		res, err := engine.RunSweep(ctx, name)
		writeResult(w, logger, http.StatusOK, res, err)
	})
}
