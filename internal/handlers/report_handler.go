package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/services"
)

type ReportHandler struct {
	engine *services.Orchestrator
	logger *zap.Logger
}

func NewReportHandler(engine *services.Orchestrator, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{engine: engine, logger: logger}
}

func (h *ReportHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportId")

	var req models.UpdateReportStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errors))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), requestTimeout)
	defer cancel()

	report, err := h.engine.UpdateReportStatus(ctx, reportID, req.Status)
	writeResult(w, h.logger, http.StatusOK, report, err)
}

func (h *ReportHandler) PostSeverity(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postId")

	ctx, cancel := contextWithTimeout(r.Context(), requestTimeout)
	defer cancel()

	sev, err := h.engine.PostSeverity(ctx, postID)
	writeResult(w, h.logger, http.StatusOK, sev, err)
}
