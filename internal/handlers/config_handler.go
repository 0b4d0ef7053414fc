package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/middleware"
	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/services"
)

type ConfigHandler struct {
	engine *services.Orchestrator
	logger *zap.Logger
}

func NewConfigHandler(engine *services.Orchestrator, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{engine: engine, logger: logger}
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r.Context(), requestTimeout)
	defer cancel()

	cfg, err := h.engine.GetConfiguration(ctx)
	writeResult(w, h.logger, http.StatusOK, cfg, err)
}

func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	adminID := middleware.GetUserID(r.Context())

	var req models.ConfigurationUpdate
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), requestTimeout)
	defer cancel()

	cfg, err := h.engine.UpdateConfiguration(ctx, req, adminID)
	writeResult(w, h.logger, http.StatusOK, cfg, err)
}

func (h *ConfigHandler) ChangeLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(map[string]string{"limit": "Limit must be between 1 and 500"}))
			return
		}
		limit = n
	}

	ctx, cancel := contextWithTimeout(r.Context(), requestTimeout)
	defer cancel()

	logs, err := h.engine.ConfigurationLog(ctx, limit)
	writeResult(w, h.logger, http.StatusOK, logs, err)
}
