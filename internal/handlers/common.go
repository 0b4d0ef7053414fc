package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/models"
	"github.com/campuspulse/console/internal/services"
	"github.com/campuspulse/console/internal/storage"
)

const requestTimeout = 10 * time.Second

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func contextWithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return false
	}
	return true
}

// writeResult writes data on success and maps service errors onto HTTP.
// data is still returned on partial failures.
func writeResult(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}, err error) {
	if err == nil {
		writeJSON(w, status, models.NewSuccessResponse(data))
		return
	}

	var (
		verr *services.ValidationError
		pbe  *services.PartialBatchError
		serr *services.StepError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(verr.Fields))
	case errors.As(err, &pbe):
		writeJSON(w, http.StatusMultiStatus, models.NewPartialResponse(data, err.Error(), pbe.Failures))
	case errors.As(err, &serr) && len(serr.Completed) > 0:
		writeJSON(w, http.StatusMultiStatus, models.NewPartialResponse(data, err.Error(), nil))
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse(err.Error()))
	case errors.Is(err, services.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, models.NewErrorResponse(err.Error()))
	case services.IsTransient(err):
		writeJSON(w, http.StatusServiceUnavailable, models.NewErrorResponse("Service temporarily unavailable, please retry"))
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Internal error"))
	}
}
