package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/greenstack/leafserve/internal/cache"
	"github.com/greenstack/leafserve/internal/inference"
	"github.com/greenstack/leafserve/internal/model"
	"github.com/greenstack/leafserve/internal/registry"
	"github.com/greenstack/leafserve/internal/resolver"
	"github.com/greenstack/leafserve/internal/store"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusClientClosedRequest is the conventional status for a request whose
// client disconnected before a response could be written.
const statusClientClosedRequest = 499

// writeError maps internal failure kinds to user-visible statuses. Nothing
// outside the documented recovery paths is swallowed: whatever reaches here
// is reported, just with a stable status code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	var (
		notFound  store.VersionNotFoundError
		conflict  store.VersionConflictError
		integrity store.IntegrityError
		tooLarge  inference.BatchTooLargeError
		mismatch  model.SchemaMismatchError
	)

	switch {
	case errors.Is(err, cache.ErrModelNotLoaded),
		errors.Is(err, resolver.ErrNoModelAvailable):
		status = http.StatusServiceUnavailable
		message = "model not loaded"
	case errors.Is(err, inference.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.As(err, &tooLarge):
		status = http.StatusBadRequest
	case errors.Is(err, inference.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.As(err, &integrity),
		errors.Is(err, store.ErrStorageUnavailable):
		status = http.StatusBadGateway
	case errors.As(err, &mismatch):
		status = http.StatusBadGateway
	case errors.Is(err, registry.ErrNotPromoted):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidCheckpoint):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		// the client went away; nothing useful can be delivered
		status = statusClientClosedRequest
		message = "request cancelled"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: message})
}
