package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/render"

	"github.com/dmitrijs2005/mediavault/internal/server/jobs"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
)

// StatusClientClosedRequest is the nginx convention for a client that went
// away before the response was ready.
const StatusClientClosedRequest = 499

type errResponse struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto the API status set. Upstream
// diagnostics never reach the client: 5xx-class responses carry a generic
// message, the details stay in the logs.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError || status == http.StatusBadGateway {
		h.log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, errResponse{Error: msg})
}

func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	var statusErr *storage.StatusError

	switch {
	case errors.Is(err, storage.ErrClientCanceled):
		return StatusClientClosedRequest, "client closed request"
	case errors.As(err, &maxBytes), errors.Is(err, storage.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, storage.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, jobs.ErrSessionCanceled):
		return http.StatusConflict, "upload session canceled"
	case errors.Is(err, jobs.ErrAlreadyExists):
		return http.StatusConflict, "upload session already exists"
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound, "not found"
	case errors.Is(err, storage.ErrQuotaExceeded),
		errors.Is(err, storage.ErrAuthExpired),
		errors.Is(err, storage.ErrUpstreamProtocol),
		errors.As(err, &statusErr):
		return http.StatusBadGateway, "upstream storage error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
