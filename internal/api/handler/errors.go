package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/agentiq/internal/api/response"
	"github.com/kiranshivaraju/agentiq/internal/jobs"
)

// writeServiceError maps a jobs service error onto the error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, jobs.ErrEmptyBatch),
		errors.Is(err, jobs.ErrInvalidInput),
		errors.Is(err, jobs.ErrInvalidPagination),
		errors.Is(err, jobs.ErrInvalidStatusQuery):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, jobs.ErrBatchTooLarge):
		response.Error(w, http.StatusBadRequest, "BATCH_TOO_LARGE", err.Error(), nil)
	case errors.Is(err, jobs.ErrTooManyActiveJobs):
		response.Error(w, http.StatusTooManyRequests, "TOO_MANY_JOBS",
			"Too many active jobs; wait for one to finish", nil)
	case errors.Is(err, jobs.ErrQueueUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE",
			"The job queue is unavailable; try again shortly", nil)
	case errors.Is(err, jobs.ErrNotCancellable):
		response.Error(w, http.StatusConflict, "NOT_CANCELLABLE", err.Error(), nil)
	case errors.Is(err, jobs.ErrJobActive):
		response.Error(w, http.StatusConflict, "JOB_ACTIVE",
			"Cancel the job before deleting it", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func validationError(w http.ResponseWriter, msg string) {
	response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", msg, nil)
}

func missingTenant(w http.ResponseWriter) {
	response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
