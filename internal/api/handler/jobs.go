package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/agentiq/internal/api/middleware"
	"github.com/kiranshivaraju/agentiq/internal/api/response"
	"github.com/kiranshivaraju/agentiq/internal/jobs"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

const (
	defaultJobsLimit = 20
	maxJobsLimit     = 100
	maxRequestBytes  = 4 << 20
)

// JobService defines the job operations the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*models.Job, error)
	Get(ctx context.Context, tenantID, jobID uuid.UUID) (*models.Job, error)
	Status(ctx context.Context, tenantID, jobID uuid.UUID) (string, error)
	List(ctx context.Context, tenantID uuid.UUID, status string, page, limit int) ([]*models.Job, int, error)
	Results(ctx context.Context, tenantID, jobID uuid.UUID, q jobs.ResultQuery) ([]*models.EnrichmentResult, int, error)
	Cancel(ctx context.Context, tenantID, jobID uuid.UUID) (*models.Job, error)
	Export(ctx context.Context, tenantID, jobID uuid.UUID, w io.Writer) error
	Delete(ctx context.Context, tenantID, jobID uuid.UUID) error
}

type submitJobRequest struct {
	Name      string                       `json:"name"`
	Companies []string                     `json:"companies"`
	Websites  map[string]string            `json:"websites"`
	Context   map[string]map[string]string `json:"context"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}

		var req submitJobRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		companies := trimAll(req.Companies)
		if len(companies) == 0 {
			validationError(w, "companies must contain at least one name")
			return
		}

		items := make([]models.Item, len(companies))
		for i, name := range companies {
			items[i] = models.Item{Name: name}
		}
		job, err := svc.Submit(r.Context(), jobs.SubmitRequest{
			TenantID: tenantID,
			Name:     req.Name,
			Items:    items,
			Websites: req.Websites,
			Context:  req.Context,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Accepted(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}
		page, limit, err := parsePagination(r, defaultJobsLimit, maxJobsLimit)
		if err != nil {
			validationError(w, err.Error())
			return
		}

		list, total, err := svc.List(r.Context(), tenantID, r.URL.Query().Get("status"), page, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Collection(w, list, response.Page(page, limit, total))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return withJob(func(w http.ResponseWriter, r *http.Request, tenantID, jobID uuid.UUID) {
		job, err := svc.Get(r.Context(), tenantID, jobID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, job)
	})
}

// NewJobStatusHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/status.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return withJob(func(w http.ResponseWriter, r *http.Request, tenantID, jobID uuid.UUID) {
		status, err := svc.Status(r.Context(), tenantID, jobID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"job_id": jobID, "status": status})
	})
}

// NewJobResultsHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/results.
func NewJobResultsHandler(svc JobService) http.HandlerFunc {
	return withJob(func(w http.ResponseWriter, r *http.Request, tenantID, jobID uuid.UUID) {
		page, limit, err := parsePagination(r, 50, 500)
		if err != nil {
			validationError(w, err.Error())
			return
		}

		results, total, err := svc.Results(r.Context(), tenantID, jobID, jobs.ResultQuery{
			Status: r.URL.Query().Get("status"),
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Collection(w, results, response.Page(page, limit, total))
	})
}

// NewExportJobHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/export. The body is streamed as CSV.
func NewExportJobHandler(svc JobService) http.HandlerFunc {
	return withJob(func(w http.ResponseWriter, r *http.Request, tenantID, jobID uuid.UUID) {
		// Resolve the job first so a missing job still gets a JSON error.
		if _, err := svc.Get(r.Context(), tenantID, jobID); err != nil {
			writeServiceError(w, r, err)
			return
		}

		response.CSVAttachment(w, fmt.Sprintf("enrichment_%s.csv", jobID.String()[:8]))

		if err := svc.Export(r.Context(), tenantID, jobID, w); err != nil {
			slog.Error("csv export aborted", "job_id", jobID, "error", err)
		}
	})
}

// NewCancelJobHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return withJob(func(w http.ResponseWriter, r *http.Request, tenantID, jobID uuid.UUID) {
		job, err := svc.Cancel(r.Context(), tenantID, jobID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, job)
	})
}

// NewDeleteJobHandler returns an http.HandlerFunc for
// DELETE /api/v1/jobs/{jobID}.
func NewDeleteJobHandler(svc JobService) http.HandlerFunc {
	return withJob(func(w http.ResponseWriter, r *http.Request, tenantID, jobID uuid.UUID) {
		if err := svc.Delete(r.Context(), tenantID, jobID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.NoContent(w)
	})
}

type jobHandlerFunc func(w http.ResponseWriter, r *http.Request, tenantID, jobID uuid.UUID)

// withJob resolves the tenant and the {jobID} URL parameter.
func withJob(next jobHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			validationError(w, "jobID must be a valid UUID")
			return
		}
		next(w, r, tenantID, jobID)
	}
}

func parsePagination(r *http.Request, defaultLimit, maxLimit int) (page, limit int, err error) {
	q := r.URL.Query()
	page, limit = 1, defaultLimit
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > maxLimit {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxLimit)
		}
	}
	return page, limit, nil
}
