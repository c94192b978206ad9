package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/agentiq/internal/api/middleware"
	"github.com/kiranshivaraju/agentiq/internal/api/response"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

// UsageReporter reads back what enrichment runs have consumed.
type UsageReporter interface {
	Usage(ctx context.Context, tenantID uuid.UUID, days int) (*models.UsageSummary, error)
	Stats(ctx context.Context, tenantID uuid.UUID) (*models.TenantStats, error)
}

// NewUsageHandler returns an http.HandlerFunc for GET /api/v1/usage.
func NewUsageHandler(svc UsageReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}

		days := 0
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				validationError(w, "days must be a positive integer")
				return
			}
			days = n
		}

		sum, err := svc.Usage(r.Context(), tenantID, days)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, sum)
	}
}

// NewStatsHandler returns an http.HandlerFunc for GET /api/v1/stats.
func NewStatsHandler(svc UsageReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}

		st, err := svc.Stats(r.Context(), tenantID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, st)
	}
}
