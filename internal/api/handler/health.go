package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/agentiq/internal/api/response"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

// Pinger is anything with a liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobHealthReporter reports job counts by state.
type JobHealthReporter interface {
	Health(ctx context.Context) (*models.JobHealth, error)
}

// HealthDeps are the checks behind GET /api/v1/health. Cache and Jobs are
// optional.
type HealthDeps struct {
	Database Pinger
	Cache    Pinger
	Jobs     JobHealthReporter
	Timeout  time.Duration
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Jobs   *models.JobHealth `json:"jobs,omitempty"`
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. A
// database failure is fatal; a cache failure only degrades.
func NewHealthHandler(deps HealthDeps) http.HandlerFunc {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK

		if err := deps.Database.Ping(ctx); err != nil {
			slog.Error("health: database ping failed", "error", err)
			resp.Checks["database"] = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["database"] = "ok"
		}

		if deps.Cache != nil {
			if err := deps.Cache.Ping(ctx); err != nil {
				slog.Warn("health: cache ping failed", "error", err)
				resp.Checks["cache"] = "unavailable"
				if resp.Status == "ok" {
					resp.Status = "degraded"
				}
			} else {
				resp.Checks["cache"] = "ok"
			}
		}

		if deps.Jobs != nil && status == http.StatusOK {
			h, err := deps.Jobs.Health(ctx)
			if err != nil {
				slog.Warn("health: job counts failed", "error", err)
			} else {
				resp.Jobs = h
			}
		}

		response.WithStatus(w, status, resp)
	}
}
