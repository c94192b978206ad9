package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/agentiq/internal/api/middleware"
	"github.com/kiranshivaraju/agentiq/internal/api/response"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

// SingleEnricher researches one company synchronously.
type SingleEnricher interface {
	EnrichSingle(ctx context.Context, tenantID uuid.UUID, company, website string) (*models.EnrichmentResult, error)
}

// NewEnrichHandler returns an http.HandlerFunc for POST /api/v1/enrich.
// A result whose research failed is still a 200; its status says so.
func NewEnrichHandler(svc SingleEnricher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			missingTenant(w)
			return
		}

		var req struct {
			Company string `json:"company"`
			Website string `json:"website"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		result, err := svc.EnrichSingle(r.Context(), tenantID, req.Company, req.Website)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, result)
	}
}
