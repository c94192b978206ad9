package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentiq/internal/jobs"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

type mockEnricher struct {
	fn func(company, website string) (*models.EnrichmentResult, error)
}

func (m *mockEnricher) EnrichSingle(_ context.Context, _ uuid.UUID, company, website string) (*models.EnrichmentResult, error) {
	return m.fn(company, website)
}

func TestEnrich_OK(t *testing.T) {
	var gotCompany, gotWebsite string
	svc := &mockEnricher{fn: func(company, website string) (*models.EnrichmentResult, error) {
		gotCompany, gotWebsite = company, website
		name := "Acme Corp"
		return &models.EnrichmentResult{InputName: company, CompanyName: &name, Status: models.ResultStatusCompleted}, nil
	}}

	rec := httptest.NewRecorder()
	req := jsonReq(t, http.MethodPost, "/api/v1/enrich", map[string]string{"company": "Acme", "website": "acme.io"}, uuid.New())
	NewEnrichHandler(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotCompany != "Acme" || gotWebsite != "acme.io" {
		t.Errorf("service got (%q, %q)", gotCompany, gotWebsite)
	}
	var env struct {
		Data models.EnrichmentResult `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.CompanyName == nil || *env.Data.CompanyName != "Acme Corp" {
		t.Errorf("company_name = %v", env.Data.CompanyName)
	}
}

func TestEnrich_FailedResearchIsStillOK(t *testing.T) {
	svc := &mockEnricher{fn: func(company, _ string) (*models.EnrichmentResult, error) {
		msg := "Model call failed: ai provider unavailable"
		return &models.EnrichmentResult{InputName: company, Status: models.ResultStatusFailed, ErrorMessage: &msg}, nil
	}}

	rec := httptest.NewRecorder()
	NewEnrichHandler(svc).ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/enrich", map[string]string{"company": "Acme"}, uuid.New()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"status":"failed"`)) {
		t.Errorf("body missing failed status: %s", rec.Body.String())
	}
}

func TestEnrich_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid json", `nope`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"blank company", `{"company":"  "}`, fmt.Errorf("%w: company is required", jobs.ErrInvalidInput), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"save failed", `{"company":"Acme"}`, errors.New("saving enrichment: db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockEnricher{fn: func(string, string) (*models.EnrichmentResult, error) {
				return nil, tt.err
			}}
			r := httptest.NewRequest(http.MethodPost, "/api/v1/enrich", bytes.NewBufferString(tt.body))
			r = r.WithContext(setTenantCtx(r.Context(), uuid.New()))
			rec := httptest.NewRecorder()
			NewEnrichHandler(svc).ServeHTTP(rec, r)

			status, code := parseErr(t, rec)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("got (%d, %s), want (%d, %s)", status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}
