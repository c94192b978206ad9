package models

import (
	"time"

	"github.com/google/uuid"
)

const UsageActionEnrichment = "enrichment"

// UsageRecord is an append-only audit/billing event, one per processed item.
type UsageRecord struct {
	ID              uuid.UUID      `db:"id"               json:"id"`
	TenantID        uuid.UUID      `db:"tenant_id"        json:"tenant_id"`
	JobID           *uuid.UUID     `db:"job_id"           json:"job_id,omitempty"`
	Action          string         `db:"action"           json:"action"`
	CreditsConsumed int            `db:"credits_consumed" json:"credits_consumed"`
	TokensUsed      int            `db:"tokens_used"      json:"tokens_used"`
	ModelUsed       string         `db:"model_used"       json:"model_used"`
	Metadata        map[string]any `db:"metadata"         json:"metadata,omitempty"`
	CreatedAt       time.Time      `db:"created_at"       json:"created_at"`
}

// UsageSummary totals a tenant's usage records since a point in time and
// lists the most recent of them.
type UsageSummary struct {
	PeriodDays    int            `json:"period_days"`
	TotalCredits  int64          `json:"total_credits_consumed"`
	TotalTokens   int64          `json:"total_tokens_used"`
	TotalCalls    int            `json:"total_api_calls"`
	RecentRecords []*UsageRecord `json:"records"`
}

// TenantStats is the dashboard view of one tenant's enrichment activity.
type TenantStats struct {
	TotalEnrichments   int     `json:"total_enrichments"`
	JobsThisMonth      int     `json:"jobs_this_month"`
	AvgConfidenceScore float64 `json:"avg_confidence_score"`
	TotalTokensUsed    int64   `json:"total_tokens_used"`
	ActiveJobs         int     `json:"active_jobs"`
	RecentJobs         []*Job  `json:"recent_jobs"`
}
