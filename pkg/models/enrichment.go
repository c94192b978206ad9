package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ResultStatusCompleted = "completed"
	ResultStatusFailed    = "failed"
)

// EnrichmentResult is one research outcome for one input item.
// Nil pointer fields mean the value is unknown. JobID is nil for ad-hoc runs.
type EnrichmentResult struct {
	ID       uuid.UUID  `db:"id"        json:"id"`
	TenantID uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	JobID    *uuid.UUID `db:"job_id"    json:"job_id,omitempty"`

	InputName string  `db:"input_name" json:"input_name"`
	InputHint *string `db:"input_hint" json:"input_hint,omitempty"`

	CompanyName     *string  `db:"company_name"     json:"company_name"`
	Website         *string  `db:"website"          json:"website"`
	LinkedInURL     *string  `db:"linkedin_url"     json:"linkedin_url"`
	FoundedYear     *int     `db:"founded_year"     json:"founded_year"`
	Headquarters    *string  `db:"headquarters"     json:"headquarters"`
	EmployeeCount   *string  `db:"employee_count"   json:"employee_count"`
	Industry        *string  `db:"industry"         json:"industry"`
	CompanyType     *string  `db:"company_type"     json:"company_type"`
	Description     *string  `db:"description"      json:"description"`
	KeyProducts     []string `db:"key_products"     json:"key_products"`
	TargetCustomers *string  `db:"target_customers" json:"target_customers"`
	TechStack       []string `db:"tech_stack"       json:"tech_stack"`
	RecentNews      *string  `db:"recent_news"      json:"recent_news"`
	FundingInfo     *string  `db:"funding_info"     json:"funding_info"`
	KeyContacts     []string `db:"key_contacts"     json:"key_contacts"`
	ConfidenceScore *int     `db:"confidence_score" json:"confidence_score"`
	EnrichmentNotes *string  `db:"enrichment_notes" json:"enrichment_notes"`

	Status       string  `db:"status"        json:"status"`
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`

	ModelUsed        string    `db:"model_used"         json:"model_used"`
	TokensUsed       int       `db:"tokens_used"        json:"tokens_used"`
	ToolCallsMade    int       `db:"tool_calls_made"    json:"tool_calls_made"`
	ProcessingTimeMs int64     `db:"processing_time_ms" json:"processing_time_ms"`
	EnrichedAt       time.Time `db:"enriched_at"        json:"enriched_at"`
}
