package agent

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

const maxErrorRunes = 500

// RunStats are the resource counters of one enrichment run.
type RunStats struct {
	Model      string
	Tokens     int
	ToolCalls  int
	Iterations int
	Elapsed    time.Duration
	EnrichedAt time.Time
}

// BuildResult maps a parsed model object onto a completed EnrichmentResult.
// Unknown or unparseable values become nil; list fields are never nil.
func BuildResult(in Input, data map[string]any, stats RunStats) *models.EnrichmentResult {
	r := newResult(in, stats)
	r.Status = models.ResultStatusCompleted

	r.CompanyName = stringField(data, "name")
	if r.CompanyName == nil {
		r.CompanyName = stringField(data, "company_name")
	}
	if r.CompanyName == nil {
		name := in.Name
		r.CompanyName = &name
	}
	r.Website = stringField(data, "website")
	r.LinkedInURL = stringField(data, "linkedin_url")
	r.FoundedYear = intField(data, "founded_year")
	r.Headquarters = stringField(data, "headquarters")
	r.EmployeeCount = stringField(data, "employee_count")
	r.Industry = stringField(data, "industry")
	r.CompanyType = stringField(data, "company_type")
	r.Description = stringField(data, "description")
	r.KeyProducts = listField(data, "key_products")
	r.TargetCustomers = stringField(data, "target_customers")
	r.TechStack = listField(data, "tech_stack")
	r.RecentNews = stringField(data, "recent_news")
	r.FundingInfo = stringField(data, "funding_info")
	r.KeyContacts = listField(data, "key_contacts")
	r.EnrichmentNotes = stringField(data, "enrichment_notes")

	if score := intField(data, "confidence_score"); score != nil {
		clamped := min(max(*score, 1), 10)
		r.ConfidenceScore = &clamped
	}
	return r
}

// FailedResult builds a failed EnrichmentResult carrying message.
func FailedResult(in Input, stats RunStats, message string) *models.EnrichmentResult {
	r := newResult(in, stats)
	r.Status = models.ResultStatusFailed
	name := in.Name
	r.CompanyName = &name
	msg := truncateRunes(message, maxErrorRunes)
	r.ErrorMessage = &msg
	return r
}

// UsageFor builds the usage record accompanying result. One credit is
// charged per processed item regardless of outcome.
func UsageFor(result *models.EnrichmentResult, stats RunStats) *models.UsageRecord {
	meta := map[string]any{
		"company":       result.InputName,
		"tool_calls":    stats.ToolCalls,
		"iterations":    stats.Iterations,
		"processing_ms": result.ProcessingTimeMs,
		"status":        result.Status,
	}
	if result.ConfidenceScore != nil {
		meta["confidence"] = *result.ConfidenceScore
	}
	return &models.UsageRecord{
		ID:              uuid.New(),
		TenantID:        result.TenantID,
		JobID:           result.JobID,
		Action:          models.UsageActionEnrichment,
		CreditsConsumed: 1,
		TokensUsed:      stats.Tokens,
		ModelUsed:       stats.Model,
		Metadata:        meta,
		CreatedAt:       stats.EnrichedAt,
	}
}

func newResult(in Input, stats RunStats) *models.EnrichmentResult {
	enrichedAt := stats.EnrichedAt
	if enrichedAt.IsZero() {
		enrichedAt = time.Now().UTC()
	}
	return &models.EnrichmentResult{
		ID:               uuid.New(),
		TenantID:         in.TenantID,
		JobID:            in.JobID,
		InputName:        in.Name,
		InputHint:        in.Hint,
		KeyProducts:      []string{},
		TechStack:        []string{},
		KeyContacts:      []string{},
		ModelUsed:        stats.Model,
		TokensUsed:       stats.Tokens,
		ToolCallsMade:    stats.ToolCalls,
		ProcessingTimeMs: stats.Elapsed.Milliseconds(),
		EnrichedAt:       enrichedAt,
	}
}

func stringField(data map[string]any, key string) *string {
	var s string
	switch v := data[key].(type) {
	case string:
		s = strings.TrimSpace(v)
	case json.Number:
		s = v.String()
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	default:
		return nil
	}
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

func intField(data map[string]any, key string) *int {
	var f float64
	switch v := data[key].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int32Ptr(i)
		}
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = v
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return int32Ptr(i)
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil
	}
	n := int(f)
	return &n
}

// int32Ptr returns i when it fits an INTEGER column, nil otherwise.
func int32Ptr(i int64) *int {
	if i > math.MaxInt32 || i < math.MinInt32 {
		return nil
	}
	n := int(i)
	return &n
}

func listField(data map[string]any, key string) []string {
	out := []string{}
	switch v := data[key].(type) {
	case []any:
		for _, item := range v {
			if s := stringField(map[string]any{"v": item}, "v"); s != nil {
				out = append(out, *s)
			}
		}
	case nil:
	default:
		if s := stringField(data, key); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
