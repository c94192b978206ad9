package jobs

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/agentiq/pkg/models"
)

// CSVHeader is the first row of every export.
var CSVHeader = []string{
	"Company Name", "Website", "LinkedIn", "HQ", "Founded", "Employees",
	"Industry", "Company Type", "Description", "Key Products",
	"Target Customers", "Tech Stack", "Recent News", "Funding Info",
	"Key Contacts", "Confidence Score", "Status", "Tokens Used",
	"Tool Calls", "Processing (ms)", "Enriched At",
}

// WriteCSV writes the header and one row per result produced by stream.
func WriteCSV(ctx context.Context, w io.Writer, stream func(func(*models.EnrichmentResult) error) error) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	rows := 0
	err := stream(func(r *models.EnrichmentResult) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cw.Write(csvRow(r)); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
		rows++
		if rows%100 == 0 {
			cw.Flush()
			return cw.Error()
		}
		return nil
	})
	if err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

func csvRow(r *models.EnrichmentResult) []string {
	name := r.InputName
	if r.CompanyName != nil {
		name = *r.CompanyName
	}
	return []string{
		name,
		str(r.Website),
		str(r.LinkedInURL),
		str(r.Headquarters),
		num(r.FoundedYear),
		str(r.EmployeeCount),
		str(r.Industry),
		str(r.CompanyType),
		str(r.Description),
		strings.Join(r.KeyProducts, ", "),
		str(r.TargetCustomers),
		strings.Join(r.TechStack, ", "),
		str(r.RecentNews),
		str(r.FundingInfo),
		strings.Join(r.KeyContacts, ", "),
		num(r.ConfidenceScore),
		r.Status,
		strconv.Itoa(r.TokensUsed),
		strconv.Itoa(r.ToolCallsMade),
		strconv.FormatInt(r.ProcessingTimeMs, 10),
		r.EnrichedAt.UTC().Format(time.RFC3339),
	}
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func num(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
