package tools_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/kiranshivaraju/agentiq/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCall_Valid(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args string
		want tools.Call
	}{
		{"find site", "find_official_site", `{"company_name":" Acme "}`, tools.FindOfficialSiteArgs{CompanyName: "Acme"}},
		{"fetch default", "fetch_page_text", `{"url":"acme.com"}`, tools.FetchPageTextArgs{URL: "acme.com"}},
		{"fetch clamped", "fetch_page_text", `{"url":"https://acme.com","max_chars":999999}`, tools.FetchPageTextArgs{URL: "https://acme.com", MaxChars: 20000}},
		{"search default", "web_search", `{"query":"Acme funding"}`, tools.WebSearchArgs{Query: "Acme funding", NumResults: 5}},
		{"search clamped", "web_search", `{"query":"Acme","num_results":50}`, tools.WebSearchArgs{Query: "Acme", NumResults: 10}},
		{"social", "social_profile_lookup", `{"company_name":"Acme"}`, tools.SocialProfileLookupArgs{CompanyName: "Acme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tools.ParseCall(tt.tool, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tools.Name(tt.tool), got.Tool())
		})
	}
}

func TestParseCall_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr error
	}{
		{"unknown tool", "send_email", `{}`, tools.ErrUnknownTool},
		{"bad json", "web_search", `{"query":`, tools.ErrInvalidArguments},
		{"missing query", "web_search", `{}`, tools.ErrInvalidArguments},
		{"empty args", "find_official_site", ``, tools.ErrInvalidArguments},
		{"blank url", "fetch_page_text", `{"url":"  "}`, tools.ErrInvalidArguments},
		{"wrong type", "web_search", `{"query":"x","num_results":"five"}`, tools.ErrInvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tools.ParseCall(tt.tool, tt.args)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestDefinitions(t *testing.T) {
	defs := tools.Definitions()
	require.Len(t, defs, 4)

	names := make(map[string]bool)
	for _, d := range defs {
		names[d.Name] = true
		assert.NotEmpty(t, d.Description)

		var schema struct {
			Type     string         `json:"type"`
			Required []string       `json:"required"`
			Props    map[string]any `json:"properties"`
		}
		require.NoError(t, json.Unmarshal(d.Parameters, &schema), d.Name)
		assert.Equal(t, "object", schema.Type)
		require.Len(t, schema.Required, 1)
		assert.Contains(t, schema.Props, schema.Required[0])
	}
	for _, n := range []tools.Name{tools.FindOfficialSite, tools.FetchPageText, tools.WebSearch, tools.SocialProfileLookup} {
		assert.True(t, names[string(n)], "missing definition for %s", n)
	}
}
