// Package tools implements the lookups the enrichment agent may request:
// site discovery, page text, web search and social profile lookup.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/agentiq/pkg/models"
)

// Name identifies one tool advertised to the model.
type Name string

const (
	FindOfficialSite    Name = "find_official_site"
	FetchPageText       Name = "fetch_page_text"
	WebSearch           Name = "web_search"
	SocialProfileLookup Name = "social_profile_lookup"
)

const (
	DefaultPageMaxChars = 6000
	MaxPageMaxChars     = 20000
	DefaultNumResults   = 5
	MaxNumResults       = 10
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Call is a validated tool invocation. The set of implementations is closed.
type Call interface {
	Tool() Name
	isCall()
}

type FindOfficialSiteArgs struct {
	CompanyName string `json:"company_name"`
}

// FetchPageTextArgs.MaxChars of zero selects the executor default.
type FetchPageTextArgs struct {
	URL      string `json:"url"`
	MaxChars int    `json:"max_chars,omitempty"`
}

type WebSearchArgs struct {
	Query      string `json:"query"`
	NumResults int    `json:"num_results,omitempty"`
}

type SocialProfileLookupArgs struct {
	CompanyName string `json:"company_name"`
}

func (FindOfficialSiteArgs) Tool() Name    { return FindOfficialSite }
func (FetchPageTextArgs) Tool() Name       { return FetchPageText }
func (WebSearchArgs) Tool() Name           { return WebSearch }
func (SocialProfileLookupArgs) Tool() Name { return SocialProfileLookup }

func (FindOfficialSiteArgs) isCall()    {}
func (FetchPageTextArgs) isCall()       {}
func (WebSearchArgs) isCall()           {}
func (SocialProfileLookupArgs) isCall() {}

// ParseCall decodes and validates raw model arguments for the named tool.
// Out-of-range numeric arguments are clamped rather than rejected.
func ParseCall(name, arguments string) (Call, error) {
	raw := strings.TrimSpace(arguments)
	if raw == "" {
		raw = "{}"
	}

	switch Name(name) {
	case FindOfficialSite:
		var a FindOfficialSiteArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		a.CompanyName = strings.TrimSpace(a.CompanyName)
		if a.CompanyName == "" {
			return nil, fmt.Errorf("%w: company_name is required", ErrInvalidArguments)
		}
		return a, nil

	case FetchPageText:
		var a FetchPageTextArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		a.URL = strings.TrimSpace(a.URL)
		if a.URL == "" {
			return nil, fmt.Errorf("%w: url is required", ErrInvalidArguments)
		}
		a.MaxChars = clamp(a.MaxChars, 0, MaxPageMaxChars)
		return a, nil

	case WebSearch:
		var a WebSearchArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		a.Query = strings.TrimSpace(a.Query)
		if a.Query == "" {
			return nil, fmt.Errorf("%w: query is required", ErrInvalidArguments)
		}
		if a.NumResults <= 0 {
			a.NumResults = DefaultNumResults
		}
		a.NumResults = clamp(a.NumResults, 1, MaxNumResults)
		return a, nil

	case SocialProfileLookup:
		var a SocialProfileLookupArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		a.CompanyName = strings.TrimSpace(a.CompanyName)
		if a.CompanyName == "" {
			return nil, fmt.Errorf("%w: company_name is required", ErrInvalidArguments)
		}
		return a, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

func decodeArgs(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Definitions returns the schema of every tool, in the form passed to the model.
func Definitions() []models.ToolDefinition {
	return []models.ToolDefinition{
		{
			Name:        string(FindOfficialSite),
			Description: "Find the official website URL for a company by name. Call this first before fetching pages.",
			Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "company_name": {"type": "string", "description": "Company name to look up"}
  },
  "required": ["company_name"]
}`),
		},
		{
			Name:        string(FetchPageText),
			Description: "Fetch and read the text content of a URL. Use for homepages, About pages and pricing pages.",
			Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "Full URL including https://"},
    "max_chars": {"type": "integer", "description": "Maximum characters to return", "default": 6000, "maximum": 20000}
  },
  "required": ["url"]
}`),
		},
		{
			Name:        string(WebSearch),
			Description: "Search the internet for company info, news, funding or any research topic. Use specific queries.",
			Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Specific search query"},
    "num_results": {"type": "integer", "description": "Number of results", "default": 5, "maximum": 10}
  },
  "required": ["query"]
}`),
		},
		{
			Name:        string(SocialProfileLookup),
			Description: "Search for the company's LinkedIn profile: employee count, industry, key people.",
			Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "company_name": {"type": "string", "description": "Company name to look up"}
  },
  "required": ["company_name"]
}`),
		},
	}
}
