package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/agentiq/internal/cache"
	"github.com/kiranshivaraju/agentiq/internal/config"
	"github.com/kiranshivaraju/agentiq/pkg/models"
	"github.com/sony/gobreaker"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36"

// Executor runs tool calls. Execute never fails: every error is rendered
// as a string prefixed "Error: " so the agent loop can keep going.
type Executor struct {
	httpClient   *http.Client
	searchURL    string
	userAgent    string
	pageMaxChars int
	cache        cache.Cache
	cacheTTL     time.Duration

	searchBreaker *gobreaker.CircuitBreaker
	fetchBreaker  *gobreaker.CircuitBreaker
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient overrides the HTTP client built from the config timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

// NewExecutor creates an Executor. The cache is optional; nil disables
// search result caching.
func NewExecutor(cfg config.ToolsConfig, c cache.Cache, opts ...Option) *Executor {
	e := &Executor{
		httpClient:    &http.Client{Timeout: cfg.HTTPTimeout},
		searchURL:     cfg.SearchURL,
		userAgent:     cfg.UserAgent,
		pageMaxChars:  cfg.PageMaxChars,
		cache:         c,
		cacheTTL:      cfg.SearchCacheTTL,
		searchBreaker: newBreaker("web_search"),
		fetchBreaker:  newBreaker("fetch_page"),
	}
	if e.userAgent == "" {
		e.userAgent = defaultUserAgent
	}
	if e.pageMaxChars <= 0 {
		e.pageMaxChars = DefaultPageMaxChars
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 4xx from one site says nothing about the upstream's health.
		IsSuccessful: func(err error) bool {
			var se *statusError
			return err == nil || (errors.As(err, &se) && se.code < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("tool circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Execute validates and runs one model-requested tool call.
func (e *Executor) Execute(ctx context.Context, tc models.ToolCall) string {
	call, err := ParseCall(tc.Name, tc.Arguments)
	if err != nil {
		if errors.Is(err, ErrUnknownTool) {
			return fmt.Sprintf("Error: unknown tool %q", tc.Name)
		}
		return fmt.Sprintf("Error: %s: %v", tc.Name, err)
	}

	out, err := e.Run(ctx, call)
	if err != nil {
		slog.Debug("tool call failed", "tool", tc.Name, "error", err)
		return fmt.Sprintf("Error: %s failed: %v", tc.Name, err)
	}
	return out
}

// Run dispatches an already-validated call.
func (e *Executor) Run(ctx context.Context, call Call) (string, error) {
	switch c := call.(type) {
	case FindOfficialSiteArgs:
		return e.findOfficialSite(ctx, c.CompanyName)
	case FetchPageTextArgs:
		maxChars := c.MaxChars
		if maxChars == 0 {
			maxChars = e.pageMaxChars
		}
		return e.fetchPageText(ctx, c.URL, maxChars)
	case WebSearchArgs:
		return e.webSearch(ctx, c.Query, c.NumResults)
	case SocialProfileLookupArgs:
		return e.webSearch(ctx, "site:linkedin.com/company "+c.CompanyName, 3)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownTool, call)
	}
}

// statusError reports a non-success HTTP status from an upstream.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.code)
}

func (e *Executor) setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
}
