package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/kiranshivaraju/agentiq/internal/cache"
)

const maxSearchBody = 2 << 20

type searchTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

// searchResponse is the subset of the DuckDuckGo Instant Answer payload we use.
// Grouped topics carry no Text and are skipped.
type searchResponse struct {
	AbstractText  string        `json:"AbstractText"`
	AbstractURL   string        `json:"AbstractURL"`
	RelatedTopics []searchTopic `json:"RelatedTopics"`
}

func (e *Executor) webSearch(ctx context.Context, query string, numResults int) (string, error) {
	resp, err := e.search(ctx, query)
	if err != nil {
		return "", err
	}

	var lines []string
	if resp.AbstractText != "" {
		lines = append(lines, "Summary: "+resp.AbstractText)
		if resp.AbstractURL != "" {
			lines = append(lines, "Source: "+resp.AbstractURL)
		}
	}
	n := 0
	for _, topic := range resp.RelatedTopics {
		if n >= numResults {
			break
		}
		if topic.Text == "" {
			continue
		}
		lines = append(lines, "- "+topic.Text)
		if topic.FirstURL != "" {
			lines = append(lines, "  URL: "+topic.FirstURL)
		}
		n++
	}

	if len(lines) == 0 {
		return "No results found for: " + query, nil
	}
	return strings.Join(lines, "\n"), nil
}

func (e *Executor) findOfficialSite(ctx context.Context, companyName string) (string, error) {
	resp, err := e.search(ctx, companyName+" official website")
	if err != nil {
		return "", err
	}

	site := resp.AbstractURL
	if site == "" {
		for i, topic := range resp.RelatedTopics {
			if i >= 3 {
				break
			}
			if topic.FirstURL != "" {
				site = topic.FirstURL
				break
			}
		}
	}
	if site == "" {
		return "Could not find website for " + companyName, nil
	}
	return fmt.Sprintf("Official website for %s: %s", companyName, site), nil
}

// search queries the instant answer API, consulting the cache first.
// Cache failures are logged and never fail the lookup.
func (e *Executor) search(ctx context.Context, query string) (*searchResponse, error) {
	key := cache.ToolResultKey(string(WebSearch), query)
	if e.cache != nil {
		if raw, ok, err := e.cache.Get(ctx, key); err != nil {
			slog.Warn("search cache read failed", "error", err)
		} else if ok {
			var cached searchResponse
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	out, err := e.searchBreaker.Execute(func() (interface{}, error) {
		return e.doSearch(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	resp := out.(*searchResponse)

	if e.cache != nil {
		if raw, err := json.Marshal(resp); err == nil {
			if err := e.cache.Set(ctx, key, raw, e.cacheTTL); err != nil {
				slog.Warn("search cache write failed", "error", err)
			}
		}
	}
	return resp, nil
}

func (e *Executor) doSearch(ctx context.Context, query string) (*searchResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	e.setBrowserHeaders(req)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode}
	}

	var decoded searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSearchBody)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &decoded, nil
}
