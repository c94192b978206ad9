// Package openai implements models.ChatProvider against any OpenAI-compatible
// chat-completions endpoint (Groq, OpenAI, vLLM, Ollama).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/agentiq/internal/ai"
	"github.com/kiranshivaraju/agentiq/internal/config"
	"github.com/kiranshivaraju/agentiq/pkg/models"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// Provider implements models.ChatProvider over HTTP.
type Provider struct {
	name       string
	cfg        config.ProviderConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithLimiter paces outbound requests. A nil limiter disables pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(p *Provider) { p.limiter = l }
}

// NewProvider creates a Provider reporting itself as name.
func NewProvider(name string, cfg config.ProviderConfig, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		cfg:        cfg,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.cfg.Model }

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Arguments   string          `json:"arguments,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   *string        `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage models.TokenUsage `json:"usage"`
}

// Chat sends one chat-completions request. Errors are classified into the
// sentinels in package ai so callers can apply their retry policy.
func (p *Provider) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return models.ChatResponse{}, fmt.Errorf("%w: waiting for rate limiter: %v", ai.ErrInferenceTimeout, err)
		}
	}

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("encode chat request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.ChatResponse{}, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return models.ChatResponse{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.ChatResponse{}, &ai.APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if ctx.Err() != nil {
			return models.ChatResponse{}, classifyError(err)
		}
		return models.ChatResponse{}, fmt.Errorf("%w: decode response: %v", ai.ErrInvalidResponse, err)
	}
	if len(decoded.Choices) == 0 {
		return models.ChatResponse{}, fmt.Errorf("%w: no choices in response", ai.ErrInvalidResponse)
	}

	choice := decoded.Choices[0]
	out := models.ChatResponse{
		FinishReason: choice.FinishReason,
		Usage:        decoded.Usage,
	}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Type != "" && tc.Type != "function" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (p *Provider) buildRequest(req models.ChatRequest) chatRequest {
	out := chatRequest{
		Model:       p.cfg.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		wm := wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out.Messages = append(out.Messages, wm)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = "auto"
	}
	return out
}

// classifyError maps transport errors to ai sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ai.ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ai.ErrInferenceTimeout, err)
	}

	return fmt.Errorf("%w: %v", ai.ErrProviderUnavailable, err)
}

// NewLimiter builds a limiter allowing requestsPerMinute calls with a burst of one.
// Returns nil when requestsPerMinute is not positive.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

var _ models.ChatProvider = (*Provider)(nil)
