// Package agent runs the tool-calling research conversation that turns one
// company name into one stored EnrichmentResult.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentiq/internal/config"
	"github.com/kiranshivaraju/agentiq/internal/tools"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

var ErrNoProvider = errors.New("agent: no model provider configured")

// ToolRunner executes model-requested tool calls. Implementations must not
// fail; problems are reported inside the returned text.
type ToolRunner interface {
	Execute(ctx context.Context, call models.ToolCall) string
}

// Sink persists one result together with its usage record. created is false
// when a result for the same (job, input name) already exists.
type Sink interface {
	SaveEnrichment(ctx context.Context, result *models.EnrichmentResult, usage *models.UsageRecord) (created bool, err error)
}

// Config bounds one enrichment run.
type Config struct {
	MaxToolIterations int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	CallTimeout       time.Duration
	MaxTokens         int
	Temperature       float64
}

// ConfigFrom assembles a Config from the process configuration.
func ConfigFrom(aiCfg config.AIConfig, agentCfg config.AgentConfig) Config {
	return Config{
		MaxToolIterations: agentCfg.MaxToolIterations,
		MaxRetries:        agentCfg.MaxRetries,
		RetryBaseDelay:    agentCfg.RetryBaseDelay,
		CallTimeout:       aiCfg.InferenceTimeout,
		MaxTokens:         aiCfg.MaxTokens,
		Temperature:       aiCfg.Temperature,
	}
}

// Input is one item to research. JobID is nil for ad-hoc runs.
type Input struct {
	TenantID uuid.UUID
	JobID    *uuid.UUID
	Name     string
	Hint     *string
	// Context holds caller-supplied facts appended to the research prompt.
	Context  map[string]string
}

// Outcome is the stored result of one run.
type Outcome struct {
	Result     *models.EnrichmentResult
	Created    bool
	Iterations int
}

// Agent drives the model through the research steps.
type Agent struct {
	cfg      Config
	provider models.ChatProvider
	tools    ToolRunner
	sink     Sink

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates an Agent. A missing provider is a startup error.
func New(cfg Config, provider models.ChatProvider, toolRunner ToolRunner, sink Sink) (*Agent, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if toolRunner == nil {
		return nil, errors.New("agent: tool runner is required")
	}
	if sink == nil {
		return nil, errors.New("agent: result sink is required")
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 15
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	return &Agent{
		cfg:      cfg,
		provider: provider,
		tools:    toolRunner,
		sink:     sink,
		sleep:    sleepContext,
		now:      time.Now,
	}, nil
}

// Model reports the model identifier recorded on results.
func (a *Agent) Model() string { return a.provider.Model() }

// transcript is what one conversation produced.
type transcript struct {
	text       string
	tokens     int
	toolCalls  int
	iterations int
	err        error
}

// Enrich researches one item and persists exactly one result and one usage
// record. Model failures and unparseable output are stored as a failed
// result; only persistence errors are returned.
func (a *Agent) Enrich(ctx context.Context, in Input) (*Outcome, error) {
	start := a.now()
	slog.Info("enriching company", "company", in.Name, "job_id", in.JobID)

	t := a.converse(ctx, in)

	stats := RunStats{
		Model:      a.provider.Model(),
		Tokens:     t.tokens,
		ToolCalls:  t.toolCalls,
		Iterations: t.iterations,
		Elapsed:    a.now().Sub(start),
		EnrichedAt: a.now().UTC(),
	}

	var result *models.EnrichmentResult
	if data, ok := ExtractJSON(t.text); ok {
		result = BuildResult(in, data, stats)
	} else if t.text == "" && t.err != nil {
		result = FailedResult(in, stats, "Model call failed: "+t.err.Error())
	} else {
		result = FailedResult(in, stats, "Could not parse agent output. Preview: "+truncateRunes(t.text, 300))
	}

	usage := UsageFor(result, stats)
	created, err := a.sink.SaveEnrichment(ctx, result, usage)
	if err != nil {
		return nil, fmt.Errorf("saving enrichment for %q: %w", in.Name, err)
	}

	confidence := 0
	if result.ConfidenceScore != nil {
		confidence = *result.ConfidenceScore
	}
	slog.Info("enrichment finished",
		"company", in.Name,
		"status", result.Status,
		"confidence", confidence,
		"tokens", stats.Tokens,
		"tool_calls", stats.ToolCalls,
		"iterations", stats.Iterations,
		"processing_ms", result.ProcessingTimeMs,
		"created", created,
	)

	return &Outcome{Result: result, Created: created, Iterations: t.iterations}, nil
}

// converse runs the START -> AWAIT_MODEL -> DONE loop.
func (a *Agent) converse(ctx context.Context, in Input) transcript {
	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: systemPrompt},
		{Role: models.RoleUser, Content: userPrompt(in)},
	}
	defs := tools.Definitions()

	var t transcript
	var best string
	for t.iterations < a.cfg.MaxToolIterations {
		t.iterations++

		resp, err := a.callWithRetry(ctx, models.ChatRequest{
			Messages:    messages,
			Tools:       defs,
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
		})
		if err != nil {
			t.err = err
			break
		}

		t.tokens += tokenCount(resp.Usage)
		if resp.Content != "" {
			best = resp.Content
		}

		if resp.FinishReason == models.FinishStop {
			t.text = resp.Content
			return t
		}

		if resp.FinishReason == models.FinishToolCalls && len(resp.ToolCalls) > 0 {
			messages = append(messages, models.ChatMessage{
				Role:      models.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, call := range resp.ToolCalls {
				t.toolCalls++
				slog.Debug("tool call", "company", in.Name, "tool", call.Name, "iteration", t.iterations)
				out := a.tools.Execute(ctx, call)
				messages = append(messages, models.ChatMessage{
					Role:       models.RoleTool,
					ToolCallID: call.ID,
					Name:       call.Name,
					Content:    out,
				})
			}
			continue
		}

		t.text = resp.Content
		return t
	}

	if t.err == nil {
		slog.Warn("tool iteration cap reached", "company", in.Name, "iterations", t.iterations)
	}
	t.text = best
	return t
}

func tokenCount(u models.TokenUsage) int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
