package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/agentiq/internal/ai"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

// MockProvider satisfies models.ChatProvider for testing.
type MockProvider struct {
	Name_    string
	Model_   string
	ChatFunc func(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)

	mu       sync.Mutex
	requests []models.ChatRequest
}

func (m *MockProvider) Name() string  { return m.Name_ }
func (m *MockProvider) Model() string { return m.Model_ }

func (m *MockProvider) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return models.ChatResponse{FinishReason: models.FinishStop, Content: "{}"}, nil
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []models.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ChatRequest(nil), m.requests...)
}

// Calls returns the number of Chat invocations.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Step is one scripted provider reply.
type Step struct {
	Response models.ChatResponse
	Err      error
}

// NewMockProvider returns a MockProvider that answers with an empty JSON object.
func NewMockProvider() *MockProvider {
	return &MockProvider{Name_: "mock", Model_: "mock-v1"}
}

// NewScriptedProvider replays steps in order. Once exhausted it keeps
// returning the last step.
func NewScriptedProvider(steps ...Step) *MockProvider {
	var (
		mu sync.Mutex
		i  int
	)
	return &MockProvider{
		Name_:  "mock",
		Model_: "mock-v1",
		ChatFunc: func(_ context.Context, _ models.ChatRequest) (models.ChatResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(steps) == 0 {
				return models.ChatResponse{FinishReason: models.FinishStop}, nil
			}
			s := steps[min(i, len(steps)-1)]
			i++
			return s.Response, s.Err
		},
	}
}

// ToolCallStep scripts a reply requesting a single tool call.
func ToolCallStep(id, name, arguments string) Step {
	return Step{Response: models.ChatResponse{
		FinishReason: models.FinishToolCalls,
		ToolCalls:    []models.ToolCall{{ID: id, Name: name, Arguments: arguments}},
		Usage:        models.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}}
}

// FinalStep scripts a terminal reply carrying content.
func FinalStep(content string) Step {
	return Step{Response: models.ChatResponse{
		FinishReason: models.FinishStop,
		Content:      content,
		Usage:        models.TokenUsage{PromptTokens: 200, CompletionTokens: 80, TotalTokens: 280},
	}}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_:  "mock-failing",
		Model_: "mock-v1",
		ChatFunc: func(_ context.Context, _ models.ChatRequest) (models.ChatResponse, error) {
			return models.ChatResponse{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_:  "mock-timeout",
		Model_: "mock-v1",
		ChatFunc: func(ctx context.Context, _ models.ChatRequest) (models.ChatResponse, error) {
			<-ctx.Done()
			return models.ChatResponse{}, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements ChatProvider.
var _ models.ChatProvider = (*MockProvider)(nil)
