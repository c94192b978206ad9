// Package models contains shared data models used across the AgentIQ codebase.
package models

import (
	"context"
	"encoding/json"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported by the model provider.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// ChatProvider is the interface every language-model integration implements.
// Never call a specific provider directly; always inject this interface.
type ChatProvider interface {
	// Chat runs one blocking completion over the full conversation history.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider identifier (e.g., "groq", "openai").
	Name() string
	// Model returns the model identifier sent with each request.
	Model() string
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a model-directed invocation of one named tool.
// Arguments holds the raw JSON object produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises one tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatRequest is the input to a ChatProvider call.
type ChatRequest struct {
	Messages    []ChatMessage
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// TokenUsage reports the tokens billed for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the output of a ChatProvider call.
type ChatResponse struct {
	FinishReason string
	Content      string
	ToolCalls    []ToolCall
	Usage        TokenUsage
}
