package ai_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kiranshivaraju/agentiq/internal/ai"
	"github.com/kiranshivaraju/agentiq/internal/ai/mock"
	"github.com/kiranshivaraju/agentiq/internal/config"
	"github.com/kiranshivaraju/agentiq/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingBuilder(gotName *string, gotCfg *config.ProviderConfig) ai.ProviderBuilder {
	return func(name string, cfg config.ProviderConfig) models.ChatProvider {
		*gotName = name
		*gotCfg = cfg
		p := mock.NewMockProvider()
		p.Name_ = name
		p.Model_ = cfg.Model
		return p
	}
}

func TestNewProvider_Groq(t *testing.T) {
	var name string
	var pc config.ProviderConfig
	cfg := config.AIConfig{
		Provider: "groq",
		Groq:     config.ProviderConfig{BaseURL: "https://api.groq.com/openai/v1", APIKey: "gsk-test", Model: "llama-3.3-70b-versatile"},
	}
	p, err := ai.NewProvider(cfg, recordingBuilder(&name, &pc))
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())
	assert.Equal(t, "llama-3.3-70b-versatile", p.Model())
	assert.Equal(t, "gsk-test", pc.APIKey)
}

func TestNewProvider_OpenAIRequiresKey(t *testing.T) {
	var name string
	var pc config.ProviderConfig
	cfg := config.AIConfig{
		Provider: "openai",
		OpenAI:   config.ProviderConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
	}
	_, err := ai.NewProvider(cfg, recordingBuilder(&name, &pc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ai.ErrMissingCredential))
	assert.Empty(t, name, "builder must not run without a credential")
}

func TestNewProvider_SelfHostedNeedsNoKey(t *testing.T) {
	for _, provider := range []string{"vllm", "ollama"} {
		t.Run(provider, func(t *testing.T) {
			var name string
			var pc config.ProviderConfig
			cfg := config.AIConfig{
				Provider: provider,
				VLLM:     config.ProviderConfig{BaseURL: "http://localhost:8000/v1", Model: "mistral-7b"},
				Ollama:   config.ProviderConfig{BaseURL: "http://localhost:11434/v1", Model: "llama3.1"},
			}
			p, err := ai.NewProvider(cfg, recordingBuilder(&name, &pc))
			require.NoError(t, err)
			assert.Equal(t, provider, p.Name())
			assert.Equal(t, cfg.Selected(), pc)
		})
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	var name string
	var pc config.ProviderConfig
	_, err := ai.NewProvider(config.AIConfig{Provider: "unknown-provider"}, recordingBuilder(&name, &pc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown AI provider")
	assert.Contains(t, err.Error(), "unknown-provider")
}

func TestAPIError_Is(t *testing.T) {
	limited := &ai.APIError{StatusCode: 429, Body: "slow down"}
	assert.True(t, errors.Is(limited, ai.ErrRateLimited))
	assert.False(t, errors.Is(limited, ai.ErrProviderAPI))
	assert.True(t, ai.IsTransient(limited))

	broken := &ai.APIError{StatusCode: 500, Body: "boom"}
	assert.True(t, errors.Is(broken, ai.ErrProviderAPI))
	assert.False(t, ai.IsTransient(broken))
	assert.Contains(t, broken.Error(), "HTTP 500")
}

func TestIsTransient(t *testing.T) {
	assert.True(t, ai.IsTransient(ai.ErrInferenceTimeout))
	assert.False(t, ai.IsTransient(ai.ErrProviderUnavailable))
	assert.False(t, ai.IsTransient(context.Canceled))
}
