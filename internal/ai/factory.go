package ai

import (
	"fmt"

	"github.com/kiranshivaraju/agentiq/internal/config"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

// ProviderBuilder constructs a chat provider for one named endpoint. It is
// supplied by the caller so this package stays free of transport imports.
type ProviderBuilder func(name string, cfg config.ProviderConfig) models.ChatProvider

// NewProvider constructs the configured provider. Called once at startup;
// a missing credential for a hosted provider is fatal.
func NewProvider(cfg config.AIConfig, build ProviderBuilder) (models.ChatProvider, error) {
	switch cfg.Provider {
	case "groq", "openai":
		pc := cfg.Selected()
		if pc.APIKey == "" {
			return nil, fmt.Errorf("%w: %s requires an API key", ErrMissingCredential, cfg.Provider)
		}
		return build(cfg.Provider, pc), nil
	case "vllm", "ollama":
		return build(cfg.Provider, cfg.Selected()), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of groq, openai, vllm, ollama", cfg.Provider)
	}
}
