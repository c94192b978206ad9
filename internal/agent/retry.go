package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/agentiq/internal/ai"
	"github.com/kiranshivaraju/agentiq/pkg/models"
)

var ErrRetriesExhausted = errors.New("model call retries exhausted")

// callWithRetry issues one model call under the retry policy:
// timeouts and rate limits back off exponentially from the base delay,
// provider API and connection errors get a single retry after the base
// delay, anything else aborts immediately.
func (a *Agent) callWithRetry(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	var lastErr error
	retriedAPIError := false

	for attempt := 0; attempt < a.cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		resp, err := a.provider.Chat(callCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return models.ChatResponse{}, fmt.Errorf("model call interrupted: %w", ctx.Err())
		}

		delay := a.cfg.RetryBaseDelay
		switch {
		case ai.IsTransient(err):
			delay = a.cfg.RetryBaseDelay << attempt
		case errors.Is(err, ai.ErrProviderAPI), errors.Is(err, ai.ErrProviderUnavailable):
			if retriedAPIError {
				return models.ChatResponse{}, err
			}
			retriedAPIError = true
		default:
			slog.Error("unexpected model error", "provider", a.provider.Name(), "error", err)
			return models.ChatResponse{}, err
		}

		if attempt == a.cfg.MaxRetries-1 {
			break
		}
		slog.Warn("model call failed, retrying",
			"provider", a.provider.Name(),
			"attempt", attempt+1,
			"max_attempts", a.cfg.MaxRetries,
			"wait", delay.String(),
			"error", err,
		)
		if err := a.sleep(ctx, delay); err != nil {
			return models.ChatResponse{}, fmt.Errorf("model call interrupted: %w", err)
		}
	}

	return models.ChatResponse{}, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}
