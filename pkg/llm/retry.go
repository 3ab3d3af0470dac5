// Copyright 2026 Braid Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/braid-labs/braid/pkg/types"
)

// RetryConfig tunes the chat retry loop.
type RetryConfig struct {
	MaxAttempts int           // total attempts, not counting the fallback model
	BaseDelay   time.Duration // doubles per attempt
	MaxDelay    time.Duration // backoff cap
}

// DefaultRetryConfig matches the transport retry budget: base 1s, factor
// 2, cap 8s, at most 3 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    8 * time.Second,
	}
}

// ChatWithRetry wraps a provider chat call with exponential backoff.
// Benign control errors surface immediately; context cancellation stops
// the loop between attempts.
func ChatWithRetry(ctx context.Context, provider types.LLMProvider, req types.ChatRequest, cfg RetryConfig, logger *zap.Logger) (*types.LLMResponse, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		resp, err := provider.Chat(ctx, req)
		if err == nil {
			if attempt > 1 {
				logger.Info("llm retry succeeded", zap.Int("attempt", attempt))
			}
			return resp, nil
		}
		lastErr = err

		if IsBenign(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("llm call failed (attempt %d/%d): %w", attempt, cfg.MaxAttempts, err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.Warn("llm call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("llm call failed (attempt %d/%d): %w", attempt, cfg.MaxAttempts, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return nil, fmt.Errorf("llm call failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
