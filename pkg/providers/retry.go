// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/metrics"
	"github.com/sipeed/picoclaw/pkg/opresult"
	"github.com/sipeed/picoclaw/pkg/tracing"
)

// tokenTracker records per-call usage/cost when set via SetTokenTracker.
// Left nil (the default) this is simply not recorded — callers that never
// wire one up (e.g. unit tests) pay no cost for the bookkeeping.
var tokenTracker *metrics.Tracker

// SetTokenTracker installs the process-wide token usage tracker. Called
// once from cmd/picoclaw/main.go after the workspace path is known.
func SetTokenTracker(t *metrics.Tracker) {
	tokenTracker = t
}

// GenerateOutput is the success value of the generate() contract: the
// extracted text plus the provider's raw response for callers that need it.
type GenerateOutput struct {
	Text string
	Raw  *LLMResponse
}

const (
	maxAttempts       = 2
	backoffPerAttempt = 350 * time.Millisecond
	attemptTimeout    = 20 * time.Second
)

// Generate is the spec contract: generate(messages, traceId?) →
// OperationResult<{text, raw}>. It retries transient failures with linear
// backoff and maps every error into a structured opresult.Code.
func Generate(ctx context.Context, provider LLMProvider, messages []Message, model string) opresult.Result[GenerateOutput] {
	var lastFailure *opresult.Failure

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		resp, err := provider.Chat(attemptCtx, messages, nil, model, nil)
		cancel()

		if err == nil {
			if resp == nil || strings.TrimSpace(resp.Content) == "" {
				lastFailure = opresult.NewFailure(opresult.CodeProviderInvalidResp, "provider returned empty text", false)
			} else {
				recordUsage(ctx, model, resp)
				return opresult.Ok(GenerateOutput{Text: resp.Content, Raw: resp})
			}
		} else {
			lastFailure = classifyError(err)
		}

		logger.CtxWarnCF(ctx, "providers", "generate attempt failed", map[string]interface{}{
			"attempt":   attempt,
			"traceId":   tracing.FromContext(ctx),
			"code":      lastFailure.Code,
			"retryable": lastFailure.Retryable,
		})

		if !lastFailure.Retryable || attempt == maxAttempts ||
			lastFailure.Code == opresult.CodeAuthRateLimited || lastFailure.Code == opresult.CodeProviderQuotaExceeded {
			break
		}

		select {
		case <-ctx.Done():
			return opresult.Err[GenerateOutput](opresult.NewFailure(opresult.CodeOperationCancelled, ctx.Err().Error(), false))
		case <-time.After(time.Duration(attempt) * backoffPerAttempt):
		}
	}

	return opresult.Err[GenerateOutput](lastFailure)
}

// classifyError maps a raw provider error (HTTP status embedded in the
// error string, SDK error types, or context deadline errors) onto the
// taxonomy in spec §4.5. Only 5xx and network/timeout errors are retried by
// Generate; quota and rate-limit failures carry Retryable and a Retry-After
// hint for the caller, but Generate does not retry them.
func classifyError(err error) *opresult.Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return opresult.NewFailure(opresult.CodeProviderTimeout, err.Error(), true)
	}
	if errors.Is(err, context.Canceled) {
		return opresult.NewFailure(opresult.CodeOperationCancelled, err.Error(), false)
	}

	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "401", "403", "unauthorized", "forbidden", "invalid api key", "invalid_api_key"):
		return opresult.NewFailure(opresult.CodeAuthInvalidToken, err.Error(), false)
	case containsAny(msg, "402", "quota", "insufficient_quota", "billing"):
		return opresult.NewFailure(opresult.CodeProviderQuotaExceeded, err.Error(), true).WithRetryAfter(60000)
	case containsAny(msg, "429", "rate limit", "rate_limit", "too many requests"):
		return opresult.NewFailure(opresult.CodeAuthRateLimited, err.Error(), true).WithRetryAfter(1000)
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return opresult.NewFailure(opresult.CodeProviderTimeout, err.Error(), true)
	case containsAny(msg, "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout", "connection reset", "connection refused", "eof"):
		return opresult.NewFailure(opresult.CodeProviderUnavailable, err.Error(), true)
	default:
		// Unknown shape: treat as a permanent provider error rather than
		// silently retrying something that might be a 4xx we failed to
		// recognize as such.
		return opresult.NewFailure(opresult.CodeProviderUnavailable, err.Error(), false)
	}
}

// recordUsage appends one TokenEvent for a successful Chat call, when a
// tracker has been installed and the provider reported usage.
func recordUsage(ctx context.Context, model string, resp *LLMResponse) {
	if tokenTracker == nil || resp.Usage == nil {
		return
	}
	tokenTracker.Record(metrics.TokenEvent{
		SessionKey:   tracing.FromContext(ctx),
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
