// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package providers

import (
	"context"
	"fmt"

	"github.com/sipeed/picoclaw/pkg/logger"
)

// Hop pairs a provider with the model name to request from it. Exported so
// callers outside this package can build a chain of arbitrary length
// without reaching into unexported fields.
type Hop struct {
	provider LLMProvider
	model    string
}

// NewHop constructs one link of the chain.
func NewHop(provider LLMProvider, model string) Hop {
	return Hop{provider: provider, model: model}
}

// ChainProvider tries an ordered list of providers, falling through to the
// next on failure. It generalizes the teacher's two-provider FallbackProvider
// into the Claude -> OpenAI -> Copilot chain the domain stack wires up.
type ChainProvider struct {
	hops []Hop
}

// NewChainProvider builds a chain from (provider, model) pairs in priority
// order. The first hop is also exposed as GetDefaultModel.
func NewChainProvider(hops ...Hop) *ChainProvider {
	return &ChainProvider{hops: hops}
}

// NewFallbackProvider keeps the teacher's original two-hop constructor as a
// thin convenience wrapper over the generalized chain.
func NewFallbackProvider(primary LLMProvider, fallback LLMProvider, primaryModel, fallbackModel string) *ChainProvider {
	return NewChainProvider(NewHop(primary, primaryModel), NewHop(fallback, fallbackModel))
}

func (c *ChainProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	var lastErr error
	for i, h := range c.hops {
		useModel := model
		if i > 0 || useModel == "" {
			useModel = h.model
		}
		resp, err := h.provider.Chat(ctx, messages, tools, useModel, options)
		if err == nil {
			return resp, nil
		}
		logger.WarnCF("fallback", fmt.Sprintf("hop %d (%s) failed: %v", i, useModel, err), nil)
		lastErr = err
	}
	return nil, fmt.Errorf("all %d provider hops failed, last error: %w", len(c.hops), lastErr)
}

func (c *ChainProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error) {
	var lastErr error
	for i, h := range c.hops {
		useModel := model
		if i > 0 || useModel == "" {
			useModel = h.model
		}
		if sp, ok := h.provider.(StreamingProvider); ok {
			resp, err := sp.ChatStream(ctx, messages, tools, useModel, options, onContent)
			if err == nil {
				return resp, nil
			}
			lastErr = err
		} else {
			resp, err := h.provider.Chat(ctx, messages, tools, useModel, options)
			if err == nil {
				return resp, nil
			}
			lastErr = err
		}
		logger.WarnCF("fallback", fmt.Sprintf("streaming hop %d (%s) failed: %v", i, useModel, lastErr), nil)
	}
	return nil, fmt.Errorf("all %d provider hops failed, last error: %w", len(c.hops), lastErr)
}

func (c *ChainProvider) GetDefaultModel() string {
	if len(c.hops) == 0 {
		return ""
	}
	return c.hops[0].model
}

// Primary returns the first hop's provider, kept for compatibility with
// callers that inspected the old two-hop FallbackProvider directly.
func (c *ChainProvider) Primary() LLMProvider {
	if len(c.hops) == 0 {
		return nil
	}
	return c.hops[0].provider
}
