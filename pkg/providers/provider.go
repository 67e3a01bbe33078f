// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package providers wraps every LLM backend (Anthropic, OpenAI, GitHub
// Copilot) behind one Chat contract, and layers a retry/fallback chain and
// structured error mapping on top so the rest of the core only ever speaks
// opresult.Result[GenerateOutput].
package providers

import "context"

// Message is one turn in a flat conversation. Role is one of "system",
// "user", "assistant", or "tool".
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a model-issued invocation of a registered tool/skill.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
	Function  *FunctionCall
}

// FunctionCall mirrors the OpenAI-style function-call shape some providers
// emit before arguments are parsed into a map.
type FunctionCall struct {
	Name      string
	Arguments string
}

// ToolDefinition describes a callable tool/skill to the model.
type ToolDefinition struct {
	Type     string
	Function FunctionDefinition
}

// FunctionDefinition is the JSON-schema shaped description of a tool.
type FunctionDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// UsageInfo reports token accounting for a single Chat call.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMResponse is a provider's raw response to a Chat call.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *UsageInfo
}

// StreamCallback receives incremental content chunks from a streaming Chat
// call; providers that cannot stream simply never invoke it.
type StreamCallback func(chunk string)

// LLMProvider is the minimal contract every backend satisfies.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}

// StreamingProvider is implemented by providers that can stream content
// incrementally; callers type-assert for it.
type StreamingProvider interface {
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error)
}
