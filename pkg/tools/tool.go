// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package tools implements the opaque string-in/string-out skill handlers
// the intent router dispatches to by name: each Tool owns its own
// parameter schema and execution, and the router never inspects a tool's
// internals beyond Name/Description.
package tools

import (
	"context"
	"fmt"
	"sync"
)

// Tool is the contract every skill handler implements.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ContextAwareTool is implemented by tools that need to know which
// channel/chat they are currently running in (MessageTool, telegram/
// specialist tools).
type ContextAwareTool interface {
	SetContext(channel, chatID string)
}

// MetadataAwareTool is implemented by tools that need the inbound
// message's metadata (thread_id, reply_to, ...).
type MetadataAwareTool interface {
	SetMetadata(metadata map[string]string)
}

// ToolResult is what a Tool returns: ForLLM is always fed back into the
// model's context; ForUser is text meant for the user directly (left empty by
// ErrorResult, SilentResult and MessageTool); Silent suppresses also showing
// ForLLM to the user (the tool already delivered the user-visible side effect
// itself, e.g. MessageTool); IsError/Err mark a failed call so the agent loop
// can decide whether to retry.
type ToolResult struct {
	ForLLM  string
	ForUser string
	Silent  bool
	IsError bool
	Err     error
}

// ErrorResult builds a ToolResult for a failed call.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true}
}

// SilentResult builds a ToolResult whose output is fed to the model but
// never separately surfaced to the user.
func SilentResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, Silent: true}
}

// ToolRegistry is the name -> Tool lookup every skill-invoking component
// (the agent loop, MCP bridge, intent router's skill list) shares.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry builds an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: map[string]Tool{}}
}

// Register adds or replaces a tool by name.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool, or nil if not registered.
func (r *ToolRegistry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns every registered tool in no particular order.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Execute looks up a tool by name and runs it, wrapping an unknown tool
// name in the same ToolResult shape every other failure uses.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) *ToolResult {
	t := r.Get(name)
	if t == nil {
		return ErrorResult(fmt.Sprintf("unknown tool %q", name))
	}
	return t.Execute(ctx, args)
}

// ExecuteWithContext is Execute plus the per-invocation context a tool may
// need: the channel/chatID it's running in (ContextAwareTool) and the
// inbound message's metadata (MetadataAwareTool), set just before the call
// so a tool implementing either interface always sees the context of the
// message that triggered it, not a stale value from a previous invocation.
func (r *ToolRegistry) ExecuteWithContext(ctx context.Context, name, channel, chatID string, metadata map[string]string, args map[string]interface{}) *ToolResult {
	t := r.Get(name)
	if t == nil {
		return ErrorResult(fmt.Sprintf("unknown tool %q", name))
	}
	if ct, ok := t.(ContextAwareTool); ok {
		ct.SetContext(channel, chatID)
	}
	if mt, ok := t.(MetadataAwareTool); ok {
		mt.SetMetadata(metadata)
	}
	return t.Execute(ctx, args)
}
