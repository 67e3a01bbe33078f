package tools

import (
	"context"
	"testing"
)

type contextAwareStub struct {
	channel, chatID string
	metadata        map[string]string
}

func (s *contextAwareStub) Name() string        { return "ctx-stub" }
func (s *contextAwareStub) Description() string { return "stub" }
func (s *contextAwareStub) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (s *contextAwareStub) SetContext(channel, chatID string) {
	s.channel, s.chatID = channel, chatID
}
func (s *contextAwareStub) SetMetadata(metadata map[string]string) {
	s.metadata = metadata
}
func (s *contextAwareStub) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	return SilentResult(s.channel + ":" + s.chatID)
}

func TestExecuteWithContext_SetsContextAndMetadataBeforeExecute(t *testing.T) {
	stub := &contextAwareStub{}
	registry := NewToolRegistry()
	registry.Register(stub)

	result := registry.ExecuteWithContext(context.Background(), "ctx-stub", "telegram", "chat-1",
		map[string]string{"thread_id": "9"}, map[string]interface{}{})

	if result.ForLLM != "telegram:chat-1" {
		t.Fatalf("expected tool to see injected channel/chatID, got %q", result.ForLLM)
	}
	if stub.metadata["thread_id"] != "9" {
		t.Fatalf("expected metadata to be injected, got %+v", stub.metadata)
	}
}

func TestExecuteWithContext_UnknownToolReturnsError(t *testing.T) {
	registry := NewToolRegistry()
	result := registry.ExecuteWithContext(context.Background(), "missing", "telegram", "chat-1", nil, nil)
	if !result.IsError {
		t.Fatalf("expected error result for unknown tool, got %+v", result)
	}
}
