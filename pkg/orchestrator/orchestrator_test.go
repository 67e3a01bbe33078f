package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/router"
	"github.com/sipeed/picoclaw/pkg/tools"
)

type fakeAdapter struct {
	sent []string
}

func (a *fakeAdapter) SendMessage(ctx context.Context, chatID, content string) error {
	a.sent = append(a.sent, content)
	return nil
}

func (a *fakeAdapter) FetchHistory(ctx context.Context, chatID string, limit int) ([]HistoryMessage, error) {
	return nil, nil
}

type stubTool struct {
	name    string
	result  *tools.ToolResult
	gotArgs map[string]interface{}
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) *tools.ToolResult {
	s.gotArgs = args
	return s.result
}

func newTestOrchestrator(adapter *fakeAdapter, registry *tools.ToolRegistry) *BotOrchestrator {
	role := Role{
		BotName:  "lead",
		Strategy: StrategyAlwaysOnUserQuestion,
	}
	return New(role, Deps{
		Adapter:             adapter,
		Tools:               registry,
		ParticipationMaxAge: time.Minute,
	})
}

func TestRunSkill_DecodesJSONInput(t *testing.T) {
	stub := &stubTool{name: "echo", result: tools.SilentResult("done")}
	registry := tools.NewToolRegistry()
	registry.Register(stub)

	bo := newTestOrchestrator(&fakeAdapter{}, registry)

	decision := router.Decision{
		Action:     router.ActionRunSkill,
		SkillName:  "echo",
		SkillInput: `{"query":"hello"}`,
	}
	result := bo.runSkill(context.Background(), "telegram", "chat-1", nil, decision)

	if !result.Silent {
		t.Fatalf("expected silent result, got %+v", result)
	}
	if stub.gotArgs["query"] != "hello" {
		t.Fatalf("expected decoded JSON arg, got %+v", stub.gotArgs)
	}
}

func TestRunSkill_FallsBackToPlainInputField(t *testing.T) {
	stub := &stubTool{name: "echo", result: tools.SilentResult("done")}
	registry := tools.NewToolRegistry()
	registry.Register(stub)

	bo := newTestOrchestrator(&fakeAdapter{}, registry)

	decision := router.Decision{
		Action:     router.ActionRunSkill,
		SkillName:  "echo",
		SkillInput: "not json",
	}
	bo.runSkill(context.Background(), "telegram", "chat-1", nil, decision)

	if stub.gotArgs["input"] != "not json" {
		t.Fatalf("expected plain input field, got %+v", stub.gotArgs)
	}
}

func TestRunSkill_NoRegistryReturnsError(t *testing.T) {
	bo := newTestOrchestrator(&fakeAdapter{}, nil)

	result := bo.runSkill(context.Background(), "telegram", "chat-1", nil, router.Decision{SkillName: "echo"})
	if !result.IsError {
		t.Fatalf("expected error result with no tool registry, got %+v", result)
	}
}

func TestOnMessage_QueueFullReturnsBackpressureFailure(t *testing.T) {
	adapter := &fakeAdapter{}
	bo := newTestOrchestrator(adapter, nil)

	// Fill the queue past its bound so the next Enqueue fails.
	q := bo.queueFor("chat-1")
	for i := 0; i < defaultQueueBound+1; i++ {
		q.Enqueue(bus.InboundMessage{ChatID: "chat-1", Content: "msg"})
	}

	f := bo.OnMessage(context.Background(), bus.InboundMessage{ChatID: "chat-1", Content: "one more"})
	if f == nil {
		t.Fatal("expected a backpressure failure once the queue is full")
	}
	if len(adapter.sent) == 0 {
		t.Fatal("expected an apology to be sent to the channel")
	}
}

func TestSendApology_UsesFailureUserMessage(t *testing.T) {
	adapter := &fakeAdapter{}
	bo := newTestOrchestrator(adapter, nil)

	bo.sendApology(context.Background(), "chat-1", errors.New("boom"))
	if len(adapter.sent) != 1 {
		t.Fatalf("expected exactly one apology sent, got %d", len(adapter.sent))
	}
}
