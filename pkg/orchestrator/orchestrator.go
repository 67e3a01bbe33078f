// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/media"
	"github.com/sipeed/picoclaw/pkg/opresult"
	"github.com/sipeed/picoclaw/pkg/providers"
	"github.com/sipeed/picoclaw/pkg/router"
	"github.com/sipeed/picoclaw/pkg/tools"
)

const defaultWorkerPoolSize = 5

// streamUpdateInterval throttles how often a streaming reply's partial text
// is pushed to the channel adapter, matching the teacher's own
// 1.5s-per-edit Telegram rate-limit budget.
const streamUpdateInterval = 1500 * time.Millisecond

// BotOrchestrator owns every (channel, chatID) observation/participation
// state machine for one configured bot. Observation tasks for different
// channels run independently; within one channel at most one task is active
// at a time, enforced by activeObservation.
type BotOrchestrator struct {
	role     Role
	channel  string
	adapter  ChannelAdapter
	provider providers.LLMProvider
	model    string
	router   *router.Router      // non-nil only for the alwaysOnUserQuestion lead bot
	tools    *tools.ToolRegistry // non-nil only for the alwaysOnUserQuestion lead bot
	msgBus   *bus.MessageBus     // non-nil enables streaming partial replies as OutboundMessages

	participation *participationStore

	mu        sync.Mutex
	queues    map[string]*boundedQueue // chatID -> queue
	activeObs map[string]bool          // chatID -> observation task in flight
	workerSem chan struct{}
	wg        sync.WaitGroup
}

// Deps bundles the orchestrator's external collaborators.
type Deps struct {
	Channel             string
	Adapter             ChannelAdapter
	Provider            providers.LLMProvider
	Model               string
	Router              *router.Router
	Tools               *tools.ToolRegistry
	MsgBus              *bus.MessageBus
	ParticipationMaxAge time.Duration
}

// New builds a BotOrchestrator for one configured bot role.
func New(role Role, deps Deps) *BotOrchestrator {
	return &BotOrchestrator{
		role:          role,
		channel:       deps.Channel,
		adapter:       deps.Adapter,
		provider:      deps.Provider,
		model:         deps.Model,
		router:        deps.Router,
		tools:         deps.Tools,
		msgBus:        deps.MsgBus,
		participation: newParticipationStore(deps.ParticipationMaxAge),
		queues:        map[string]*boundedQueue{},
		activeObs:     map[string]bool{},
		workerSem:     make(chan struct{}, defaultWorkerPoolSize),
	}
}

func (b *BotOrchestrator) participationKey(chatID string) string {
	return b.role.BotName + ":" + chatID
}

func (b *BotOrchestrator) queueFor(chatID string) *boundedQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[chatID]
	if !ok {
		q = newBoundedQueue(defaultQueueBound)
		b.queues[chatID] = q
	}
	return q
}

// OnMessage enqueues an inbound message for processing. Returns a Failure
// with BACKPRESSURE_QUEUE_FULL when the per-channel queue is saturated, after
// sending the user-visible apology to the chat itself.
func (b *BotOrchestrator) OnMessage(ctx context.Context, msg bus.InboundMessage) *opresult.Failure {
	q := b.queueFor(msg.ChatID)
	if !q.Enqueue(msg) {
		b.sendApology(ctx, msg.ChatID, nil)
		return opresult.NewFailure(opresult.CodeBackpressureQueueFull, "observation queue full for chat "+msg.ChatID, false)
	}

	go b.dispatch(ctx, msg)
	return nil
}

// dispatch applies the role strategy to one freshly enqueued message.
func (b *BotOrchestrator) dispatch(ctx context.Context, msg bus.InboundMessage) {
	select {
	case b.workerSem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-b.workerSem }()

	switch b.role.Strategy {
	case StrategyAlwaysOnUserQuestion:
		b.handleLead(ctx, msg)
	default:
		b.scheduleObservation(ctx, msg.ChatID, msg.Channel)
	}
}

// handleLead implements alwaysOnUserQuestion: route immediately and reply.
func (b *BotOrchestrator) handleLead(ctx context.Context, msg bus.InboundMessage) {
	if b.router == nil {
		logger.WarnCF("orchestrator", "lead bot has no router configured", map[string]interface{}{"bot": b.role.BotName})
		return
	}

	content := appendMediaContext(msg.Content, msg.Media)
	decision := b.router.Route(ctx, content, "")
	if !decision.IsOk() {
		b.sendApology(ctx, msg.ChatID, decision.Failure())
		return
	}

	var reply string
	switch decision.Value().Action {
	case router.ActionClarify:
		reply = decision.Value().ClarificationText
	case router.ActionRunSkill:
		result := b.runSkill(ctx, msg.Channel, msg.ChatID, msg.Metadata, decision.Value())
		if result.IsError {
			b.sendApology(ctx, msg.ChatID, result.Err)
			return
		}
		if result.Silent {
			// The skill already delivered its own user-visible side effect
			// (e.g. MessageTool); nothing further to send.
			return
		}
		reply = result.ForLLM
	default:
		var err error
		reply, err = b.generateReply(ctx, msg.ChatID, []HistoryMessage{{AuthorID: msg.SenderID, Content: content}})
		if err != nil {
			b.sendApology(ctx, msg.ChatID, err)
			return
		}
	}

	if err := b.adapter.SendMessage(ctx, msg.ChatID, reply); err != nil {
		logger.WarnCF("orchestrator", "failed to deliver lead reply", map[string]interface{}{"error": err.Error()})
	}
}

// scheduleObservation implements aiDecide: a pending task for this chat is
// not reset by new messages — it completes on its original schedule.
func (b *BotOrchestrator) scheduleObservation(ctx context.Context, chatID, channel string) {
	b.mu.Lock()
	if b.activeObs[chatID] {
		b.mu.Unlock()
		return
	}
	b.activeObs[chatID] = true
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			b.activeObs[chatID] = false
			b.mu.Unlock()
		}()

		select {
		case <-time.After(b.role.ObservationDelay):
		case <-ctx.Done():
			return
		}

		task := &observationTask{bot: b, chatID: chatID, channel: channel}
		task.run(ctx)
	}()
}

// runSkill dispatches a router ActionRunSkill decision to the tool
// registry. SkillInput is the router's free-form text input for the skill;
// tools that expect structured arguments receive it decoded as JSON when it
// parses as an object, and as a single "input" field otherwise. channel/
// chatID/metadata are applied to the tool before Execute via
// ExecuteWithContext, mirroring the teacher's updateToolContexts step before
// every tool call.
func (b *BotOrchestrator) runSkill(ctx context.Context, channel, chatID string, metadata map[string]string, d router.Decision) *tools.ToolResult {
	if b.tools == nil {
		return tools.ErrorResult("no tool registry configured for this bot")
	}

	args := map[string]interface{}{}
	if d.SkillInput != "" {
		if err := json.Unmarshal([]byte(d.SkillInput), &args); err != nil {
			args = map[string]interface{}{"input": d.SkillInput}
		}
	}

	return b.tools.ExecuteWithContext(ctx, d.SkillName, channel, chatID, metadata, args)
}

// generateReply builds the reply prompt and asks the provider for a
// completion. When the provider supports streaming (providers.StreamingProvider)
// and msgBus is configured, partial output is accumulated through a
// bus.StreamNotifier and published onto the bus as throttled OutboundMessages
// so a WebSocket or console consumer can show live progress; the final,
// complete text is still what's returned and delivered via the channel
// adapter's normal SendMessage, exactly as the non-streaming path does.
func (b *BotOrchestrator) generateReply(ctx context.Context, chatID string, history []HistoryMessage) (string, error) {
	prompt := "Role: " + b.role.Description + "\n\n" + formatHistory(history)
	messages := []providers.Message{{Role: "user", Content: prompt}}

	streamer, ok := b.provider.(providers.StreamingProvider)
	if !ok || b.msgBus == nil {
		result := providers.Generate(ctx, b.provider, messages, b.model)
		if !result.IsOk() {
			return "", result.Failure()
		}
		return result.Value().Text, nil
	}

	notifier := bus.NewStreamNotifier(streamUpdateInterval, func(fullText string) {
		b.msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: b.channel, BotID: b.role.BotName, ChatID: chatID, Content: fullText,
			Metadata: map[string]string{"partial": "true"},
		})
	})
	resp, err := streamer.ChatStream(ctx, messages, nil, b.model, nil, notifier.Append)
	notifier.Flush()
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// appendMediaContext folds processed media attachments into the textual
// content the router and provider see: text parts are inlined verbatim,
// other parts get a placeholder describing what was attached, since
// providers.Message carries plain text only.
func appendMediaContext(content string, parts []media.ContentPart) string {
	if len(parts) == 0 {
		return content
	}
	var b strings.Builder
	b.WriteString(content)
	for _, p := range parts {
		switch p.Type {
		case "text":
			fmt.Fprintf(&b, "\n\n[attachment %s]\n%s", p.FileName, p.Text)
		case "image":
			fmt.Fprintf(&b, "\n\n[attached image %s, %s, base64-encoded, %d bytes]", p.FileName, p.MediaType, len(p.Data))
		default:
			fmt.Fprintf(&b, "\n\n[attachment %s (%s) could not be processed]", p.FileName, p.MediaType)
		}
	}
	return b.String()
}

// sendApology reports failure to the channel with a user-friendly message
// derived from the error code, per the spec's failure semantics.
func (b *BotOrchestrator) sendApology(ctx context.Context, chatID string, err error) {
	msg := opresult.UserMessage(opresult.CodeSystemInternal)
	if f, ok := err.(*opresult.Failure); ok {
		msg = f.UserMessage
	}
	if sendErr := b.adapter.SendMessage(ctx, chatID, msg); sendErr != nil {
		logger.WarnCF("orchestrator", "failed to deliver apology", map[string]interface{}{"error": sendErr.Error()})
	}
}

// Shutdown clears participation records and drains in-flight observation
// work before returning. Callers are expected to cancel the context they
// passed into OnMessage/dispatch beforehand, which unblocks any pending
// observation timers.
func (b *BotOrchestrator) Shutdown() {
	b.wg.Wait()
	b.participation.Clear()

	b.mu.Lock()
	for chatID, q := range b.queues {
		dropped := len(q.Drain())
		if dropped > 0 {
			logger.InfoCF("orchestrator", "discarded queued messages on shutdown", map[string]interface{}{
				"bot": b.role.BotName, "chat_id": chatID, "count": dropped,
			})
		}
	}
	b.mu.Unlock()
}
