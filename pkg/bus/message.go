// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package bus is the channel-agnostic message backbone: every channel
// adapter publishes InboundMessage onto it and consumes OutboundMessage from
// it, so the orchestrator and providers never import a channel SDK directly.
package bus

import (
	"context"

	"github.com/sipeed/picoclaw/pkg/media"
)

// InboundMessage is one message arriving from any channel adapter.
type InboundMessage struct {
	Channel    string            // "discord" | "telegram" | "slack" | "lark" | "dingtalk" | "system" | "cli"
	BotID      string            // which configured bot slot received it
	SenderID   string            // platform-native user id
	ChatID     string            // platform-native chat/channel id
	SessionKey string            // session.Key.Encode() — the routing key for pending/interrupt queues
	Content    string
	Media      []media.ContentPart
	Metadata   map[string]string // thread_id, message_id, reply_to, etc.
}

// OutboundMessage is one message to deliver back out through a channel
// adapter.
type OutboundMessage struct {
	Channel  string
	BotID    string
	ChatID   string
	Content  string
	Metadata map[string]string
}

// MessageBus is an in-process pub/sub backbone: channel adapters publish
// InboundMessage; the orchestrator consumes InboundMessage and publishes
// OutboundMessage, which a single consumer delivers to adapters. Both
// directions are buffered channels rather than a broker, since everything
// here runs in a single process.
type MessageBus struct {
	inbound      chan InboundMessage
	outbound     chan OutboundMessage
	outboundSubs []chan OutboundMessage
}

// NewMessageBus creates a bus with the given inbound buffer size.
func NewMessageBus(inboundBuffer int) *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, inboundBuffer),
		outbound: make(chan OutboundMessage, inboundBuffer),
	}
}

// PublishInbound enqueues a message from a channel adapter. Blocks if the
// inbound buffer is full, applying natural backpressure to slow adapters.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound pops the next inbound message, or returns !ok if ctx is
// cancelled first.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a message for delivery on the shared outbound
// channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// ConsumeOutbound pops the next outbound message, or returns !ok if ctx is
// cancelled first. Each message goes to exactly one consumer, which routes
// it to the matching adapter.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}
