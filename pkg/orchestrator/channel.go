// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package orchestrator runs one BotOrchestrator per (bot, channel) pair:
// it observes inbound messages, decides whether and when each bot should
// participate, and drives the reply back out through a ChannelAdapter.
package orchestrator

import "context"

// HistoryMessage is one entry in a channel's recent history, covering both
// human and sibling-bot authorship.
type HistoryMessage struct {
	AuthorID   string
	AuthorName string
	IsBot      bool
	Content    string
}

// ChannelAdapter is the contract every channel-specific adapter (Discord,
// Telegram, Slack, Lark, DingTalk) implements so the orchestrator never
// imports a channel SDK directly.
type ChannelAdapter interface {
	SendMessage(ctx context.Context, chatID, content string) error
	FetchHistory(ctx context.Context, chatID string, limit int) ([]HistoryMessage, error)
}
