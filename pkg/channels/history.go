// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package channels adapts concrete chat SDKs (Discord, Telegram, Slack,
// Lark, DingTalk) to pkg/orchestrator.ChannelAdapter. Each adapter is a
// thin wrapper: it owns no routing or participation logic, only
// SendMessage/FetchHistory plus whatever per-platform plumbing those two
// operations require.
package channels

import (
	"sync"

	"github.com/sipeed/picoclaw/pkg/orchestrator"
)

// historyRing keeps a bounded, oldest-first log of messages per chat
// for platforms whose bot API has no native "fetch history" call
// (Telegram, Lark, DingTalk all only push events to bots; they do not let
// a bot pull arbitrary chat history). Adapters for those platforms record
// every inbound and outbound message here as it happens, and FetchHistory
// just replays the ring.
type historyRing struct {
	mu    sync.Mutex
	cap   int
	byIDs map[string][]orchestrator.HistoryMessage
}

func newHistoryRing(capacity int) *historyRing {
	if capacity <= 0 {
		capacity = 200
	}
	return &historyRing{cap: capacity, byIDs: map[string][]orchestrator.HistoryMessage{}}
}

func (h *historyRing) record(chatID string, msg orchestrator.HistoryMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	log := append(h.byIDs[chatID], msg)
	if len(log) > h.cap {
		log = log[len(log)-h.cap:]
	}
	h.byIDs[chatID] = log
}

func (h *historyRing) fetch(chatID string, limit int) []orchestrator.HistoryMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	log := h.byIDs[chatID]
	if limit <= 0 || limit > len(log) {
		limit = len(log)
	}
	out := make([]orchestrator.HistoryMessage, limit)
	copy(out, log[len(log)-limit:])
	return out
}
