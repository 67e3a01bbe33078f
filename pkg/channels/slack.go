// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package channels

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/orchestrator"
)

// SlackAdapter wraps one slack.Client plus its RTM connection. Slack's
// conversations.history API lets FetchHistory hit the API directly, unlike
// Telegram/Lark/DingTalk.
type SlackAdapter struct {
	client *slack.Client
	rtm    *slack.RTM
	msgBus *bus.MessageBus
	selfID string
}

// NewSlackAdapter opens an RTM connection and republishes message events
// onto msgBus.
func NewSlackAdapter(token string, msgBus *bus.MessageBus) (*SlackAdapter, error) {
	client := slack.New(token)
	auth, err := client.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	rtm := client.NewRTM()
	a := &SlackAdapter{client: client, rtm: rtm, msgBus: msgBus, selfID: auth.UserID}

	go rtm.ManageConnection()
	go a.consumeEvents()

	logger.InfoCF("channels.slack", "rtm connected", map[string]interface{}{"botID": auth.UserID})
	return a, nil
}

func (a *SlackAdapter) consumeEvents() {
	for msg := range a.rtm.IncomingEvents {
		ev, ok := msg.Data.(*slack.MessageEvent)
		if !ok || ev.User == a.selfID || ev.BotID != "" {
			continue
		}
		if a.msgBus == nil {
			continue
		}
		a.msgBus.PublishInbound(bus.InboundMessage{
			Channel:  "slack",
			SenderID: ev.User,
			ChatID:   ev.Channel,
			Content:  ev.Text,
		})
	}
}

func (a *SlackAdapter) SendMessage(ctx context.Context, chatID, content string) error {
	_, _, err := a.client.PostMessageContext(ctx, chatID, slack.MsgOptionText(content, false))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func (a *SlackAdapter) FetchHistory(ctx context.Context, chatID string, limit int) ([]orchestrator.HistoryMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	resp, err := a.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: chatID,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("slack: conversation history: %w", err)
	}

	out := make([]orchestrator.HistoryMessage, 0, len(resp.Messages))
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		out = append(out, orchestrator.HistoryMessage{
			AuthorID: m.User,
			IsBot:    m.BotID != "",
			Content:  m.Text,
		})
	}
	return out, nil
}

// Close disconnects the RTM connection.
func (a *SlackAdapter) Close() error {
	return a.rtm.Disconnect()
}
