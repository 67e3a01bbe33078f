// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package channels

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/orchestrator"
)

// DiscordAdapter wraps one discordgo.Session as a ChannelAdapter. Unlike
// Telegram/Lark/DingTalk, Discord's REST API can fetch channel history
// directly, so FetchHistory hits the API rather than a local cache.
type DiscordAdapter struct {
	session *discordgo.Session
	msgBus  *bus.MessageBus
	selfID  string
}

// NewDiscordAdapter opens a bot-token session and wires its message-create
// events onto msgBus as inbound messages.
func NewDiscordAdapter(token string, msgBus *bus.MessageBus) (*DiscordAdapter, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages

	a := &DiscordAdapter{session: session, msgBus: msgBus}
	session.AddHandler(a.onMessageCreate)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	a.selfID = session.State.User.ID

	logger.InfoCF("channels.discord", "session opened", map[string]interface{}{"botID": a.selfID})
	return a, nil
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.selfID {
		return
	}
	if a.msgBus == nil {
		return
	}
	a.msgBus.PublishInbound(bus.InboundMessage{
		Channel:  "discord",
		SenderID: m.Author.ID,
		ChatID:   m.ChannelID,
		Content:  m.Content,
		Metadata: map[string]string{
			"authorName": m.Author.Username,
			"isBot":      fmt.Sprintf("%t", m.Author.Bot),
		},
	})
}

func (a *DiscordAdapter) SendMessage(ctx context.Context, chatID, content string) error {
	_, err := a.session.ChannelMessageSend(chatID, content, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

func (a *DiscordAdapter) FetchHistory(ctx context.Context, chatID string, limit int) ([]orchestrator.HistoryMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := a.session.ChannelMessages(chatID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetch history: %w", err)
	}

	out := make([]orchestrator.HistoryMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		out = append(out, orchestrator.HistoryMessage{
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Username,
			IsBot:      m.Author.Bot,
			Content:    m.Content,
		})
	}
	return out, nil
}

// Close shuts down the underlying Discord session, releasing its gateway
// websocket.
func (a *DiscordAdapter) Close() error {
	return a.session.Close()
}
