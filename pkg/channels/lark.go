// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package channels

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/orchestrator"
)

// LarkAdapter wraps a Lark (Feishu) API client plus its long-connection
// event websocket. Lark bots, like Telegram and DingTalk, have no "fetch
// arbitrary history" endpoint available to a generic app credential, so
// FetchHistory replays a local ring buffer.
type LarkAdapter struct {
	client  *lark.Client
	wsCli   *larkws.Client
	msgBus  *bus.MessageBus
	history *historyRing
}

type larkTextContent struct {
	Text string `json:"text"`
}

// NewLarkAdapter opens the event long-connection and republishes
// im.message.receive_v1 events onto msgBus.
func NewLarkAdapter(ctx context.Context, appID, appSecret string, msgBus *bus.MessageBus) (*LarkAdapter, error) {
	client := lark.NewClient(appID, appSecret)
	a := &LarkAdapter{client: client, msgBus: msgBus, history: newHistoryRing(200)}

	handler := larkevent.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(a.onMessageReceive)

	a.wsCli = larkws.NewClient(appID, appSecret, larkws.WithEventHandler(handler))
	go func() {
		if err := a.wsCli.Start(ctx); err != nil {
			logger.ErrorCF("channels.lark", "event connection closed", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.InfoCF("channels.lark", "event connection started", nil)
	return a, nil
}

func (a *LarkAdapter) onMessageReceive(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
	if event.Event == nil || event.Event.Message == nil || event.Event.Sender == nil {
		return nil
	}
	msg := event.Event.Message
	chatID := msg.ChatId
	if chatID == nil {
		return nil
	}

	var content larkTextContent
	text := ""
	if msg.Content != nil {
		if err := json.Unmarshal([]byte(*msg.Content), &content); err == nil {
			text = content.Text
		}
	}

	senderID := ""
	if event.Event.Sender.SenderId != nil && event.Event.Sender.SenderId.OpenId != nil {
		senderID = *event.Event.Sender.SenderId.OpenId
	}

	a.history.record(*chatID, orchestrator.HistoryMessage{
		AuthorID: senderID,
		Content:  text,
	})

	if a.msgBus == nil {
		return nil
	}
	a.msgBus.PublishInbound(bus.InboundMessage{
		Channel:  "lark",
		SenderID: senderID,
		ChatID:   *chatID,
		Content:  text,
	})
	return nil
}

func (a *LarkAdapter) SendMessage(ctx context.Context, chatID, content string) error {
	body, err := json.Marshal(larkTextContent{Text: content})
	if err != nil {
		return fmt.Errorf("lark: encode message body: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("chat_id").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType("text").
			Content(string(body)).
			Build()).
		Build()

	resp, err := a.client.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("lark: create message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("lark: create message: %s", resp.Msg)
	}

	a.history.record(chatID, orchestrator.HistoryMessage{IsBot: true, Content: content})
	return nil
}

func (a *LarkAdapter) FetchHistory(ctx context.Context, chatID string, limit int) ([]orchestrator.HistoryMessage, error) {
	return a.history.fetch(chatID, limit), nil
}
