// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	dtclient "github.com/open-dingtalk/dingtalk-stream-sdk-go/client"
	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/orchestrator"
)

// DingTalkAdapter wraps a DingTalk stream-mode chatbot client. DingTalk
// chatbots reply through a per-message session webhook rather than a
// stable "send to chat id" endpoint, so SendMessage looks up the most
// recent webhook seen for chatID and POSTs to it directly; FetchHistory,
// like Telegram and Lark, replays a local ring buffer.
type DingTalkAdapter struct {
	streamCli  *dtclient.StreamClient
	msgBus     *bus.MessageBus
	history    *historyRing
	httpClient *http.Client

	mu       sync.Mutex
	webhooks map[string]string // chatID -> latest sessionWebhook
}

type dingTalkReply struct {
	MsgType string             `json:"msgtype"`
	Text    dingTalkReplyText  `json:"text"`
}

type dingTalkReplyText struct {
	Content string `json:"content"`
}

// NewDingTalkAdapter connects the stream client and republishes chatbot
// messages onto msgBus.
func NewDingTalkAdapter(ctx context.Context, clientID, clientSecret string, msgBus *bus.MessageBus) (*DingTalkAdapter, error) {
	a := &DingTalkAdapter{
		msgBus:     msgBus,
		history:    newHistoryRing(200),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		webhooks:   map[string]string{},
	}

	a.streamCli = dtclient.NewStreamClient(dtclient.WithAppCredential(dtclient.NewAppCredentialConfig(clientID, clientSecret)))
	a.streamCli.RegisterChatBotCallbackRouter(chatbot.NewDefaultChatBotFrameRouter(a.onChatMessage))

	go func() {
		if err := a.streamCli.Start(ctx); err != nil {
			logger.ErrorCF("channels.dingtalk", "stream connection closed", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.InfoCF("channels.dingtalk", "stream client started", nil)
	return a, nil
}

func (a *DingTalkAdapter) onChatMessage(ctx context.Context, data *chatbot.ChatbotMessage) ([]byte, error) {
	chatID := data.ConversationId
	if chatID == "" {
		return nil, nil
	}

	a.mu.Lock()
	a.webhooks[chatID] = data.SessionWebhook
	a.mu.Unlock()

	a.history.record(chatID, orchestrator.HistoryMessage{
		AuthorID:   data.SenderId,
		AuthorName: data.SenderNick,
		Content:    data.Text.Content,
	})

	if a.msgBus != nil {
		a.msgBus.PublishInbound(bus.InboundMessage{
			Channel:  "dingtalk",
			SenderID: data.SenderId,
			ChatID:   chatID,
			Content:  data.Text.Content,
			Metadata: map[string]string{"authorName": data.SenderNick},
		})
	}
	return nil, nil
}

func (a *DingTalkAdapter) SendMessage(ctx context.Context, chatID, content string) error {
	a.mu.Lock()
	webhook := a.webhooks[chatID]
	a.mu.Unlock()

	if webhook == "" {
		return fmt.Errorf("dingtalk: no session webhook on file for chat %q", chatID)
	}

	payload, err := json.Marshal(dingTalkReply{MsgType: "text", Text: dingTalkReplyText{Content: content}})
	if err != nil {
		return fmt.Errorf("dingtalk: encode reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("dingtalk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dingtalk: post reply: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("dingtalk: session webhook returned status %d", resp.StatusCode)
	}

	a.history.record(chatID, orchestrator.HistoryMessage{IsBot: true, Content: content})
	return nil
}

func (a *DingTalkAdapter) FetchHistory(ctx context.Context, chatID string, limit int) ([]orchestrator.HistoryMessage, error) {
	return a.history.fetch(chatID, limit), nil
}
