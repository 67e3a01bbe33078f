// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package channels

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/media"
	"github.com/sipeed/picoclaw/pkg/orchestrator"
)

// TelegramAdapter wraps one telego.Bot as a ChannelAdapter. The Bot API has
// no "fetch arbitrary history" endpoint, so FetchHistory replays a local
// ring buffer filled as updates arrive.
type TelegramAdapter struct {
	bot     *telego.Bot
	msgBus  *bus.MessageBus
	history *historyRing
}

// NewTelegramAdapter creates the bot client and starts a long-polling loop
// that both records history and republishes updates onto msgBus.
func NewTelegramAdapter(ctx context.Context, token string, msgBus *bus.MessageBus) (*TelegramAdapter, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}

	a := &TelegramAdapter{bot: bot, msgBus: msgBus, history: newHistoryRing(200)}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: start long polling: %w", err)
	}
	go a.consumeUpdates(updates)

	logger.InfoCF("channels.telegram", "long polling started", nil)
	return a, nil
}

func (a *TelegramAdapter) consumeUpdates(updates <-chan telego.Update) {
	for update := range updates {
		if update.Message == nil || update.Message.From == nil {
			continue
		}
		m := update.Message
		chatID := strconv.FormatInt(m.Chat.ID, 10)

		a.history.record(chatID, orchestrator.HistoryMessage{
			AuthorID:   strconv.FormatInt(m.From.ID, 10),
			AuthorName: m.From.Username,
			IsBot:      m.From.IsBot,
			Content:    m.Text,
		})

		if a.msgBus == nil || m.From.IsBot {
			continue
		}

		media := a.downloadAttachment(context.Background(), m)
		a.msgBus.PublishInbound(bus.InboundMessage{
			Channel:  "telegram",
			SenderID: strconv.FormatInt(m.From.ID, 10),
			ChatID:   chatID,
			Content:  m.Text,
			Metadata: map[string]string{"authorName": m.From.Username},
			Media:    media,
		})
	}
}

// downloadAttachment fetches the highest-resolution photo or the document
// attached to one update, if any, and runs it through media.ProcessFile so
// the orchestrator can fold it into the LLM's context. A download or
// processing failure is logged and treated as "no attachment" rather than
// dropping the whole message.
func (a *TelegramAdapter) downloadAttachment(ctx context.Context, m *telego.Message) []media.ContentPart {
	var fileID, fileName string
	switch {
	case m.Document != nil:
		fileID = m.Document.FileID
		fileName = m.Document.FileName
	case len(m.Photo) > 0:
		largest := m.Photo[len(m.Photo)-1]
		fileID = largest.FileID
		fileName = largest.FileID + ".jpg"
	default:
		return nil
	}
	if fileName == "" {
		fileName = fileID
	}

	part, err := a.fetchAndProcess(ctx, fileID, fileName)
	if err != nil {
		logger.WarnCF("channels.telegram", "attachment download failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return []media.ContentPart{*part}
}

func (a *TelegramAdapter) fetchAndProcess(ctx context.Context, fileID, fileName string) (*media.ContentPart, error) {
	tgFile, err := a.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.bot.FileDownloadURL(tgFile.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp("", "picoclaw-telegram-*-"+filepath.Base(fileName))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	part, err := media.ProcessFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("process file: %w", err)
	}
	part.FileName = fileName
	return part, nil
}

func (a *TelegramAdapter) SendMessage(ctx context.Context, chatID, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}

	msg, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(id), content))
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}

	a.history.record(chatID, orchestrator.HistoryMessage{
		AuthorID: strconv.FormatInt(msg.From.ID, 10),
		IsBot:    true,
		Content:  content,
	})
	return nil
}

func (a *TelegramAdapter) FetchHistory(ctx context.Context, chatID string, limit int) ([]orchestrator.HistoryMessage, error) {
	return a.history.fetch(chatID, limit), nil
}

// Close stops the long-polling loop.
func (a *TelegramAdapter) Close() error {
	a.bot.StopLongPolling()
	return nil
}

// Bot exposes the underlying telego client so admin-facing tools (e.g.
// ManageTelegramTool) can issue Bot API calls beyond SendMessage/FetchHistory.
func (a *TelegramAdapter) Bot() *telego.Bot {
	return a.bot
}
