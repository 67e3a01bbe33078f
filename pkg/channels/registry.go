// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package channels

import (
	"context"
	"fmt"

	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/config"
	"github.com/sipeed/picoclaw/pkg/orchestrator"
)

// Closer is implemented by adapters that hold a live connection needing a
// clean shutdown.
type Closer interface {
	Close() error
}

// BuildAdapters opens one channel adapter per channel name named in bot's
// Channels list that has a matching credential, keyed by channel name so
// the orchestrator can look up "discord"/"telegram"/etc per bot. A
// credential-less channel name is skipped rather than treated as fatal,
// since a bot may legitimately only speak on some of its configured
// channels in a given deployment.
func BuildAdapters(ctx context.Context, bot config.BotConfig, msgBus *bus.MessageBus) (map[string]orchestrator.ChannelAdapter, error) {
	adapters := map[string]orchestrator.ChannelAdapter{}

	for _, name := range bot.Channels {
		var (
			adapter orchestrator.ChannelAdapter
			err     error
		)

		switch name {
		case "discord":
			if bot.DiscordToken == "" {
				continue
			}
			adapter, err = NewDiscordAdapter(bot.DiscordToken, msgBus)
		case "telegram":
			if bot.TelegramToken == "" {
				continue
			}
			adapter, err = NewTelegramAdapter(ctx, bot.TelegramToken, msgBus)
		case "slack":
			if bot.SlackToken == "" {
				continue
			}
			adapter, err = NewSlackAdapter(bot.SlackToken, msgBus)
		case "lark":
			if bot.LarkAppID == "" || bot.LarkAppSecret == "" {
				continue
			}
			adapter, err = NewLarkAdapter(ctx, bot.LarkAppID, bot.LarkAppSecret, msgBus)
		case "dingtalk":
			if bot.DingTalkClientID == "" || bot.DingTalkClientSecret == "" {
				continue
			}
			adapter, err = NewDingTalkAdapter(ctx, bot.DingTalkClientID, bot.DingTalkClientSecret, msgBus)
		default:
			continue
		}

		if err != nil {
			return adapters, fmt.Errorf("channels: start %s adapter for bot %q: %w", name, bot.Name, err)
		}
		adapters[name] = adapter
	}

	return adapters, nil
}

// CloseAll shuts down every adapter that supports it, collecting but not
// short-circuiting on individual close errors.
func CloseAll(adapters map[string]orchestrator.ChannelAdapter) error {
	var firstErr error
	for name, a := range adapters {
		closer, ok := a.(Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("channels: close %s adapter: %w", name, err)
		}
	}
	return firstErr
}
