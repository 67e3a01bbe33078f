// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/providers"
)

const topicSummaryRunes = 200

// observationTask runs the six-step algorithm from the spec for one
// (bot, channel) pair once its observation delay has elapsed.
type observationTask struct {
	bot     *BotOrchestrator
	chatID  string
	channel string
}

func (t *observationTask) run(ctx context.Context) {
	key := t.bot.participationKey(t.chatID)

	history, err := t.bot.adapter.FetchHistory(ctx, t.chatID, t.bot.role.MaxObservationMessages)
	if err != nil {
		logger.WarnCF("orchestrator", "fetch history failed, aborting observation", map[string]interface{}{
			"bot": t.bot.role.BotName, "chat_id": t.chatID, "error": err.Error(),
		})
		return
	}
	if len(history) == 0 {
		return
	}

	newestUser := lastUserMessage(history)
	topicSummary := truncateRunes(newestUser, topicSummaryRunes)

	changed, previousSummary := t.bot.participation.TopicChanged(key)
	if !changed {
		same, err := t.topicUnchanged(ctx, previousSummary, topicSummary)
		if err != nil {
			logger.WarnCF("orchestrator", "topic comparison failed, aborting observation", map[string]interface{}{
				"bot": t.bot.role.BotName, "error": err.Error(),
			})
			return
		}
		if same {
			return
		}
	}

	decision, err := t.decideParticipation(ctx, history)
	if err != nil {
		logger.WarnCF("orchestrator", "participation decision failed, aborting observation", map[string]interface{}{
			"bot": t.bot.role.BotName, "error": err.Error(),
		})
		return
	}
	if decision == nil || !decision.ShouldParticipate {
		return
	}

	reply, err := t.bot.generateReply(ctx, t.chatID, history)
	if err != nil {
		logger.WarnCF("orchestrator", "reply generation failed", map[string]interface{}{
			"bot": t.bot.role.BotName, "error": err.Error(),
		})
		t.bot.sendApology(ctx, t.chatID, err)
		return
	}

	if err := t.bot.adapter.SendMessage(ctx, t.chatID, reply); err != nil {
		logger.WarnCF("orchestrator", "failed to deliver observation reply", map[string]interface{}{
			"bot": t.bot.role.BotName, "error": err.Error(),
		})
		return
	}

	t.bot.participation.Update(key, topicSummary)
}

// topicUnchanged asks the provider a strict YES/NO comparison, defaulting to
// "unchanged" (conservative: do not participate) on any unclear output.
func (t *observationTask) topicUnchanged(ctx context.Context, previous, current string) (bool, error) {
	prompt := "Compare topic A and topic B.\nTopic A: " + previous + "\nTopic B: " + current +
		"\nHas the topic changed? Answer with exactly one word: YES or NO."

	result := providers.Generate(ctx, t.bot.provider, []providers.Message{{Role: "user", Content: prompt}}, t.bot.model)
	if !result.IsOk() {
		return true, result.Failure()
	}

	answer := strings.ToUpper(strings.TrimSpace(result.Value().Text))
	switch {
	case strings.HasPrefix(answer, "YES"):
		return false, nil // changed
	case strings.HasPrefix(answer, "NO"):
		return true, nil // unchanged
	default:
		return true, nil // unclear: conservative, treat as unchanged
	}
}

func (t *observationTask) decideParticipation(ctx context.Context, history []HistoryMessage) (*decisionPayload, error) {
	prompt := "Role: " + t.bot.role.Description + "\n\nConversation so far:\n" + formatHistory(history) +
		"\n\nShould this bot participate now? Respond with only JSON: " +
		`{"shouldParticipate": true|false, "reason": "..."}`

	result := providers.Generate(ctx, t.bot.provider, []providers.Message{{Role: "user", Content: prompt}}, t.bot.model)
	if !result.IsOk() {
		return nil, result.Failure()
	}

	var payload decisionPayload
	if err := json.Unmarshal([]byte(extractJSONObject(result.Value().Text)), &payload); err != nil {
		logger.InfoCF("orchestrator", "decision JSON unparseable, treating as do-not-participate", map[string]interface{}{
			"bot": t.bot.role.BotName,
		})
		return &decisionPayload{ShouldParticipate: false}, nil
	}
	return &payload, nil
}

func lastUserMessage(history []HistoryMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].IsBot {
			return history[i].Content
		}
	}
	if len(history) > 0 {
		return history[len(history)-1].Content
	}
	return ""
}

func formatHistory(history []HistoryMessage) string {
	var b strings.Builder
	for _, m := range history {
		role := m.AuthorName
		if role == "" {
			role = m.AuthorID
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
