// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/providers"
)

// StrategyKind selects how a bot decides whether to participate.
type StrategyKind string

const (
	StrategyAlwaysOnUserQuestion StrategyKind = "alwaysOnUserQuestion"
	StrategyAIDecide             StrategyKind = "aiDecide"
)

const (
	minObservationDelay     = 2 * time.Second
	maxObservationDelay     = 15 * time.Second
	defaultObservationDelay = 5 * time.Second
)

// Role describes one bot's participation behavior.
type Role struct {
	BotName                string
	DisplayName            string
	Description            string
	Strategy               StrategyKind
	ObservationDelay       time.Duration // resolved once at startup, fixed for process lifetime
	MaxObservationMessages int
}

// ResolveObservationDelay queries the provider for a reasonable delay when
// configuredMs is zero, per the spec's "zero hardcoding" rule: the delay is
// asked for once, at startup, and never changes afterward for the process.
func ResolveObservationDelay(ctx context.Context, provider providers.LLMProvider, model string, roleDescription string, configuredMs int) time.Duration {
	if configuredMs > 0 {
		return time.Duration(configuredMs) * time.Millisecond
	}

	prompt := "A chat bot has this role: " + roleDescription +
		". Given this role, how many seconds should it wait after a new user question before deciding whether to jump into the conversation? " +
		"Reply with only an integer number of seconds between 2 and 15."

	result := providers.Generate(ctx, provider, []providers.Message{{Role: "user", Content: prompt}}, model)
	if !result.IsOk() {
		logger.WarnCF("orchestrator", "observation delay query failed, using default", map[string]interface{}{"error": result.Failure().Error()})
		return defaultObservationDelay
	}

	text := strings.TrimSpace(result.Value().Text)
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	seconds, err := strconv.Atoi(digits)
	if err != nil || seconds < 2 || seconds > 15 {
		logger.InfoCF("orchestrator", "observation delay out of range, using default", map[string]interface{}{"raw": text})
		return defaultObservationDelay
	}
	return time.Duration(seconds) * time.Second
}

// decisionPayload is the structured JSON response from the decision call in
// observation.go step 5.
type decisionPayload struct {
	ShouldParticipate bool   `json:"shouldParticipate"`
	Reason            string `json:"reason"`
}
