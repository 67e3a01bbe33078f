// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/providers"
)

const (
	softConflictThreshold = 0.7
	hardConflictThreshold = 0.9

	// incompatibleImportanceDecay is applied to the superseded memory's
	// importance when the provider judges two equal-explicitness soft
	// conflicts incompatible, rather than deleting it outright.
	incompatibleImportanceDecay = 0.5
)

type conflictKind int

const (
	conflictNone conflictKind = iota
	conflictReplace
	conflictSkip
	// conflictIncompatible marks an existing memory whose importance should
	// be halved and superseded-by reference recorded, without removing it.
	conflictIncompatible
)

const compatibilityPrompt = `You are checking whether two personal-memory statements about the same user are compatible (can both remain true) or contradict each other.

Existing memory: %q
New statement: %q

Answer with exactly one word: COMPATIBLE or CONTRADICTS.`

type conflictAction struct {
	kind      conflictKind
	replaceID string
	existing  *MemoryVector
}

// SetConflictResolver wires the LLM used to break ties between two
// equal-explicitness soft conflicts. Without it, resolveConflicts falls back
// to keeping both memories side by side for that tier (the pre-provider
// behavior), since there's no way to ask whether they actually contradict.
func (s *Store) SetConflictResolver(provider providers.LLMProvider, model string) {
	s.resolverProvider = provider
	s.resolverModel = model
}

// askCompatible asks the configured provider whether an existing memory and
// a new candidate statement can both be true. Defaults to "compatible" (no
// action) on any error or unparseable answer, so a flaky provider call never
// silently deletes a memory.
func (s *Store) askCompatible(ctx context.Context, existing, candidate string) bool {
	if s.resolverProvider == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	prompt := fmt.Sprintf(compatibilityPrompt, existing, candidate)
	resp, err := s.resolverProvider.Chat(ctx, []providers.Message{{Role: "user", Content: prompt}}, nil, s.resolverModel, map[string]interface{}{
		"max_tokens":  8,
		"temperature": 0.0,
	})
	if err != nil {
		logger.WarnCF("memory", "conflict resolver call failed, keeping both memories", map[string]interface{}{"error": err.Error()})
		return true
	}

	return !strings.Contains(strings.ToUpper(resp.Content), "CONTRADICT")
}

// resolveConflicts compares a freshly-embedded candidate against the
// user's existing memories, following the spec's tiered thresholds:
//
//   - similarity < 0.7:  no conflict, insert as new
//   - 0.7 <= similarity < 0.9: soft conflict. One side implicit and the
//     other explicit: the explicit statement wins outright, no LLM call
//     needed. Both explicit or both implicit: askCompatible decides whether
//     they coexist or the existing one is marked superseded.
//   - similarity >= 0.9: hard conflict, candidate replaces the closest match
//
// Explicit statements always outrank implicit ones regardless of tier: a
// user directly saying "I live in Berlin now" overrides an inferred memory
// even at soft-conflict similarity.
func (s *Store) resolveConflicts(ctx context.Context, candidate *MemoryVector) (conflictAction, error) {
	s.mu.RLock()
	existing := s.candidatesLocked(candidate.UserID, "", candidate.Timestamp.AddDate(-10, 0, 0))
	s.mu.RUnlock()

	var bestSim float32
	var best *MemoryVector
	for _, v := range existing {
		sim := CosineSimilarity(candidate.Embedding, v.Embedding)
		if sim > bestSim {
			bestSim = sim
			best = v
		}
	}

	if best == nil || bestSim < softConflictThreshold {
		return conflictAction{kind: conflictNone}, nil
	}

	if candidate.Explicit && !best.Explicit {
		logger.InfoCF("memory", "explicit statement overrides inferred memory", map[string]interface{}{
			"user": candidate.UserID, "similarity": bestSim,
		})
		return conflictAction{kind: conflictReplace, replaceID: best.ID}, nil
	}
	if !candidate.Explicit && best.Explicit {
		return conflictAction{kind: conflictSkip, existing: best}, nil
	}

	if bestSim >= hardConflictThreshold {
		return conflictAction{kind: conflictReplace, replaceID: best.ID}, nil
	}

	// Soft conflict between two memories of equal explicitness: ask the
	// provider whether they actually contradict before deciding. Compatible
	// statements are kept side by side; incompatible ones halve the existing
	// memory's importance and record a supersededBy pointer instead of
	// deleting it outright, so it can still surface via hybrid search but
	// decays out of lifecycle promotion.
	if s.askCompatible(ctx, best.Content, candidate.Content) {
		return conflictAction{kind: conflictNone}, nil
	}
	return conflictAction{kind: conflictIncompatible, replaceID: best.ID, existing: best}, nil
}
