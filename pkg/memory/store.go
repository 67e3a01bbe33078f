// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/providers"
)

// LifecycleType is the stage a memory occupies, from ephemeral scratch notes
// through to facts the user has explicitly pinned.
type LifecycleType string

const (
	LifecycleShortTerm LifecycleType = "shortTerm"
	LifecycleMidTerm   LifecycleType = "midTerm"
	LifecycleLongTerm  LifecycleType = "longTerm"
	LifecycleProfile   LifecycleType = "profile"
	LifecyclePinned    LifecycleType = "pinned"
)

// MemoryVector is one stored memory: its text, embedding, and the metadata
// the hybrid scorer and lifecycle job both read.
type MemoryVector struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId"`
	Content      string        `json:"content"`
	Embedding    []float32     `json:"embedding"`
	EmbedModel   string        `json:"embedModel"`
	Lifecycle    LifecycleType `json:"lifecycle"`
	Importance   float32       `json:"importance"` // 0..1, author- or extractor-assigned
	Explicit     bool          `json:"explicit"`    // user stated it directly vs. inferred
	Timestamp    time.Time     `json:"timestamp"`
	LastAccessed time.Time     `json:"lastAccessed"`
	AccessCount  int           `json:"accessCount"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// searchCtx bundles a context.Context so HybridSearch's signature reads
// naturally at call sites (ctx.Context) without importing context directly
// into hybrid.go's otherwise context-free import list.
type searchCtx struct {
	context.Context
}

// SearchCtx wraps a context.Context for HybridSearch.
func SearchCtx(ctx context.Context) searchCtx {
	return searchCtx{ctx}
}

// Store is the in-memory, periodically-persisted MemoryVector collection.
// Reads take the RLock; every mutation goes through scheduleSave so bursts
// of writes collapse into one disk flush (see persistence.go).
type Store struct {
	mu         sync.RWMutex
	vectors    map[string]*MemoryVector
	embeddings *EmbeddingService
	tx         *transactionLog
	persist    *persister

	// resolverProvider/resolverModel back the LLM compatibility check
	// resolveConflicts runs for equal-explicitness soft conflicts; set via
	// SetConflictResolver. Both remain nil/empty until the caller wires one.
	resolverProvider providers.LLMProvider
	resolverModel    string
}

// NewStore builds an empty store. Call Load to hydrate from disk.
func NewStore(embeddings *EmbeddingService, persist *persister) *Store {
	return &Store{
		vectors:    map[string]*MemoryVector{},
		embeddings: embeddings,
		tx:         newTransactionLog(),
		persist:    persist,
	}
}

// OpenStore builds a Store backed by workspace/memory/vectors.json: it
// hydrates from any existing snapshot, then starts the background save
// worker so subsequent mutations persist automatically.
func OpenStore(workspace string, embeddings *EmbeddingService) (*Store, error) {
	persist := newPersister(workspace)
	s := NewStore(embeddings, persist)
	if err := persist.Load(s); err != nil {
		return nil, fmt.Errorf("memory: load snapshot: %w", err)
	}
	persist.Start(s)
	return s, nil
}

// Close stops the background save worker.
func (s *Store) Close() {
	if s.persist != nil {
		s.persist.Stop()
	}
}

func newMemoryID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "mem_" + hex.EncodeToString(buf)
}

// AddMemory embeds content and stores it, running conflict resolution
// against existing memories for the same user first.
func (s *Store) AddMemory(ctx context.Context, userID, content string, lifecycle LifecycleType, importance float32, explicit bool) (*MemoryVector, error) {
	vec, model, _, err := s.embeddings.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embedding memory content: %w", err)
	}

	candidate := &MemoryVector{
		ID:           newMemoryID(),
		UserID:       userID,
		Content:      content,
		Embedding:    vec,
		EmbedModel:   model,
		Lifecycle:    lifecycle,
		Importance:   importance,
		Explicit:     explicit,
		Timestamp:    time.Now(),
		LastAccessed: time.Now(),
	}

	action, err := s.resolveConflicts(ctx, candidate)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	switch action.kind {
	case conflictReplace:
		s.tx.record(txOp{Kind: txUpdate, Before: s.vectors[action.replaceID], After: candidate})
		candidate.ID = action.replaceID
		s.vectors[action.replaceID] = candidate
	case conflictSkip:
		s.mu.Unlock()
		logger.InfoCF("memory", "skipped near-duplicate memory", map[string]interface{}{"user": userID})
		return action.existing, nil
	case conflictIncompatible:
		before := *action.existing
		action.existing.Importance *= incompatibleImportanceDecay
		if action.existing.Metadata == nil {
			action.existing.Metadata = map[string]string{}
		}
		action.existing.Metadata["supersededBy"] = candidate.ID
		s.tx.record(txOp{Kind: txUpdate, Before: &before, After: action.existing})
		s.tx.record(txOp{Kind: txInsert, After: candidate})
		s.vectors[candidate.ID] = candidate
		s.evictLRUForUser(userID)
	default:
		s.tx.record(txOp{Kind: txInsert, After: candidate})
		s.vectors[candidate.ID] = candidate
		s.evictLRUForUser(userID)
	}
	s.mu.Unlock()

	s.scheduleSave()
	return candidate, nil
}

// GetMemoryByID returns one memory, or nil if it doesn't exist.
func (s *Store) GetMemoryByID(id string) *MemoryVector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectors[id]
}

// GetUserMemories returns every memory for a user, in no defined order.
func (s *Store) GetUserMemories(userID string) []*MemoryVector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.candidatesLocked(userID, "", time.Time{})
	return out
}

// maxMemoriesPerUser bounds how many vectors one user may accumulate;
// AddMemory evicts the least-recently-accessed non-pinned, non-profile
// memory once the cap is exceeded, so an unbounded stream of small talk
// can't grow the store without limit. The cap is this constant;
// config.MemoryConfig.MaxVectorsPerUser (MAX_VECTORS_PER_USER) is not read
// by the store.
const maxMemoriesPerUser = 10000

// UpdateMemory re-embeds content in place, preserving the memory's ID,
// lifecycle, and access history, and records the change for rollback. Unlike
// AddMemory it never runs conflict resolution — the caller already knows
// which memory it means to change.
func (s *Store) UpdateMemory(ctx context.Context, id, content string, importance float32) (*MemoryVector, error) {
	s.mu.RLock()
	existing, ok := s.vectors[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory %q not found", id)
	}

	vec, model, _, err := s.embeddings.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embedding updated memory content: %w", err)
	}

	s.mu.Lock()
	before := *existing
	existing.Content = content
	existing.Embedding = vec
	existing.EmbedModel = model
	existing.Importance = importance
	s.tx.record(txOp{Kind: txUpdate, Before: &before, After: existing})
	s.mu.Unlock()

	s.scheduleSave()
	return existing, nil
}

// evictLRUForUser removes the least-recently-accessed eligible memory for
// userID once that user's count exceeds maxMemoriesPerUser. Caller must hold
// s.mu for writing. Pinned and profile memories are never evicted this way.
func (s *Store) evictLRUForUser(userID string) {
	var candidates []*MemoryVector
	for _, v := range s.vectors {
		if v.UserID != userID {
			continue
		}
		candidates = append(candidates, v)
	}
	if len(candidates) <= maxMemoriesPerUser {
		return
	}

	var oldest *MemoryVector
	for _, v := range candidates {
		if v.Lifecycle == LifecyclePinned || v.Lifecycle == LifecycleProfile {
			continue
		}
		if oldest == nil || v.LastAccessed.Before(oldest.LastAccessed) {
			oldest = v
		}
	}
	if oldest == nil {
		return
	}
	s.tx.record(txOp{Kind: txDelete, Before: oldest})
	delete(s.vectors, oldest.ID)
	logger.InfoCF("memory", "evicted least-recently-used memory at per-user cap", map[string]interface{}{
		"user": userID, "cap": maxMemoriesPerUser,
	})
}

// RemoveMemory deletes one memory, recording the deletion for rollback.
func (s *Store) RemoveMemory(id string) error {
	s.mu.Lock()
	existing, ok := s.vectors[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memory %q not found", id)
	}
	s.tx.record(txOp{Kind: txDelete, Before: existing})
	delete(s.vectors, id)
	s.mu.Unlock()

	s.scheduleSave()
	return nil
}

// CleanupExpiredMemories removes shortTerm memories older than maxAge that
// were never promoted: low-importance, never-accessed scratch notes that
// proved not worth keeping. A short-term memory that was accessed at all, or
// that the extractor scored above shortTermCleanupImportance, survives the
// pass and stays shortTerm; promoteMidTerm only considers midTerm vectors. Intended to be called
// from the daily lifecycle job.
func (s *Store) CleanupExpiredMemories(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	var removed []string

	s.mu.Lock()
	for id, v := range s.vectors {
		if v.Lifecycle == LifecycleShortTerm && v.Timestamp.Before(cutoff) &&
			v.Importance < shortTermCleanupImportance && v.AccessCount == 0 {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		s.tx.record(txOp{Kind: txDelete, Before: s.vectors[id]})
		delete(s.vectors, id)
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.scheduleSave()
		logger.InfoCF("memory", "cleaned up expired short-term memories", map[string]interface{}{"count": len(removed)})
	}
	return len(removed)
}

// candidatesLocked returns memories matching the given filters. Caller must
// hold s.mu (read or write lock).
func (s *Store) candidatesLocked(userID string, lifecycle LifecycleType, minTime time.Time) []*MemoryVector {
	out := make([]*MemoryVector, 0, len(s.vectors))
	for _, v := range s.vectors {
		if userID != "" && v.UserID != userID {
			continue
		}
		if lifecycle != "" && v.Lifecycle != lifecycle {
			continue
		}
		if !minTime.IsZero() && v.Timestamp.Before(minTime) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (s *Store) scheduleSave() {
	if s.persist != nil {
		s.persist.scheduleSave(s)
	}
}

// snapshotLocked returns a shallow copy of the vector map for persistence.
// Caller must hold s.mu (read lock is sufficient).
func (s *Store) snapshotLocked() map[string]*MemoryVector {
	out := make(map[string]*MemoryVector, len(s.vectors))
	for k, v := range s.vectors {
		out[k] = v
	}
	return out
}
