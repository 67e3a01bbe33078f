// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package orchestrator

import (
	"sync"
	"time"
)

// participationRecord remembers the last topic a bot participated on in a
// channel, so the orchestrator can tell whether a new observation task is
// looking at the same conversation or a fresh one.
type participationRecord struct {
	topicSummary string
	at           time.Time
}

// participationStore is keyed by "botName:chatID"; each BotOrchestrator
// serves one channel and owns its own store.
type participationStore struct {
	mu      sync.RWMutex
	records map[string]participationRecord
	maxAge  time.Duration
}

func newParticipationStore(maxAge time.Duration) *participationStore {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &participationStore{records: map[string]participationRecord{}, maxAge: maxAge}
}

// TopicChanged reports whether the record for key already counts as a topic
// change, and returns the recorded summary: no record, or a record older
// than maxAge, always counts as changed.
func (s *participationStore) TopicChanged(key string) (changed bool, previous string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return true, ""
	}
	if time.Since(rec.at) > s.maxAge {
		return true, rec.topicSummary
	}
	return false, rec.topicSummary
}

func (s *participationStore) Update(key, topicSummary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = participationRecord{topicSummary: topicSummary, at: time.Now()}
}

func (s *participationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = map[string]participationRecord{}
}
