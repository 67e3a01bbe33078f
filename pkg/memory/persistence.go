// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sipeed/picoclaw/pkg/logger"
)

// persister flushes Store snapshots to vectors.json, collapsing bursts of
// writes into a single save: every scheduleSave call just overwrites
// "pending" and nudges a single background worker goroutine, rather than
// racing N goroutines each doing their own write-temp-then-rename. A plain
// mutex around the save itself would serialize the writes anyway but still
// do one disk flush per caller; this collapses an arbitrary burst into at
// most one extra flush after the one currently in flight.
type persister struct {
	path    string
	pending chan struct{} // buffered 1: a pending-save flag
	done    chan struct{}
}

func newPersister(workspace string) *persister {
	dir := filepath.Join(workspace, "memory")
	os.MkdirAll(dir, 0o755)
	p := &persister{
		path:    filepath.Join(dir, "vectors.json"),
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	return p
}

// Start launches the serialized save worker. Call once per persister.
func (p *persister) Start(s *Store) {
	go p.worker(s)
}

// Stop signals the worker to exit after flushing any pending save.
func (p *persister) Stop() {
	close(p.done)
}

func (p *persister) worker(s *Store) {
	for {
		select {
		case <-p.pending:
			if err := p.saveNow(s); err != nil {
				logger.ErrorCF("memory", "failed to persist memory store", map[string]interface{}{"error": err.Error()})
			}
		case <-p.done:
			select {
			case <-p.pending:
				if err := p.saveNow(s); err != nil {
					logger.ErrorCF("memory", "failed to persist memory store", map[string]interface{}{"error": err.Error()})
				}
			default:
			}
			return
		}
	}
}

// scheduleSave marks a save as pending without blocking; if one is already
// queued this is a no-op, since the worker will pick up the latest state
// whenever it next runs.
func (p *persister) scheduleSave(s *Store) {
	select {
	case p.pending <- struct{}{}:
	default:
	}
}

func (p *persister) saveNow(s *Store) error {
	s.mu.RLock()
	snapshot := s.snapshotLocked()
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory vectors: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp vectors file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp vectors file: %w", err)
	}
	return nil
}

// Load hydrates a store from the on-disk snapshot, if present.
func (p *persister) Load(s *Store) error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read vectors file: %w", err)
	}

	var vectors map[string]*MemoryVector
	if err := json.Unmarshal(data, &vectors); err != nil {
		return fmt.Errorf("unmarshal vectors file: %w", err)
	}

	s.mu.Lock()
	s.vectors = vectors
	s.mu.Unlock()
	return nil
}
