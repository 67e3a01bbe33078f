// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package memory

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/sipeed/picoclaw/pkg/logger"
)

const (
	// shortTermMaxAge and shortTermCleanupImportance gate removal of
	// shortTerm vectors: older than a day, low importance, never accessed.
	shortTermMaxAge            = 24 * time.Hour
	shortTermCleanupImportance = 0.3

	// midTermMaxAge is the cutoff past which a midTerm vector is either
	// promoted to longTerm or removed, depending on promoteImportanceThreshold
	// and promoteAccessThreshold.
	midTermMaxAge             = 14 * 24 * time.Hour
	promoteImportanceThreshold = 0.5
	promoteAccessThreshold     = 3
)

// LifecycleJob runs the daily memory maintenance pass: expire stale
// shortTerm memories, then promote-or-remove aged midTerm memories.
// Scheduled via a cron expression evaluated by gronx, matching the rest of
// the tree's scheduling idiom rather than a bare time.Ticker.
type LifecycleJob struct {
	store       *Store
	expr        string
	sessionsDir string // optional; non-empty enables session-log reindexing each pass
	extraTasks  []func(context.Context)
}

// NewLifecycleJob builds a job on the default "run once daily at 03:00"
// schedule; pass a different 5-field cron expression to override.
// sessionsDir, if non-empty, is reindexed into the store via Backfill on
// every pass so memory state recovers after a store reset.
func NewLifecycleJob(store *Store, cronExpr, sessionsDir string) *LifecycleJob {
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	return &LifecycleJob{store: store, expr: cronExpr, sessionsDir: sessionsDir}
}

// AddTask registers additional work to run at the end of every pass, after
// expiry/promotion/backfill — e.g. specialist self-review, which lives in
// pkg/specialists and can't be imported here without a cycle.
func (j *LifecycleJob) AddTask(fn func(context.Context)) {
	j.extraTasks = append(j.extraTasks, fn)
}

// Run blocks, checking the schedule once a minute and firing RunOnce when
// the cron expression matches, until ctx is cancelled.
func (j *LifecycleJob) Run(ctx context.Context) {
	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(j.expr, now)
			if err != nil {
				logger.ErrorCF("memory", "invalid lifecycle cron expression", map[string]interface{}{"error": err.Error(), "expr": j.expr})
				continue
			}
			if due {
				j.RunOnce(ctx)
			}
		}
	}
}

// RunOnce performs one maintenance pass: expiry, promotion, optional session
// reindexing, then any registered extra tasks.
func (j *LifecycleJob) RunOnce(ctx context.Context) {
	expired := j.store.CleanupExpiredMemories(shortTermMaxAge)
	promoted, removed := j.promoteMidTerm()
	logger.InfoCF("memory", "lifecycle pass complete", map[string]interface{}{
		"expired": expired, "promoted": promoted, "midterm_removed": removed,
	})

	if j.sessionsDir != "" {
		if stats, err := Backfill(ctx, j.sessionsDir, j.store, BackfillOptions{}); err != nil {
			logger.WarnCF("memory", "lifecycle backfill pass failed", map[string]interface{}{"error": err.Error()})
		} else {
			logger.InfoCF("memory", "lifecycle backfill pass complete", map[string]interface{}{
				"sessions_processed": stats.SessionsProcessed, "turns_indexed": stats.TurnsIndexed,
			})
		}
	}

	for _, task := range j.extraTasks {
		task(ctx)
	}
}

// promoteMidTerm walks midTerm vectors past midTermMaxAge: those that have
// proven valuable (high importance or frequently accessed) are promoted to
// longTerm, everything else past the cutoff is removed outright.
func (j *LifecycleJob) promoteMidTerm() (promoted, removed int) {
	cutoff := time.Now().Add(-midTermMaxAge)

	j.store.mu.Lock()
	defer j.store.mu.Unlock()

	for id, v := range j.store.vectors {
		if v.Lifecycle != LifecycleMidTerm || !v.Timestamp.Before(cutoff) {
			continue
		}
		before := *v
		if v.Importance >= promoteImportanceThreshold || v.AccessCount >= promoteAccessThreshold {
			v.Lifecycle = LifecycleLongTerm
			j.store.tx.record(txOp{Kind: txUpdate, Before: &before, After: v})
			promoted++
			continue
		}
		delete(j.store.vectors, id)
		j.store.tx.record(txOp{Kind: txDelete, Before: &before})
		removed++
	}
	if promoted > 0 || removed > 0 {
		j.store.scheduleSave()
	}
	return promoted, removed
}
