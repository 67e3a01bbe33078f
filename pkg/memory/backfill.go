package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/providers"
)

// BackfillSession mirrors session.Session to avoid circular imports.
type BackfillSession struct {
	Key      string              `json:"key"`
	Messages []providers.Message `json:"messages"`
	Summary  string              `json:"summary,omitempty"`
	Created  time.Time           `json:"created"`
	Updated  time.Time           `json:"updated"`
}

// BackfillStats tracks progress of a backfill operation.
type BackfillStats struct {
	SessionsTotal     int
	SessionsProcessed int
	TurnsIndexed      int
	Errors            int
}

// BackfillOptions configures a backfill run.
type BackfillOptions struct {
	DryRun bool // Print what would be done without actually doing it
}

// Backfill reads all session files and reindexes their conversation turns into the
// given Store as midTerm memories, admin-endpoint and lifecycle-job enrichment that
// recovers memory state after a store reset or a migration from an older snapshot.
func Backfill(ctx context.Context, sessionsDir string, store *Store, opts BackfillOptions) (*BackfillStats, error) {
	stats := &BackfillStats{}

	files, err := os.ReadDir(sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		stats.SessionsTotal++
	}

	fmt.Printf("Found %d session files in %s\n", stats.SessionsTotal, sessionsDir)

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		// Skip heartbeat and cron sessions — they're system-generated, not user conversations
		name := file.Name()
		if strings.HasPrefix(name, "heartbeat") || strings.HasPrefix(name, "cron-") {
			stats.SessionsTotal--
			fmt.Printf("  Skipping %s (system session)\n", name)
			continue
		}

		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		sessionPath := filepath.Join(sessionsDir, file.Name())
		if err := backfillSession(ctx, sessionPath, store, stats, opts); err != nil {
			logger.WarnCF("backfill", "Failed to backfill session", map[string]interface{}{
				"file":  file.Name(),
				"error": err.Error(),
			})
			stats.Errors++
		}
		stats.SessionsProcessed++

		fmt.Printf("  [%d/%d] %s — %d turns indexed\n",
			stats.SessionsProcessed, stats.SessionsTotal,
			file.Name(), stats.TurnsIndexed)
	}

	return stats, nil
}

func backfillSession(ctx context.Context, path string, store *Store, stats *BackfillStats, opts BackfillOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}

	var sess BackfillSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return fmt.Errorf("parse session JSON: %w", err)
	}

	if len(sess.Messages) == 0 {
		return nil
	}

	// One session's turns are indexed as an all-or-nothing unit: if the
	// context is cancelled partway through, roll back whatever this session
	// already inserted rather than leaving it half-indexed.
	checkpoint := store.Checkpoint()
	turnsBefore := stats.TurnsIndexed
	if err := indexSessionTurns(ctx, sess, store, stats, opts); err != nil {
		store.RollbackTo(checkpoint)
		stats.TurnsIndexed = turnsBefore
		return err
	}
	return nil
}

func indexSessionTurns(ctx context.Context, sess BackfillSession, store *Store, stats *BackfillStats, opts BackfillOptions) error {
	// Walk through messages, pairing user messages with the next assistant response
	for i := 0; i < len(sess.Messages); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg := sess.Messages[i]
		if msg.Role != "user" || msg.Content == "" {
			continue
		}

		// Find the next assistant message (skip tool messages)
		assistantMsg := ""
		for j := i + 1; j < len(sess.Messages); j++ {
			if sess.Messages[j].Role == "assistant" && sess.Messages[j].Content != "" {
				assistantMsg = sess.Messages[j].Content
				break
			}
			if sess.Messages[j].Role == "user" {
				// Next user message before an assistant response — no pair
				break
			}
		}

		if assistantMsg == "" {
			continue
		}

		if opts.DryRun {
			preview := msg.Content
			runes := []rune(preview)
			if len(runes) > 80 {
				preview = string(runes[:80]) + "..."
			}
			fmt.Printf("    [dry-run] Would index: %s\n", preview)
			stats.TurnsIndexed++
			continue
		}

		// Index the conversation turn as one midTerm memory, scoped to the session.
		turn := fmt.Sprintf("User: %s\nAssistant: %s", msg.Content, assistantMsg)
		if _, err := store.AddMemory(ctx, sess.Key, turn, LifecycleMidTerm, 0.4, false); err != nil {
			logger.WarnCF("backfill", "Failed to index turn", map[string]interface{}{
				"session": sess.Key,
				"error":   err.Error(),
			})
		} else {
			stats.TurnsIndexed++
		}

		// Small delay to avoid hammering the embedding API
		time.Sleep(100 * time.Millisecond)
	}

	return nil
}
