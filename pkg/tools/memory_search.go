package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sipeed/picoclaw/pkg/memory"
)

// MemorySearchTool provides semantic search over a user's hybrid memory
// store (shortTerm through pinned).
type MemorySearchTool struct {
	store  *memory.Store
	userID string
}

// NewMemorySearchTool creates a new memory search tool.
func NewMemorySearchTool(store *memory.Store) *MemorySearchTool {
	return &MemorySearchTool{store: store}
}

func (t *MemorySearchTool) Name() string {
	return "search_memory"
}

func (t *MemorySearchTool) Description() string {
	return "Search your memory of past conversations and knowledge about the user. You SHOULD call this proactively at the start of conversations and whenever the user mentions anything that might relate to prior context, preferences, or past discussions. Do not wait to be asked — if prior knowledge could help, search first."
}

func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Natural language search query describing what you want to recall",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results to return (default: 5)",
			},
		},
		"required": []string{"query"},
	}
}

// SetContext records which user's memory this tool instance searches. The
// orchestrator calls it through ToolRegistry.ExecuteWithContext with the
// inbound message's (channel, chatID), the same call that sets MessageTool's
// channel/chatID, so the search runs over the memories stored under the chat
// ID, not the sender's ID.
func (t *MemorySearchTool) SetContext(_ string, userID string) {
	t.userID = userID
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return ErrorResult("query is required")
	}

	limit := 5
	if l, ok := args["limit"].(float64); ok && int(l) > 0 {
		limit = int(l)
	}

	results, err := t.store.HybridSearch(memory.SearchCtx(ctx), query, memory.SearchOptions{
		UserID: t.userID,
		Limit:  limit,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory search failed: %v", err))
	}

	if len(results) == 0 {
		return SilentResult("No relevant memories found.")
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, r.Vector.Lifecycle, r.Vector.Content)
	}
	return SilentResult(b.String())
}
