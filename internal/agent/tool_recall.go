package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wayfarer-ai/wayfarer/internal/longterm"
)

// RecallTool implements Tool, letting the model search messages that were
// trimmed out of the active context and archived to Long-Term Context
// (see internal/agent/context.TrimToArchive). The registry registers one
// RecallTool for the whole runtime, so it resolves the right session's
// archive lazily at Execute time via resolver rather than being bound to a
// single archive up front; archive is used as a fallback when resolver is
// nil.
type RecallTool struct {
	archive  *longterm.Archive
	resolver func(sessionID string) (*longterm.Archive, error)
}

// NewRecallTool returns a RecallTool backed by archive. Pass nil and call
// WithResolver to resolve the archive per session instead.
func NewRecallTool(archive *longterm.Archive) *RecallTool {
	return &RecallTool{archive: archive}
}

// WithResolver attaches a per-session archive resolver and returns the tool
// for chaining. When set, it takes precedence over the fixed archive passed
// to NewRecallTool.
func (t *RecallTool) WithResolver(resolver func(sessionID string) (*longterm.Archive, error)) *RecallTool {
	t.resolver = resolver
	return t
}

// Name returns the tool name.
func (t *RecallTool) Name() string {
	return "recall"
}

// Description explains the tool.
func (t *RecallTool) Description() string {
	return "Searches older messages that were trimmed from the active conversation and archived. Results are paginated; call again with a higher offset to see more."
}

// Schema defines the parameters for the tool.
func (t *RecallTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Substring to search for, case-insensitive"},
    "offset": {"type": "integer", "description": "Result offset for pagination, 0 for the first page"},
    "limit": {"type": "integer", "description": "Max results to return, defaults to 10"}
  },
  "required": ["query"]
}`)
}

// Execute searches the archive and formats matches for the model to
// re-ingest.
func (t *RecallTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		Query  string `json:"query"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &ToolResult{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return &ToolResult{Content: "query is required", IsError: true}, nil
	}

	archive := t.archive
	if t.resolver != nil {
		session := SessionFromContext(ctx)
		if session == nil {
			return &ToolResult{Content: "no session in context to resolve a long-term archive for", IsError: true}, nil
		}
		resolved, err := t.resolver(session.ID)
		if err != nil {
			return &ToolResult{Content: err.Error(), IsError: true}, nil
		}
		archive = resolved
	}
	if archive == nil {
		return &ToolResult{Content: "no long-term archive configured for this session", IsError: true}, nil
	}

	results, total, err := archive.SearchSubstring(input.Query, input.Offset, input.Limit)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if total == 0 {
		return &ToolResult{Content: "no archived messages match that query"}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d archived message(s) match (showing %d-%d of %d):\n\n", total, input.Offset+1, input.Offset+len(results), total)
	for _, r := range results {
		fmt.Fprintf(&b, "[%d] %s (%s): %s\n\n", r.Index, r.Record.Role, r.Record.CreatedAt.Format("2006-01-02 15:04:05"), r.Record.Content)
	}

	end := input.Offset + len(results)
	if end < total {
		fmt.Fprintf(&b, "[more results available: call recall again with offset=%d]", end)
	}

	return &ToolResult{Content: strings.TrimSpace(b.String())}, nil
}
