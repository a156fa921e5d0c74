package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wayfarer-ai/wayfarer/internal/toolresults"
)

// RetrievalTool implements Tool, letting the model page through a truncated
// tool result by call ID instead of losing the rest of the output once the
// Tool Result Store truncates it. The registry registers one RetrievalTool
// for the whole runtime, so it resolves the right session's Store lazily at
// Execute time via resolver rather than being bound to a single store up
// front; store is used as a fallback when resolver is nil, for callers that
// only ever serve one session's Store directly.
type RetrievalTool struct {
	store    *toolresults.Store
	resolver func(sessionID string) (*toolresults.Store, error)
}

// NewRetrievalTool returns a RetrievalTool backed by store. Pass nil and call
// WithResolver to resolve the store per session instead.
func NewRetrievalTool(store *toolresults.Store) *RetrievalTool {
	return &RetrievalTool{store: store}
}

// WithResolver attaches a per-session store resolver and returns the tool
// for chaining. When set, it takes precedence over the fixed store passed to
// NewRetrievalTool.
func (t *RetrievalTool) WithResolver(resolver func(sessionID string) (*toolresults.Store, error)) *RetrievalTool {
	t.resolver = resolver
	return t
}

// Name returns the tool name.
func (t *RetrievalTool) Name() string {
	return "retrieve_tool_result"
}

// Description explains the tool.
func (t *RetrievalTool) Description() string {
	return "Retrieves a chunk of a truncated tool result by its tool_call_id and byte offset."
}

// Schema defines the parameters for the tool.
func (t *RetrievalTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "tool_call_id": {"type": "string", "description": "The tool_call_id named in the truncation notice"},
    "offset": {"type": "integer", "description": "Byte offset to resume from; 0 for the start"},
    "length": {"type": "integer", "description": "Bytes to return, clamped to the chunk size limit"}
  },
  "required": ["tool_call_id"]
}`)
}

// Execute retrieves the requested chunk.
func (t *RetrievalTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input struct {
		ToolCallID string `json:"tool_call_id"`
		Offset     int    `json:"offset"`
		Length     int    `json:"length"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &ToolResult{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}
	if input.ToolCallID == "" {
		return &ToolResult{Content: "tool_call_id is required", IsError: true}, nil
	}

	store := t.store
	if t.resolver != nil {
		session := SessionFromContext(ctx)
		if session == nil {
			return &ToolResult{Content: "no session in context to resolve a tool result store for", IsError: true}, nil
		}
		resolved, err := t.resolver(session.ID)
		if err != nil {
			return &ToolResult{Content: err.Error(), IsError: true}, nil
		}
		store = resolved
	}
	if store == nil {
		return &ToolResult{Content: "no tool result store configured for this session", IsError: true}, nil
	}

	chunk, total, err := store.RetrieveChunk(input.ToolCallID, input.Offset, input.Length)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}

	end := input.Offset + len(chunk)
	footer := ""
	if end < total {
		footer = fmt.Sprintf("\n\n[%d of %d bytes shown; retrieve the rest with tool_call_id=%s offset=%d]", len(chunk), total, input.ToolCallID, end)
	}
	return &ToolResult{Content: chunk + footer}, nil
}
