package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/wayfarer-ai/wayfarer/internal/longterm"
)

func TestRecallToolFindsMatches(t *testing.T) {
	archive, err := longterm.Open(t.TempDir())
	if err != nil {
		t.Fatalf("longterm.Open: %v", err)
	}
	if err := archive.Append(longterm.Record{Role: "user", Content: "the quick brown fox"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := archive.Append(longterm.Record{Role: "assistant", Content: "unrelated reply"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	tool := NewRecallTool(archive)
	params, _ := json.Marshal(map[string]any{"query": "brown"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.Contains(result.Content, "quick brown fox") {
		t.Errorf("expected matching content in result, got %q", result.Content)
	}
}

func TestRecallToolNoMatches(t *testing.T) {
	archive, err := longterm.Open(t.TempDir())
	if err != nil {
		t.Fatalf("longterm.Open: %v", err)
	}
	if err := archive.Append(longterm.Record{Role: "user", Content: "hello"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	tool := NewRecallTool(archive)
	params, _ := json.Marshal(map[string]any{"query": "nonexistent"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.Contains(result.Content, "no archived messages match") {
		t.Errorf("result = %q, want a no-match message", result.Content)
	}
}

func TestRecallToolMissingQuery(t *testing.T) {
	tool := NewRecallTool(nil)
	params, _ := json.Marshal(map[string]any{})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError for missing query")
	}
}

func TestRecallToolNoArchiveConfigured(t *testing.T) {
	tool := NewRecallTool(nil)
	params, _ := json.Marshal(map[string]any{"query": "anything"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "no long-term archive configured") {
		t.Errorf("result = %+v, want a no-archive-configured error", result)
	}
}

func TestRecallToolPagination(t *testing.T) {
	archive, err := longterm.Open(t.TempDir())
	if err != nil {
		t.Fatalf("longterm.Open: %v", err)
	}
	for i := 0; i < 15; i++ {
		if err := archive.Append(longterm.Record{Role: "user", Content: "marker text"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	tool := NewRecallTool(archive)
	params, _ := json.Marshal(map[string]any{"query": "marker", "offset": 0, "limit": 10})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Content, "more results available") {
		t.Errorf("expected a pagination hint, got %q", result.Content)
	}
	if !strings.Contains(result.Content, "offset=10") {
		t.Errorf("expected next offset hint of 10, got %q", result.Content)
	}
}
