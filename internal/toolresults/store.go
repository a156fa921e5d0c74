// Package toolresults persists oversized tool output to disk and hands the
// loop back a small inline summary plus a retrieval handle, so a single tool
// call (a build log, a grep dump) can't blow out the conversation's token
// budget.
package toolresults

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InlineThreshold is the maximum content size, in bytes, that is returned to
// the loop inline. Content at or under this size never touches disk.
const InlineThreshold = 8192

// MaxChunkSize is the largest slice RetrieveChunk will return in one call.
const MaxChunkSize = 32768

// SoftWrapWidth is the line length past which persisted content is
// word-wrapped before being written to disk, so a retrieval chunk boundary
// never lands mid-word.
const SoftWrapWidth = 1024

// ErrInvalidOffset is returned by RetrieveChunk when offset is outside
// [0, total) for the stored content.
var ErrInvalidOffset = errors.New("toolresults: offset out of range")

// ErrNotFound is returned when callID has no stored result in this store.
var ErrNotFound = errors.New("toolresults: call id not found")

// Store persists tool results for a single session, rooted at that
// session's directory. A Store never resolves a call-id that was written by
// a different session: there is no global index, only per-session
// directories, so cross-session retrieval fails closed with ErrNotFound.
type Store struct {
	dir string // <session_dir>/tool_results
}

// New returns a Store rooted at sessionDir/tool_results, creating the
// directory if it doesn't exist.
func New(sessionDir string) (*Store, error) {
	dir := filepath.Join(sessionDir, "tool_results")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("toolresults: create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Result is what the loop embeds in the tool-role message it sends back to
// the provider: either the full content (Truncated == false) or a summary
// plus the handle needed to retrieve the rest.
type Result struct {
	CallID     string
	Inline     string
	Truncated  bool
	TotalBytes int
}

// Process stores content if it exceeds InlineThreshold and returns a Result
// describing what the loop should send back to the provider. callID is the
// tool call's ID and also the on-disk filename.
func (s *Store) Process(callID, content string) (*Result, error) {
	if len(content) <= InlineThreshold {
		return &Result{CallID: callID, Inline: content, TotalBytes: len(content)}, nil
	}

	wrapped := softWrap(content, SoftWrapWidth)
	if err := s.writeAtomic(callID, wrapped); err != nil {
		return nil, err
	}

	head := wrapped
	if len(head) > InlineThreshold {
		head = head[:InlineThreshold]
	}
	summary := fmt.Sprintf(
		"%s\n\n[truncated: %d of %d bytes shown; retrieve the rest with tool_call_id=%s]",
		head, len(head), len(wrapped), callID,
	)
	return &Result{
		CallID:     callID,
		Inline:     summary,
		Truncated:  true,
		TotalBytes: len(wrapped),
	}, nil
}

// RetrieveChunk returns up to MaxChunkSize bytes of the stored result for
// callID starting at offset. length is clamped to MaxChunkSize.
func (s *Store) RetrieveChunk(callID string, offset, length int) (string, int, error) {
	path := s.path(callID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, ErrNotFound
		}
		return "", 0, fmt.Errorf("toolresults: read %s: %w", callID, err)
	}

	total := len(data)
	if offset < 0 || (total > 0 && offset >= total) || (total == 0 && offset != 0) {
		return "", total, ErrInvalidOffset
	}

	if length <= 0 || length > MaxChunkSize {
		length = MaxChunkSize
	}
	end := offset + length
	if end > total {
		end = total
	}
	return string(data[offset:end]), total, nil
}

func (s *Store) path(callID string) string {
	return filepath.Join(s.dir, filepath.Base(callID))
}

// writeAtomic writes to a temp file, then renames into place, so a
// concurrent reader never observes a partially written result.
func (s *Store) writeAtomic(callID, content string) error {
	path := s.path(callID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("toolresults: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("toolresults: rename into place: %w", err)
	}
	return nil
}

// softWrap inserts a newline at the nearest preceding word boundary whenever
// a line exceeds width, so later chunk boundaries don't split a word across
// two RetrieveChunk calls.
func softWrap(content string, width int) string {
	lines := strings.Split(content, "\n")
	var out strings.Builder
	for i, line := range lines {
		for len(line) > width {
			cut := strings.LastIndexByte(line[:width], ' ')
			if cut <= 0 {
				cut = width
			}
			out.WriteString(line[:cut])
			out.WriteByte('\n')
			line = strings.TrimPrefix(line[cut:], " ")
		}
		out.WriteString(line)
		if i < len(lines)-1 {
			out.WriteByte('\n')
		}
	}
	return out.String()
}
