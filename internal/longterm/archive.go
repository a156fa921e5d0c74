// Package longterm implements the append-only per-session archive that
// trimmed conversation history is moved into once the active context
// exceeds its token budget (see internal/agent/context's trim policy).
// Records are appended as self-describing JSON lines; ordering is
// preserved by append order alone, never re-sorted.
package longterm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultSearchLimit is the page size SearchSubstring uses when the caller
// doesn't specify one, matching the recall tool's default result count.
const DefaultSearchLimit = 10

// ErrInvalidRange is returned by RangeRead when start/end fall outside the
// archive or start > end.
var ErrInvalidRange = errors.New("longterm: invalid range")

// Record is one archived message. It mirrors just enough of models.Message
// to replay into a provider request: the archive doesn't need tool-call
// structure, attachments, or delivery metadata, only what the model would
// want to see if it recalled this turn.
type Record struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ArchivedAt time.Time `json:"archived_at"`
}

// archiveLocks guards concurrent appends to the same session's archive file,
// the same per-path-mutex shape internal/sessions.SessionLocker uses for
// per-session write locking, scaled down to a single mutex since an
// Archive only ever serves one session.
type Archive struct {
	path string
	mu   sync.Mutex
}

// Open returns an Archive rooted at sessionDir/longterm.jsonl, creating the
// parent directory if needed. The file itself is created lazily on first
// Append.
func Open(sessionDir string) (*Archive, error) {
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("longterm: create session dir: %w", err)
	}
	return &Archive{path: filepath.Join(sessionDir, "longterm.jsonl")}, nil
}

// Append writes rec to the end of the archive. Appends from concurrent
// goroutines are serialized by the Archive's mutex; the OS append-mode
// write itself is what makes each individual write atomic with respect to
// other processes.
func (a *Archive) Append(rec Record) error {
	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = time.Now()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("longterm: encode record: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("longterm: open archive: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("longterm: append record: %w", err)
	}
	return nil
}

// AppendAll archives recs in order, stopping at the first failure.
func (a *Archive) AppendAll(recs []Record) error {
	for i, rec := range recs {
		if err := a.Append(rec); err != nil {
			return fmt.Errorf("longterm: append record %d: %w", i, err)
		}
	}
	return nil
}

// All reads every archived record in append order. Absence of the archive
// file is not an error: a session that has never trimmed has an empty
// archive.
func (a *Archive) All() ([]Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readLocked()
}

func (a *Archive) readLocked() ([]Record, error) {
	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("longterm: open archive: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // a corrupted line is skipped, not fatal to the whole archive
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("longterm: scan archive: %w", err)
	}
	return records, nil
}

// RangeRead returns records in [start, end) in append order. end is
// clamped to the archive's length; start must be within [0, len).
func (a *Archive) RangeRead(start, end int) ([]Record, error) {
	a.mu.Lock()
	records, err := a.readLocked()
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if start < 0 || (len(records) > 0 && start >= len(records)) || (len(records) == 0 && start != 0) {
		return nil, ErrInvalidRange
	}
	if end > len(records) {
		end = len(records)
	}
	if end < start {
		return nil, ErrInvalidRange
	}
	return records[start:end], nil
}

// SearchResult pairs a matched Record with its index in the archive, so a
// caller can follow up with RangeRead to pull surrounding context.
type SearchResult struct {
	Index  int    `json:"index"`
	Record Record `json:"record"`
}

// SearchSubstring searches archived content case-folded, returning up to
// limit matches starting at offset, in append order. limit <= 0 defaults
// to DefaultSearchLimit.
func (a *Archive) SearchSubstring(query string, offset, limit int) ([]SearchResult, int, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, 0, nil
	}

	a.mu.Lock()
	records, err := a.readLocked()
	a.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}

	var matches []SearchResult
	for i, rec := range records {
		if strings.Contains(strings.ToLower(rec.Content), needle) {
			matches = append(matches, SearchResult{Index: i, Record: rec})
		}
	}

	total := len(matches)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matches[offset:end], total, nil
}
