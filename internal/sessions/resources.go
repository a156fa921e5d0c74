package sessions

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/wayfarer-ai/wayfarer/internal/longterm"
	"github.com/wayfarer-ai/wayfarer/internal/toolresults"
)

// ResourceManager lazily creates and caches the per-session, filesystem-backed
// resources a running session needs beyond its Store entry: a Tool Result
// Store for oversized tool output and a Long-Term Context archive for
// trimmed history. Both are rooted at root/<session-id>, mirroring
// SessionLocker's sync.Map-keyed-by-session-id shape.
type ResourceManager struct {
	root     string
	results  sync.Map // map[string]*toolresults.Store
	archives sync.Map // map[string]*longterm.Archive
}

// NewResourceManager returns a ResourceManager rooted at root. root is
// typically the workspace's sessions directory; it's created lazily per
// session, not eagerly here.
func NewResourceManager(root string) *ResourceManager {
	return &ResourceManager{root: root}
}

func (m *ResourceManager) sessionDir(sessionID string) string {
	return filepath.Join(m.root, sessionID)
}

// Results returns the Tool Result Store for sessionID, creating it on first
// use.
func (m *ResourceManager) Results(sessionID string) (*toolresults.Store, error) {
	if existing, ok := m.results.Load(sessionID); ok {
		return existing.(*toolresults.Store), nil
	}
	store, err := toolresults.New(m.sessionDir(sessionID))
	if err != nil {
		return nil, fmt.Errorf("sessions: tool result store for %s: %w", sessionID, err)
	}
	actual, _ := m.results.LoadOrStore(sessionID, store)
	return actual.(*toolresults.Store), nil
}

// Archive returns the Long-Term Context archive for sessionID, creating it
// on first use.
func (m *ResourceManager) Archive(sessionID string) (*longterm.Archive, error) {
	if existing, ok := m.archives.Load(sessionID); ok {
		return existing.(*longterm.Archive), nil
	}
	archive, err := longterm.Open(m.sessionDir(sessionID))
	if err != nil {
		return nil, fmt.Errorf("sessions: long-term archive for %s: %w", sessionID, err)
	}
	actual, _ := m.archives.LoadOrStore(sessionID, archive)
	return actual.(*longterm.Archive), nil
}
