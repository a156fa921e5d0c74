package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wayfarer-ai/wayfarer/pkg/models"
)

// fileRecord is the on-disk shape of one session: its metadata plus its
// full message history, one JSON file per session under root.
type fileRecord struct {
	Session  *models.Session   `json:"session"`
	Messages []*models.Message `json:"messages"`
}

// FileStore is a flat-file Store implementation: each session lives at
// root/<id>.json, written atomically on every mutation. This is the
// session store a wayfarer process runs with by default -- there is no
// database dependency to stand up for a single-user terminal agent.
type FileStore struct {
	root string

	mu    sync.Mutex
	byKey map[string]string
}

// NewFileStore creates a FileStore rooted at root, creating the directory
// if it does not already exist.
func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create session root: %w", err)
	}
	store := &FileStore{root: root, byKey: map[string]string{}}
	if err := store.loadKeyIndex(); err != nil {
		return nil, err
	}
	return store, nil
}

func (f *FileStore) loadKeyIndex() error {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return fmt.Errorf("read session root: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		record, err := f.readRecord(id)
		if err != nil || record == nil || record.Session == nil {
			continue
		}
		if record.Session.Key != "" {
			f.byKey[record.Session.Key] = id
		}
	}
	return nil
}

func (f *FileStore) pathFor(id string) string {
	return filepath.Join(f.root, id+".json")
}

func (f *FileStore) readRecord(id string) (*fileRecord, error) {
	data, err := os.ReadFile(f.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var record fileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &record, nil
}

// writeRecord writes record to a temp file and renames it into place, so a
// crash mid-write never leaves a corrupt session file behind.
func (f *FileStore) writeRecord(id string, record *fileRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	tmp := f.pathFor(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", id, err)
	}
	return os.Rename(tmp, f.pathFor(id))
}

func (f *FileStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt

	if err := f.writeRecord(clone.ID, &fileRecord{Session: clone}); err != nil {
		return err
	}
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt
	if clone.Key != "" {
		f.byKey[clone.Key] = clone.ID
	}
	return nil
}

func (f *FileStore) Get(ctx context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, err := f.readRecord(id)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Session == nil {
		return nil, errors.New("session not found")
	}
	return cloneSession(record.Session), nil
}

func (f *FileStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	record, err := f.readRecord(session.ID)
	if err != nil {
		return err
	}
	if record == nil || record.Session == nil {
		return errors.New("session not found")
	}

	clone := cloneSession(session)
	clone.CreatedAt = record.Session.CreatedAt
	clone.UpdatedAt = time.Now()
	record.Session = clone

	if err := f.writeRecord(clone.ID, record); err != nil {
		return err
	}
	if clone.Key != "" {
		f.byKey[clone.Key] = clone.ID
	}
	return nil
}

func (f *FileStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, err := f.readRecord(id)
	if err != nil {
		return err
	}
	if record == nil || record.Session == nil {
		return errors.New("session not found")
	}
	if err := os.Remove(f.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if record.Session.Key != "" {
		delete(f.byKey, record.Session.Key)
	}
	return nil
}

func (f *FileStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	f.mu.Lock()
	id, ok := f.byKey[key]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("session not found")
	}
	return f.Get(ctx, id)
}

func (f *FileStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	f.mu.Lock()
	if id, ok := f.byKey[key]; ok {
		f.mu.Unlock()
		if session, err := f.Get(ctx, id); err == nil {
			return session, nil
		}
	} else {
		f.mu.Unlock()
	}

	now := time.Now()
	session := &models.Session{
		AgentID:   agentID,
		Channel:   channel,
		ChannelID: channelID,
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (f *FileStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	f.mu.Lock()
	entries, err := os.ReadDir(f.root)
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read session root: %w", err)
	}

	var out []*models.Session
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		session, err := f.Get(ctx, id)
		if err != nil {
			continue
		}
		if agentID != "" && session.AgentID != agentID {
			continue
		}
		if opts.Channel != "" && session.Channel != opts.Channel {
			continue
		}
		out = append(out, session)
	}

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	if start > len(out) {
		return []*models.Session{}, nil
	}
	return out[start:end], nil
}

func (f *FileStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	record, err := f.readRecord(sessionID)
	if err != nil {
		return err
	}
	if record == nil || record.Session == nil {
		return errors.New("session not found")
	}

	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	record.Messages = append(record.Messages, clone)
	if len(record.Messages) > maxMessagesPerSession {
		excess := len(record.Messages) - maxMessagesPerSession
		record.Messages = record.Messages[excess:]
	}

	return f.writeRecord(sessionID, record)
}

func (f *FileStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, err := f.readRecord(sessionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return []*models.Message{}, nil
	}

	start := 0
	if limit > 0 && len(record.Messages) > limit {
		start = len(record.Messages) - limit
	}
	out := make([]*models.Message, 0, len(record.Messages)-start)
	for _, msg := range record.Messages[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}
