package sessions

import (
	"context"
	"testing"

	"github.com/wayfarer-ai/wayfarer/pkg/models"
)

func TestFileStoreSessionLifecycle(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	session := &models.Session{AgentID: "agent", Channel: models.ChannelType("api"), ChannelID: "user", Key: "agent:api:user"}

	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if session.ID == "" {
		t.Fatalf("expected session id to be assigned")
	}

	loaded, err := store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loaded.Key != session.Key {
		t.Fatalf("expected key %q, got %q", session.Key, loaded.Key)
	}

	loaded.Title = "updated"
	if err := store.Update(context.Background(), loaded); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	updated, err := store.Get(context.Background(), loaded.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if updated.Title != "updated" {
		t.Fatalf("expected title to update")
	}

	byKey, err := store.GetByKey(context.Background(), session.Key)
	if err != nil {
		t.Fatalf("GetByKey() error = %v", err)
	}
	if byKey.ID != session.ID {
		t.Fatalf("expected GetByKey to resolve the same session")
	}

	if err := store.Delete(context.Background(), updated.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(context.Background(), updated.ID); err == nil {
		t.Fatalf("expected Get() to fail after Delete()")
	}
}

func TestFileStoreMessagesSurviveReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	session, err := store.GetOrCreate(context.Background(), "agent:api:user", "agent", models.ChannelType("api"), "user")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	msg := &models.Message{SessionID: session.ID, Role: models.RoleUser, Content: "hello"}
	if err := store.AppendMessage(context.Background(), session.ID, msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() (reopen) error = %v", err)
	}
	history, err := reopened.GetHistory(context.Background(), session.ID, 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Content != "hello" {
		t.Fatalf("expected history to survive reload, got %+v", history)
	}

	byKey, err := reopened.GetByKey(context.Background(), session.Key)
	if err != nil {
		t.Fatalf("expected key index to rebuild on reopen: %v", err)
	}
	if byKey.ID != session.ID {
		t.Fatalf("expected reopened store to resolve the same session by key")
	}
}

func TestFileStoreListFiltersByAgent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if _, err := store.GetOrCreate(context.Background(), "a:api:1", "agent-a", models.ChannelType("api"), "1"); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if _, err := store.GetOrCreate(context.Background(), "b:api:1", "agent-b", models.ChannelType("api"), "1"); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	sessions, err := store.List(context.Background(), "agent-a", ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 1 || sessions[0].AgentID != "agent-a" {
		t.Fatalf("expected exactly one agent-a session, got %+v", sessions)
	}
}
