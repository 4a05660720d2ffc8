package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ggoodman/mcp-todo/todo"
)

func TestStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "todos.jsonc")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := t.Context()
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := s.Put(ctx, todo.Todo{ID: "1", UserID: "u1", Title: "write tests", Priority: todo.PriorityHigh, Tags: []string{"go"}, CreatedAt: created, UpdatedAt: created}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, todo.Todo{ID: "2", UserID: "u1", Title: "ship", Tags: []string{}, CreatedAt: created, UpdatedAt: created}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if s.Path() != path {
		t.Fatalf("Path() = %q, want %q", s.Path(), path)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Title != "write tests" || got[0].Tags[0] != "go" || !got[0].CreatedAt.Equal(created) {
		t.Fatalf("unexpected contents after reopen: %+v", got)
	}
}

func TestStore_LoadsCommentsAndTrailingCommas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todos.jsonc")
	content := `{
  // hand-edited
  "todos": [
    {"id": "a", "userId": "u1", "title": "from disk", "priority": "low", "tags": [],},
  ],
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	td, err := s.Get(t.Context(), "a")
	if err != nil || td.Title != "from disk" {
		t.Fatalf("Get: %+v, %v", td, err)
	}
	if _, err := s.Get(t.Context(), "b"); !errors.Is(err, todo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_OpenRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todos.json")
	if err := os.WriteFile(path, []byte(`{"todos": [`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestStore_WatchReloadsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todos.jsonc")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()

	edit := []byte(`{"todos": [{"id": "ext", "userId": "u9", "title": "edited elsewhere", "priority": "medium", "tags": []}]}`)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		// Rewrite until the watcher (which starts asynchronously) sees it.
		if err := os.WriteFile(path, edit, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if got, _ := s.List(t.Context(), "u9"); len(got) == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("external edit was not picked up")
}
