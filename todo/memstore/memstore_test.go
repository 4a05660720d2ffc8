package memstore

import (
	"errors"
	"testing"

	"github.com/ggoodman/mcp-todo/todo"
)

func TestStore_ListKeepsInsertionOrderPerUser(t *testing.T) {
	s := New()
	ctx := t.Context()
	for _, td := range []todo.Todo{
		{ID: "a", UserID: "u1", Title: "first"},
		{ID: "b", UserID: "u2", Title: "other user"},
		{ID: "c", UserID: "u1", Title: "second"},
	} {
		if err := s.Put(ctx, td); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	// Updating keeps the original position.
	if err := s.Put(ctx, todo.Todo{ID: "a", UserID: "u1", Title: "first", Completed: true}); err != nil {
		t.Fatalf("Put update: %v", err)
	}

	got, err := s.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" || !got[0].Completed {
		t.Fatalf("unexpected list: %+v", got)
	}
}

func TestStore_GetDeleteNotFound(t *testing.T) {
	s := New()
	ctx := t.Context()
	if _, err := s.Get(ctx, "x"); !errors.Is(err, todo.ErrNotFound) {
		t.Fatalf("Get: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "x"); !errors.Is(err, todo.ErrNotFound) {
		t.Fatalf("Delete: expected ErrNotFound, got %v", err)
	}
	_ = s.Put(ctx, todo.Todo{ID: "x", UserID: "u", Tags: []string{"t"}})
	got, _ := s.Get(ctx, "x")
	got.Tags[0] = "mutated"
	again, _ := s.Get(ctx, "x")
	if again.Tags[0] != "t" {
		t.Fatalf("store must not share tag slices with callers")
	}
	if err := s.Delete(ctx, "x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(s.Snapshot()) != 0 {
		t.Fatalf("expected empty store")
	}
}
