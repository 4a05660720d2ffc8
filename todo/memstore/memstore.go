// Package memstore is an in-memory todo.Store. Contents are lost when the
// process exits.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/ggoodman/mcp-todo/todo"
)

// Store keeps todos in a map and remembers insertion order.
type Store struct {
	mu    sync.RWMutex
	items map[string]todo.Todo
	order []string
}

var _ todo.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{items: make(map[string]todo.Todo)}
}

func (s *Store) Put(ctx context.Context, t todo.Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[t.ID]; !ok {
		s.order = append(s.order, t.ID)
	}
	s.items[t.ID] = t.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (todo.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	if !ok {
		return todo.Todo{}, todo.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return todo.ErrNotFound
	}
	delete(s.items, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return nil
}

func (s *Store) List(ctx context.Context, userID string) ([]todo.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]todo.Todo, 0)
	for _, id := range s.order {
		if t := s.items[id]; t.UserID == userID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// Replace swaps the whole contents for todos, keeping their order.
func (s *Store) Replace(todos []todo.Todo) {
	items := make(map[string]todo.Todo, len(todos))
	order := make([]string, 0, len(todos))
	for _, t := range todos {
		if _, dup := items[t.ID]; !dup {
			order = append(order, t.ID)
		}
		items[t.ID] = t.Clone()
	}
	s.mu.Lock()
	s.items, s.order = items, order
	s.mu.Unlock()
}

// Snapshot returns every todo in insertion order.
func (s *Store) Snapshot() []todo.Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]todo.Todo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out
}

func (s *Store) Close() error { return nil }
