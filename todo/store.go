package todo

import "context"

// Store persists todos. Implementations must be safe for concurrent use.
type Store interface {
	// Put inserts or replaces a todo.
	Put(ctx context.Context, t Todo) error
	// Get returns the todo with id or ErrNotFound.
	Get(ctx context.Context, id string) (Todo, error)
	// Delete removes the todo with id or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	// List returns the todos owned by userID in creation order.
	List(ctx context.Context, userID string) ([]Todo, error)
	// Close releases resources held by the store.
	Close() error
}
