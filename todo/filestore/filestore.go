// Package filestore implements todo.Store on a single JSON file. The file
// may contain comments and trailing commas (JSONC) so that it can be edited
// by hand; Watch reloads it when it changes on disk.
//
// File shape:
//
//	{
//	  // any comments are ignored on load and dropped on the next write
//	  "todos": [ { "id": "...", "userId": "...", "title": "...", ... } ]
//	}
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-todo/todo"
	"github.com/ggoodman/mcp-todo/todo/memstore"
	"github.com/tidwall/jsonc"
)

type document struct {
	Todos []todo.Todo `json:"todos"`
}

// Store keeps the file's contents in memory and rewrites the whole file on
// every mutation.
type Store struct {
	path string
	l    *slog.Logger

	// mu serializes mutations, persistence and reloads.
	mu  sync.Mutex
	mem *memstore.Store
}

var _ todo.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
		}
	}
}

// Open loads path, which need not exist yet.
func Open(path string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	s := &Store{path: abs, l: slog.Default(), mem: memstore.New()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the absolute path of the backing file.
func (s *Store) Path() string { return s.path }

// Parse decodes a JSONC document.
func Parse(data []byte) ([]todo.Todo, error) {
	var doc document
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("parsing todo file: %w", err)
	}
	return doc.Todos, nil
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}
	todos, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	s.mem.Replace(todos)
	return nil
}

// persist writes the current contents to a temporary file next to the
// target and renames it into place so readers never see a partial file.
func (s *Store) persist() error {
	doc := document{Todos: s.mem.Snapshot()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode todo file: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// mutate applies fn to the in-memory state and persists it. If persisting
// fails the in-memory state is rolled back.
func (s *Store) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.mem.Snapshot()
	if err := fn(); err != nil {
		return err
	}
	if err := s.persist(); err != nil {
		s.mem.Replace(before)
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, t todo.Todo) error {
	return s.mutate(ctx, func() error { return s.mem.Put(ctx, t) })
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error { return s.mem.Delete(ctx, id) })
}

func (s *Store) Get(ctx context.Context, id string) (todo.Todo, error) {
	return s.mem.Get(ctx, id)
}

func (s *Store) List(ctx context.Context, userID string) ([]todo.Todo, error) {
	return s.mem.List(ctx, userID)
}

func (s *Store) Close() error { return nil }

// Watch reloads the file whenever it is written or replaced until ctx is
// done. Parse failures are logged and the previous contents kept. The
// containing directory is watched so that atomic replacements are seen.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.l.DebugContext(ctx, "watching todo file", slog.String("path", s.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.mu.Lock()
			err := s.reload()
			s.mu.Unlock()
			if err != nil {
				s.l.WarnContext(ctx, "todo file reload failed", slog.Any("err", err))
				continue
			}
			s.l.DebugContext(ctx, "todo file reloaded", slog.String("path", s.path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.l.WarnContext(ctx, "todo file watcher error", slog.Any("err", err))
		}
	}
}
