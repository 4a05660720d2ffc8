// Package app assembles the todo MCP server from its configuration and
// drives its lifecycle: uninitialized, running, stopped.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/mcp-todo/internal/config"
	"github.com/ggoodman/mcp-todo/mcp"
	"github.com/ggoodman/mcp-todo/mcpservice"
	"github.com/ggoodman/mcp-todo/stdio"
	"github.com/ggoodman/mcp-todo/todo"
	"github.com/ggoodman/mcp-todo/todo/filestore"
	"github.com/ggoodman/mcp-todo/todo/memstore"
	"github.com/ggoodman/mcp-todo/todo/redisstore"
	"github.com/ggoodman/mcp-todo/todomcp"
)

// State is a lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrInvalidState is returned for a lifecycle call made in the wrong state.
var ErrInvalidState = errors.New("app: invalid state")

// App is one server instance.
type App struct {
	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	store  todo.Store

	mu    sync.Mutex
	state State

	level   *slog.LevelVar
	log     *slog.Logger
	handler *stdio.Handler
	watcher *filestore.Store
}

// Option configures an App.
type Option func(*App)

// WithIO replaces the protocol streams, os.Stdin and os.Stdout by default.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.stdin = in
		a.stdout = out
	}
}

// WithStderr replaces the diagnostics stream.
func WithStderr(w io.Writer) Option {
	return func(a *App) { a.stderr = w }
}

// WithStore uses store instead of opening the configured backend.
func WithStore(store todo.Store) Option {
	return func(a *App) { a.store = store }
}

// New returns an uninitialized App for cfg.
func New(cfg *config.Config, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		level:  new(slog.LevelVar),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State reports the current lifecycle state.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Logger returns the server logger. Before Start it writes to stderr only;
// from Start on it also mirrors records to the MCP client.
func (a *App) Logger() *slog.Logger {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.log == nil {
		return slog.New(a.baseHandler())
	}
	return a.log
}

func (a *App) baseHandler() slog.Handler {
	opts := &slog.HandlerOptions{Level: a.level}
	if a.cfg.Log.Format == config.FormatJSON {
		return slog.NewJSONHandler(a.stderr, opts)
	}
	return slog.NewTextHandler(a.stderr, opts)
}

// Start opens the store, registers the todo tools, resources and prompts,
// and prepares the stdio transport. It may only be called once.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateUninitialized {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, a.state)
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	level, err := a.cfg.SlogLevel()
	if err != nil {
		return err
	}
	a.level.Set(level)

	reg := mcpservice.NewRegistry()
	h := stdio.NewHandler(reg,
		stdio.WithIO(a.stdin, a.stdout),
		stdio.WithTeeLogger(a.baseHandler()),
		stdio.WithUserProvider(stdio.StaticUserProvider(a.cfg.DefaultUser)),
		stdio.WithServerInfo(mcp.ImplementationInfo{Name: a.cfg.Server.Name, Version: a.cfg.Server.Version}),
		stdio.WithInstructions(a.cfg.Server.Instructions),
		stdio.WithLogging(mcpservice.NewSlogLevelVarLogging(a.level)),
	)
	log := h.Logger()

	store, err := a.openStore(ctx, log)
	if err != nil {
		return err
	}

	svc := todo.NewLocalService(store, todo.WithLogger(log))
	if err := todomcp.Register(reg, svc, todomcp.WithDefaultUser(a.cfg.DefaultUser)); err != nil {
		_ = store.Close()
		return err
	}

	a.store = store
	a.handler = h
	a.log = log
	a.state = StateRunning
	log.InfoContext(ctx, "server started",
		slog.String("name", a.cfg.Server.Name),
		slog.String("version", a.cfg.Server.Version),
		slog.String("store", a.cfg.Store.Backend),
	)
	return nil
}

func (a *App) openStore(ctx context.Context, log *slog.Logger) (todo.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	switch a.cfg.Store.Backend {
	case config.StoreRedis:
		s, err := redisstore.New(ctx, a.cfg.Store.Redis.StoreConfig())
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	case config.StoreFile:
		s, err := filestore.Open(a.cfg.Store.File, filestore.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		a.watcher = s
		return s, nil
	default:
		return memstore.New(), nil
	}
}

// Run serves the client until it disconnects or ctx ends, then stops the
// app. A cancelled ctx is a clean shutdown and returns nil.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateRunning {
		a.mu.Unlock()
		return fmt.Errorf("%w: run while %s", ErrInvalidState, a.state)
	}
	h, watcher, log := a.handler, a.watcher, a.log
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	g.Go(func() error {
		// EOF ends the session; take the watcher down with it.
		defer stopServing()
		err := h.Serve(serveCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Watch(serveCtx) })
	}

	err := g.Wait()
	if stopErr := a.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	if err != nil {
		log.Error("server stopped with error", slog.Any("err", err))
		return err
	}
	log.Info("server stopped")
	return nil
}

// Stop releases the store. Stopping a stopped app is an error.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateRunning {
		return fmt.Errorf("%w: stop while %s", ErrInvalidState, a.state)
	}
	a.state = StateStopped
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
