package todo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service is the RPC boundary the MCP adapters call. Each method is one
// remote operation with its own input and output types.
type Service interface {
	CreateTodo(ctx context.Context, in CreateTodoInput) (*CreateTodoOutput, error)
	GetTodo(ctx context.Context, in GetTodoInput) (*GetTodoOutput, error)
	ListTodos(ctx context.Context, in ListTodosInput) (*ListTodosOutput, error)
	CompleteTodo(ctx context.Context, in CompleteTodoInput) (*CompleteTodoOutput, error)
	DeleteTodo(ctx context.Context, in DeleteTodoInput) (*DeleteTodoOutput, error)
}

type CreateTodoInput struct {
	UserID      string
	Title       string
	Description string
	Priority    Priority
	DueDate     string
	Tags        []string
}

type CreateTodoOutput struct {
	Todo Todo
}

type GetTodoInput struct {
	ID string
}

// GetTodoOutput carries the todo, or nil when the id is unknown.
type GetTodoOutput struct {
	Todo *Todo
}

// ListTodosInput filters by owner and, when Completed is non-nil, by
// completion state.
type ListTodosInput struct {
	UserID    string
	Completed *bool
}

type ListTodosOutput struct {
	Todos []Todo
	Total int
}

type CompleteTodoInput struct {
	ID string
}

type CompleteTodoOutput struct {
	Todo Todo
}

type DeleteTodoInput struct {
	ID string
}

type DeleteTodoOutput struct {
	ID string
}

// LocalService implements Service in process on top of a Store.
type LocalService struct {
	store Store
	now   func() time.Time
	newID func() string
	l     *slog.Logger
}

var _ Service = (*LocalService)(nil)

// Option configures a LocalService.
type Option func(*LocalService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *LocalService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how todo ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(s *LocalService) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *LocalService) {
		if l != nil {
			s.l = l
		}
	}
}

// NewLocalService returns a Service backed by store.
func NewLocalService(store Store, opts ...Option) *LocalService {
	s := &LocalService{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
		l:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LocalService) CreateTodo(ctx context.Context, in CreateTodoInput) (*CreateTodoOutput, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}
	if in.DueDate != "" {
		if _, err := ParseDueDate(in.DueDate); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	t := Todo{
		ID:          s.newID(),
		UserID:      in.UserID,
		Title:       title,
		Priority:    priority,
		Description: in.Description,
		DueDate:     in.DueDate,
		Tags:        slices.Clone(in.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if err := s.store.Put(ctx, t); err != nil {
		return nil, fmt.Errorf("store todo: %w", err)
	}
	s.l.DebugContext(ctx, "todo created", slog.String("todo_id", t.ID), slog.String("user_id", t.UserID))
	return &CreateTodoOutput{Todo: t}, nil
}

func (s *LocalService) GetTodo(ctx context.Context, in GetTodoInput) (*GetTodoOutput, error) {
	t, err := s.store.Get(ctx, in.ID)
	if errors.Is(err, ErrNotFound) {
		return &GetTodoOutput{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load todo: %w", err)
	}
	return &GetTodoOutput{Todo: &t}, nil
}

func (s *LocalService) ListTodos(ctx context.Context, in ListTodosInput) (*ListTodosOutput, error) {
	all, err := s.store.List(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	todos := make([]Todo, 0, len(all))
	for _, t := range all {
		if in.Completed != nil && t.Completed != *in.Completed {
			continue
		}
		todos = append(todos, t)
	}
	return &ListTodosOutput{Todos: todos, Total: len(todos)}, nil
}

func (s *LocalService) CompleteTodo(ctx context.Context, in CompleteTodoInput) (*CompleteTodoOutput, error) {
	t, err := s.store.Get(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if !t.Completed {
		t.Completed = true
		t.UpdatedAt = s.now().UTC()
		if err := s.store.Put(ctx, t); err != nil {
			return nil, fmt.Errorf("store todo: %w", err)
		}
	}
	return &CompleteTodoOutput{Todo: t}, nil
}

func (s *LocalService) DeleteTodo(ctx context.Context, in DeleteTodoInput) (*DeleteTodoOutput, error) {
	if err := s.store.Delete(ctx, in.ID); err != nil {
		return nil, err
	}
	s.l.DebugContext(ctx, "todo deleted", slog.String("todo_id", in.ID))
	return &DeleteTodoOutput{ID: in.ID}, nil
}
