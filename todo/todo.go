// Package todo holds the todo domain model and the RPC operations the MCP
// adapters call into. Persistence sits behind the Store interface; see the
// memstore, redisstore and filestore subpackages.
package todo

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when no todo has the requested id.
	ErrNotFound = errors.New("todo not found")
	// ErrInvalidInput is returned when an operation's input fails validation.
	ErrInvalidInput = errors.New("invalid todo input")
)

// Priority ranks a todo.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Todo is a single todo item owned by a user.
type Todo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Completed   bool      `json:"completed"`
	Priority    Priority  `json:"priority"`
	Description string    `json:"description,omitempty"`
	DueDate     string    `json:"dueDate,omitempty"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of t.
func (t Todo) Clone() Todo {
	t.Tags = slices.Clone(t.Tags)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t
}

// Due parses the todo's due date. ok is false when there is none.
func (t Todo) Due() (due time.Time, ok bool, err error) {
	if t.DueDate == "" {
		return time.Time{}, false, nil
	}
	due, err = ParseDueDate(t.DueDate)
	if err != nil {
		return time.Time{}, false, err
	}
	return due, true, nil
}

// OverdueAt reports whether the todo has a due date strictly before now.
// Unparseable due dates are never overdue.
func (t Todo) OverdueAt(now time.Time) bool {
	due, ok, err := t.Due()
	return err == nil && ok && due.Before(now)
}

var dueDateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", time.DateOnly}

// ParseDueDate accepts an RFC 3339 timestamp or a calendar date
// (YYYY-MM-DD). Dates without a zone are interpreted as UTC.
func ParseDueDate(s string) (time.Time, error) {
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: due date %q is not RFC 3339 or YYYY-MM-DD", ErrInvalidInput, s)
}
