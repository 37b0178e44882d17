// Package table provides the two interchangeable ways of reaching the todo
// table: straight through to the remote (DirectTable) or through the local
// replica and operation queue (SyncedTable). The strategy is chosen when
// the Manager is built, from the "mode" config key.
package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/mschirtzinger/todosync/internal/todo"
)

// ErrNotFound is returned by Get when no record matches.
var ErrNotFound = errors.New("item not found")

// Mode selects a Table implementation.
type Mode string

const (
	// ModeOffline reads and writes the local replica; changes reach the
	// remote on sync.
	ModeOffline Mode = "offline"
	// ModeDirect talks to the remote on every call.
	ModeDirect Mode = "direct"
)

// ParseMode validates a config value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOffline, ModeDirect:
		return Mode(s), nil
	case "":
		return ModeOffline, nil
	}
	return "", fmt.Errorf("unknown mode %q (want offline or direct)", s)
}

// Table is the record access used by the application.
type Table interface {
	// Save inserts item if it has never been saved, otherwise updates it.
	// Identity fields on item are filled in on return.
	Save(ctx context.Context, item *todo.Item) error

	// Delete removes item.
	Delete(ctx context.Context, item *todo.Item) error

	// Get finds a record by local or remote id.
	Get(ctx context.Context, id string) (*todo.Item, error)

	// List returns records matching filter in the given order.
	List(ctx context.Context, filter todo.Filter, order todo.OrderBy) ([]*todo.Item, error)

	// Offline reports whether writes are buffered locally.
	Offline() bool
}
