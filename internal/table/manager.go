package table

import (
	"context"
	"log"
	"os"

	"github.com/mschirtzinger/todosync/internal/sync"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// Manager is the application's entry point to todo items. Build one at
// startup and pass it to whatever needs it.
type Manager struct {
	table  Table
	engine *sync.Engine
	logger *log.Logger
}

// NewManager wraps t. engine may be nil for a DirectTable, in which case
// Sync is a no-op. If logger is nil, logs go to stderr.
func NewManager(t Table, engine *sync.Engine, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[todo] ", log.LstdFlags)
	}
	return &Manager{table: t, engine: engine, logger: logger}
}

// Table returns the underlying strategy.
func (m *Manager) Table() Table {
	return m.table
}

// Engine returns the sync engine, or nil in direct mode.
func (m *Manager) Engine() *sync.Engine {
	return m.engine
}

// Offline reports whether writes are buffered locally.
func (m *Manager) Offline() bool {
	return m.table.Offline()
}

// Items returns the open items, oldest change first. With syncFirst set, a
// sync cycle runs before the read; a failed sync is logged and the local
// copy is returned anyway.
func (m *Manager) Items(ctx context.Context, syncFirst bool) ([]*todo.Item, error) {
	if syncFirst {
		if _, err := m.Sync(ctx); err != nil {
			m.logger.Printf("WARNING: sync before read failed: %v", err)
		}
	}
	filter, order := todo.PendingItems()
	return m.table.List(ctx, filter, order)
}

// List returns items matching filter.
func (m *Manager) List(ctx context.Context, filter todo.Filter, order todo.OrderBy) ([]*todo.Item, error) {
	return m.table.List(ctx, filter, order)
}

// Get finds an item by local or remote id.
func (m *Manager) Get(ctx context.Context, id string) (*todo.Item, error) {
	return m.table.Get(ctx, id)
}

// Save inserts or updates item.
func (m *Manager) Save(ctx context.Context, item *todo.Item) error {
	return m.table.Save(ctx, item)
}

// Complete marks item done and saves it.
func (m *Manager) Complete(ctx context.Context, item *todo.Item) error {
	item.Done = true
	return m.table.Save(ctx, item)
}

// Remove deletes item.
func (m *Manager) Remove(ctx context.Context, item *todo.Item) error {
	return m.table.Delete(ctx, item)
}

// Sync runs one sync cycle. In direct mode it returns an empty outcome.
func (m *Manager) Sync(ctx context.Context) (*sync.Outcome, error) {
	if m.engine == nil {
		return &sync.Outcome{}, nil
	}
	return m.engine.Sync(ctx)
}
