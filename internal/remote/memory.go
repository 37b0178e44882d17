package remote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/todosync/internal/todo"
)

// Memory is an in-memory Service. Versions are "v" followed by a table-wide
// revision counter, and UpdatedAt strictly increases across writes.
type Memory struct {
	mu       sync.Mutex
	items    map[string]*todo.Item
	revision int64
	last     time.Time
	now      func() time.Time
}

// NewMemory returns an empty table.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]*todo.Item),
		now:   time.Now,
	}
}

// SetClock replaces the time source. Tests use it for deterministic
// timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Load stores item exactly as given, bypassing version checks. It seeds
// server state in tests and in `todosync serve --seed`.
func (m *Memory) Load(item *todo.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := item.Clone()
	c.LocalID = ""
	m.items[c.ID] = c
	if n, err := strconv.ParseInt(strings.TrimPrefix(c.Version, "v"), 10, 64); err == nil && n > m.revision {
		m.revision = n
	}
	if c.UpdatedAt.After(m.last) {
		m.last = c.UpdatedAt
	}
}

// Len returns the number of live (not deleted) records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, it := range m.items {
		if !it.Deleted {
			n++
		}
	}
	return n
}

func (m *Memory) Insert(ctx context.Context, item *todo.Item) (*todo.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("invalid item: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := &todo.Item{
		ID:   uuid.NewString(),
		Name: item.Name,
		Done: item.Done,
	}
	m.stamp(stored)
	m.items[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, item *todo.Item) (*todo.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("invalid item: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.items[item.ID]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", item.ID, ErrNotFound)
	}
	if current.Version != item.Version {
		return nil, &VersionConflictError{Server: current.Clone()}
	}

	// A matching update on a tombstone brings the record back.
	current.Name = item.Name
	current.Done = item.Done
	current.Deleted = false
	m.stamp(current)
	return current.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, id, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.items[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	if current.Deleted {
		return nil
	}
	if current.Version != version {
		return &VersionConflictError{Server: current.Clone()}
	}

	current.Deleted = true
	m.stamp(current)
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*todo.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return current.Clone(), nil
}

func (m *Memory) QuerySince(ctx context.Context, query string, since time.Time, filter todo.Filter) ([]*todo.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*todo.Item
	for _, it := range m.items {
		if !it.UpdatedAt.After(since) {
			continue
		}
		// A full pull has nothing to delete locally.
		if it.Deleted && since.IsZero() {
			continue
		}
		if !filter.Match(it) {
			continue
		}
		out = append(out, it.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// stamp assigns the next version and a strictly increasing UpdatedAt.
// Callers hold m.mu.
func (m *Memory) stamp(it *todo.Item) {
	m.revision++
	it.Version = "v" + strconv.FormatInt(m.revision, 10)

	ts := m.now().UTC()
	if !ts.After(m.last) {
		ts = m.last.Add(time.Nanosecond)
	}
	m.last = ts
	it.UpdatedAt = ts
}
