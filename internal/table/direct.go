package table

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// DirectTable passes every call to the remote. There is no queue, and a
// version conflict is returned to the caller as an error.
type DirectTable struct {
	remote remote.Service
}

var _ Table = (*DirectTable)(nil)

// NewDirectTable creates a DirectTable over svc.
func NewDirectTable(svc remote.Service) *DirectTable {
	return &DirectTable{remote: svc}
}

func (t *DirectTable) Save(ctx context.Context, item *todo.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	var saved *todo.Item
	var err error
	if item.ID == "" {
		saved, err = t.remote.Insert(ctx, item)
	} else {
		saved, err = t.remote.Update(ctx, item)
	}
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}

	localID := item.LocalID
	*item = *saved
	item.LocalID = localID
	return nil
}

func (t *DirectTable) Delete(ctx context.Context, item *todo.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item %q was never saved", item.Name)
	}
	if err := t.remote.Delete(ctx, item.ID, item.Version); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func (t *DirectTable) Get(ctx context.Context, id string) (*todo.Item, error) {
	item, err := t.remote.Get(ctx, id)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return item, nil
}

func (t *DirectTable) List(ctx context.Context, filter todo.Filter, order todo.OrderBy) ([]*todo.Item, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	items, err := t.remote.QuerySince(ctx, todo.AllItemsQuery, time.Time{}, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	order.Sort(items)
	return items, nil
}

func (t *DirectTable) Offline() bool {
	return false
}
