package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mschirtzinger/todosync/internal/queue"
	"github.com/mschirtzinger/todosync/internal/store"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// SyncedTable reads from the local replica and records every write as a
// queued operation in the same transaction. Nothing here touches the
// network.
type SyncedTable struct {
	db *store.DB
}

var _ Table = (*SyncedTable)(nil)

// NewSyncedTable creates a SyncedTable over db.
func NewSyncedTable(db *store.DB) *SyncedTable {
	return &SyncedTable{db: db}
}

// Save writes item locally and queues an insert if the record is new to
// this device, otherwise an update. The queued snapshot carries the version
// the local replica currently holds.
func (t *SyncedTable) Save(ctx context.Context, item *todo.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	return t.db.Update(ctx, func(tx *store.Tx) error {
		kind := queue.KindUpdate

		existing, err := t.lookup(ctx, tx, item)
		switch {
		case errors.Is(err, store.ErrNotFound):
			kind = queue.KindInsert
			if item.LocalID == "" {
				item.LocalID = uuid.NewString()
			}
		case err != nil:
			return err
		default:
			item.LocalID = existing.LocalID
			item.ID = existing.ID
			item.Version = existing.Version
			item.UpdatedAt = existing.UpdatedAt
		}
		item.Deleted = false

		if err := tx.Put(ctx, item); err != nil {
			return err
		}
		_, err = queue.In(tx).Enqueue(ctx, queue.Op{Kind: kind, Item: item.Clone()})
		return err
	})
}

// Delete removes the local record and queues a delete. A record the remote
// has never seen is dropped together with its queued operations instead.
func (t *SyncedTable) Delete(ctx context.Context, item *todo.Item) error {
	return t.db.Update(ctx, func(tx *store.Tx) error {
		existing, err := t.lookup(ctx, tx, item)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s: %w", item.LocalID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		if err := tx.Delete(ctx, existing.LocalID); err != nil {
			return err
		}

		q := queue.In(tx)
		if !existing.Persisted() {
			ops, err := q.ForRecord(ctx, existing.LocalID)
			if err != nil {
				return err
			}
			for _, op := range ops {
				if err := q.Ack(ctx, op.Seq); err != nil {
					return err
				}
			}
			return nil
		}

		_, err = q.Enqueue(ctx, queue.Op{Kind: queue.KindDelete, Item: existing})
		return err
	})
}

// Get finds a record by local id, then by remote id.
func (t *SyncedTable) Get(ctx context.Context, id string) (*todo.Item, error) {
	item, err := t.db.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		item, err = t.db.GetByRemoteID(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return item, err
}

func (t *SyncedTable) List(ctx context.Context, filter todo.Filter, order todo.OrderBy) ([]*todo.Item, error) {
	return t.db.List(ctx, filter, order)
}

func (t *SyncedTable) Offline() bool {
	return true
}

// lookup finds the stored record item refers to, by local id first.
func (t *SyncedTable) lookup(ctx context.Context, tx *store.Tx, item *todo.Item) (*todo.Item, error) {
	if item.LocalID != "" {
		existing, err := tx.Get(ctx, item.LocalID)
		if !errors.Is(err, store.ErrNotFound) {
			return existing, err
		}
	}
	if item.ID != "" {
		return tx.GetByRemoteID(ctx, item.ID)
	}
	return nil, store.ErrNotFound
}
