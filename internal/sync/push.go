package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/mschirtzinger/todosync/internal/queue"
	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/store"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// Conflict pairs a queued operation the remote rejected with the server's
// current snapshot. It is never persisted.
type Conflict struct {
	Op     queue.Op
	Server *todo.Item
}

// PushResult aggregates one drain of the queue.
type PushResult struct {
	Pushed    int
	Conflicts []Conflict
	// Skipped counts operations held back because an earlier operation on
	// the same record conflicted in this push.
	Skipped int
}

// OK reports whether every attempted operation was accepted.
func (r *PushResult) OK() bool {
	return len(r.Conflicts) == 0
}

// Pusher drains the operation queue against the remote table.
type Pusher struct {
	db     *store.DB
	queue  *queue.Queue
	remote remote.Service
	logger *log.Logger
}

// NewPusher creates a Pusher. If logger is nil, logs go to stderr.
func NewPusher(db *store.DB, svc remote.Service, logger *log.Logger) *Pusher {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Pusher{db: db, queue: queue.New(db), remote: svc, logger: logger}
}

// Push sends queued operations in sequence order.
//
// An accepted operation is acked in the same local transaction that records
// the identity and version the remote assigned. A version conflict is
// collected in the result and the record's later operations are held back
// for the rest of this push; other records continue. Any other remote
// failure stops the push with a *TransportError.
//
// The context is checked between operations, never during one: once an
// operation is sent, its remote call and local ack run to completion even if
// ctx is cancelled. The remote call stays bounded by the client's timeout.
//
// The result is non-nil even when an error is returned.
func (p *Pusher) Push(ctx context.Context) (*PushResult, error) {
	result := &PushResult{}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	ops, err := p.queue.Pending(ctx)
	if err != nil {
		return result, localErr("drain queue", err)
	}

	// ops was read before the drain started. Later ops of a record the
	// remote just accepted carry a stale version; rebased holds what the
	// remote returned so they are sent against it.
	blocked := make(map[string]bool)
	rebased := make(map[string]*todo.Item)
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		localID := op.Item.LocalID
		if blocked[localID] {
			result.Skipped++
			continue
		}
		opCtx := context.WithoutCancel(ctx)

		if cur, ok := rebased[localID]; ok {
			op.Item.ID = cur.ID
			op.Item.Version = cur.Version
		}
		if op.Kind != queue.KindInsert && op.Item.ID == "" {
			if err := p.bindIdentity(opCtx, &op); err != nil {
				return result, err
			}
			if op.Item.ID == "" {
				p.logger.Printf("WARNING: %s has no remote identity, holding back", op)
				blocked[localID] = true
				result.Skipped++
				continue
			}
		}

		accepted, err := p.apply(opCtx, op)
		if conflict, ok := remote.AsConflict(err); ok {
			p.logger.Printf("Conflict on %s: server has %s", op, conflict.Server)
			result.Conflicts = append(result.Conflicts, Conflict{Op: op, Server: conflict.Server})
			blocked[localID] = true
			continue
		}
		if err != nil {
			return result, &TransportError{Op: fmt.Sprintf("push %s seq=%d", op.Kind, op.Seq), Err: err}
		}

		if err := p.commit(opCtx, op, accepted); err != nil {
			return result, err
		}
		if accepted != nil {
			rebased[localID] = accepted
		}
		result.Pushed++
		p.logger.Printf("Pushed %s seq=%d id=%s", op.Kind, op.Seq, op.Item.ID)
	}

	return result, nil
}

// apply performs the remote mutation for op. For inserts and updates it
// returns the record as the remote stored it; for deletes it returns nil.
func (p *Pusher) apply(ctx context.Context, op queue.Op) (*todo.Item, error) {
	switch op.Kind {
	case queue.KindInsert:
		return p.remote.Insert(ctx, op.Item)

	case queue.KindUpdate:
		updated, err := p.remote.Update(ctx, op.Item)
		if errors.Is(err, remote.ErrNotFound) {
			// Gone without a tombstone. Surfaces as a conflict with a
			// versionless deleted snapshot so the resolver can decide.
			gone := op.Item.Clone()
			gone.LocalID = ""
			gone.Version = ""
			gone.Deleted = true
			return nil, &remote.VersionConflictError{Server: gone}
		}
		return updated, err

	case queue.KindDelete:
		err := p.remote.Delete(ctx, op.Item.ID, op.Item.Version)
		if errors.Is(err, remote.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
}

// commit acks op and records what the remote accepted, atomically. Callers
// pass a context that is not cancelled once the remote has accepted op.
func (p *Pusher) commit(ctx context.Context, op queue.Op, accepted *todo.Item) error {
	err := p.db.Update(ctx, func(tx *store.Tx) error {
		q := queue.In(tx)
		if err := q.Ack(ctx, op.Seq); err != nil {
			return err
		}
		if accepted == nil {
			return nil
		}
		if err := tx.SetRemote(ctx, op.Item.LocalID, accepted.ID, accepted.Version, accepted.UpdatedAt); err != nil {
			return err
		}
		return q.Rebase(ctx, op.Item.LocalID, accepted.ID, accepted.Version)
	})
	if err != nil {
		return localErr(fmt.Sprintf("ack seq=%d", op.Seq), err)
	}

	if accepted != nil {
		op.Item.ID = accepted.ID
	}
	return nil
}

// bindIdentity fills in the remote identity of an update or delete from the
// local record, for operations queued before the record's insert was
// acknowledged.
func (p *Pusher) bindIdentity(ctx context.Context, op *queue.Op) error {
	current, err := p.db.Get(ctx, op.Item.LocalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return localErr(fmt.Sprintf("bind identity seq=%d", op.Seq), err)
	}
	op.Item.ID = current.ID
	op.Item.Version = current.Version
	return nil
}
