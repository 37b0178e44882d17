// Package queue provides the durable log of local mutations waiting to be
// pushed to the remote table.
//
// Operations live in the pending_ops table of the local SQLite database, so
// a queue write can join the same transaction as the matching record write
// (see In). Sequence numbers come from SQLite AUTOINCREMENT: strictly
// increasing and never reused, even after an Ack.
//
// The queue never coalesces. Two updates to the same record are two
// operations and are pushed in the order they were enqueued.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/todosync/internal/store"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// ErrNotQueued is returned by Ack and Requeue when no operation has the
// given sequence number.
var ErrNotQueued = errors.New("operation not queued")

// Kind is the type of mutation an operation applies remotely.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInsert, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Op is one pending mutation.
type Op struct {
	// Seq is assigned by Enqueue. It is zero on an Op that has not been
	// enqueued yet.
	Seq int64 `json:"seq"`

	Kind Kind `json:"kind"`

	// Item is the record snapshot taken when the mutation was made. For
	// updates and deletes, Item.Version is the version the mutation was
	// built against.
	Item *todo.Item `json:"item"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// String renders the op for logs.
func (op Op) String() string {
	return fmt.Sprintf("%s seq=%d local=%s %s", op.Kind, op.Seq, op.Item.LocalID, op.Item)
}

// Queue reads and writes pending operations through a store.Querier.
type Queue struct {
	q store.Querier
}

// New returns a queue that runs each call in its own implicit transaction.
func New(db *store.DB) *Queue {
	return &Queue{q: db.RawDB()}
}

// In returns a queue bound to tx. Writes commit or roll back with it.
//
// Example:
//
//	err := db.Update(ctx, func(tx *store.Tx) error {
//	    if err := tx.Put(ctx, item); err != nil {
//	        return err
//	    }
//	    _, err := queue.In(tx).Enqueue(ctx, queue.Op{Kind: queue.KindUpdate, Item: item})
//	    return err
//	})
func In(tx *store.Tx) *Queue {
	return &Queue{q: tx.Querier()}
}

// Enqueue appends op and returns its sequence number. It never touches the
// network.
func (q *Queue) Enqueue(ctx context.Context, op Op) (int64, error) {
	if err := validate(op); err != nil {
		return 0, err
	}

	data, err := json.Marshal(op.Item)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal operation snapshot: %w", err)
	}

	enqueuedAt := op.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}

	res, err := q.q.ExecContext(ctx,
		`INSERT INTO pending_ops (kind, local_id, item, enqueued_at) VALUES (?, ?, ?, ?)`,
		string(op.Kind), op.Item.LocalID, string(data), enqueuedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s for %s: %w", op.Kind, op.Item.LocalID, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence number: %w", err)
	}
	return seq, nil
}

// Pending returns every queued operation in sequence order without
// removing any of them.
func (q *Queue) Pending(ctx context.Context) ([]Op, error) {
	return q.list(ctx, `SELECT seq, kind, item, enqueued_at FROM pending_ops ORDER BY seq`)
}

// ForRecord returns the queued operations for one record in sequence order.
func (q *Queue) ForRecord(ctx context.Context, localID string) ([]Op, error) {
	return q.list(ctx,
		`SELECT seq, kind, item, enqueued_at FROM pending_ops WHERE local_id = ? ORDER BY seq`,
		localID)
}

// Len returns the number of queued operations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_ops`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return n, nil
}

// Ack removes the operation with the given sequence number.
func (q *Queue) Ack(ctx context.Context, seq int64) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM pending_ops WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("failed to ack seq=%d: %w", seq, err)
	}
	return requireOne(res, seq)
}

// Requeue replaces the operation at seq with op. The replacement keeps seq,
// so it is pushed before any later operation on the same record.
func (q *Queue) Requeue(ctx context.Context, seq int64, op Op) error {
	if err := validate(op); err != nil {
		return err
	}

	data, err := json.Marshal(op.Item)
	if err != nil {
		return fmt.Errorf("failed to marshal operation snapshot: %w", err)
	}

	res, err := q.q.ExecContext(ctx,
		`UPDATE pending_ops SET kind = ?, local_id = ?, item = ?, enqueued_at = ? WHERE seq = ?`,
		string(op.Kind), op.Item.LocalID, string(data), time.Now().UTC().UnixNano(), seq)
	if err != nil {
		return fmt.Errorf("failed to requeue seq=%d: %w", seq, err)
	}
	return requireOne(res, seq)
}

// Rebase rewrites the remote identity and base version of every queued
// operation for localID. It runs after an earlier operation for the same
// record was accepted, so the later ones are built against what the remote
// now holds.
func (q *Queue) Rebase(ctx context.Context, localID, id, version string) error {
	ops, err := q.ForRecord(ctx, localID)
	if err != nil {
		return err
	}

	for _, op := range ops {
		op.Item.ID = id
		op.Item.Version = version
		// An insert queued behind an accepted insert would create a
		// duplicate; it becomes an update of the record the remote now has.
		if op.Kind == KindInsert {
			op.Kind = KindUpdate
		}

		data, err := json.Marshal(op.Item)
		if err != nil {
			return fmt.Errorf("failed to marshal operation snapshot: %w", err)
		}
		_, err = q.q.ExecContext(ctx,
			`UPDATE pending_ops SET kind = ?, item = ? WHERE seq = ?`,
			string(op.Kind), string(data), op.Seq)
		if err != nil {
			return fmt.Errorf("failed to rebase seq=%d: %w", op.Seq, err)
		}
	}
	return nil
}

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]Op, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	var ops []Op
	for rows.Next() {
		var op Op
		var kind, data string
		var enqueuedAt int64
		if err := rows.Scan(&op.Seq, &kind, &data, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending operation: %w", err)
		}
		op.Kind = Kind(kind)
		op.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
		if err := json.Unmarshal([]byte(data), &op.Item); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot of seq=%d: %w", op.Seq, err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending operations: %w", err)
	}
	return ops, nil
}

func validate(op Op) error {
	if !op.Kind.Valid() {
		return fmt.Errorf("invalid operation kind %q", op.Kind)
	}
	if op.Item == nil {
		return fmt.Errorf("operation has no snapshot")
	}
	if op.Item.LocalID == "" {
		return fmt.Errorf("operation snapshot has no local id")
	}
	return nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireOne(res rowsAffected, seq int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("seq=%d: %w", seq, ErrNotQueued)
	}
	return nil
}
