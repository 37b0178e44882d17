package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mschirtzinger/todosync/internal/store"
	"github.com/mschirtzinger/todosync/internal/todo"
)

func setupQueue(t *testing.T) (*store.DB, *Queue) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db, New(db)
}

func mustEnqueue(t *testing.T, q *Queue, kind Kind, item *todo.Item) int64 {
	t.Helper()
	seq, err := q.Enqueue(context.Background(), Op{Kind: kind, Item: item})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	return seq
}

func TestEnqueue_SequenceOrder(t *testing.T) {
	_, q := setupQueue(t)
	ctx := context.Background()

	s1 := mustEnqueue(t, q, KindInsert, &todo.Item{LocalID: "a", Name: "one"})
	s2 := mustEnqueue(t, q, KindUpdate, &todo.Item{LocalID: "b", ID: "r2", Name: "two", Version: "v1"})
	s3 := mustEnqueue(t, q, KindDelete, &todo.Item{LocalID: "c", ID: "r3", Name: "three", Version: "v4"})

	if !(s1 < s2 && s2 < s3) {
		t.Fatalf("sequence numbers not increasing: %d %d %d", s1, s2, s3)
	}

	ops, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("Pending() = %d ops, want 3", len(ops))
	}
	wantKinds := []Kind{KindInsert, KindUpdate, KindDelete}
	for i, op := range ops {
		if op.Kind != wantKinds[i] {
			t.Errorf("ops[%d].Kind = %s, want %s", i, op.Kind, wantKinds[i])
		}
	}
	if ops[1].Item.Version != "v1" || ops[1].Item.ID != "r2" {
		t.Errorf("snapshot not preserved: %+v", ops[1].Item)
	}

	// Drain does not remove.
	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Len() = %d after Pending(), want 3", n)
	}
}

func TestEnqueue_Invalid(t *testing.T) {
	_, q := setupQueue(t)
	ctx := context.Background()

	tests := []struct {
		name string
		op   Op
	}{
		{"unknown kind", Op{Kind: "upsert", Item: &todo.Item{LocalID: "a", Name: "x"}}},
		{"nil snapshot", Op{Kind: KindInsert}},
		{"no local id", Op{Kind: KindInsert, Item: &todo.Item{Name: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Enqueue(ctx, tt.op); err == nil {
				t.Error("Enqueue() should fail")
			}
		})
	}
}

func TestAck(t *testing.T) {
	_, q := setupQueue(t)
	ctx := context.Background()

	s1 := mustEnqueue(t, q, KindInsert, &todo.Item{LocalID: "a", Name: "one"})
	s2 := mustEnqueue(t, q, KindInsert, &todo.Item{LocalID: "b", Name: "two"})

	if err := q.Ack(ctx, s1); err != nil {
		t.Fatalf("Ack() failed: %v", err)
	}
	if err := q.Ack(ctx, s1); !errors.Is(err, ErrNotQueued) {
		t.Errorf("second Ack() error = %v, want ErrNotQueued", err)
	}

	ops, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if len(ops) != 1 || ops[0].Seq != s2 {
		t.Errorf("Pending() = %+v, want only seq %d", ops, s2)
	}

	// Sequence numbers are never reused.
	s3 := mustEnqueue(t, q, KindInsert, &todo.Item{LocalID: "c", Name: "three"})
	if s3 <= s2 {
		t.Errorf("seq %d reused or decreased after ack (last %d)", s3, s2)
	}
}

func TestRequeue_KeepsPosition(t *testing.T) {
	_, q := setupQueue(t)
	ctx := context.Background()

	s1 := mustEnqueue(t, q, KindUpdate, &todo.Item{LocalID: "a", ID: "r1", Name: "mine", Version: "v1"})
	mustEnqueue(t, q, KindUpdate, &todo.Item{LocalID: "a", ID: "r1", Name: "mine again", Version: "v1"})

	err := q.Requeue(ctx, s1, Op{Kind: KindUpdate, Item: &todo.Item{LocalID: "a", ID: "r1", Name: "mine", Version: "v2"}})
	if err != nil {
		t.Fatalf("Requeue() failed: %v", err)
	}

	ops, err := q.ForRecord(ctx, "a")
	if err != nil {
		t.Fatalf("ForRecord() failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("ForRecord() = %d ops, want 2", len(ops))
	}
	if ops[0].Seq != s1 || ops[0].Item.Version != "v2" {
		t.Errorf("ops[0] = %v, want seq %d with version v2", ops[0], s1)
	}

	if err := q.Requeue(ctx, 9999, Op{Kind: KindUpdate, Item: &todo.Item{LocalID: "a", Name: "x"}}); !errors.Is(err, ErrNotQueued) {
		t.Errorf("Requeue() of missing seq error = %v, want ErrNotQueued", err)
	}
}

func TestRebase(t *testing.T) {
	_, q := setupQueue(t)
	ctx := context.Background()

	mustEnqueue(t, q, KindUpdate, &todo.Item{LocalID: "a", Name: "renamed"})
	mustEnqueue(t, q, KindDelete, &todo.Item{LocalID: "a", Name: "renamed"})
	mustEnqueue(t, q, KindUpdate, &todo.Item{LocalID: "b", ID: "rb", Name: "other", Version: "v9"})

	if err := q.Rebase(ctx, "a", "ra", "v1"); err != nil {
		t.Fatalf("Rebase() failed: %v", err)
	}

	ops, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	for _, op := range ops {
		switch op.Item.LocalID {
		case "a":
			if op.Item.ID != "ra" || op.Item.Version != "v1" {
				t.Errorf("op %v not rebased", op)
			}
		case "b":
			if op.Item.ID != "rb" || op.Item.Version != "v9" {
				t.Errorf("op %v of another record was rebased", op)
			}
		}
	}
}

func TestIn_RollsBackWithTransaction(t *testing.T) {
	db, q := setupQueue(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.Update(ctx, func(tx *store.Tx) error {
		item := &todo.Item{LocalID: "a", Name: "x"}
		if err := tx.Put(ctx, item); err != nil {
			return err
		}
		if _, err := In(tx).Enqueue(ctx, Op{Kind: KindInsert, Item: item}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Len() = %d, want 0 after rollback", n)
	}
}
