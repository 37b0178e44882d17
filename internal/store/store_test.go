package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mschirtzinger/todosync/internal/todo"
)

// setupDB opens a fresh database with the schema applied.
func setupDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func TestOpen_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "local.db")
	db, err := Open("file:" + path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("Open(\"\") should fail")
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := setupDB(t)

	if err := db.InitSchema(); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}

	for _, table := range []string{"items", "pending_ops", "change_tokens"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	updated := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	item := &todo.Item{LocalID: "l1", ID: "r1", Name: "Buy milk", Done: true, UpdatedAt: updated, Version: "v1"}
	if err := db.Put(ctx, item); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := db.Get(ctx, "l1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "Buy milk" || !got.Done || got.ID != "r1" || got.Version != "v1" {
		t.Errorf("Get() = %+v", got)
	}
	if !got.UpdatedAt.Equal(updated) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, updated)
	}

	byRemote, err := db.GetByRemoteID(ctx, "r1")
	if err != nil {
		t.Fatalf("GetByRemoteID() failed: %v", err)
	}
	if byRemote.LocalID != "l1" {
		t.Errorf("GetByRemoteID().LocalID = %q, want l1", byRemote.LocalID)
	}
}

func TestPut_Upsert(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	if err := db.Put(ctx, &todo.Item{LocalID: "l1", Name: "first"}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := db.Put(ctx, &todo.Item{LocalID: "l1", Name: "second"}); err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}

	got, err := db.Get(ctx, "l1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "second" {
		t.Errorf("Name = %q, want second", got.Name)
	}

	count, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestPut_Invalid(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	if err := db.Put(ctx, &todo.Item{Name: "no local id"}); err == nil {
		t.Error("Put() without local id should fail")
	}
	if err := db.Put(ctx, &todo.Item{LocalID: "l1"}); err == nil {
		t.Error("Put() without name should fail")
	}
}

func TestUnsyncedItemsShareNullRemoteID(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := db.Put(ctx, &todo.Item{LocalID: id, Name: id}); err != nil {
			t.Fatalf("Put(%s) failed: %v", id, err)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	db := setupDB(t)

	_, err := db.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	if err := db.Put(ctx, &todo.Item{LocalID: "l1", Name: "x"}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := db.Delete(ctx, "l1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := db.Delete(ctx, "l1"); err != nil {
		t.Fatalf("second Delete() failed: %v", err)
	}
	if _, err := db.Get(ctx, "l1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestQuery_FilterAndOrder(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []*todo.Item{
		{LocalID: "1", Name: "Walk dog", UpdatedAt: t0.Add(2 * time.Hour)},
		{LocalID: "2", Name: "Buy milk", UpdatedAt: t0},
		{LocalID: "3", Name: "Pay rent", Done: true, UpdatedAt: t0.Add(time.Hour)},
	}
	for _, it := range items {
		if err := db.Put(ctx, it); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter todo.Filter
		order  todo.OrderBy
		want   []string
	}{
		{"all by updated", todo.Filter{}, todo.OrderBy{Field: todo.OrderUpdatedAt}, []string{"2", "3", "1"}},
		{"all by name desc", todo.Filter{}, todo.OrderBy{Field: todo.OrderName, Desc: true}, []string{"1", "3", "2"}},
		{"open only", todo.Filter{Done: todo.Bool(false)}, todo.OrderBy{}, []string{"2", "1"}},
		{"name contains", todo.Filter{NameContains: "MILK"}, todo.OrderBy{}, []string{"2"}},
		{"updated after", todo.Filter{UpdatedAfter: t0}, todo.OrderBy{}, []string{"3", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.List(ctx, tt.filter, tt.order)
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() returned %d items, want %d", len(got), len(tt.want))
			}
			for i, it := range got {
				if it.LocalID != tt.want[i] {
					t.Errorf("item[%d] = %s, want %s", i, it.LocalID, tt.want[i])
				}
			}
		})
	}
}

func TestQuery_Restartable(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	if err := db.Put(ctx, &todo.Item{LocalID: "1", Name: "a"}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	seq := db.Query(ctx, todo.Filter{}, todo.OrderBy{})
	count := func() int {
		n := 0
		for _, err := range seq {
			if err != nil {
				t.Fatalf("Query() failed: %v", err)
			}
			n++
		}
		return n
	}

	if n := count(); n != 1 {
		t.Fatalf("first range = %d, want 1", n)
	}

	// The sequence re-runs the query and sees new writes.
	if err := db.Put(ctx, &todo.Item{LocalID: "2", Name: "b"}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if n := count(); n != 2 {
		t.Errorf("second range = %d, want 2", n)
	}
}

func TestQuery_BadOrder(t *testing.T) {
	db := setupDB(t)
	_, err := db.List(context.Background(), todo.Filter{}, todo.OrderBy{Field: "priority"})
	if err == nil {
		t.Error("List() with unknown order field should fail")
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(ctx, &todo.Item{LocalID: "l1", Name: "x"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}

	if _, err := db.Get(ctx, "l1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("write inside failed Update() was committed")
	}
}

func TestSetRemote_KeepsDomainFields(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	if err := db.Put(ctx, &todo.Item{LocalID: "l1", Name: "edited locally", Done: true}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	now := time.Now().UTC()
	err := db.Update(ctx, func(tx *Tx) error {
		return tx.SetRemote(ctx, "l1", "r9", "v3", now)
	})
	if err != nil {
		t.Fatalf("SetRemote() failed: %v", err)
	}

	got, err := db.Get(ctx, "l1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ID != "r9" || got.Version != "v3" {
		t.Errorf("identity = (%s, %s), want (r9, v3)", got.ID, got.Version)
	}
	if got.Name != "edited locally" || !got.Done {
		t.Errorf("domain fields changed: %+v", got)
	}
}

func TestChangeToken_OnlyAdvances(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, ok, err := db.ChangeToken(ctx, todo.AllItemsQuery)
	if err != nil {
		t.Fatalf("ChangeToken() failed: %v", err)
	}
	if ok {
		t.Fatal("ChangeToken() found a token before any pull")
	}

	t1 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)

	advance := func(ts time.Time) {
		t.Helper()
		err := db.Update(ctx, func(tx *Tx) error {
			return tx.AdvanceChangeToken(ctx, todo.AllItemsQuery, ts)
		})
		if err != nil {
			t.Fatalf("AdvanceChangeToken() failed: %v", err)
		}
	}

	advance(t1)
	advance(t0)
	advance(time.Time{})

	tok, ok, err := db.ChangeToken(ctx, todo.AllItemsQuery)
	if err != nil || !ok {
		t.Fatalf("ChangeToken() = %v, %v, %v", tok, ok, err)
	}
	if !tok.UpdatedAt.Equal(t1) {
		t.Errorf("token = %v, want %v", tok.UpdatedAt, t1)
	}

	tokens, err := db.ChangeTokens(ctx)
	if err != nil {
		t.Fatalf("ChangeTokens() failed: %v", err)
	}
	if len(tokens) != 1 {
		t.Errorf("ChangeTokens() = %d tokens, want 1", len(tokens))
	}

	if err := db.ResetChangeToken(ctx, todo.AllItemsQuery); err != nil {
		t.Fatalf("ResetChangeToken() failed: %v", err)
	}
	if _, ok, _ := db.ChangeToken(ctx, todo.AllItemsQuery); ok {
		t.Error("token survived ResetChangeToken()")
	}
}
