// Package remotetest holds the behaviour every remote.Service
// implementation must share. Backends call these from their own tests.
package remotetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/todo"
)

type ServiceTest struct{}

// Run executes every contract test against a fresh service from newService.
func (s *ServiceTest) Run(t *testing.T, newService func(t *testing.T) remote.Service) {
	t.Run("Insert", func(t *testing.T) { s.TestInsert(t, newService(t)) })
	t.Run("Update", func(t *testing.T) { s.TestUpdate(t, newService(t)) })
	t.Run("Conflict", func(t *testing.T) { s.TestConflict(t, newService(t)) })
	t.Run("Delete", func(t *testing.T) { s.TestDelete(t, newService(t)) })
	t.Run("NotFound", func(t *testing.T) { s.TestNotFound(t, newService(t)) })
	t.Run("QuerySince", func(t *testing.T) { s.TestQuerySince(t, newService(t)) })
}

func (s *ServiceTest) TestInsert(t *testing.T, svc remote.Service) {
	ctx := context.Background()

	created, err := svc.Insert(ctx, &todo.Item{LocalID: "local-1", Name: "Buy milk"})
	require.NoError(t, err, "failed to call Insert")
	require.NotEmpty(t, created.ID)
	require.NotEmpty(t, created.Version)
	require.False(t, created.UpdatedAt.IsZero())
	require.Empty(t, created.LocalID, "local id must not be stored remotely")
	require.Equal(t, "Buy milk", created.Name)

	other, err := svc.Insert(ctx, &todo.Item{Name: "Walk dog"})
	require.NoError(t, err, "failed to call second Insert")
	require.NotEqual(t, created.ID, other.ID)
	require.True(t, other.UpdatedAt.After(created.UpdatedAt), "UpdatedAt must increase")

	fetched, err := svc.Get(ctx, created.ID)
	require.NoError(t, err, "failed to call Get")
	require.Equal(t, created.Version, fetched.Version)
}

func (s *ServiceTest) TestUpdate(t *testing.T, svc remote.Service) {
	ctx := context.Background()

	created, err := svc.Insert(ctx, &todo.Item{Name: "Buy milk"})
	require.NoError(t, err, "failed to call Insert")

	edit := created.Clone()
	edit.Done = true
	updated, err := svc.Update(ctx, edit)
	require.NoError(t, err, "failed to call Update")
	require.True(t, updated.Done)
	require.NotEqual(t, created.Version, updated.Version)
	require.True(t, updated.UpdatedAt.After(created.UpdatedAt))
}

func (s *ServiceTest) TestConflict(t *testing.T, svc remote.Service) {
	ctx := context.Background()

	created, err := svc.Insert(ctx, &todo.Item{Name: "A"})
	require.NoError(t, err, "failed to call Insert")

	first := created.Clone()
	first.Name = "B"
	moved, err := svc.Update(ctx, first)
	require.NoError(t, err, "failed to call Update")

	// Still built against the original version.
	stale := created.Clone()
	stale.Name = "C"
	_, err = svc.Update(ctx, stale)
	require.Error(t, err, "stale update is supposed to conflict")

	conflict, ok := remote.AsConflict(err)
	require.True(t, ok, "error should be a VersionConflictError, got %v", err)
	require.Equal(t, "B", conflict.Server.Name)
	require.Equal(t, moved.Version, conflict.Server.Version)

	err = svc.Delete(ctx, created.ID, created.Version)
	_, ok = remote.AsConflict(err)
	require.True(t, ok, "stale delete should conflict, got %v", err)
}

func (s *ServiceTest) TestDelete(t *testing.T, svc remote.Service) {
	ctx := context.Background()

	created, err := svc.Insert(ctx, &todo.Item{Name: "Pay rent"})
	require.NoError(t, err, "failed to call Insert")

	require.NoError(t, svc.Delete(ctx, created.ID, created.Version), "failed to call Delete")
	require.NoError(t, svc.Delete(ctx, created.ID, created.Version), "second Delete should succeed")

	tomb, err := svc.Get(ctx, created.ID)
	require.NoError(t, err, "failed to call Get on tombstone")
	require.True(t, tomb.Deleted)

	// Incremental pulls report the tombstone.
	changes, err := svc.QuerySince(ctx, todo.AllItemsQuery, created.UpdatedAt, todo.Filter{})
	require.NoError(t, err, "failed to call QuerySince")
	require.Len(t, changes, 1)
	require.True(t, changes[0].Deleted)

	// Full pulls skip it.
	all, err := svc.QuerySince(ctx, todo.AllItemsQuery, time.Time{}, todo.Filter{})
	require.NoError(t, err, "failed to call QuerySince")
	require.Empty(t, all)
}

func (s *ServiceTest) TestNotFound(t *testing.T, svc remote.Service) {
	ctx := context.Background()
	missing := uuid.NewString()

	_, err := svc.Get(ctx, missing)
	require.True(t, errors.Is(err, remote.ErrNotFound), "Get: got %v", err)

	_, err = svc.Update(ctx, &todo.Item{ID: missing, Name: "x", Version: "v1"})
	require.True(t, errors.Is(err, remote.ErrNotFound), "Update: got %v", err)

	err = svc.Delete(ctx, missing, "v1")
	require.True(t, errors.Is(err, remote.ErrNotFound), "Delete: got %v", err)
}

func (s *ServiceTest) TestQuerySince(t *testing.T, svc remote.Service) {
	ctx := context.Background()

	a, err := svc.Insert(ctx, &todo.Item{Name: "a"})
	require.NoError(t, err)
	b, err := svc.Insert(ctx, &todo.Item{Name: "b", Done: true})
	require.NoError(t, err)
	c, err := svc.Insert(ctx, &todo.Item{Name: "c"})
	require.NoError(t, err)

	all, err := svc.QuerySince(ctx, todo.AllItemsQuery, time.Time{}, todo.Filter{})
	require.NoError(t, err, "failed to call QuerySince")
	require.Equal(t, []string{a.ID, b.ID, c.ID}, ids(all), "results ordered by UpdatedAt")

	since, err := svc.QuerySince(ctx, todo.AllItemsQuery, a.UpdatedAt, todo.Filter{})
	require.NoError(t, err)
	require.Equal(t, []string{b.ID, c.ID}, ids(since))

	open, err := svc.QuerySince(ctx, "open", time.Time{}, todo.Filter{Done: todo.Bool(false)})
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, c.ID}, ids(open))

	none, err := svc.QuerySince(ctx, todo.AllItemsQuery, c.UpdatedAt, todo.Filter{})
	require.NoError(t, err)
	require.Empty(t, none)
}

func ids(items []*todo.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
