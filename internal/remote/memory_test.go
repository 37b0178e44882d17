package remote_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/remote/remotetest"
	"github.com/mschirtzinger/todosync/internal/todo"
)

func TestMemory_Contract(t *testing.T) {
	(&remotetest.ServiceTest{}).Run(t, func(t *testing.T) remote.Service {
		return remote.NewMemory()
	})
}

func TestMemory_LoadAdvancesRevision(t *testing.T) {
	mem := remote.NewMemory()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.Load(&todo.Item{ID: "5", Name: "Buy milk", Version: "v7", UpdatedAt: ts})

	updated, err := mem.Update(context.Background(), &todo.Item{ID: "5", Name: "Buy bread", Version: "v7"})
	require.NoError(t, err)
	require.Equal(t, "v8", updated.Version)
	require.True(t, updated.UpdatedAt.After(ts))
}

func TestMemory_FrozenClockStillIncreases(t *testing.T) {
	mem := remote.NewMemory()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return fixed })

	a, err := mem.Insert(context.Background(), &todo.Item{Name: "a"})
	require.NoError(t, err)
	b, err := mem.Insert(context.Background(), &todo.Item{Name: "b"})
	require.NoError(t, err)
	require.True(t, b.UpdatedAt.After(a.UpdatedAt))
	require.Equal(t, 2, mem.Len())
}

func TestMemory_UpdateRevivesTombstone(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()

	created, err := mem.Insert(ctx, &todo.Item{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, mem.Delete(ctx, created.ID, created.Version))

	tomb, err := mem.Get(ctx, created.ID)
	require.NoError(t, err)

	revived, err := mem.Update(ctx, &todo.Item{ID: created.ID, Name: "a again", Version: tomb.Version})
	require.NoError(t, err)
	require.False(t, revived.Deleted)
	require.Equal(t, 1, mem.Len())
}
