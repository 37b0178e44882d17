package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/remote/remotetest"
	"github.com/mschirtzinger/todosync/internal/todo"
)

func newTestServer(t *testing.T, svc remote.Service) *Client {
	t.Helper()
	srv := httptest.NewServer(NewHandler(svc, nil).WithCORS(nil))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 0)
}

func TestClient_Contract(t *testing.T) {
	(&remotetest.ServiceTest{}).Run(t, func(t *testing.T) remote.Service {
		return newTestServer(t, remote.NewMemory())
	})
}

func TestClient_ConflictCarriesServerSnapshot(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	client := newTestServer(t, mem)

	created, err := client.Insert(ctx, &todo.Item{Name: "A"})
	require.NoError(t, err)

	_, err = mem.Update(ctx, &todo.Item{ID: created.ID, Name: "B", Version: created.Version})
	require.NoError(t, err)

	_, err = client.Update(ctx, &todo.Item{ID: created.ID, Name: "C", Version: created.Version})
	conflict, ok := remote.AsConflict(err)
	require.True(t, ok, "expected conflict, got %v", err)
	require.Equal(t, "B", conflict.Server.Name)
	require.Equal(t, created.ID, conflict.Server.ID)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, 0).Insert(context.Background(), &todo.Item{Name: "x"})
	require.True(t, errors.Is(err, remote.ErrUnavailable), "got %v", err)
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database is down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).QuerySince(context.Background(), todo.AllItemsQuery, time.Time{}, todo.Filter{})
	require.True(t, errors.Is(err, remote.ErrUnavailable), "got %v", err)
}

func TestClient_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).Get(context.Background(), "x")
	require.Error(t, err)
	require.False(t, errors.Is(err, remote.ErrUnavailable))
}

func TestClient_LargeQueryResponse(t *testing.T) {
	mem := remote.NewMemory()
	const n = 10000
	for i := 0; i < n; i++ {
		mem.Load(&todo.Item{
			ID:        fmt.Sprintf("item-%05d", i),
			Name:      fmt.Sprintf("item number %d with a name long enough to matter", i),
			Version:   fmt.Sprintf("v%d", i+1),
			UpdatedAt: time.Date(2026, 4, 1, 9, 0, i, 0, time.UTC),
		})
	}

	items, err := newTestServer(t, mem).QuerySince(context.Background(), todo.AllItemsQuery, time.Time{}, todo.Filter{})
	require.NoError(t, err)
	require.Len(t, items, n)
}

func TestHandler_DeleteRequiresVersion(t *testing.T) {
	h := NewHandler(remote.NewMemory(), nil)

	req := httptest.NewRequest(http.MethodDelete, "/items/abc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CORSPreflight(t *testing.T) {
	h := NewHandler(remote.NewMemory(), nil).WithCORS([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/items", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	client := newTestServer(t, remote.NewMemory())
	require.NoError(t, client.Health(context.Background()))
}
