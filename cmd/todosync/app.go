package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/remote/httpapi"
	"github.com/mschirtzinger/todosync/internal/store"
	"github.com/mschirtzinger/todosync/internal/sync"
	"github.com/mschirtzinger/todosync/internal/table"
	"github.com/mschirtzinger/todosync/internal/todo"
	"github.com/mschirtzinger/todosync/internal/ui"
)

// errDirectMode is returned by commands that only make sense with a local
// replica.
var errDirectMode = errors.New("not available in direct mode (set mode = \"offline\")")

// app is the context shared by one command invocation: the replica, the
// remote, the engine and the table manager built from the resolved config.
type app struct {
	mode    table.Mode
	db      *store.DB // nil in direct mode
	remote  remote.Service
	engine  *sync.Engine // nil in direct mode
	manager *table.Manager
}

// newRemote returns the remote table client for the configured URL.
func newRemote() remote.Service {
	return httpapi.NewClient(cfg.Remote.URL, cfg.Remote.Timeout)
}

// openApp builds the app for the resolved config. Callers must Close it.
func openApp(ctx context.Context) (*app, error) {
	mode, err := table.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	a := &app{mode: mode, remote: newRemote()}
	if mode == table.ModeDirect {
		a.manager = table.NewManager(table.NewDirectTable(a.remote), nil, logs.Logger("todo"))
		return a, nil
	}

	policy, err := sync.PolicyByName(cfg.Sync.Policy, ui.NewPromptDecider())
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	a.db = db
	a.engine = sync.New(db, a.remote, sync.Options{
		Policy:  policy,
		Queries: cfg.NamedQueries(),
		Logger:  logs.Logger("sync"),
	})
	a.manager = table.NewManager(table.NewSyncedTable(db), a.engine, logs.Logger("todo"))
	return a, nil
}

// requireOffline fails for commands that need the replica.
func (a *app) requireOffline() error {
	if a.engine == nil {
		return errDirectMode
	}
	return nil
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// findItem resolves ref to an item. ref is a full local or remote id, or
// an unambiguous prefix of one as shown by "todosync list".
func (a *app) findItem(ctx context.Context, ref string) (*todo.Item, error) {
	item, err := a.manager.Get(ctx, ref)
	if err == nil || !errors.Is(err, table.ErrNotFound) {
		return item, err
	}
	if len(ref) < 4 {
		return nil, err
	}

	all, lerr := a.manager.List(ctx, todo.Filter{}, todo.OrderBy{})
	if lerr != nil {
		return nil, lerr
	}
	var matches []*todo.Item
	for _, it := range all {
		if strings.HasPrefix(it.LocalID, ref) || (it.ID != "" && strings.HasPrefix(it.ID, ref)) {
			matches = append(matches, it)
		}
	}
	switch len(matches) {
	case 0:
		return nil, err
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d items, use more characters", ref, len(matches))
	}
}
