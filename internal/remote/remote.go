// Package remote defines the authoritative table that local replicas sync
// against, and an in-memory implementation of it.
//
// The remote assigns identity (ID), the optimistic-concurrency token
// (Version) and the modification timestamp (UpdatedAt). An Update or Delete
// carrying a stale Version fails with *VersionConflictError, which includes
// the server's current snapshot.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/todosync/internal/todo"
)

var (
	// ErrNotFound is returned when a record id has never existed remotely.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable wraps failures to reach the remote at all (network
	// errors, 5xx responses). The operation may be retried later.
	ErrUnavailable = errors.New("remote unavailable")
)

// VersionConflictError reports that the version an Update or Delete was
// built against is no longer the server's current version.
type VersionConflictError struct {
	// Server is the record as the remote currently holds it, including its
	// current Version. Server.Deleted is set if the record was deleted.
	Server *todo.Item
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: server has version %s", e.Server.ID, e.Server.Version)
}

// AsConflict extracts a *VersionConflictError from err.
func AsConflict(err error) (*VersionConflictError, bool) {
	var conflict *VersionConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// Service is the remote table.
//
// Implementations must be safe for concurrent use. Records returned by
// QuerySince are ordered by UpdatedAt ascending and include tombstones
// (Deleted set) so replicas can drop deleted records.
type Service interface {
	// Insert stores a new record and returns it with ID, Version and
	// UpdatedAt assigned. Any ID on the input is ignored.
	Insert(ctx context.Context, item *todo.Item) (*todo.Item, error)

	// Update replaces the domain fields of item.ID if item.Version matches
	// the server's version.
	Update(ctx context.Context, item *todo.Item) (*todo.Item, error)

	// Delete removes id if version matches the server's version. Deleting
	// an already deleted record succeeds.
	Delete(ctx context.Context, id, version string) error

	// Get returns the current record, which may be a tombstone.
	Get(ctx context.Context, id string) (*todo.Item, error)

	// QuerySince returns records matching filter that changed strictly after
	// since. A zero since returns every live record. query names the caller's
	// named query and is informational.
	QuerySince(ctx context.Context, query string, since time.Time, filter todo.Filter) ([]*todo.Item, error)
}
