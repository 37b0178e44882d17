package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/mschirtzinger/todosync/internal/queue"
	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/store"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// Puller merges remote changes into the local store.
type Puller struct {
	db     *store.DB
	remote remote.Service
	logger *log.Logger
}

// NewPuller creates a Puller. If logger is nil, logs go to stderr.
func NewPuller(db *store.DB, svc remote.Service, logger *log.Logger) *Puller {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Puller{db: db, remote: svc, logger: logger}
}

// Pull fetches the records of query that changed since its change token
// and writes every one of them into the local store, then advances the
// token to the largest UpdatedAt seen. All of it commits in one local
// transaction.
//
// Pulled records always win over the local copy, including local edits
// that are still queued for push. Pull never touches the queue.
//
// The query's filter decides which new records are brought in. Records
// already held locally are kept current even after they stop matching, so
// the remote is asked for every change since the token and the filter is
// applied here.
//
// Returns the number of records merged.
func (p *Puller) Pull(ctx context.Context, query todo.NamedQuery) (int, error) {
	if err := query.Validate(); err != nil {
		return 0, err
	}

	token, _, err := p.db.ChangeToken(ctx, query.Name)
	if err != nil {
		return 0, localErr("read change token", err)
	}

	items, err := p.remote.QuerySince(ctx, query.Name, token.UpdatedAt, todo.Filter{})
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		return 0, &TransportError{Op: "pull " + query.Name, Err: err}
	}
	if len(items) == 0 {
		return 0, nil
	}

	merged := 0
	err = p.db.Update(ctx, func(tx *store.Tx) error {
		merged = 0
		latest := token.UpdatedAt
		q := queue.In(tx)

		for _, item := range items {
			if item.UpdatedAt.After(latest) {
				latest = item.UpdatedAt
			}

			existing, err := tx.GetByRemoteID(ctx, item.ID)
			if errors.Is(err, store.ErrNotFound) {
				existing = nil
			} else if err != nil {
				return err
			}

			if existing == nil && !query.Filter.Match(item) {
				continue
			}
			if existing != nil {
				if err := p.warnUnpushed(ctx, q, existing, item); err != nil {
					return err
				}
			}

			if item.Deleted {
				if existing == nil {
					continue
				}
				if err := tx.Delete(ctx, existing.LocalID); err != nil {
					return err
				}
				merged++
				continue
			}

			local := item.Clone()
			local.Deleted = false
			if existing != nil {
				local.LocalID = existing.LocalID
			} else {
				local.LocalID = uuid.NewString()
			}
			if err := tx.Put(ctx, local); err != nil {
				return err
			}
			merged++
		}

		return tx.AdvanceChangeToken(ctx, query.Name, latest)
	})
	if err != nil {
		return 0, localErr(fmt.Sprintf("merge pull %s", query.Name), err)
	}

	p.logger.Printf("Pulled %s: %d record(s) merged", query.Name, merged)
	return merged, nil
}

// warnUnpushed logs when a pulled record replaces a local record that still
// has queued operations. Those local changes are not lost from the queue,
// but readers see the server copy until the next push.
func (p *Puller) warnUnpushed(ctx context.Context, q *queue.Queue, existing, pulled *todo.Item) error {
	pending, err := q.ForRecord(ctx, existing.LocalID)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		p.logger.Printf("DEBUG: pulled %s overwrote local %s with %d unpushed operation(s)",
			pulled, existing.LocalID, len(pending))
	}
	return nil
}
