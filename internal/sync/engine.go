package sync

import (
	"context"
	"errors"
	"log"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/mschirtzinger/todosync/internal/queue"
	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/store"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// ConflictReport summarizes one resolved or unresolved conflict of a cycle.
type ConflictReport struct {
	Seq        int64  `json:"seq" yaml:"seq"`
	LocalID    string `json:"local_id" yaml:"local_id"`
	ID         string `json:"id" yaml:"id"`
	Resolution string `json:"resolution" yaml:"resolution"`
}

// Outcome is the structured result of one sync cycle. It is filled in as
// far as the cycle got, so a failed cycle still reports what was committed.
type Outcome struct {
	Pushed         int              `json:"pushed" yaml:"pushed"`
	Skipped        int              `json:"skipped" yaml:"skipped"`
	Discarded      int              `json:"discarded" yaml:"discarded"`
	ResolvedServer int              `json:"resolved_server" yaml:"resolved_server"`
	ResolvedClient int              `json:"resolved_client" yaml:"resolved_client"`
	Unresolved     int              `json:"unresolved" yaml:"unresolved"`
	Pulled         int              `json:"pulled" yaml:"pulled"`
	Conflicts      []ConflictReport `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Duration       time.Duration    `json:"duration" yaml:"duration"`
}

// Observer is notified after every cycle run through Sync or TrySync.
// Observers must not block.
type Observer interface {
	OnSyncComplete(outcome *Outcome, err error)
}

// Options configures an Engine.
type Options struct {
	// Policy settles conflicts whose fields differ. Defaults to ServerWins.
	Policy Policy

	// Queries are pulled in order after every push. Defaults to
	// todo.AllItems().
	Queries []todo.NamedQuery

	// Logger defaults to stderr with a "[sync] " prefix.
	Logger *log.Logger
}

// Engine runs sync cycles: push, resolve conflicts, pull. At most one
// cycle (or standalone push or pull) runs at a time.
type Engine struct {
	db       *store.DB
	queue    *queue.Queue
	pusher   *Pusher
	puller   *Puller
	resolver *Resolver
	queries  []todo.NamedQuery
	logger   *log.Logger

	// sem serializes cycles within the process; flock extends the sync lock
	// to every process that opens the same database.
	sem       chan struct{}
	flock     *flock.Flock
	observers []Observer
}

// New creates an Engine over the local store and the remote table.
//
// Example:
//
//	engine := sync.New(db, httpapi.NewClient(url, 0), sync.Options{
//	    Policy: sync.Ask{Decider: ui.NewPromptDecider()},
//	})
//	outcome, err := engine.Sync(ctx)
func New(db *store.DB, svc remote.Service, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	queries := opts.Queries
	if len(queries) == 0 {
		queries = []todo.NamedQuery{todo.AllItems()}
	}

	return &Engine{
		db:       db,
		queue:    queue.New(db),
		pusher:   NewPusher(db, svc, logger),
		puller:   NewPuller(db, svc, logger),
		resolver: NewResolver(db, opts.Policy, logger),
		queries:  queries,
		logger:   logger,
		sem:      make(chan struct{}, 1),
		flock:    flock.New(LockPath(db.Path())),
	}
}

// lockRetryDelay is how often Sync retries a sync lock held by another
// process.
const lockRetryDelay = 50 * time.Millisecond

// LockPath returns the file guarding sync cycles on the database at dbPath.
func LockPath(dbPath string) string {
	return dbPath + ".sync.lock"
}

// AddObserver registers o. Not safe to call concurrently with Sync.
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// Queries returns the named queries pulled each cycle.
func (e *Engine) Queries() []todo.NamedQuery {
	return append([]todo.NamedQuery(nil), e.queries...)
}

// Sync runs one cycle, waiting for any cycle already in flight. It returns
// ctx.Err() if ctx is done before the lock is acquired.
func (e *Engine) Sync(ctx context.Context) (*Outcome, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.unlock()
	return e.run(ctx)
}

// TrySync runs one cycle if none is in flight and returns
// ErrSyncInProgress otherwise.
func (e *Engine) TrySync(ctx context.Context) (*Outcome, error) {
	select {
	case e.sem <- struct{}{}:
	default:
		return nil, ErrSyncInProgress
	}
	locked, err := e.flock.TryLock()
	if err != nil {
		<-e.sem
		return nil, localErr("acquire sync lock", err)
	}
	if !locked {
		<-e.sem
		return nil, ErrSyncInProgress
	}
	defer e.unlock()
	return e.run(ctx)
}

// Push drains the queue without resolving conflicts or pulling. Conflicts
// stay queued.
func (e *Engine) Push(ctx context.Context) (*PushResult, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.unlock()
	return e.pusher.Push(ctx)
}

// Pull runs every registered query without pushing first.
func (e *Engine) Pull(ctx context.Context) (int, error) {
	if err := e.lock(ctx); err != nil {
		return 0, err
	}
	defer e.unlock()

	total := 0
	for _, q := range e.queries {
		n, err := e.puller.Pull(ctx, q)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Status is a snapshot of local sync state.
type Status struct {
	Pending int                 `json:"pending" yaml:"pending"`
	Tokens  []store.ChangeToken `json:"tokens" yaml:"tokens"`
}

// Status reports the queue length and change tokens. It does not take the
// sync lock.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	n, err := e.queue.Len(ctx)
	if err != nil {
		return nil, localErr("count queue", err)
	}
	tokens, err := e.db.ChangeTokens(ctx)
	if err != nil {
		return nil, localErr("list change tokens", err)
	}
	return &Status{Pending: n, Tokens: tokens}, nil
}

func (e *Engine) lock(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	locked, err := e.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		<-e.sem
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil {
			err = fmt.Errorf("lock %s not acquired", e.flock.Path())
		}
		return localErr("acquire sync lock", err)
	}
	return nil
}

func (e *Engine) unlock() {
	if err := e.flock.Unlock(); err != nil {
		e.logger.Printf("Error releasing sync lock: %v", err)
	}
	<-e.sem
}

// run executes push, resolve and pull. Callers hold the sync lock.
func (e *Engine) run(ctx context.Context) (*Outcome, error) {
	start := time.Now()
	outcome := &Outcome{}

	err := e.cycle(ctx, outcome)
	outcome.Duration = time.Since(start)

	if err != nil {
		e.logger.Printf("Sync failed after %v: %v", outcome.Duration, err)
	} else {
		e.logger.Printf("Sync complete in %v: pushed=%d discarded=%d server=%d client=%d pulled=%d",
			outcome.Duration, outcome.Pushed, outcome.Discarded,
			outcome.ResolvedServer, outcome.ResolvedClient, outcome.Pulled)
	}

	for _, o := range e.observers {
		o.OnSyncComplete(outcome, err)
	}
	return outcome, err
}

func (e *Engine) cycle(ctx context.Context, outcome *Outcome) error {
	// 1. Push. Transport and local failures abort before pull.
	result, err := e.pusher.Push(ctx)
	if result != nil {
		outcome.Pushed = result.Pushed
		outcome.Skipped = result.Skipped
	}
	if err != nil {
		return err
	}

	// 2. Resolve. Policy failures leave the op queued and let the cycle
	// continue.
	var unresolved []error
	for _, c := range result.Conflicts {
		if err := ctx.Err(); err != nil {
			return err
		}

		report := ConflictReport{Seq: c.Op.Seq, LocalID: c.Op.Item.LocalID, ID: c.Server.ID}
		resolution, err := e.resolver.Resolve(ctx, c)

		var policyErr *ResolutionPolicyError
		switch {
		case errors.As(err, &policyErr):
			e.logger.Printf("WARNING: %v", err)
			outcome.Unresolved++
			unresolved = append(unresolved, err)
			report.Resolution = "unresolved"
		case err != nil:
			return err
		default:
			switch resolution {
			case DiscardLocal:
				outcome.Discarded++
			case ResolvedServer:
				outcome.ResolvedServer++
			case ResolvedClient:
				outcome.ResolvedClient++
			}
			report.Resolution = resolution.String()
		}
		outcome.Conflicts = append(outcome.Conflicts, report)
	}

	// 3. Pull every registered query.
	for _, q := range e.queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := e.puller.Pull(ctx, q)
		outcome.Pulled += n
		if err != nil {
			return err
		}
	}

	return errors.Join(unresolved...)
}
