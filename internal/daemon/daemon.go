// Package daemon keeps a local replica in sync in the background.
//
// The daemon:
//  1. Takes an exclusive lock so only one daemon serves a replica
//  2. Runs a sync cycle on start
//  3. Watches the database file for writes by other processes and pushes
//     them after a debounce delay
//  4. Syncs on a fixed interval to pick up remote changes
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	syncer "github.com/mschirtzinger/todosync/internal/sync"
)

// ErrAlreadyRunning is returned by Start when another daemon holds the lock
// for the same database.
var ErrAlreadyRunning = errors.New("daemon already running for this database")

// Engine is the part of *sync.Engine the daemon drives.
type Engine interface {
	TrySync(ctx context.Context) (*syncer.Outcome, error)
	Status(ctx context.Context) (*syncer.Status, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a full cycle regardless of local
	// changes.
	SyncInterval time.Duration

	// DebounceInterval is how long the database must be quiet before a
	// local change is pushed. This batches rapid writes together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon runs sync cycles in response to local writes and on a timer.
type Daemon struct {
	engine Engine
	dbPath string
	config *Config

	watcher *DBWatcher
	lock    *flock.Flock

	changedAt   time.Time // zero when nothing is waiting
	changedAtMu sync.Mutex

	intervalCh chan time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - engine: the sync engine of the replica
//   - dbPath: path of the replica's SQLite database
//
// Use Start() to begin watching and syncing.
func New(engine Engine, dbPath string) (*Daemon, error) {
	return NewWithConfig(engine, dbPath, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(engine Engine, dbPath string, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.SyncInterval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive, got %v", config.SyncInterval)
	}
	if config.DebounceInterval <= 0 {
		return nil, fmt.Errorf("debounce interval must be positive, got %v", config.DebounceInterval)
	}

	watcher, err := NewDBWatcher(dbPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:     engine,
		dbPath:     dbPath,
		config:     config,
		watcher:    watcher,
		lock:       flock.New(LockPath(dbPath)),
		intervalCh: make(chan time.Duration, 1),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// LockPath returns the lock file guarding the daemon for dbPath.
func LockPath(dbPath string) string {
	return dbPath + ".daemon.lock"
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or Stop is called. It returns
// ErrAlreadyRunning if another daemon holds the lock.
func (d *Daemon) Start(ctx context.Context) error {
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}

	d.config.Logger.Printf("Starting daemon for %s", d.dbPath)

	// Initial cycle; a remote that is down is not fatal.
	d.runSync("startup")

	if err := d.watcher.Start(); err != nil {
		d.unlock()
		return err
	}

	d.config.Logger.Printf("Watching: %s (interval %v, debounce %v)",
		d.dbPath, d.config.SyncInterval, d.config.DebounceInterval)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChanges()
	go d.periodicSync()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A cycle in flight finishes its
// current operation first.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()
	d.unlock()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// SetInterval changes the periodic sync interval of a running daemon.
func (d *Daemon) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	// Keep only the latest request.
	select {
	case <-d.intervalCh:
	default:
	}
	d.intervalCh <- interval
}

func (d *Daemon) unlock() {
	if err := d.lock.Unlock(); err != nil {
		d.config.Logger.Printf("Error releasing lock: %v", err)
	}
}

// watchFileEvents records database writes for the debounce loop.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case _, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.queueChange()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange() {
	d.changedAtMu.Lock()
	defer d.changedAtMu.Unlock()

	d.changedAt = time.Now()
}

// takeChange reports whether a change has been quiet for the debounce
// interval, and clears it if so.
func (d *Daemon) takeChange(now time.Time) bool {
	d.changedAtMu.Lock()
	defer d.changedAtMu.Unlock()

	if d.changedAt.IsZero() || now.Sub(d.changedAt) < d.config.DebounceInterval {
		return false
	}
	d.changedAt = time.Time{}
	return true
}

// processChanges pushes debounced local writes.
func (d *Daemon) processChanges() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case now := <-ticker.C:
			if !d.takeChange(now) {
				continue
			}
			// The daemon's own cycles write to the database too; only
			// sync when there is something to push.
			status, err := d.engine.Status(d.ctx)
			if err != nil {
				d.config.Logger.Printf("Error reading queue: %v", err)
				continue
			}
			if status.Pending == 0 {
				continue
			}
			d.runSync(fmt.Sprintf("%d queued", status.Pending))
		}
	}
}

// periodicSync runs a cycle every SyncInterval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case interval := <-d.intervalCh:
			d.config.Logger.Printf("Sync interval changed to %v", interval)
			ticker.Reset(interval)

		case <-ticker.C:
			d.runSync("interval")
		}
	}
}

func (d *Daemon) runSync(reason string) {
	outcome, err := d.engine.TrySync(d.ctx)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		d.config.Logger.Printf("Skipping sync (%s): another cycle is running", reason)
	case errors.Is(err, context.Canceled):
	case err != nil:
		retry := ""
		if syncer.IsRetryable(err) {
			retry = ", will retry"
		}
		d.config.Logger.Printf("Sync (%s) failed%s: %v", reason, retry, err)
	default:
		d.config.Logger.Printf("Sync (%s): pushed=%d pulled=%d conflicts=%d",
			reason, outcome.Pushed, outcome.Pulled, len(outcome.Conflicts))
	}
}
