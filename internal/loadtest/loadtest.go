// Package loadtest provides load testing utilities for the sync engine.
//
// A Fleet is a set of replicas, each with its own SQLite database and
// engine, all syncing against one remote table. The fleet makes local edits
// concurrently, syncs, and then checks that every replica converged on the
// remote's state.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"sort"
	stdsync "sync"
	"time"

	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/store"
	"github.com/mschirtzinger/todosync/internal/sync"
	"github.com/mschirtzinger/todosync/internal/table"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// extraSettleRounds is added to the replica count to bound Settle. Under
// client-wins each round lets at least one contending replica through.
const extraSettleRounds = 5

// Replica is one simulated device.
type Replica struct {
	Name   string
	DB     *store.DB
	Table  *table.SyncedTable
	Engine *sync.Engine
}

// Fleet is a set of replicas sharing one remote table.
type Fleet struct {
	Remote   remote.Service
	Replicas []*Replica
}

// LatencyStats captures sync cycle timings from a load run.
type LatencyStats struct {
	Min        time.Duration   `json:"min"`
	Max        time.Duration   `json:"max"`
	Mean       time.Duration   `json:"mean"`
	P50        time.Duration   `json:"p50"` // Median
	P95        time.Duration   `json:"p95"`
	P99        time.Duration   `json:"p99"`
	TotalSyncs int             `json:"total_syncs"`
	Errors     int             `json:"errors"`
	Edits      int             `json:"edits"`
	Conflicts  int             `json:"conflicts"`
	Durations  []time.Duration `json:"-"`
}

// NewFleet creates n replicas with databases under dir.
//
// Every replica resolves conflicts with policy; a nil policy means
// server-wins. Engine logs are discarded.
func NewFleet(dir string, n int, svc remote.Service, policy sync.Policy) (*Fleet, error) {
	if n <= 0 {
		return nil, fmt.Errorf("replica count must be positive, got %d", n)
	}

	f := &Fleet{Remote: svc}
	quiet := log.New(io.Discard, "", 0)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("replica-%03d", i)
		db, err := store.Open(filepath.Join(dir, name+".db"))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		if err := db.InitSchema(); err != nil {
			_ = db.Close()
			_ = f.Close()
			return nil, fmt.Errorf("failed to initialize %s: %w", name, err)
		}

		f.Replicas = append(f.Replicas, &Replica{
			Name:   name,
			DB:     db,
			Table:  table.NewSyncedTable(db),
			Engine: sync.New(db, svc, sync.Options{Policy: policy, Logger: quiet}),
		})
	}
	return f, nil
}

// Close closes every replica database.
func (f *Fleet) Close() error {
	var firstErr error
	for _, r := range f.Replicas {
		if err := r.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunConcurrentSyncs has every replica make editsPerRound local edits and
// then sync, rounds times, all replicas at once.
//
// Edits add new items and rename or complete items pulled from other
// replicas, so concurrent rounds produce version conflicts.
func (f *Fleet) RunConcurrentSyncs(ctx context.Context, editsPerRound, rounds int) (*LatencyStats, error) {
	var wg stdsync.WaitGroup
	var mu stdsync.Mutex
	var allDurations []time.Duration
	var errorCount, edits, conflicts int

	for i, r := range f.Replicas {
		wg.Add(1)
		go func(seed int64, r *Replica) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(seed))
			durations := make([]time.Duration, 0, rounds)
			failed, made, seen := 0, 0, 0

			for round := 0; round < rounds; round++ {
				for j := 0; j < editsPerRound; j++ {
					if err := r.edit(ctx, rng, round, j); err != nil {
						failed++
						continue
					}
					made++
				}

				start := time.Now()
				outcome, err := r.Engine.Sync(ctx)
				durations = append(durations, time.Since(start))
				if outcome != nil {
					seen += len(outcome.Conflicts)
				}
				if err != nil {
					failed++
				}
			}

			mu.Lock()
			allDurations = append(allDurations, durations...)
			errorCount += failed
			edits += made
			conflicts += seen
			mu.Unlock()
		}(int64(42+i), r)
	}

	wg.Wait()

	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no sync cycles completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	stats.Edits = edits
	stats.Conflicts = conflicts
	return stats, nil
}

// edit makes one local change: a new item, or a rename or completion of an
// existing one.
func (r *Replica) edit(ctx context.Context, rng *rand.Rand, round, n int) error {
	items, err := r.Table.List(ctx, todo.Filter{}, todo.OrderBy{})
	if err != nil {
		return err
	}

	if len(items) == 0 || rng.Intn(3) == 0 {
		return r.Table.Save(ctx, &todo.Item{Name: fmt.Sprintf("%s item %d.%d", r.Name, round, n)})
	}

	item := items[rng.Intn(len(items))]
	if rng.Intn(2) == 0 {
		item.Done = !item.Done
	} else {
		item.Name = fmt.Sprintf("renamed by %s in round %d", r.Name, round)
	}
	return r.Table.Save(ctx, item)
}

// Settle syncs the replicas one at a time until no replica has queued
// changes, then pulls on every replica so all have seen the final state.
func (f *Fleet) Settle(ctx context.Context) error {
	limit := len(f.Replicas) + extraSettleRounds
	for round := 0; round < limit; round++ {
		pending := 0
		for _, r := range f.Replicas {
			if _, err := r.Engine.Sync(ctx); err != nil {
				return fmt.Errorf("%s: sync failed: %w", r.Name, err)
			}
			status, err := r.Engine.Status(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", r.Name, err)
			}
			pending += status.Pending
		}
		if pending == 0 {
			for _, r := range f.Replicas {
				if _, err := r.Engine.Pull(ctx); err != nil {
					return fmt.Errorf("%s: pull failed: %w", r.Name, err)
				}
			}
			return nil
		}
	}
	return fmt.Errorf("queues still not empty after %d rounds", limit)
}

// VerifyConvergence checks that every replica holds exactly the remote's
// live records with the same fields.
func (f *Fleet) VerifyConvergence(ctx context.Context) error {
	server, err := f.Remote.QuerySince(ctx, todo.AllItemsQuery, time.Time{}, todo.Filter{})
	if err != nil {
		return fmt.Errorf("failed to read remote: %w", err)
	}
	want := make(map[string]*todo.Item, len(server))
	for _, it := range server {
		if !it.Deleted {
			want[it.ID] = it
		}
	}

	for _, r := range f.Replicas {
		local, err := r.Table.List(ctx, todo.Filter{}, todo.OrderBy{})
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		if len(local) != len(want) {
			return fmt.Errorf("%s has %d items, remote has %d", r.Name, len(local), len(want))
		}
		for _, it := range local {
			s, ok := want[it.ID]
			if !ok {
				return fmt.Errorf("%s has item %s unknown to the remote", r.Name, it)
			}
			if !it.SameFields(s) || it.Version != s.Version {
				return fmt.Errorf("%s diverged on %s: local %s, remote %s", r.Name, it.ID, it, s)
			}
		}
	}
	return nil
}

// VerifyConcurrentReads reads the first replica from several goroutines
// while it keeps editing and syncing, and fails if a reader ever sees a
// partially written record.
func (f *Fleet) VerifyConcurrentReads(ctx context.Context, readers int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	r := f.Replicas[0]
	var wg stdsync.WaitGroup
	errorsChan := make(chan error, readers+1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(7))
		for round := 0; ctx.Err() == nil; round++ {
			if err := r.edit(ctx, rng, round, 0); err != nil && ctx.Err() == nil {
				errorsChan <- fmt.Errorf("writer edit failed: %w", err)
				return
			}
			// Remote failures are expected once ctx expires mid-cycle.
			_, _ = r.Engine.Sync(ctx)
		}
	}()

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			for ctx.Err() == nil {
				for item, err := range r.DB.Query(ctx, todo.Filter{}, todo.OrderBy{}) {
					if err != nil {
						if ctx.Err() == nil {
							errorsChan <- fmt.Errorf("reader %d failed: %w", reader, err)
						}
						return
					}
					if item.LocalID == "" || item.Name == "" {
						errorsChan <- fmt.Errorf("reader %d saw a partial record: %s", reader, item)
						return
					}
					if item.ID != "" && item.Version == "" {
						errorsChan <- fmt.Errorf("reader %d saw a remote id without a version: %s", reader, item)
						return
					}
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}
	return nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalSyncs: len(durations),
		Durations:  sorted,
	}
}

// WriteStats formats latency statistics to w.
func (s *LatencyStats) WriteStats(w io.Writer) {
	fmt.Fprintf(w, "Sync Latency:\n")
	fmt.Fprintf(w, "  Total Syncs:   %d\n", s.TotalSyncs)
	fmt.Fprintf(w, "  Local Edits:   %d\n", s.Edits)
	fmt.Fprintf(w, "  Conflicts:     %d\n", s.Conflicts)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
