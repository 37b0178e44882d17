// Package sync moves changes between the local replica and the remote
// table.
//
// Overview
//
// Local mutations are written to the store and appended to the operation
// queue in one transaction (see package table). A sync cycle then:
//
//	queue ──Push──▶ remote          accepted ops are acked
//	  │                │
//	  │           version conflict
//	  │                ▼
//	  └──────── Resolver ──▶ ack / overwrite store / requeue
//	                   │
//	remote ──Pull──▶ store          per named query, from its change token
//
// Usage
//
//	engine := sync.New(db, svc, sync.Options{Policy: sync.ServerWins{}})
//	outcome, err := engine.Sync(ctx)
//	if err != nil {
//	    if sync.IsRetryable(err) {
//	        // try again later; nothing committed is lost
//	    }
//	}
//
// Error Handling
//
// Push stops at the first transport failure (*TransportError) and the
// cycle skips pull. A local database failure (*LocalStoreError) rolls back
// the transaction it happened in. A conflict policy failure
// (*ResolutionPolicyError) leaves that operation queued and the cycle
// carries on; the error is returned alongside the outcome. In every case
// the Outcome counts what was committed before the failure.
//
// Concurrency
//
// Engine holds the sync lock for the whole cycle: a one-slot semaphore
// within the process plus a file lock next to the database (LockPath), so
// a daemon and a CLI command never drain the same queue at once. Sync waits
// for it; TrySync returns ErrSyncInProgress. Remote calls within a cycle are
// strictly sequential. Local reads are never blocked by a cycle, including
// while a Decider waits on a human.
//
// Known gap
//
// Pull overwrites local records even when they have unpushed operations
// queued. Within one cycle push runs first, so this only affects records
// whose operations were held back by a conflict. Such overwrites are
// logged.
package sync
