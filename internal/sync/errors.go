package sync

import (
	"errors"
	"fmt"

	"github.com/mschirtzinger/todosync/internal/remote"
)

// ErrSyncInProgress is returned by Engine.TrySync when another cycle holds
// the sync lock.
var ErrSyncInProgress = errors.New("sync already in progress")

// TransportError reports that the remote could not be reached or answered
// with something other than a result or a version conflict. The cycle was
// aborted; acked operations stay acked and everything else stays queued.
type TransportError struct {
	// Op describes what was being attempted, e.g. "push update seq=4".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// LocalStoreError reports a failure of the local database. The transaction
// that failed was rolled back.
type LocalStoreError struct {
	Op  string
	Err error
}

func (e *LocalStoreError) Error() string {
	return fmt.Sprintf("local store error during %s: %v", e.Op, e.Err)
}

func (e *LocalStoreError) Unwrap() error {
	return e.Err
}

// ResolutionPolicyError reports that a conflict policy could not decide.
// The conflicting operation was left queued untouched and is retried on the
// next Sync.
type ResolutionPolicyError struct {
	Seq     int64
	LocalID string
	Err     error
}

func (e *ResolutionPolicyError) Error() string {
	return fmt.Sprintf("conflict on seq=%d (local %s) unresolved: %v", e.Seq, e.LocalID, e.Err)
}

func (e *ResolutionPolicyError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if running Sync again later may succeed without
// any intervention on the local side.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transport *TransportError
	var policy *ResolutionPolicyError
	switch {
	case errors.As(err, &transport):
		return true
	case errors.As(err, &policy):
		return true
	case errors.Is(err, ErrSyncInProgress):
		return true
	case errors.Is(err, remote.ErrUnavailable):
		return true
	}
	return false
}

func localErr(op string, err error) error {
	return &LocalStoreError{Op: op, Err: err}
}
