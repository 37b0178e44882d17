package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/mschirtzinger/todosync/internal/queue"
	"github.com/mschirtzinger/todosync/internal/store"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// Choice is a policy's answer to a conflict whose fields differ.
type Choice int

const (
	// UseServer keeps the server's record and drops the local change.
	UseServer Choice = iota
	// UseClient re-submits the local change against the server's version.
	UseClient
)

func (c Choice) String() string {
	switch c {
	case UseServer:
		return "server"
	case UseClient:
		return "client"
	}
	return fmt.Sprintf("Choice(%d)", int(c))
}

// ParseChoice accepts "server" or "client".
func ParseChoice(s string) (Choice, error) {
	switch s {
	case "server":
		return UseServer, nil
	case "client":
		return UseClient, nil
	}
	return 0, fmt.Errorf("unknown choice %q (want server or client)", s)
}

// Resolution is what the resolver did with a conflict.
type Resolution int

const (
	// DiscardLocal means local and server already agreed; the operation
	// was dropped without any remote write.
	DiscardLocal Resolution = iota
	// ResolvedServer means the server copy replaced the local record.
	ResolvedServer
	// ResolvedClient means the local change was requeued against the
	// server's current version.
	ResolvedClient
)

func (r Resolution) String() string {
	switch r {
	case DiscardLocal:
		return "discard-local"
	case ResolvedServer:
		return "use-server"
	case ResolvedClient:
		return "use-client"
	}
	return fmt.Sprintf("Resolution(%d)", int(r))
}

// Decider is the external collaborator asked to settle a conflict, usually
// a person at a terminal. AskUser may block until an answer arrives or ctx
// is done.
type Decider interface {
	AskUser(ctx context.Context, local, server *todo.Item) (Choice, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, local, server *todo.Item) (Choice, error)

func (f DeciderFunc) AskUser(ctx context.Context, local, server *todo.Item) (Choice, error) {
	return f(ctx, local, server)
}

// Policy decides conflicts whose domain fields differ.
type Policy interface {
	Decide(ctx context.Context, local, server *todo.Item) (Choice, error)
}

// ServerWins always keeps the server copy.
type ServerWins struct{}

func (ServerWins) Decide(context.Context, *todo.Item, *todo.Item) (Choice, error) {
	return UseServer, nil
}

// ClientWins always re-submits the local change.
type ClientWins struct{}

func (ClientWins) Decide(context.Context, *todo.Item, *todo.Item) (Choice, error) {
	return UseClient, nil
}

// Ask delegates every decision to a Decider.
type Ask struct {
	Decider Decider
}

func (a Ask) Decide(ctx context.Context, local, server *todo.Item) (Choice, error) {
	if a.Decider == nil {
		return 0, errors.New("no decider configured")
	}
	return a.Decider.AskUser(ctx, local, server)
}

// PolicyByName maps a config value to a policy. "ask" requires a decider.
func PolicyByName(name string, decider Decider) (Policy, error) {
	switch name {
	case "server":
		return ServerWins{}, nil
	case "client":
		return ClientWins{}, nil
	case "ask":
		if decider == nil {
			return nil, errors.New(`policy "ask" needs an interactive terminal`)
		}
		return Ask{Decider: decider}, nil
	}
	return nil, fmt.Errorf("unknown conflict policy %q (want ask, server or client)", name)
}

// Resolver settles conflicts reported by a push.
type Resolver struct {
	db     *store.DB
	policy Policy
	logger *log.Logger
}

// NewResolver creates a Resolver. A nil policy means ServerWins. If logger
// is nil, logs go to stderr.
func NewResolver(db *store.DB, policy Policy, logger *log.Logger) *Resolver {
	if policy == nil {
		policy = ServerWins{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Resolver{db: db, policy: policy, logger: logger}
}

// Resolve runs compare, decide and apply for one conflict.
//
//  1. If the local intent already matches the server, the operation is
//     acked and the local record takes the server's version. The policy is
//     not consulted and nothing is written remotely.
//  2. Otherwise the policy chooses UseServer or UseClient.
//  3. UseServer overwrites the local record with the server snapshot and
//     acks every queued operation for the record. UseClient replaces the
//     operation in place with one built against the server's version.
//
// A policy failure returns *ResolutionPolicyError and leaves the operation
// queued untouched.
func (r *Resolver) Resolve(ctx context.Context, c Conflict) (Resolution, error) {
	local := intent(c.Op)

	if converged(c.Op, local, c.Server) {
		if err := r.discardLocal(ctx, c); err != nil {
			return DiscardLocal, err
		}
		r.logger.Printf("Resolved seq=%d: local and server agree, discarded", c.Op.Seq)
		return DiscardLocal, nil
	}

	choice, err := r.policy.Decide(ctx, local, c.Server)
	if err != nil {
		return 0, &ResolutionPolicyError{Seq: c.Op.Seq, LocalID: c.Op.Item.LocalID, Err: err}
	}

	switch choice {
	case UseServer:
		if err := r.useServer(ctx, c); err != nil {
			return ResolvedServer, err
		}
		r.logger.Printf("Resolved seq=%d: server copy kept (%s)", c.Op.Seq, c.Server)
		return ResolvedServer, nil

	case UseClient:
		if err := r.useClient(ctx, c); err != nil {
			return ResolvedClient, err
		}
		r.logger.Printf("Resolved seq=%d: local change requeued against version %s", c.Op.Seq, c.Server.Version)
		return ResolvedClient, nil
	}

	return 0, &ResolutionPolicyError{
		Seq:     c.Op.Seq,
		LocalID: c.Op.Item.LocalID,
		Err:     fmt.Errorf("policy returned unknown choice %v", choice),
	}
}

// intent is the state the operation wants the server to end up in.
func intent(op queue.Op) *todo.Item {
	local := op.Item.Clone()
	if op.Kind == queue.KindDelete {
		local.Deleted = true
	}
	return local
}

func converged(op queue.Op, local, server *todo.Item) bool {
	if op.Kind == queue.KindDelete {
		return server.Deleted
	}
	return local.SameFields(server)
}

func (r *Resolver) discardLocal(ctx context.Context, c Conflict) error {
	ctx = context.WithoutCancel(ctx)
	err := r.db.Update(ctx, func(tx *store.Tx) error {
		q := queue.In(tx)
		if err := q.Ack(ctx, c.Op.Seq); err != nil {
			return err
		}
		if c.Server.Deleted {
			return nil
		}
		if err := tx.SetRemote(ctx, c.Op.Item.LocalID, c.Server.ID, c.Server.Version, c.Server.UpdatedAt); err != nil {
			return err
		}
		return q.Rebase(ctx, c.Op.Item.LocalID, c.Server.ID, c.Server.Version)
	})
	if err != nil {
		return localErr(fmt.Sprintf("discard seq=%d", c.Op.Seq), err)
	}
	return nil
}

func (r *Resolver) useServer(ctx context.Context, c Conflict) error {
	ctx = context.WithoutCancel(ctx)
	localID := c.Op.Item.LocalID
	err := r.db.Update(ctx, func(tx *store.Tx) error {
		q := queue.In(tx)
		ops, err := q.ForRecord(ctx, localID)
		if err != nil {
			return err
		}
		for _, op := range ops {
			if err := q.Ack(ctx, op.Seq); err != nil {
				return err
			}
		}

		if c.Server.Deleted {
			return tx.Delete(ctx, localID)
		}
		server := c.Server.Clone()
		server.LocalID = localID
		return tx.Put(ctx, server)
	})
	if err != nil {
		return localErr(fmt.Sprintf("apply server copy seq=%d", c.Op.Seq), err)
	}
	return nil
}

func (r *Resolver) useClient(ctx context.Context, c Conflict) error {
	merged := c.Op.Item.Clone()
	merged.ID = c.Server.ID
	merged.Version = c.Server.Version

	kind := queue.KindUpdate
	switch {
	case c.Op.Kind == queue.KindDelete:
		kind = queue.KindDelete
	case c.Server.Deleted && c.Server.Version == "":
		// The remote has no record at all; create it again.
		kind = queue.KindInsert
		merged.ID = ""
	}

	err := queue.New(r.db).Requeue(context.WithoutCancel(ctx), c.Op.Seq, queue.Op{Kind: kind, Item: merged})
	if err != nil {
		return localErr(fmt.Sprintf("requeue seq=%d", c.Op.Seq), err)
	}
	return nil
}
