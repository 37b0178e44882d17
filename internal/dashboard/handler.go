package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	syncer "github.com/mschirtzinger/todosync/internal/sync"
)

// StatusSource reports local sync state. *sync.Engine satisfies it.
type StatusSource interface {
	Status(ctx context.Context) (*syncer.Status, error)
}

// SyncCompleteData contains sync cycle information
type SyncCompleteData struct {
	Pushed         int           `json:"pushed"`
	Skipped        int           `json:"skipped"`
	Discarded      int           `json:"discarded"`
	ResolvedServer int           `json:"resolved_server"`
	ResolvedClient int           `json:"resolved_client"`
	Unresolved     int           `json:"unresolved"`
	Pulled         int           `json:"pulled"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
}

// ConflictData describes one conflict and how it was settled
type ConflictData struct {
	Seq        int64  `json:"seq"`
	LocalID    string `json:"local_id"`
	ID         string `json:"id"`
	Resolution string `json:"resolution"`
}

// QueueStatsData contains the replica's queue and change token state
type QueueStatsData struct {
	Pending int               `json:"pending"`
	Tokens  map[string]string `json:"tokens"`
}

// Handler turns sync cycles into dashboard messages. It implements
// sync.Observer.
type Handler struct {
	server *Server
	status StatusSource
	logger *log.Logger
}

var _ syncer.Observer = (*Handler)(nil)

// NewHandler creates a handler broadcasting through server. status may be
// nil, in which case no queue_stats messages are sent.
func NewHandler(server *Server, status StatusSource, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	h := &Handler{server: server, status: status, logger: logger}
	server.SetWelcome(h.queueStats)
	return h
}

// OnSyncComplete broadcasts the outcome of a cycle, its conflicts and the
// queue state after it.
func (h *Handler) OnSyncComplete(outcome *syncer.Outcome, err error) {
	if outcome == nil {
		outcome = &syncer.Outcome{}
	}

	data := SyncCompleteData{
		Pushed:         outcome.Pushed,
		Skipped:        outcome.Skipped,
		Discarded:      outcome.Discarded,
		ResolvedServer: outcome.ResolvedServer,
		ResolvedClient: outcome.ResolvedClient,
		Unresolved:     outcome.Unresolved,
		Pulled:         outcome.Pulled,
		Duration:       outcome.Duration,
	}
	if err != nil {
		data.Error = err.Error()
	}
	h.send(MessageTypeSyncComplete, data)

	for _, c := range outcome.Conflicts {
		h.logger.Printf("Conflict seq=%d local=%s resolved as %s", c.Seq, c.LocalID, c.Resolution)
		h.send(MessageTypeConflict, ConflictData{
			Seq:        c.Seq,
			LocalID:    c.LocalID,
			ID:         c.ID,
			Resolution: c.Resolution,
		})
	}

	if msg, ok := h.queueStats(); ok {
		h.server.Broadcast(msg)
	}
}

// queueStats builds a queue_stats message from the current status.
func (h *Handler) queueStats() (Message, bool) {
	if h.status == nil {
		return Message{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status, err := h.status.Status(ctx)
	if err != nil {
		h.logger.Printf("Failed to read queue status: %v", err)
		return Message{}, false
	}

	data := QueueStatsData{
		Pending: status.Pending,
		Tokens:  make(map[string]string, len(status.Tokens)),
	}
	for _, tok := range status.Tokens {
		data.Tokens[tok.Query] = tok.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return h.message(MessageTypeQueueStats, data)
}

func (h *Handler) send(typ MessageType, data any) {
	if msg, ok := h.message(typ, data); ok {
		h.server.Broadcast(msg)
	}
}

func (h *Handler) message(typ MessageType, data any) (Message, bool) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return Message{}, false
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: dataJSON}, true
}
