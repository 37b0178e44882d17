package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mschirtzinger/todosync/internal/store"
	syncer "github.com/mschirtzinger/todosync/internal/sync"
)

type fixedStatus struct {
	status *syncer.Status
}

func (f fixedStatus) Status(context.Context) (*syncer.Status, error) {
	return f.status, nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// startServer starts a server on a free port and stops it on cleanup.
// setup, if non-nil, runs before Start.
func startServer(t *testing.T, setup func(*Server)) *Server {
	t.Helper()

	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	if setup != nil {
		setup(server)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

// dial connects a client and waits until the server has registered it.
func dial(t *testing.T, ctx context.Context, server *Server, want int) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", want, server.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Fatalf("Unexpected server address %q", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestMessageBroadcast(t *testing.T) {
	server := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clients := []*websocket.Conn{
		dial(t, ctx, server, 1),
		dial(t, ctx, server, 2),
	}

	data, _ := json.Marshal(ConflictData{Seq: 4, LocalID: "l1", ID: "r1", Resolution: "server"})
	server.Broadcast(Message{Type: MessageTypeConflict, Data: data})

	for i, conn := range clients {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeConflict {
			t.Errorf("client %d: expected %s, got %s", i, MessageTypeConflict, msg.Type)
		}
		if msg.Timestamp.IsZero() {
			t.Errorf("client %d: expected timestamp to be filled in", i)
		}
		var got ConflictData
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("Failed to unmarshal conflict data: %v", err)
		}
		if got.Seq != 4 || got.Resolution != "server" {
			t.Errorf("client %d: unexpected conflict data %+v", i, got)
		}
	}
}

func TestHandler_WelcomeIsQueueStats(t *testing.T) {
	server := startServer(t, func(s *Server) {
		NewHandler(s, fixedStatus{&syncer.Status{Pending: 3}}, testLogger())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server, 1)
	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeQueueStats {
		t.Fatalf("Expected welcome message type %s, got %s", MessageTypeQueueStats, msg.Type)
	}
	var stats QueueStatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Pending != 3 {
		t.Errorf("Expected pending 3, got %d", stats.Pending)
	}
}

func TestHandler_OnSyncComplete(t *testing.T) {
	status := &syncer.Status{
		Pending: 1,
		Tokens: []store.ChangeToken{
			{Query: "allTodoItems", UpdatedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		},
	}
	var handler *Handler
	server := startServer(t, func(s *Server) {
		handler = NewHandler(s, fixedStatus{status}, testLogger())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server, 1)
	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeQueueStats {
		t.Fatalf("Expected welcome %s, got %s", MessageTypeQueueStats, msg.Type)
	}

	handler.OnSyncComplete(&syncer.Outcome{
		Pushed: 2,
		Pulled: 5,
		Conflicts: []syncer.ConflictReport{
			{Seq: 7, LocalID: "l7", ID: "r7", Resolution: "client"},
		},
	}, nil)

	want := []MessageType{MessageTypeSyncComplete, MessageTypeConflict, MessageTypeQueueStats}
	var msgs []Message
	for range want {
		msgs = append(msgs, readMessage(t, ctx, conn))
	}
	for i, typ := range want {
		if msgs[i].Type != typ {
			t.Fatalf("message %d: expected %s, got %s", i, typ, msgs[i].Type)
		}
	}

	var done SyncCompleteData
	if err := json.Unmarshal(msgs[0].Data, &done); err != nil {
		t.Fatalf("Failed to unmarshal sync data: %v", err)
	}
	if done.Pushed != 2 || done.Pulled != 5 || done.Error != "" {
		t.Errorf("Unexpected sync data %+v", done)
	}

	var stats QueueStatsData
	if err := json.Unmarshal(msgs[2].Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Tokens["allTodoItems"] != "2026-04-01T09:00:00Z" {
		t.Errorf("Unexpected tokens %v", stats.Tokens)
	}
}

func TestHandler_OnSyncCompleteWithError(t *testing.T) {
	var handler *Handler
	server := startServer(t, func(s *Server) {
		handler = NewHandler(s, nil, testLogger())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server, 1)

	handler.OnSyncComplete(nil, &syncer.TransportError{Op: "push", Err: errors.New("refused")})

	msg := readMessage(t, ctx, conn)
	var done SyncCompleteData
	if err := json.Unmarshal(msg.Data, &done); err != nil {
		t.Fatalf("Failed to unmarshal sync data: %v", err)
	}
	if !strings.Contains(done.Error, "refused") {
		t.Errorf("Expected error in message, got %q", done.Error)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	metrics.OnSyncComplete(&syncer.Outcome{Pushed: 1}, nil)

	server := NewServer(&Config{Gatherer: reg, Logger: testLogger()})
	ts := httptest.NewServer(server.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	resp.Body.Close()
	if health["status"] != "ok" {
		t.Errorf("Unexpected health %v", health)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "todosync_ops_pushed_total 1") {
		t.Errorf("Expected pushed counter in metrics output:\n%s", body)
	}

	resp, err = http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", resp.StatusCode)
	}
}

func TestMetrics_OnSyncComplete(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.OnSyncComplete(&syncer.Outcome{
		Pushed:  3,
		Skipped: 1,
		Pulled:  2,
		Conflicts: []syncer.ConflictReport{
			{Resolution: "server"},
			{Resolution: "server"},
			{Resolution: "discard"},
		},
	}, nil)
	m.OnSyncComplete(&syncer.Outcome{}, &syncer.TransportError{Op: "push", Err: errors.New("down")})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"pushed", testutil.ToFloat64(m.pushed), 3},
		{"skipped", testutil.ToFloat64(m.skipped), 1},
		{"pulled", testutil.ToFloat64(m.pulled), 2},
		{"conflicts server", testutil.ToFloat64(m.conflicts.WithLabelValues("server")), 2},
		{"conflicts discard", testutil.ToFloat64(m.conflicts.WithLabelValues("discard")), 1},
		{"cycles ok", testutil.ToFloat64(m.cycles.WithLabelValues("ok")), 1},
		{"cycles transport", testutil.ToFloat64(m.cycles.WithLabelValues("transport_error")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if _, err := NewMetrics(reg); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}
