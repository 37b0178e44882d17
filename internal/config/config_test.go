package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "todosync.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// A file that does not exist in an empty dir: run on defaults.
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := NewLoader("").Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Default()
	if cfg.Mode != want.Mode || cfg.Sync.Interval != want.Sync.Interval || cfg.Serve.Backend != want.Serve.Backend {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if qs := cfg.NamedQueries(); len(qs) != 1 || qs[0].Name != "allTodoItems" {
		t.Errorf("expected default query, got %v", qs)
	}
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
mode = "direct"
db_path = "/tmp/replica.db"

[remote]
url = "http://remote:9000"
timeout = "3s"

[sync]
interval = "1m"
policy = "client"

[[queries]]
name = "open"
[queries.filter]
done = false
name_contains = "milk"
`)

	t.Setenv("TODOSYNC_REMOTE_URL", "http://from-env:9000")
	t.Setenv("TODOSYNC_SYNC_POLICY", "ask")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("policy", "", "")
	if err := fs.Parse([]string{"--policy", "server"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}

	loader := NewLoader(path)
	if err := loader.BindFlags(fs, map[string]string{"sync.policy": "policy"}); err != nil {
		t.Fatalf("BindFlags failed: %v", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"mode from file", cfg.Mode, "direct"},
		{"db_path from file", cfg.DBPath, "/tmp/replica.db"},
		{"url from env", cfg.Remote.URL, "http://from-env:9000"},
		{"timeout from file", cfg.Remote.Timeout, 3 * time.Second},
		{"interval from file", cfg.Sync.Interval, time.Minute},
		{"debounce default", cfg.Sync.Debounce, 500 * time.Millisecond},
		{"policy from flag", cfg.Sync.Policy, "server"},
		{"query count", len(cfg.Queries), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	q := cfg.Queries[0]
	if q.Name != "open" || q.Filter.Done == nil || *q.Filter.Done || q.Filter.NameContains != "milk" {
		t.Errorf("unexpected query %+v", q)
	}
	if loader.File() != path {
		t.Errorf("File() = %q, want %q", loader.File(), path)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"mode", `mode = "cloud"`, "invalid mode"},
		{"policy", "[sync]\npolicy = \"coin\"", "invalid sync.policy"},
		{"backend", "[serve]\nbackend = \"mysql\"", "invalid serve.backend"},
		{"duplicate query", "[[queries]]\nname = \"a\"\n[[queries]]\nname = \"a\"", "duplicate query"},
		{"unnamed query", "[[queries]]\nname = \"\"", "query name is required"},
		{"syntax", "mode = ", "failed to read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeConfig(t, tt.body)).Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "todosync.toml")

	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Fatal("expected WriteDefault to refuse to overwrite")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Fatalf("forced WriteDefault failed: %v", err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load of written default failed: %v", err)
	}
	want := Default()
	if cfg.Sync.Debounce != want.Sync.Debounce || cfg.Remote.Timeout != want.Remote.Timeout {
		t.Errorf("durations did not round-trip: %+v", cfg.Sync)
	}
	if cfg.Dashboard.Port != want.Dashboard.Port || cfg.Serve.Addr != want.Serve.Addr {
		t.Errorf("unexpected values after round-trip: %+v", cfg)
	}
}

func TestBindFlags_UnknownFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := NewLoader("").BindFlags(fs, map[string]string{"mode": "nope"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "[sync]\ninterval = \"1m\"\n")

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan time.Duration, 4)
	loader.Watch(func(cfg *Config, err error) {
		if err == nil {
			changed <- cfg.Sync.Interval
		}
	})

	if err := os.WriteFile(path, []byte("[sync]\ninterval = \"2m\"\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case d := <-changed:
			if d == 2*time.Minute {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}
