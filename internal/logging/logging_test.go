package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mschirtzinger/todosync/internal/config"
)

func TestNew_StderrByDefault(t *testing.T) {
	set, err := New(config.LogConfig{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer set.Close()

	if set.Writer() != os.Stderr {
		t.Error("expected stderr writer when no file is configured")
	}
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "todosync.log")

	set, err := New(config.LogConfig{File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	set.Logger("sync").Printf("Pushed insert seq=%d", 1)
	set.Logger("daemon").Println("Starting daemon")
	if err := set.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	out := string(data)
	for _, want := range []string{"[sync] ", "Pushed insert seq=1", "[daemon] ", "Starting daemon"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestDiscard(t *testing.T) {
	set := Discard()
	set.Logger("x").Println("dropped")
	if err := set.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
