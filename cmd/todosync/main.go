package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/config"
	"github.com/mschirtzinger/todosync/internal/logging"
)

var (
	configFile string
	jsonOutput bool
	yamlOutput bool

	// Resolved in PersistentPreRunE for every command.
	loader *config.Loader
	cfg    *config.Config
	logs   *logging.Set
)

// flagKeys maps config keys to the persistent flags overriding them.
var flagKeys = map[string]string{
	"db_path":     "db",
	"mode":        "mode",
	"remote.url":  "remote",
	"sync.policy": "resolve-policy",
}

var rootCmd = &cobra.Command{
	Use:   "todosync",
	Short: "Offline-first todo list that syncs with a remote table",
	Long: `todosync keeps a todo list in a local SQLite replica and syncs it with a
remote table.

In offline mode (the default) every change is written locally and queued;
"todosync sync" pushes the queue, settles conflicts and pulls remote
changes. In direct mode every command talks to the remote table.

Settings come from todosync.toml, TODOSYNC_* environment variables and
flags, in increasing order of precedence. Run "todosync config init" to
write a starting file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput && yamlOutput {
			return fmt.Errorf("--json and --yaml are mutually exclusive")
		}

		loader = config.NewLoader(configFile)
		if err := loader.BindFlags(cmd.Root().PersistentFlags(), flagKeys); err != nil {
			return err
		}
		var err error
		cfg, err = loader.Load()
		if err != nil {
			return err
		}

		logs, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "items", Title: "Working With Items:"},
		&cobra.Group{ID: "sync", Title: "Syncing:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default: search for todosync.toml)")
	pf.String("db", "", "local database path")
	pf.String("mode", "", "table mode: offline or direct")
	pf.String("remote", "", "remote table URL")
	pf.String("resolve-policy", "", "conflict policy: ask, server or client")
	pf.BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
	pf.BoolVar(&yamlOutput, "yaml", false, "print machine-readable YAML")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
