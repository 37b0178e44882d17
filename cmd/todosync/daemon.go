package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/config"
	"github.com/mschirtzinger/todosync/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync automatically in the background",
	Long: `Run a foreground process that keeps the replica in sync.

The daemon syncs at startup, whenever another todosync process writes to
the local database (after sync.debounce of quiet), and every sync.interval.
Changing sync.interval in the config file takes effect without a restart.

Only one daemon can run per database. With the "ask" policy, conflicts are
left queued for the next interactive "todosync sync".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireOffline(); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Fprintf(cmd.OutOrStdout(), "Syncing %s with %s\n", cfg.DBPath, cfg.Remote.URL)
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop...")
		return runDaemon(ctx, a)
	},
}

// runDaemon blocks until ctx is done, reloading sync.interval from the
// config file as it changes.
func runDaemon(ctx context.Context, a *app) error {
	logger := logs.Logger("daemon")
	d, err := daemon.NewWithConfig(a.engine, cfg.DBPath, &daemon.Config{
		SyncInterval:     cfg.Sync.Interval,
		DebounceInterval: cfg.Sync.Debounce,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			logger.Printf("WARNING: ignoring config change: %v", err)
			return
		}
		logger.Printf("Config reloaded, sync interval %v", next.Sync.Interval)
		d.SetInterval(next.Sync.Interval)
	})

	if err := d.Start(ctx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("%w (lock %s)", err, daemon.LockPath(cfg.DBPath))
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
