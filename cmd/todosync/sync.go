package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/sync"
	"github.com/mschirtzinger/todosync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push queued changes, settle conflicts and pull remote changes",
	Long: `Run one sync cycle against the remote table:
  1. Push every queued change in the order it was made
  2. Settle conflicts with the configured policy (ask, server or client)
  3. Pull remote changes for every configured query

If the remote is unreachable nothing is lost: the queue is kept and the
next sync picks up where this one stopped.`,
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

		outcome, syncErr := a.engine.Sync(cmd.Context())
		if outcome != nil {
			if err := emit(cmd.OutOrStdout(), outcome, func(u *ui.Renderer) string {
				return u.Outcome(outcome)
			}); err != nil {
				return err
			}
		}
		if syncErr != nil {
			if sync.IsRetryable(syncErr) {
				return fmt.Errorf("sync stopped, changes stay queued: %w", syncErr)
			}
			return syncErr
		}
		return nil
	},
}

// pushSummary is the machine-readable result of "todosync push".
type pushSummary struct {
	Pushed    int `json:"pushed" yaml:"pushed"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	Conflicts int `json:"conflicts" yaml:"conflicts"`
}

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Push queued changes without pulling",
	Long: `Push queued changes to the remote table. Conflicts are reported and left
queued; run "todosync sync" to settle them.`,
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

		result, err := a.engine.Push(cmd.Context())
		if err != nil {
			return err
		}
		summary := pushSummary{Pushed: result.Pushed, Skipped: result.Skipped, Conflicts: len(result.Conflicts)}
		return emit(cmd.OutOrStdout(), summary, func(u *ui.Renderer) string {
			out := u.Success(fmt.Sprintf("Pushed %d change(s)", summary.Pushed))
			if summary.Conflicts > 0 {
				out += u.Warn(fmt.Sprintf("%d conflict(s) left queued, %d change(s) held back; run \"todosync sync\"",
					summary.Conflicts, summary.Skipped))
			}
			return out
		})
	},
}

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "Pull remote changes without pushing",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireOffline(); err != nil {
			return err
		}

		n, err := a.engine.Pull(cmd.Context())
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), map[string]int{"pulled": n}, func(u *ui.Renderer) string {
			return u.Success(fmt.Sprintf("Pulled %d record(s)", n))
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show queued changes and pull progress",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		status := &sync.Status{}
		if a.engine != nil {
			if status, err = a.engine.Status(cmd.Context()); err != nil {
				return err
			}
		}
		return emit(cmd.OutOrStdout(), status, func(u *ui.Renderer) string {
			return u.Status(status, a.manager.Offline())
		})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, pushCmd, pullCmd, statusCmd)
}
