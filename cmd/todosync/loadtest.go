package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/loadtest"
	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/sync"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Simulate many replicas syncing at once",
	Long: `Simulate concurrent replicas editing and syncing against one remote table,
then check that every replica converged on the remote's state.

Each replica gets its own temporary SQLite database. By default the remote
is an in-process table; with --use-remote the configured remote.url is
used instead (items are written to it).

Examples:
  # 10 replicas, 5 edits per round, 3 rounds
  todosync loadtest

  # Larger run with client-wins conflict resolution
  todosync loadtest --replicas 50 --rounds 10 --policy client

  # Output stats as JSON
  todosync loadtest --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		replicas, _ := cmd.Flags().GetInt("replicas")
		edits, _ := cmd.Flags().GetInt("edits")
		rounds, _ := cmd.Flags().GetInt("rounds")
		policyName, _ := cmd.Flags().GetString("policy")
		useRemote, _ := cmd.Flags().GetBool("use-remote")

		if replicas <= 0 || edits <= 0 || rounds <= 0 {
			return fmt.Errorf("--replicas, --edits and --rounds must be positive")
		}
		if policyName == "ask" {
			return fmt.Errorf("--policy must be server or client")
		}
		policy, err := sync.PolicyByName(policyName, nil)
		if err != nil {
			return err
		}

		dir, err := os.MkdirTemp("", "todosync-loadtest-")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)

		var svc remote.Service = remote.NewMemory()
		if useRemote {
			svc = newRemote()
		}

		fleet, err := loadtest.NewFleet(dir, replicas, svc, policy)
		if err != nil {
			return err
		}
		defer fleet.Close()

		out := cmd.OutOrStdout()
		if !jsonOutput && !yamlOutput {
			fmt.Fprintf(out, "Running load test: %d replicas, %d edits/round, %d rounds, %s wins\n\n",
				replicas, edits, rounds, policyName)
		}

		ctx := cmd.Context()
		stats, err := fleet.RunConcurrentSyncs(ctx, edits, rounds)
		if err != nil {
			return err
		}
		if err := fleet.Settle(ctx); err != nil {
			return err
		}
		convergeErr := fleet.VerifyConvergence(ctx)

		if done, err := output(out, stats); done || err != nil {
			if err != nil {
				return err
			}
			return convergeErr
		}
		stats.WriteStats(out)
		if convergeErr != nil {
			return fmt.Errorf("replicas diverged: %w", convergeErr)
		}
		fmt.Fprintln(out, "\nAll replicas converged.")
		return nil
	},
}

func init() {
	loadtestCmd.Flags().Int("replicas", 10, "Number of concurrent replicas to simulate")
	loadtestCmd.Flags().Int("edits", 5, "Local edits per replica per round")
	loadtestCmd.Flags().Int("rounds", 3, "Edit-then-sync rounds per replica")
	loadtestCmd.Flags().String("policy", "server", "Conflict policy: server or client")
	loadtestCmd.Flags().Bool("use-remote", false, "Run against remote.url instead of an in-process table")

	rootCmd.AddCommand(loadtestCmd)
}
