package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/remote/httpapi"
	"github.com/mschirtzinger/todosync/internal/remote/pgtable"
	"github.com/mschirtzinger/todosync/internal/table"
	"github.com/mschirtzinger/todosync/internal/transfer"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Serve a remote table over HTTP",
	Long: `Serve the authoritative remote table that replicas sync with.

Backends:
  memory    in-process table, lost on exit (default)
  postgres  table in the database at serve.database_url; migrations run
            at startup

Example usage:
  todosync serve --seed items.jsonl
  todosync serve --backend postgres --database-url postgres://localhost/todos`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := cfg.Serve
		if cmd.Flags().Changed("addr") {
			sc.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("backend") {
			sc.Backend, _ = cmd.Flags().GetString("backend")
		}
		if cmd.Flags().Changed("database-url") {
			sc.DatabaseURL, _ = cmd.Flags().GetString("database-url")
		}
		seed, _ := cmd.Flags().GetString("seed")
		origins, _ := cmd.Flags().GetString("cors-origins")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		svc, closeSvc, err := openBackend(ctx, sc.Backend, sc.DatabaseURL)
		if err != nil {
			return err
		}
		defer closeSvc()

		if seed != "" {
			result, err := transfer.ImportFile(ctx, table.NewDirectTable(svc), seed, transfer.ImportOptions{SkipExisting: true})
			if err != nil {
				return fmt.Errorf("failed to seed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d item(s) from %s\n", result.Imported, seed)
			for _, e := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", e)
			}
		}

		logger := logs.Logger("serve")
		server := &http.Server{
			Addr:              sc.Addr,
			Handler:           httpapi.NewHandler(svc, logger).WithCORS(splitList(origins)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Printf("Serving %s backend on %s", sc.Backend, sc.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		fmt.Fprintf(cmd.OutOrStdout(), "Remote table (%s) listening on %s\n", sc.Backend, sc.Addr)
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop...")

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	},
}

// openBackend returns the service for backend and a func releasing it.
func openBackend(ctx context.Context, backend, databaseURL string) (remote.Service, func(), error) {
	switch backend {
	case "memory":
		return remote.NewMemory(), func() {}, nil
	case "postgres":
		if databaseURL == "" {
			return nil, nil, fmt.Errorf("serve.database_url is required for the postgres backend")
		}
		t, err := pgtable.Open(ctx, databaseURL)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q (want memory or postgres)", backend)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	serveCmd.Flags().String("addr", ":8787", "listen address (default from serve.addr)")
	serveCmd.Flags().String("backend", "memory", "memory or postgres (default from serve.backend)")
	serveCmd.Flags().String("database-url", "", "Postgres URL for the postgres backend")
	serveCmd.Flags().String("seed", "", "JSONL file of items to load at startup")
	serveCmd.Flags().String("cors-origins", "", "comma-separated allowed browser origins (default: any)")

	rootCmd.AddCommand(serveCmd)
}
