package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Run the sync daemon with a live WebSocket dashboard",
	Long: `Run the sync daemon and serve its activity over HTTP.

WebSocket messages (ws://localhost:PORT/ws):
- sync_complete: counts and duration of a finished cycle
- conflict: one conflict and how it was settled
- queue_stats: queued changes and pull progress (also sent on connect)

Prometheus metrics are served at /metrics and a health check at /health.

Example usage:
  todosync dashboard                   # Start on default port 8080
  todosync dashboard --port 9000       # Start on custom port`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireOffline(); err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics, err := dashboard.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}

		logger := logs.Logger("dashboard")
		server := dashboard.NewServer(&dashboard.Config{
			Port:     port,
			Gatherer: reg,
			Logger:   logger,
		})
		a.engine.AddObserver(dashboard.NewHandler(server, a.engine, logger))
		a.engine.AddObserver(metrics)

		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Dashboard server started on http://localhost:%d\n", port)
		fmt.Fprintf(out, "WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Fprintf(out, "Metrics: http://localhost:%d/metrics\n", port)
		fmt.Fprintln(out, "\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		daemonErr := runDaemon(ctx, a)

		fmt.Fprintln(out, "\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		return daemonErr
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on (default from dashboard.port)")

	rootCmd.AddCommand(dashboardCmd)
}
