// Command aof runs the Agentic Operations Framework server: it loads
// Agent/AgentFlow/AgentFleet/Trigger/Context/FlowBinding resources from a
// directory, wires the Flow Engine and Orchestrator around them, and
// serves the single HTTP surface (health check plus per-platform
// webhooks) until told to stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "aof",
		Short:        "Agentic Operations Framework server",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var (
		resourceDir string
		httpAddr    string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load resources and serve the webhook/health HTTP surface",
		Long: `serve loads Agent, AgentFlow, AgentFleet, Trigger, Context, and
FlowBinding resources from --resources, wires the Flow Engine and
Orchestrator around them, and listens on --addr for GET /health and
POST /webhook/{platform} until SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			return runServe(cmd.Context(), resourceDir, httpAddr)
		},
	}

	cmd.Flags().StringVarP(&resourceDir, "resources", "r", "./resources", "Directory of Agent/AgentFlow/AgentFleet/Trigger/Context/FlowBinding YAML files")
	cmd.Flags().StringVarP(&httpAddr, "addr", "a", ":8080", "HTTP listen address")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, resourceDir, httpAddr string) error {
	app, err := buildApp(resourceDir)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	slog.Info("resources loaded",
		"agents", app.agents.Count(),
		"flows", app.flows.Count(),
		"fleets", app.fleets.Count(),
		"triggers", app.triggers.Count(),
		"bindings", app.bindings.Count(),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app.startFleets(ctx)
	app.startMCP(ctx)
	app.startScheduler(ctx)

	srv := &http.Server{Addr: httpAddr, Handler: app.webhookServer}
	go func() {
		slog.Info("aof listening", "addr", httpAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown did not complete cleanly", "error", err)
	}
	app.stopFleets(10 * time.Second)
	app.stopMCP()
	app.stopScheduler(5 * time.Second)

	slog.Info("aof stopped")
	return nil
}
