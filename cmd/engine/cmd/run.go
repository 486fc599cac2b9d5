package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kubeheal/remediator/internal/audit"
	"github.com/kubeheal/remediator/internal/config"
	"github.com/kubeheal/remediator/internal/engine"
	"github.com/kubeheal/remediator/internal/executor"
	"github.com/kubeheal/remediator/internal/guard"
	"github.com/kubeheal/remediator/internal/history"
	"github.com/kubeheal/remediator/internal/metrics"
	"github.com/kubeheal/remediator/internal/server"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the remediation engine",
	Long: `Run starts the remediation engine in service mode.

The engine will:
1. Connect to the Kubernetes API server
2. Serve the incident ingestion API (structured events and Alertmanager webhooks)
3. Evaluate policies and apply bounded remediation actions

Use --dry-run to test without affecting the cluster.`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting remediation engine",
		"dry_run", IsDryRun(),
		"version", "0.1.0",
	)

	// 1. Load Configuration
	if cfgFile == "" {
		cfgFile = "config/default.yaml" // Fallback to local default for now
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	policies, err := cfg.PolicyTable()
	if err != nil {
		return fmt.Errorf("failed to compile policies: %w", err)
	}

	// 2. Initialize Kubernetes Clients (with the dry-run safety wrapper)
	cluster, err := buildClusterClient()
	if err != nil {
		return err
	}

	// 3. Open the History Store
	store, err := history.OpenBadger(history.BadgerConfig{
		Path:   cfg.History.Path,
		Logger: slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	// 4. Build the Executor
	exec := executor.New(cluster, executor.Config{
		MaxAttempts:    cfg.Engine.MaxAttempts,
		RetryBackoff:   cfg.Engine.RetryBackoff(),
		AttemptTimeout: cfg.Engine.AttemptTimeout(),
	}, slog.Default())

	// 5. Assemble the Engine
	eng, err := engine.New(engine.Config{
		Policies:          policies,
		Store:             store,
		Executor:          exec,
		Guard:             guard.New(slog.Default()),
		Auditor:           audit.NewAuditor(audit.Config{SecretKey: cfg.Audit.SecretKey, ClusterID: cfg.Audit.ClusterID}, slog.Default()),
		Logger:            slog.Default(),
		WorkerIdleTimeout: cfg.Engine.WorkerIdleTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()

	// 6. Start the Retention Pruner (Non-blocking)
	if cfg.History.Retention() > 0 {
		go runPruner(ctx, store, cfg.History.Retention(), cfg.History.PruneInterval())
	}

	// 7. Start Metrics Server (Non-blocking)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("starting metrics server", "address", cfg.Server.MetricsAddress)
		if err := http.ListenAndServe(cfg.Server.MetricsAddress, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	// 8. Start the API Server
	api := server.New(eng, store, slog.Default())
	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: api.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("api server shutdown failed", "error", err)
		}
	}()

	slog.Info("engine ready, serving incident API", "address", cfg.Server.ListenAddress)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failure: %w", err)
	}

	return nil
}

// runPruner periodically expires history records older than the retention
// window. Pruning is best effort; the next tick retries after a failure.
func runPruner(ctx context.Context, store history.Store, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			pruned, err := store.PruneBefore(ctx, cutoff)
			if err != nil {
				slog.Error("history pruning failed", "error", err)
				continue
			}
			if pruned > 0 {
				metrics.HistoryPruned.Add(float64(pruned))
				slog.Info("pruned history records", "count", pruned, "cutoff", cutoff)
			}
		}
	}
}
