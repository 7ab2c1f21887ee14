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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pilgrim-12/cronowl-sub001/internal/alert"
	"github.com/pilgrim-12/cronowl-sub001/internal/config"
	"github.com/pilgrim-12/cronowl-sub001/internal/engine"
	"github.com/pilgrim-12/cronowl-sub001/internal/probe"
	"github.com/pilgrim-12/cronowl-sub001/internal/secrets"
	"github.com/pilgrim-12/cronowl-sub001/internal/server"
	"github.com/pilgrim-12/cronowl-sub001/internal/storage"
	"github.com/pilgrim-12/cronowl-sub001/internal/version"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cronowl",
		Short:        "Dead man's switch and HTTP uptime monitor",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yml", "config file path")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(statusCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cronowl %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

// deps is the wired application graph shared by serve and sweep.
type deps struct {
	cfg      *config.Config
	db       *storage.DB
	sweeper  *engine.Sweeper
	checks   *engine.CheckMachine
	executor *probe.Executor
	logger   *slog.Logger
}

func buildDeps() (*deps, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	key := cfg.Secrets.Key
	if env := os.Getenv("CRONOWL_SECRET_KEY"); env != "" {
		key = env
	}
	var box *secrets.Box
	if key != "" {
		if box, err = secrets.New(key); err != nil {
			return nil, fmt.Errorf("initializing secrets: %w", err)
		}
	} else {
		logger.Warn("no secret key configured, sensitive monitor config stored in plaintext")
	}

	db, err := storage.Open(cfg.Storage.Path, box)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	dispatcher := alert.New(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Cooldown.Duration, logger)

	executor := probe.NewExecutor(logger)
	executor.SetAllowPrivateTargets(cfg.Probes.AllowPrivateTargets)

	checks := engine.NewCheckMachine(db, dispatcher, logger)
	monitors := engine.NewMonitorMachine(db, executor, dispatcher, logger)
	sweeper := engine.NewSweeper(db, checks, monitors, cfg.Sweep.Workers, cfg.Sweep.Deadline.Duration, logger)

	return &deps{
		cfg:      cfg,
		db:       db,
		sweeper:  sweeper,
		checks:   checks,
		executor: executor,
		logger:   logger,
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ping endpoint, API, and sweep loop",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.db.Close()
	logger := d.logger

	apiServer := server.New(d.db, d.checks, d.executor, d.sweeper, d.cfg.Limits, logger)
	apiServer.SetAllowPrivateTargets(d.cfg.Probes.AllowPrivateTargets)

	httpServer := &http.Server{
		Addr:    d.cfg.Server.Address,
		Handler: apiServer.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go d.runSweepLoop(ctx)
	go d.runPruneLoop(ctx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", d.cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func (d *deps) runSweepLoop(ctx context.Context) {
	if _, err := d.sweeper.Run(ctx); err != nil {
		d.logger.Error("initial sweep", "error", err)
	}
	ticker := time.NewTicker(d.cfg.Sweep.Interval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.sweeper.Run(ctx); err != nil {
				d.logger.Error("sweep", "error", err)
			}
		}
	}
}

func (d *deps) runPruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-d.cfg.Limits.Retention.Duration)
			if err := d.db.Prune(ctx, cutoff); err != nil {
				d.logger.Error("pruning history", "error", err)
			} else {
				d.logger.Info("pruned history", "cutoff", cutoff)
			}
		}
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single evaluation pass and exit",
		RunE:  runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.db.Close()

	summary, err := d.sweeper.Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "checked %d, probed %d, %d state changes, %d errors, %d deferred (%s)\n",
		summary.Checked, summary.Probed, summary.StateChanges, summary.Errors, summary.Deferred,
		summary.Elapsed.Round(time.Millisecond))
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print check and monitor status from the database",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.db.Close()

	return executeStatus(cmd, d.db)
}
