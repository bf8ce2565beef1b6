package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/daytracker/internal/api"
	"github.com/charlie0129/daytracker/internal/auth"
	"github.com/charlie0129/daytracker/internal/config"
	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/influx"
	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/repository"
	"github.com/charlie0129/daytracker/internal/rollover"
	"github.com/charlie0129/daytracker/internal/scheduler"
	"github.com/charlie0129/daytracker/internal/timeutil"
)

var (
	configPath string

	rolloverUser string
	rolloverDate string

	progressUser  string
	progressRange string
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "daytracker",
		Short:        "Daily activity tracker with nightly rollover",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRolloverCmd())
	rootCmd.AddCommand(newProgressCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily rollover scheduler",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
}

func newRolloverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollover",
		Short: "Run the rollover once for a user",
		Args:  cobra.NoArgs,
		RunE:  runRolloverCmd,
	}
	cmd.Flags().StringVar(&rolloverUser, "user", "", "user id")
	cmd.Flags().StringVar(&rolloverDate, "date", "", "day the run is for (YYYY-MM-DD, default today); the day before is archived")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newProgressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Print progress entries for a user",
		Args:  cobra.NoArgs,
		RunE:  runProgressCmd,
	}
	cmd.Flags().StringVar(&progressUser, "user", "", "user id")
	cmd.Flags().StringVar(&progressRange, "range", string(models.RangeWeek), "week, month or year")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// setup loads the config and opens the store.
func setup(ctx context.Context) (*config.Config, database.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := database.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return cfg, store, nil
}

// newEngine builds the rollover engine, attaching the InfluxDB sink when
// configured. The returned func releases the sink.
func newEngine(ctx context.Context, cfg *config.Config, store database.Store) (*rollover.Engine, func()) {
	if !cfg.InfluxDB.Enabled() {
		return rollover.NewEngine(store), func() {}
	}
	sink, err := influx.NewSink(ctx, cfg.InfluxDB, cfg.GetTimezone())
	if err != nil {
		slog.Error("influxdb sink disabled", "error", err)
		return rollover.NewEngine(store), func() {}
	}
	return rollover.NewEngine(store, rollover.WithProgressSink(sink)), sink.Close
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, store, err := setup(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	slog.Info("local time", "time", time.Now().In(cfg.GetTimezone()).Format(time.RFC3339))

	if err := repository.NewCategories(store).SeedDefaults(ctx, cfg.DefaultCategories); err != nil {
		return fmt.Errorf("failed to seed default categories: %w", err)
	}

	engine, closeSink := newEngine(ctx, cfg, store)
	defer closeSink()

	// Start background rollover scheduler
	svc := scheduler.NewService(cfg, engine, repository.NewUsers(store))
	go func() {
		if err := svc.Start(ctx); err != nil {
			slog.Error("failed to start scheduler", "error", err)
		}
	}()

	authn := auth.New(cfg.Auth.JWTSecret)
	if !authn.Enabled() {
		slog.Warn("auth disabled, trusting the " + auth.UserHeader + " header")
	}

	// Setup HTTP server
	handler, err := api.NewHandler(cfg, store, engine, authn)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server...")
		svc.Stop() // Stop cron scheduler
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runRolloverCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, store, err := setup(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	today := time.Now().In(cfg.GetTimezone())
	if rolloverDate != "" {
		today, err = timeutil.ParseDateKey(rolloverDate, cfg.GetTimezone())
		if err != nil {
			return fmt.Errorf("invalid --date value: %w", err)
		}
	}

	engine, closeSink := newEngine(ctx, cfg, store)
	defer closeSink()

	job := scheduler.NewRolloverJob(engine, repository.NewUsers(store), scheduler.RetryPolicyFromConfig(cfg.Retry), cfg.GetTimezone())
	res, err := job.RunUser(ctx, rolloverUser, today)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runProgressCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rng, err := models.ParseTimeRange(progressRange)
	if err != nil {
		return fmt.Errorf("invalid --range value: %w", err)
	}

	cfg, store, err := setup(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := repository.NewProgress(store).ListRange(ctx, progressUser, rng, time.Now().In(cfg.GetTimezone()))
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+auth.UserHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
