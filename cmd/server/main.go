// Package main is the entry point for the villa sync server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/villa-sync/backend/internal/api"
	"github.com/villa-sync/backend/internal/booking"
	"github.com/villa-sync/backend/internal/calendar"
	"github.com/villa-sync/backend/internal/config"
	"github.com/villa-sync/backend/internal/credential"
	"github.com/villa-sync/backend/internal/integration"
	"github.com/villa-sync/backend/internal/logging"
	"github.com/villa-sync/backend/internal/orchestrator"
	"github.com/villa-sync/backend/internal/platform"
	"github.com/villa-sync/backend/internal/scheduler"
	"github.com/villa-sync/backend/internal/storage"
	"github.com/villa-sync/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

//nolint:gochecknoglobals
var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "villa-sync",
		Short:         "Villa booking and calendar sync service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sync scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
	serve.Flags().String("addr", "", "HTTP server address")
	serve.Flags().String("db", "", "path to the SQLite database")
	serve.Flags().String("static", "", "directory for static frontend files")

	health := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running server and exit non-zero when unhealthy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runHealthCheck(cfg.Server.Addr)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("villa-sync version %s\n", currentVersion())
		},
	}

	root.AddCommand(serve, health, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func currentVersion() string {
	// Allow overriding version via environment (e.g., injected by container build/runtime)
	if envVer := os.Getenv("VERSION"); envVer != "" {
		return envVer
	}
	return version
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	for flag, key := range map[string]string{"addr": "server.addr", "db": "database.path", "static": "server.static_dir"} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", flag, err)
			}
		}
	}
	return config.Load(v, cfgFile)
}

func runServer(cfg *config.Config) error {
	logging.Init(cfg.Log.Level)
	log := logging.Logger
	log.Info().Str("version", currentVersion()).Msg("starting villa sync")

	// Initialize database
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	log.Info().Str("path", db.Path()).Msg("database migrations complete")

	vault := credential.NewVault(cfg.Security.EncryptionKey)
	if vault.UsingFallbackKey() {
		log.Warn().Msg("no encryption key configured, credentials are sealed with the built-in key")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize WebSocket hub
	hub := websocket.NewHub()
	go hub.Run(ctx)
	broadcaster := websocket.NewEventBroadcaster(hub)

	// Initialize repositories
	villaRepo := storage.NewVillaRepository(db)
	bookingRepo := storage.NewBookingRepository(db)
	integrationRepo := storage.NewIntegrationRepository(db)
	syncLogRepo := storage.NewSyncLogRepository(db)

	registry := platform.NewDefaultRegistry(platform.NewMockStore())
	conflicts := booking.NewConflictChecker(bookingRepo.ListBlocking)

	orch := orchestrator.New(integrationRepo, bookingRepo, villaRepo, syncLogRepo, registry, vault, broadcaster, orchestrator.Options{
		AdapterTimeout: cfg.Sync.AdapterTimeout,
		FailureLimit:   cfg.Sync.ConsecutiveFailureLimit,
	})

	parser := calendar.NewParser(cfg.ICal.MaxBytes, cfg.ICal.FetchTimeout)
	importer := calendar.NewImporter(bookingRepo, villaRepo, conflicts)
	calendarService := calendar.NewService(villaRepo, bookingRepo, parser, importer, cfg.ICal.ExportWindowDays)
	bookingService := booking.NewService(bookingRepo, conflicts)

	sched := scheduler.New(nil, orch, calendarService, integrationRepo, bookingRepo, syncLogRepo, scheduler.OptionsFromConfig(cfg))
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	manager := integration.NewManager(integrationRepo, villaRepo, registry, vault, orch, sched.Exclusive,
		cfg.Sync.DefaultFrequencyHours, cfg.Sync.AdapterTimeout)

	router := api.NewRouter(api.Dependencies{
		DB:              db,
		Villas:          villaRepo,
		Bookings:        bookingRepo,
		Integrations:    integrationRepo,
		SyncLogs:        syncLogRepo,
		BookingService:  bookingService,
		CalendarService: calendarService,
		Manager:         manager,
		Scheduler:       sched,
		Hub:             hub,
		Broadcaster:     broadcaster,
		StaticDir:       cfg.Server.StaticDir,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			sched.Stop()
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info().Msg("shutting down server")
	sched.Stop()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
