package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/espulse/espulse/internal/api"
	"github.com/espulse/espulse/internal/config"
	"github.com/espulse/espulse/internal/logging"
	"github.com/espulse/espulse/internal/models"
	"github.com/espulse/espulse/internal/monitoring"
	"github.com/espulse/espulse/internal/websocket"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "espulse",
	Short:   "espulse - Elasticsearch upgrade sequencing monitor",
	Long:    `espulse watches an Elasticsearch cluster during rolling upgrades: node inventory, shard allocation, recovery progress, health history, and the recommended node upgrade order.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("espulse %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup messages.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "espulse",
	})

	// Optional .env file alongside the binary.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg := config.Load()

	// Re-initialize logging with configuration-driven settings.
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "espulse",
	})

	api.Version = Version
	log.Info().Str("version", Version).Msg("Starting espulse monitoring server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startMetricsServer(ctx, cfg.MetricsAddr)

	persistence := config.NewConfigPersistence(cfg.ConfigDir)

	var monitor *monitoring.Monitor
	wsHub := websocket.NewHub(func() any {
		if monitor == nil {
			return nil
		}
		if snapshot := monitor.GetSnapshot(); snapshot != nil {
			return snapshot
		}
		return nil
	})
	go wsHub.Run()

	monitor = monitoring.New(cfg, persistence,
		monitoring.WithPublishHook(func(snapshot *models.MonitoringSnapshot) {
			wsHub.BroadcastSnapshot(snapshot)
			wsHub.BroadcastStatus(monitor.GetStatus())
		}),
	)
	monitor.Start()

	router := api.NewRouter(cfg, monitor, wsHub)

	// ReadHeaderTimeout instead of ReadTimeout: a full-connection read
	// deadline would survive the WebSocket upgrade and kill idle sockets.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	monitor.Stop()

	log.Info().Msg("Server stopped")
}
