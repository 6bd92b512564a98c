// arena is the authoritative server for a top-down multiplayer shooter.
//
// Usage:
//
//	arena serve              - Run the lobby and match server
//	arena history            - Print recently finished matches
//	arena code               - Print a fresh lobby code
//
// Global flags:
//
//	--config <path>  - YAML configuration file
//	--db <path>      - SQLite database path (overrides config)
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	flagConfig string
	flagDBPath string

	// serve flags
	flagAddr      string
	flagClientDir string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arena",
	Short: "Top-down arena shooter server",
	Long: `arena runs matchmaking lobbies and authoritative match simulation
for a top-down multiplayer shooter.

Examples:
  arena serve --addr :8080
  arena serve --config arena.yaml
  arena history --limit 5
  arena code`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lobby and match server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Path to SQLite database (overrides config)")

	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&flagClientDir, "client", "", "Directory of static client files to serve")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(codeCmd)
}

// loadConfig applies command-line overrides on top of LoadConfig
func loadConfig() (Config, error) {
	cfg, err := LoadConfig(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagDBPath != "" {
		cfg.DBPath = flagDBPath
	}
	if flagAddr != "" {
		cfg.Addr = flagAddr
	}
	if flagClientDir != "" {
		cfg.ClientDir = flagClientDir
	}
	return cfg, nil
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "arena",
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warn("unknown log level, using info", "level", level)
	}
	return logger
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	catalog, err := LoadMapCatalog(cfg.MapFile)
	if err != nil {
		return err
	}

	var store *Store
	if cfg.DBPath != "" {
		store, err = OpenStore(cfg.DBPath)
		if err != nil {
			// Continue without match history
			logger.Warn("could not open database", "path", cfg.DBPath, "err", err)
			store = nil
		}
	}
	defer store.Close()

	analytics := NewAnalytics(store, logger.WithPrefix("analytics"))
	defer analytics.Stop()

	hub := NewHub(cfg.HubConfig(catalog), store, analytics, logger)
	go hub.Run()
	defer hub.Shutdown()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           SetupRoutes(hub, store, cfg.ClientDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "map", catalog.Name, "walls", len(catalog.Walls))
		if cfg.ClientDir != "" {
			logger.Info("serving client files", "dir", cfg.ClientDir)
		}
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
