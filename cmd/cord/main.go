package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/cord/pkg/api"
	"github.com/cuemby/cord/pkg/config"
	"github.com/cuemby/cord/pkg/log"
	"github.com/cuemby/cord/pkg/manager"
	"github.com/cuemby/cord/pkg/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cord",
	Short: "Cord - realtime JSON tree store",
	Long: `Cord keeps a JSON document tree on a server and pushes change
notifications to connected clients, which re-read what they listen to.

Run "cord serve" to start a server, then use the data commands
(get, set, update, remove, push, watch) against it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		level, _ := log.ParseLevel(cfg.Log.Level)
		log.Init(log.Config{Level: level, JSONOutput: cfg.Log.JSON})
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Cord version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to cord.yaml")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")
	rootCmd.PersistentFlags().String("url", "", "Server websocket URL for client commands")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		if _, err := log.ParseLevel(v); err != nil {
			return nil, err
		}
		cfg.Log.Level = v
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}
	if v, _ := cmd.Flags().GetString("url"); v != "" {
		cfg.Client.URL = v
	}
	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		cfg.Server.Listen = f.Value.String()
	}
	if f := cmd.Flags().Lookup("data-dir"); f != nil && f.Changed {
		cfg.Storage.DataDir = f.Value.String()
	}
	if f := cmd.Flags().Lookup("storage"); f != nil && f.Changed {
		cfg.Storage.Driver = f.Value.String()
	}
	if f := cmd.Flags().Lookup("request-log"); f != nil && f.Changed {
		cfg.Server.RequestLog, _ = cmd.Flags().GetBool("request-log")
	}
	return cfg, cfg.Validate()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cord server",
	Long: `Run the authoritative store: websocket RPC on /ws, the REST mirror
under /api, and /health, /ready, /live and /metrics.

The tree is restored from the data directory on start and flushed to it
on shutdown.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Address to listen on (default 127.0.0.1:8787)")
	serveCmd.Flags().String("data-dir", "", "Data directory for snapshots (default ./data)")
	serveCmd.Flags().String("storage", "", "Storage driver: bolt or sqlite")
	serveCmd.Flags().Bool("request-log", true, "Record every request in the request log")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	metrics.SetVersion(Version)

	mgr, err := manager.NewManager(&manager.Config{
		DataDir:       cfg.Storage.DataDir,
		StorageDriver: cfg.Storage.Driver,
		SaveDelay:     cfg.Storage.SaveDelay,
		RequestLog:    cfg.Server.RequestLog,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %v", err)
	}

	collector := metrics.NewCollector(mgr)
	collector.Start()

	srv := api.NewServer(mgr, api.Config{
		SlowRequestThreshold: cfg.Server.SlowRequestThreshold,
		MaxMessageSize:       cfg.Server.MaxMessageSize,
		PingInterval:         cfg.Server.PingInterval,
		WriteTimeout:         cfg.Server.WriteTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Cord listening on %s (storage: %s, data: %s)\n", cfg.Server.Listen, cfg.Storage.Driver, cfg.Storage.DataDir)
	fmt.Println("Press Ctrl+C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(cfg.Server.Listen); err != nil {
			return fmt.Errorf("API server error: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	serveErr := g.Wait()

	collector.Stop()
	if err := mgr.Shutdown(); err != nil {
		return errors.Join(serveErr, fmt.Errorf("failed to shutdown: %v", err))
	}
	if serveErr != nil {
		return serveErr
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Cord version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
