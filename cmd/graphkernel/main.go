// Package main provides the graphkernel CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/spf13/cobra"

	"github.com/orneryd/graphkernel/pkg/config"
	"github.com/orneryd/graphkernel/pkg/graphdb"
	"github.com/orneryd/graphkernel/pkg/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "graphkernel",
		Short: "graphkernel - transactional graph primitive store",
		Long: `graphkernel is an embedded graph database kernel written in Go.

Features:
  • Per-transaction copy-on-write overlays with strict two-phase locking
  • Lazy, cached nodes and relationships over memory, badger or sqlite
  • Constraint checks at every mutation and at commit
  • HTTP API with one transaction per request`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("engine", "", "Storage engine: memory, badger or sqlite (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("graphkernel v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	serveCmd.Flags().Int("http-port", 0, "HTTP API port (overrides config)")
	rootCmd.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a data directory with a default config file",
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print database statistics as JSON",
		RunE:  runStats,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if engine, _ := cmd.Flags().GetString("engine"); engine != "" {
		cfg.Storage.Engine = engine
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("http-port"); port > 0 {
		cfg.Server.Port = port
	}
	cfg.Runtime.ApplyRuntimeMemory()

	if cfg.Runtime.GopsAgent {
		if err := agent.Listen(agent.Options{ShutdownCleanup: true}); err != nil {
			return fmt.Errorf("starting gops agent: %w", err)
		}
		defer agent.Close()
	}

	fmt.Printf("🚀 Starting graphkernel v%s\n", version)
	fmt.Printf("   %s\n", cfg)
	fmt.Println()

	fmt.Println("📂 Opening database...")
	db, err := graphdb.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	httpServer, err := server.New(db, cfg.Server)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	fmt.Println()
	fmt.Println("✅ graphkernel is ready!")
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Printf("  • HTTP API:     http://%s\n", httpServer.Addr())
	fmt.Printf("  • Health:       http://%s/health\n", httpServer.Addr())
	fmt.Printf("  • Stats:        http://%s/stats\n", httpServer.Addr())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	fmt.Println("✅ Server stopped gracefully")
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	cfg.Storage.Engine = "badger"
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if engine, _ := cmd.Flags().GetString("engine"); engine != "" {
		cfg.Storage.Engine = engine
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Printf("📂 Initializing graphkernel in %s\n", cfg.Storage.DataDir)
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", cfg.Storage.DataDir, err)
	}

	configPath := filepath.Join(cfg.Storage.DataDir, "graphkernel.yaml")
	if err := cfg.WriteFile(configPath); err != nil {
		return err
	}

	fmt.Println("✅ Data directory initialized")
	fmt.Printf("   Config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  graphkernel serve --config", configPath)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Cache.Adaptive = false

	db, err := graphdb.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	stats, err := db.Stats()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
