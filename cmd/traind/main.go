// Traind is the model production pipeline daemon.
//
// This binary starts the traind HTTP server: run submission, run inspection,
// registry access, and online prediction against the current model.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start server with the default config path
//	traind
//
//	# Point at a config file
//	traind -config /etc/traind/config.yaml
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9090 PIPELINE_SOURCE=data/train.csv traind
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/traind/internal/artifact"
	"github.com/fyrsmithlabs/traind/internal/config"
	"github.com/fyrsmithlabs/traind/internal/logging"
	"github.com/fyrsmithlabs/traind/internal/pipeline"
	"github.com/fyrsmithlabs/traind/internal/registry"
	"github.com/fyrsmithlabs/traind/internal/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  traind             Start the traind daemon\n")
			fmt.Fprintf(os.Stderr, "  traind version     Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("traind by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the traind server and blocks until context cancellation.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize the structured logger
//  3. Open the artifact store and the registry over it
//  4. Create the pipeline orchestrator
//  5. Start the HTTP server with the metrics endpoint
//  6. Perform graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting traind",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("artifacts_root", cfg.Artifacts.Root),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	store, err := artifact.NewStore(cfg.Artifacts.Root)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	reg := registry.New(store)

	orch, err := pipeline.New(cfg.Pipeline, store, reg, logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	srv, err := server.NewServer(orch, reg, logger, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info("Server configured",
		zap.String("listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
