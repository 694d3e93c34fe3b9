// Package main is the entry point for the opossum backend router.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bilalobe/opossum-router/internal/backend"
	"github.com/bilalobe/opossum-router/internal/config"
	"github.com/bilalobe/opossum-router/internal/engine"
	"github.com/bilalobe/opossum-router/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)
	tracer := initTracer(cfg, logger)

	eng, err := engine.New(cfg,
		engine.WithLogger(logger),
		engine.WithHandlers(cannedHandlers(cfg)),
	)
	if err != nil {
		logger.Error("failed to build engine", observability.Error(err))
		os.Exit(1)
	}

	run(eng, cfg, tracer, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("OPOSSUM_CONFIG_PATH", "configs/router.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("OPOSSUM_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("OPOSSUM_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("opossum-router version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadConfig loads and validates the configuration.
func loadConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting opossum-router",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load configuration", observability.Error(err))
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		observability.Int("backends", len(cfg.Backends)),
		observability.Strings("emergencyChain", cfg.Selector.EmergencyChain),
		observability.String("safetyValve", cfg.Selector.SafetyValve),
		observability.Bool("cache", cfg.Cache.Enabled),
	)

	return cfg
}

// initTracer initializes OpenTelemetry tracing.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracer, err := observability.NewTracer(context.Background(), observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
		Insecure:     cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracer", observability.Error(err))
		os.Exit(1)
	}
	return tracer
}

// cannedHandlers builds a degraded-answer handler for every embedded-local
// backend. Deployments that embed the engine as a library supply their own.
func cannedHandlers(cfg *config.Config) map[string]backend.Handler {
	handlers := make(map[string]backend.Handler)
	for _, bc := range cfg.Backends {
		if bc.Kind != config.KindEmbeddedLocal {
			continue
		}
		id := bc.ID
		handlers[id] = func(_ context.Context, req backend.Request) (*backend.Response, error) {
			payload, err := json.Marshal(map[string]string{
				"backend": id,
				"task":    req.Task,
				"notice":  "served by the embedded fallback; quality is reduced",
			})
			if err != nil {
				return nil, err
			}
			return &backend.Response{Payload: payload}, nil
		}
	}
	return handlers
}

// run starts the engine and serves the operational endpoints until a shutdown
// signal arrives.
func run(eng *engine.Engine, cfg *config.Config, tracer *observability.Tracer, logger observability.Logger) {
	ctx := context.Background()
	eng.Start(ctx)

	if cfg.Metrics.Enabled {
		go startMetricsServer(eng, cfg.Metrics, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng.Stop()
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("router stopped")
}

// startMetricsServer serves Prometheus metrics and health endpoints.
func startMetricsServer(eng *engine.Engine, cfg config.MetricsConfig, logger observability.Logger) {
	port := cfg.Port
	if port == 0 {
		port = 9090
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       "ok",
			"availability": eng.Availability(),
			"circuits":     eng.CircuitStats(),
		})
	})

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server",
		observability.String("address", addr),
		observability.String("metrics_path", cfg.Path),
	)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
