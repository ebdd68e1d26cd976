// Command rlscheck loads and validates a route lookup client configuration
// file, optionally watching it for changes.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/wudi/routelookup/config"
	"github.com/wudi/routelookup/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "rls.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	watch := flag.Bool("watch", false, "Keep running and report configuration changes")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rlscheck %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration is invalid: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewWithOptions(logging.Options{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.Rotation.MaxSizeMB,
		MaxBackups: cfg.Logging.Rotation.MaxBackups,
		MaxAgeDays: cfg.Logging.Rotation.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	defer logging.Sync()

	fmt.Printf("Configuration is valid: %d HTTP key builders, %d gRPC key builders, lookup service %s\n",
		len(cfg.HTTPKeyBuilders), len(cfg.GrpcKeyBuilders), cfg.LookupService)

	if !*watch {
		return
	}

	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start watcher: %v\n", err)
		os.Exit(1)
	}
	watcher.OnChange(func(next *config.RouteLookupConfig) {
		logging.Info("configuration changed",
			zap.Int("http_key_builders", len(next.HTTPKeyBuilders)),
			zap.Int("grpc_key_builders", len(next.GrpcKeyBuilders)),
			zap.String("lookup_service", next.LookupService),
			zap.String("strategy", string(next.Strategy)))
	})
	if err := watcher.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start watcher: %v\n", err)
		os.Exit(1)
	}
	defer watcher.Stop()

	logging.Info("watching configuration", zap.String("path", *configPath))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
