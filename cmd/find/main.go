package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"finerp/config"
	"finerp/observability/logging"
	"finerp/observability/otel"
)

const (
	envName        = "FIN_ENV"
	shutdownPeriod = 10 * time.Second
)

func main() {
	configFile := flag.String("config", "./find.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to the genesis YAML (overrides node.genesis_file)")
	flag.Parse()

	if err := run(*configFile, *genesisFlag); err != nil {
		slog.Error("find exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath, genesisOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if genesisOverride != "" {
		cfg.Node.GenesisFile = genesisOverride
	}

	env := strings.TrimSpace(os.Getenv(envName))
	logger := logging.Configure(logging.Options{
		Service:    "find",
		Env:        env,
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := otel.Init(ctx, otel.Config{
		ServiceName: "find",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	n, err := newNode(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.rpc.ListenAndServe()
	}()
	logger.Info("node running",
		slog.Uint64("chain_id", cfg.Node.ChainID),
		slog.Uint64("height", n.chain.Head().Header.Height),
		slog.String("rpc", cfg.RPC.ListenAddress))

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
		return errors.New("rpc server stopped")
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
	defer cancel()
	return n.rpc.Shutdown(shutdownCtx)
}
