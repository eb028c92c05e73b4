// Package main implements the entry point for the Errai bus server.
// Errai is a subject-routed message bus with session-scoped, role-based
// authorization, a WebSocket client gateway, and NATS federation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/agilemobiledev/errai/auth"
	"github.com/agilemobiledev/errai/bus"
	"github.com/agilemobiledev/errai/config"
	"github.com/agilemobiledev/errai/gateway"
	"github.com/agilemobiledev/errai/metric"
	"github.com/agilemobiledev/errai/relay"
	"github.com/agilemobiledev/errai/service"
	"github.com/agilemobiledev/errai/session"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "errai"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// Run application with proper error handling
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	if cliCfg.InitConfig != "" {
		if err := config.Default().SaveToFile(cliCfg.InitConfig); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		slog.Info("Default configuration written", "path", cliCfg.InitConfig)
		return nil
	}

	// Load and validate configuration
	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	// Assemble the bus server from configuration
	a, err := buildApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("assemble server: %w", err)
	}

	// Run application with signal handling
	return runWithSignalHandling(context.Background(), a, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting Errai (subject-routed message bus)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads and validates configuration
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// app holds the assembled server components in start order.
type app struct {
	bus      *bus.Bus
	sessions *session.Store
	svc      *service.Service
	gateway  *gateway.Gateway
	relay    *relay.Relay
	metrics  *metric.Server
}

// buildApp wires the bus, session store, authorization adapter, service,
// and the optional gateway, relay, and metrics endpoints.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()

	b := bus.New(
		bus.WithQueueSize(cfg.Bus.QueueSize),
		bus.WithLogger(logger),
		bus.WithMetrics(core),
	)

	sessions := session.NewStore(
		session.WithTTL(cfg.Session.TTL),
		session.WithSweepInterval(cfg.Session.SweepInterval),
		session.WithLogger(logger),
		session.WithMetrics(core),
	)

	validator, err := auth.NewFileValidator(cfg.Security.UsersFile)
	if err != nil {
		return nil, fmt.Errorf("load users file: %w", err)
	}

	adapterOpts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithMetrics(core),
	}
	if cfg.Security.MOTD != "" {
		adapterOpts = append(adapterOpts, auth.WithMOTD(cfg.Security.MOTD))
	}
	if cfg.Security.ReplySubject != "" {
		adapterOpts = append(adapterOpts, auth.WithReplySubject(cfg.Security.ReplySubject))
	}
	adapter, err := auth.NewAdapter(b, sessions, validator, adapterOpts...)
	if err != nil {
		return nil, fmt.Errorf("create authorization adapter: %w", err)
	}
	for _, rule := range cfg.Security.Rules {
		adapter.AddSecurityRule(rule.Subject, rule.Roles...)
		slog.Info("Security rule installed", "subject", rule.Subject, "roles", rule.Roles)
	}

	svc, err := service.New(cfg.Instance.Name, b, adapter, sessions,
		service.WithLogger(logger),
		service.WithMetricsRegistry(registry),
		service.WithDispatchPool(cfg.Bus.DispatchShards, cfg.Bus.DispatchQueueSize))
	if err != nil {
		return nil, fmt.Errorf("create bus service: %w", err)
	}

	a := &app{bus: b, sessions: sessions, svc: svc}

	if cfg.Gateway.Enabled {
		gw, err := gateway.New(cfg.Gateway.Config, svc,
			gateway.WithLogger(logger),
			gateway.WithMetricsRegistry(registry))
		if err != nil {
			return nil, fmt.Errorf("create gateway: %w", err)
		}
		a.gateway = gw
	}

	if cfg.Relay.Enabled {
		rl, err := relay.New(cfg.Relay.Config, svc,
			relay.WithLogger(logger),
			relay.WithMetrics(core))
		if err != nil {
			return nil, fmt.Errorf("create relay: %w", err)
		}
		a.relay = rl
	}

	if cfg.Metrics.Enabled {
		a.metrics = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry, logger)
	}

	return a, nil
}

// start brings components up in dependency order: service first so the
// gateway and relay always hand frames to a running dispatcher.
func (a *app) start(ctx context.Context) error {
	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("start bus service: %w", err)
	}

	if a.gateway != nil {
		if err := a.gateway.Start(ctx); err != nil {
			_ = a.svc.Stop(time.Second)
			return fmt.Errorf("start gateway: %w", err)
		}
	}

	if a.relay != nil {
		if err := a.relay.Start(ctx); err != nil {
			a.stop(time.Second)
			return fmt.Errorf("start relay: %w", err)
		}
	}

	if a.metrics != nil {
		if err := a.metrics.Start(); err != nil {
			a.stop(time.Second)
			return fmt.Errorf("start metrics server: %w", err)
		}
		slog.Info("Metrics available", "url", a.metrics.Address())
	}

	return nil
}

// stop shuts components down in reverse start order. Errors are logged
// rather than returned so every component gets a shutdown attempt.
func (a *app) stop(timeout time.Duration) {
	if a.metrics != nil {
		if err := a.metrics.Stop(timeout); err != nil {
			slog.Error("Error stopping metrics server", "error", err)
		}
	}

	if a.relay != nil {
		if err := a.relay.Stop(timeout); err != nil {
			slog.Error("Error stopping relay", "error", err)
		}
	}

	if a.gateway != nil {
		if err := a.gateway.Stop(timeout); err != nil {
			slog.Error("Error stopping gateway", "error", err)
		}
	}

	if err := a.svc.Stop(timeout); err != nil {
		slog.Error("Error stopping bus service", "error", err)
	}

	a.bus.Close()
}

// runWithSignalHandling starts the server and handles shutdown signals
func runWithSignalHandling(ctx context.Context, a *app, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := a.start(signalCtx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	slog.Info("Errai started successfully (message bus ready)")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	a.stop(shutdownTimeout)

	slog.Info("Errai shutdown complete")
	return nil
}
