// Package main is the entry point for the ServiceLoader application.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/pflag"

	"serviceloader/internal/bootstrap"
	"serviceloader/internal/config"
	"serviceloader/internal/events"
	"serviceloader/internal/host"
	"serviceloader/internal/launcher"
	"serviceloader/internal/logger"
	"serviceloader/internal/marker"
	"serviceloader/internal/service"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const startupErrorLogDir = "log/ServiceLoader"

func main() {
	var (
		configPath     = pflag.String("config", "conf/ServiceLoader/ServiceLoader.json", "Path to main configuration file")
		loggingPath    = pflag.String("logging", "conf/ServiceLoader/Logging.json", "Path to logging configuration file")
		connectTimeout = pflag.Duration("connect-timeout", 0, "Give up waiting for the service after this long (0 waits until shutdown)")
		showVersion    = pflag.Bool("version", false, "Show version information")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Printf("ServiceLoader %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// An absolute config path means the service manager started us with an
	// unrelated working directory; the base is three levels above the file.
	if filepath.IsAbs(*configPath) {
		basePath := filepath.Dir(filepath.Dir(filepath.Dir(*configPath)))
		if err := os.Chdir(basePath); err != nil {
			exitStartup(fmt.Errorf("failed to chdir to %s: %w", basePath, err))
		}
	}

	runner := service.New(nil)
	if runner.Managed() {
		logger.SetServiceMode(true)
	}

	cfg, lc, err := config.LoadSplit(*configPath, *loggingPath)
	if err != nil {
		exitStartup(err)
	}
	if err := logger.Init(*lc); err != nil {
		exitStartup(fmt.Errorf("failed to initialize logger: %w", err))
	}
	defer logger.Close()

	log := logger.WithComponent("main")
	log.Info().
		Str("version", version).
		Str("config", *configPath).
		Str("logging", *loggingPath).
		Msg("Starting ServiceLoader")

	runner = service.New(func(ctx context.Context) error {
		return run(ctx, cfg, *loggingPath, *connectTimeout)
	})
	if err := runner.Run(context.Background()); err != nil {
		log.Error().Err(err).Msg("ServiceLoader exited with error")
		logger.Close()
		os.Exit(1)
	}

	log.Info().Msg("ServiceLoader stopped")
}

func exitStartup(err error) {
	service.ReportStartupError(service.Name, err)
	_ = service.WriteStartupErrorFile(startupErrorLogDir, err)
	fmt.Fprintf(os.Stderr, "ServiceLoader failed to start: %v\n", err)
	os.Exit(1)
}

// components holds everything run wires together so it can be torn down in order.
type components struct {
	bootstrapper *bootstrap.Bootstrapper
	procs        *launcher.Launcher
	closers      []func() error
}

func (c *components) close() {
	log := logger.WithComponent("main")
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Error during shutdown")
		}
	}
}

func setup(cfg *config.Config) (*components, error) {
	log := logger.WithComponent("main")
	c := &components{}

	client := host.NewClient(cfg.Runtime.Redis, cfg.SOCKSProxy)
	c.closers = append(c.closers, client.Close)
	log.Info().Str("redis", cfg.Runtime.Redis.Address).Msg("Host bus configured")

	registry := host.NewRegistry(client)
	if cfg.Service.DetectByProcessName {
		registry.DetectProcess(cfg.Service.ExecutableName, cfg.Service.Identity)
	}

	store, err := marker.NewStore(cfg.Marker, cfg.Service.Identity, client)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to create marker store: %w", err)
	}
	c.closers = append(c.closers, store.Close)

	sink, err := events.NewSink(cfg.Events, cfg.SOCKSProxy)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to create event sink: %w", err)
	}
	c.closers = append(c.closers, sink.Close)

	c.procs = launcher.New(registry)
	c.closers = append(c.closers, func() error {
		c.procs.Shutdown()
		return nil
	})

	clk := clock.New()
	c.bootstrapper = bootstrap.New(cfg, bootstrap.Deps{
		Launcher: c.procs,
		Registry: registry,
		Bus:      host.NewBus(client, clk),
		Manifest: host.NewManifestSource(cfg.ManifestPath),
		Marker:   store,
		Events:   sink,
		Clock:    clk,
	})
	return c, nil
}

func startLoggingWatcher(loggingPath string) func() {
	log := logger.WithComponent("main")

	w, err := config.NewLoggingWatcher(loggingPath, func(lc *logger.Config) {
		if err := logger.Init(*lc); err != nil {
			log.Error().Err(err).Msg("Failed to update logging configuration")
			return
		}
		log.Info().Str("level", lc.Level).Msg("Logging configuration updated")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create logging watcher, hot reload disabled")
		return func() {}
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start logging watcher")
		_ = w.Stop()
		return func() {}
	}
	return func() {
		if err := w.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping logging watcher")
		}
	}
}

func run(ctx context.Context, cfg *config.Config, loggingPath string, connectTimeout time.Duration) error {
	log := logger.WithComponent("main")

	c, err := setup(cfg)
	if err != nil {
		return err
	}
	defer c.close()

	stopWatcher := startLoggingWatcher(loggingPath)
	defer stopWatcher()

	done := make(chan bootstrap.Outcome, 1)
	go func() {
		done <- c.bootstrapper.Run(ctx)
	}()

	waitCtx := ctx
	if connectTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}
	go awaitConnection(waitCtx, c.bootstrapper.Handle(), cfg.Service.Identity)

	out := <-done
	log.Info().
		Str("state", out.State.String()).
		Str("session", c.bootstrapper.SessionID()).
		Msg("Bootstrap finished")

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")
	return nil
}

// awaitConnection logs when the service becomes reachable.
func awaitConnection(ctx context.Context, h *bootstrap.Handle, identity string) {
	log := logger.WithComponent("main")

	conn, err := h.Connect(identity).Wait(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Excel service did not become ready")
		return
	}
	log.Info().
		Str("uuid", conn.Identity).
		Int("pid", conn.PID).
		Int("port", conn.Port).
		Time("ready_at", conn.ReadyAt).
		Msg("Excel service ready")
}
