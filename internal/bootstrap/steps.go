package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"serviceloader/internal/host"
	"serviceloader/internal/launcher"
)

// configureLogger keeps the bootstrap logger only when the host runs at
// exactly info level; any other level silences it.
func (b *Bootstrapper) configureLogger() {
	if b.deps.MinLevel() == zerolog.InfoLevel {
		b.log = b.processLog()
	} else {
		b.log = zerolog.Nop()
	}
}

// checkNotRunning returns ErrAlreadyRunning and the running instance when
// the service identity is registered. A service starting between this check
// and the launch is not detected.
func (b *Bootstrapper) checkNotRunning(ctx context.Context) (host.ExternalApplication, error) {
	apps, err := b.deps.Registry.ExternalApplications(ctx)
	if err != nil {
		return host.ExternalApplication{}, fmt.Errorf("failed to list external applications: %w", err)
	}
	for _, app := range apps {
		if app.UUID == b.cfg.Service.Identity {
			return app, ErrAlreadyRunning
		}
	}
	return host.ExternalApplication{}, nil
}

// deployAssets copies the shared assets to the install location. The exit
// code is only logged.
func (b *Bootstrapper) deployAssets(ctx context.Context) error {
	manifest, err := b.deps.Manifest.Manifest(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := b.stepContext(ctx, StateDeploying, b.cfg.Timeouts.Deploy)
	defer cancel()

	res, err := b.deps.Launcher.Run(ctx, launcher.Spec{
		Path:  b.cfg.Installer.AssetPath,
		Args:  []string{"-d", b.cfg.InstallDir(), "-c", manifest.Runtime.Version},
		Alias: b.cfg.Service.AssetAlias,
		OnLaunched: func(pid int) {
			b.log.Info().Int("pid", pid).Msg("Deploying shared assets")
		},
	})
	if err != nil {
		return fmt.Errorf("asset deployment failed: %w", err)
	}

	b.log.Info().Int("exit_code", res.ExitCode).Msg("Asset deployment completed")
	return nil
}

// installAddIn registers the Excel add-in once. After a successful install
// the marker is set and later runs skip the installer.
func (b *Bootstrapper) installAddIn(ctx context.Context) error {
	installed, err := b.deps.Marker.Has(ctx)
	if err != nil {
		return fmt.Errorf("failed to read install marker: %w", err)
	}
	if installed {
		b.log.Info().Msg("Add-In previously installed")
		return nil
	}

	dir := b.cfg.InstallDir()
	stepCtx, cancel := b.stepContext(ctx, StateInstallingAddIn, b.cfg.Timeouts.Install)
	defer cancel()

	res, err := b.deps.Launcher.Run(stepCtx, launcher.Spec{
		Path: filepath.Join(dir, b.cfg.Service.ExecutableName),
		Args: []string{"-i", dir},
		OnLaunched: func(pid int) {
			b.log.Info().Int("pid", pid).Msg("Installing Add-In")
		},
	})
	if err != nil {
		return fmt.Errorf("add-in installation failed: %w", err)
	}
	if res.ExitCode != 0 {
		return &ExitError{Code: res.ExitCode}
	}

	if err := b.deps.Marker.Set(ctx); err != nil {
		return fmt.Errorf("failed to record add-in installation: %w", err)
	}
	b.log.Info().Str("addin", filepath.Join(dir, b.cfg.Service.AddInFile)).Msg("Add-In installed")
	return nil
}

// launchService subscribes to the readiness topic, starts the service and
// waits for its first broadcast. Broadcasts sent before the subscription is
// live are never seen.
func (b *Bootstrapper) launchService(ctx context.Context) (Connection, error) {
	port, err := b.deps.Port()
	if err != nil {
		return Connection{}, fmt.Errorf("failed to pick runtime port: %w", err)
	}

	identity := b.cfg.Service.Identity
	timeout := b.cfg.Timeouts.Ready
	var pid int

	msg, err := b.deps.Bus.AwaitFirst(ctx, host.AnySender, b.cfg.Service.ReadinessTopic, timeout,
		func(ctx context.Context) error {
			res, err := b.deps.Launcher.Start(ctx, launcher.Spec{
				Path:     filepath.Join(b.cfg.InstallDir(), b.cfg.Service.ExecutableName),
				Args:     []string{"-p", strconv.Itoa(port)},
				Identity: identity,
			})
			if err != nil {
				return fmt.Errorf("%w: %w", ErrServiceLaunch, err)
			}
			pid = res.PID
			b.log.Info().Str("uuid", identity).Int("pid", pid).Int("port", port).Msg("Service launched")
			return nil
		})
	if errors.Is(err, host.ErrAwaitTimeout) {
		return Connection{}, fmt.Errorf("%w after %s", ErrReadyTimeout, timeout)
	}
	if err != nil {
		return Connection{}, err
	}

	b.log.Info().Str("sender", msg.Sender).Msg("Excel service alive")
	return Connection{
		Identity: identity,
		Port:     port,
		PID:      pid,
		Sender:   msg.Sender,
		ReadyAt:  b.clock.Now(),
	}, nil
}

// stepContext bounds a step by d on the injected clock. Zero means unbounded.
// When the bound expires the context is cancelled with a *StepTimeoutError.
func (b *Bootstrapper) stepContext(ctx context.Context, step State, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	if d <= 0 {
		return ctx, func() { cancel(nil) }
	}
	timer := b.clock.AfterFunc(d, func() {
		cancel(&StepTimeoutError{Step: step, After: d})
	})
	return ctx, func() {
		timer.Stop()
		cancel(nil)
	}
}
