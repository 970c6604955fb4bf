// Package bootstrap deploys, installs and launches the Excel service once,
// and hands out the shared signal that completes when it is ready.
//
// The sequence is
//
//	Init -> ConfiguringLogger -> CheckingRunning
//	     -> Deploying -> InstallingAddIn -> Launching -> Ready
//	     |  Skipped           (service already registered)
//	     |  SkippedWithError  (any step after the running check failed)
//
// Only Ready completes the signal, unless ResolveWhenRunning is set, in
// which case Skipped completes it with the running instance.
package bootstrap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"serviceloader/internal/config"
	"serviceloader/internal/events"
	"serviceloader/internal/host"
	"serviceloader/internal/launcher"
	"serviceloader/internal/logger"
	"serviceloader/internal/marker"
	"serviceloader/internal/network"
)

// ProcessLauncher starts the installer and the service.
type ProcessLauncher interface {
	Run(ctx context.Context, spec launcher.Spec) (launcher.Result, error)
	Start(ctx context.Context, spec launcher.Spec) (launcher.Result, error)
}

// AppRegistry lists the external applications the host knows about.
type AppRegistry interface {
	ExternalApplications(ctx context.Context) ([]host.ExternalApplication, error)
}

// ReadinessBus waits for the first broadcast on a topic.
type ReadinessBus interface {
	AwaitFirst(ctx context.Context, senderFilter, topic string, timeout time.Duration,
		onSubscribed func(context.Context) error) (host.Message, error)
}

// ManifestProvider supplies the application manifest.
type ManifestProvider interface {
	Manifest(ctx context.Context) (*host.Manifest, error)
}

// Deps are the host capabilities a Bootstrapper drives.
type Deps struct {
	Launcher ProcessLauncher
	Registry AppRegistry
	Bus      ReadinessBus
	Manifest ManifestProvider
	Marker   marker.Store

	// Optional.
	Events   events.Sink
	Port     func() (int, error)
	MinLevel func() zerolog.Level
	Clock    clock.Clock
	// Log receives branch errors regardless of the configured level.
	Log *zerolog.Logger
}

// Bootstrapper runs the bootstrap sequence at most once.
type Bootstrapper struct {
	cfg       *config.Config
	deps      Deps
	clock     clock.Clock
	sessionID string

	signal *Signal
	handle *Handle
	state  atomic.Int32

	// log is chosen by configureLogger; until then it discards.
	log zerolog.Logger

	once    sync.Once
	outcome Outcome
}

// New creates a Bootstrapper. Nothing runs until Run is called.
func New(cfg *config.Config, deps Deps) *Bootstrapper {
	if deps.Events == nil {
		deps.Events = events.NopSink{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.MinLevel == nil {
		deps.MinLevel = logger.MinLevel
	}
	if deps.Port == nil {
		configured, busAddress := cfg.Runtime.Port, cfg.Runtime.Redis.Address
		deps.Port = func() (int, error) { return network.RuntimePort(configured, busAddress) }
	}

	b := &Bootstrapper{
		cfg:       cfg,
		deps:      deps,
		clock:     deps.Clock,
		sessionID: uuid.NewString(),
		signal:    newSignal(),
		log:       zerolog.Nop(),
	}
	b.handle = &Handle{identity: cfg.Service.Identity, signal: b.signal, log: b.processLog}
	return b
}

// Handle returns the connect surface backed by this bootstrap's signal.
func (b *Bootstrapper) Handle() *Handle {
	return b.handle
}

// Signal returns the shared completion signal.
func (b *Bootstrapper) Signal() *Signal {
	return b.signal
}

// State returns the current stage.
func (b *Bootstrapper) State() State {
	return State(b.state.Load())
}

// SessionID identifies this bootstrap in lifecycle events.
func (b *Bootstrapper) SessionID() string {
	return b.sessionID
}

// processLog is the logger for errors that are always reported.
func (b *Bootstrapper) processLog() zerolog.Logger {
	if b.deps.Log != nil {
		return *b.deps.Log
	}
	return logger.WithComponent("bootstrap")
}

// Run executes the sequence. Later calls return the first outcome without
// running anything.
func (b *Bootstrapper) Run(ctx context.Context) Outcome {
	b.once.Do(func() {
		b.outcome = b.run(ctx)
	})
	return b.outcome
}

func (b *Bootstrapper) run(ctx context.Context) Outcome {
	b.enter(ctx, StateConfiguringLogger)
	b.configureLogger()

	b.enter(ctx, StateCheckingRunning)
	running, err := b.checkNotRunning(ctx)
	if errors.Is(err, ErrAlreadyRunning) {
		b.log.Info().Msg("Service already running: skipping deployment and registration")
		b.enter(ctx, StateSkipped)
		if b.cfg.ResolveWhenRunning {
			conn := Connection{
				Identity: running.UUID,
				PID:      int(running.PID),
				ReadyAt:  b.clock.Now(),
			}
			port, portErr := b.deps.Port()
			if portErr != nil {
				b.log.Warn().Err(portErr).Msg("Runtime port unavailable for running service")
			}
			conn.Port = port
			b.signal.resolve(conn)
		}
		return Outcome{State: StateSkipped, Err: err}
	}
	if err != nil {
		return b.fail(ctx, StateCheckingRunning, err)
	}

	b.enter(ctx, StateDeploying)
	if err := b.deployAssets(ctx); err != nil {
		return b.fail(ctx, StateDeploying, err)
	}

	b.enter(ctx, StateInstallingAddIn)
	if err := b.installAddIn(ctx); err != nil {
		return b.fail(ctx, StateInstallingAddIn, err)
	}

	b.enter(ctx, StateLaunching)
	conn, err := b.launchService(ctx)
	if err != nil {
		return b.fail(ctx, StateLaunching, err)
	}

	b.enter(ctx, StateReady)
	b.signal.resolve(conn)
	return Outcome{State: StateReady}
}

// fail records a branch failure. The error is always logged and never
// reaches connect callers.
func (b *Bootstrapper) fail(ctx context.Context, step State, err error) Outcome {
	log := b.processLog()
	log.Error().Err(err).Str("step", step.String()).Msg("Service bootstrap failed")

	b.state.Store(int32(StateSkippedWithError))
	ev := b.event(StateSkippedWithError)
	ev.Error = err.Error()
	ev.Fields = map[string]any{"step": step.String()}
	b.emit(ctx, ev)

	return Outcome{State: StateSkippedWithError, Step: step, Err: err}
}

func (b *Bootstrapper) enter(ctx context.Context, s State) {
	b.state.Store(int32(s))
	b.emit(ctx, b.event(s))
}

func (b *Bootstrapper) event(s State) *events.Event {
	return events.NewEvent(b.sessionID, b.cfg.Service.Identity, s.String(), b.clock.Now())
}

func (b *Bootstrapper) emit(ctx context.Context, ev *events.Event) {
	if err := b.deps.Events.Send(ctx, ev); err != nil {
		b.log.Warn().Err(err).Str("state", ev.State).Msg("Failed to send lifecycle event")
	}
}
