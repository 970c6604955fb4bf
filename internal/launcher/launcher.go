// Package launcher starts the executables the loader drives: short-lived
// installer runs whose exit code matters, and the long-lived service
// process that is registered with the host while it runs.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"serviceloader/internal/logger"
)

// waitDelay bounds how long Wait keeps copying output after the process
// has been killed.
const waitDelay = 5 * time.Second

// Spec describes one process to launch.
type Spec struct {
	Path  string
	Args  []string
	Dir   string
	Env   []string // appended to the current environment
	Alias string   // asset alias the executable belongs to, for logging

	// Identity is registered with the host for processes launched with Start.
	Identity string

	// OnLaunched runs after the process has started.
	OnLaunched func(pid int)
}

// Result describes a launched process.
type Result struct {
	PID      int
	ExitCode int
}

// Registrar records running processes under an identity.
type Registrar interface {
	Register(ctx context.Context, identity string, pid int) error
	Unregister(ctx context.Context, identity string, pid int) error
}

// LaunchError is returned when the executable could not be started at all.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Launcher launches processes and tracks the long-lived ones.
type Launcher struct {
	registrar Registrar

	mu      sync.Mutex
	running map[int]*exec.Cmd
	wg      sync.WaitGroup
}

// New creates a Launcher. registrar may be nil when nothing needs registering.
func New(registrar Registrar) *Launcher {
	return &Launcher{
		registrar: registrar,
		running:   make(map[int]*exec.Cmd),
	}
}

// prepare applies spec to cmd and routes its output to log.
func prepare(cmd *exec.Cmd, spec Spec, log zerolog.Logger) (stdout, stderr *lineWriter) {
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureProcess(cmd)

	stdout = newLineWriter(log, "stdout")
	stderr = newLineWriter(log, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return stdout, stderr
}

// Run launches spec and waits for it to exit. A non-zero exit code is
// reported in the Result, not as an error. When ctx ends first the process
// is killed and the context cause is returned.
func (l *Launcher) Run(ctx context.Context, spec Spec) (Result, error) {
	log := logger.WithComponent("launcher").With().
		Str("path", spec.Path).Str("alias", spec.Alias).Logger()

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.WaitDelay = waitDelay
	stdout, stderr := prepare(cmd, spec, log)
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, &LaunchError{Path: spec.Path, Err: err}
	}

	res := Result{PID: cmd.Process.Pid}
	log.Debug().Int("pid", res.PID).Strs("args", spec.Args).Msg("Process started")
	if spec.OnLaunched != nil {
		spec.OnLaunched(res.PID)
	}

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s did not finish: %w", spec.Path, context.Cause(ctx))
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("failed waiting for %s: %w", spec.Path, err)
	}

	log.Debug().Int("pid", res.PID).Int("exit_code", res.ExitCode).Msg("Process exited")
	return res, nil
}

// Start launches spec without waiting for it and registers spec.Identity
// for as long as the process runs. ctx bounds the registration only; the
// process outlives it.
func (l *Launcher) Start(ctx context.Context, spec Spec) (Result, error) {
	log := logger.WithComponent("launcher").With().
		Str("path", spec.Path).Str("uuid", spec.Identity).Logger()

	cmd := exec.Command(spec.Path, spec.Args...)
	stdout, stderr := prepare(cmd, spec, log)
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, &LaunchError{Path: spec.Path, Err: err}
	}
	pid := cmd.Process.Pid

	if l.registrar != nil && spec.Identity != "" {
		if err := l.registrar.Register(ctx, spec.Identity, pid); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return Result{PID: pid, ExitCode: -1}, fmt.Errorf("failed to register %s: %w", spec.Identity, err)
		}
	}

	l.mu.Lock()
	l.running[pid] = cmd
	l.mu.Unlock()

	log.Info().Int("pid", pid).Msg("Process started")
	if spec.OnLaunched != nil {
		spec.OnLaunched(pid)
	}

	l.wg.Add(1)
	go l.monitor(cmd, spec, stdout, stderr, log)

	return Result{PID: pid}, nil
}

// monitor waits for a started process and removes its registration.
func (l *Launcher) monitor(cmd *exec.Cmd, spec Spec, stdout, stderr *lineWriter, log zerolog.Logger) {
	defer l.wg.Done()
	pid := cmd.Process.Pid

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	l.mu.Lock()
	delete(l.running, pid)
	l.mu.Unlock()

	exitCode := cmd.ProcessState.ExitCode()
	if err != nil {
		log.Warn().Err(err).Int("pid", pid).Int("exit_code", exitCode).Msg("Process exited")
	} else {
		log.Info().Int("pid", pid).Msg("Process exited")
	}

	if l.registrar != nil && spec.Identity != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.registrar.Unregister(ctx, spec.Identity, pid); err != nil {
			log.Warn().Err(err).Int("pid", pid).Msg("Failed to unregister process")
		}
	}
}

// Running returns the pids of started processes that have not exited.
func (l *Launcher) Running() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	pids := make([]int, 0, len(l.running))
	for pid := range l.running {
		pids = append(pids, pid)
	}
	return pids
}

// Shutdown kills every started process and waits for their monitors.
func (l *Launcher) Shutdown() {
	l.mu.Lock()
	for _, cmd := range l.running {
		_ = cmd.Process.Kill()
	}
	l.mu.Unlock()
	l.wg.Wait()
}
