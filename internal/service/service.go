// Package service runs the loader either interactively or under the
// platform service manager, and reports errors that happen before logging
// is available.
package service

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"serviceloader/internal/logger"
)

// Name is the service and event source name.
const Name = "ServiceLoader"

// ErrForcedExit is returned when a second shutdown signal arrives before
// the run function has returned.
var ErrForcedExit = errors.New("forced exit on second signal")

// RunFunc is the loader's main loop. It must return once ctx is done.
type RunFunc func(ctx context.Context) error

// Runner hosts a RunFunc until it returns or is asked to stop.
type Runner interface {
	Run(ctx context.Context) error
	// Managed reports whether a service manager started the process.
	Managed() bool
}

// runUntilSignal runs fn and cancels it on the first signal from sigs.
func runUntilSignal(ctx context.Context, fn RunFunc, sigs <-chan os.Signal) error {
	log := logger.WithComponent("service")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case sig := <-sigs:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}

	select {
	case err := <-done:
		return err
	case sig := <-sigs:
		log.Warn().Str("signal", sig.String()).Msg("Second signal, exiting without waiting")
		return ErrForcedExit
	}
}

// runInteractive runs fn until SIGINT or SIGTERM.
func runInteractive(ctx context.Context, fn RunFunc) error {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	return runUntilSignal(ctx, fn, sigs)
}
