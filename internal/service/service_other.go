//go:build !windows

package service

import (
	"context"
	"os"
)

type unixRunner struct {
	fn RunFunc
}

// New creates the Runner for this platform. Under systemd and similar
// managers the process is stopped with SIGTERM, so both modes run the same way.
func New(fn RunFunc) Runner {
	return &unixRunner{fn: fn}
}

func (r *unixRunner) Run(ctx context.Context) error {
	return runInteractive(ctx, r.fn)
}

// Managed reports true when stdin is not a terminal.
func (r *unixRunner) Managed() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice == 0
}

// ReportStartupError is a no-op; there is no system event log to write to.
func ReportStartupError(name string, err error) {}
