//go:build windows

package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"

	"serviceloader/internal/logger"
)

// stopTimeout bounds how long a service stop waits for the run function.
const stopTimeout = 30 * time.Second

type windowsRunner struct {
	fn  RunFunc
	ctx context.Context
}

// New creates the Runner for this platform.
func New(fn RunFunc) Runner {
	return &windowsRunner{fn: fn}
}

func (r *windowsRunner) Run(ctx context.Context) error {
	if !r.Managed() {
		return runInteractive(ctx, r.fn)
	}
	r.ctx = ctx
	return svc.Run(Name, r)
}

func (r *windowsRunner) Managed() bool {
	managed, err := svc.IsWindowsService()
	return err == nil && managed
}

// Execute implements svc.Handler.
func (r *windowsRunner) Execute(args []string, req <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	log := logger.WithComponent("windows-service")

	status <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.fn(ctx)
	}()

	status <- svc.Status{State: svc.Running, Accepts: svc.AcceptStop | svc.AcceptShutdown}
	log.Info().Msg("Service running")

	for {
		select {
		case c := <-req:
			switch c.Cmd {
			case svc.Interrogate:
				status <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				log.Info().Msg("Stop requested by service control manager")
				status <- svc.Status{State: svc.StopPending}
				cancel()
				select {
				case <-done:
				case <-time.After(stopTimeout):
					log.Warn().Dur("timeout", stopTimeout).Msg("Run function did not stop in time")
				}
				return false, 0
			default:
				log.Warn().Uint32("cmd", uint32(c.Cmd)).Msg("Unexpected service control request")
			}

		case err := <-done:
			if err != nil {
				log.Error().Err(err).Msg("Run function failed")
				return true, 1
			}
			return false, 0
		}
	}
}

// ReportStartupError writes err to the Windows Event Log under name so it
// shows up in Event Viewer when the logger never came up.
func ReportStartupError(name string, err error) {
	_ = eventlog.InstallAsEventCreate(name, eventlog.Error|eventlog.Warning|eventlog.Info)

	elog, openErr := eventlog.Open(name)
	if openErr != nil {
		return
	}
	defer elog.Close()

	elog.Error(1, fmt.Sprintf("%s failed to start: %v", name, err))
}
