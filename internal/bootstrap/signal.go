package bootstrap

import (
	"context"
	"sync"
	"time"
)

// Connection describes the ready service.
type Connection struct {
	Identity string
	// Port is the runtime port the service was launched with. For an
	// instance found already running it is the current runtime port, and
	// 0 when that port could not be determined.
	Port int
	PID  int
	// Sender is the identity the readiness broadcast came from. It is
	// empty for an instance found already running, since no broadcast
	// was awaited.
	Sender  string
	ReadyAt time.Time
}

// Signal completes once when the service is ready. Every caller shares the
// same Signal and observes the same Connection. A bootstrap that skips or
// fails never completes it.
type Signal struct {
	done chan struct{}
	once sync.Once
	conn Connection
}

func newSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// resolve completes the signal. Later calls have no effect.
func (s *Signal) resolve(conn Connection) bool {
	resolved := false
	s.once.Do(func() {
		s.conn = conn
		close(s.done)
		resolved = true
	})
	return resolved
}

// Done is closed when the signal completes.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Resolved reports whether the signal has completed.
func (s *Signal) Resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal completes or ctx is done.
func (s *Signal) Wait(ctx context.Context) (Connection, error) {
	select {
	case <-s.done:
		return s.conn, nil
	case <-ctx.Done():
		return Connection{}, ctx.Err()
	}
}
