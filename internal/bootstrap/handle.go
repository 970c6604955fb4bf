package bootstrap

import "github.com/rs/zerolog"

// Handle is the connect surface offered to clients of the service.
type Handle struct {
	identity string
	signal   *Signal
	log      func() zerolog.Logger
}

// Connect returns the bootstrap's shared signal. An identity other than the
// service's is reported as an error but still gets the same signal.
func (h *Handle) Connect(identity string) *Signal {
	if identity != h.identity {
		log := h.log()
		log.Error().Str("uuid", identity).Str("expected", h.identity).Msg("Unknown service identity")
	}
	return h.signal
}
