package network

import (
	"fmt"
	"net"
	"strconv"
)

// RuntimePort returns the port the launched service should connect back on.
// A configured port wins; 0 uses the port of the host bus at busAddress.
func RuntimePort(configured int, busAddress string) (int, error) {
	if configured > 0 {
		return configured, nil
	}
	_, portStr, err := net.SplitHostPort(busAddress)
	if err != nil {
		return 0, fmt.Errorf("failed to read runtime port from bus address %q: %w", busAddress, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid runtime port %q in bus address %q", portStr, busAddress)
	}
	return port, nil
}
