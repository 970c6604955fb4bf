// Package network holds the dialing and port helpers shared by the host clients.
package network

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"

	"serviceloader/internal/config"
)

// NewSOCKS5Dialer creates a SOCKS5 proxy dialer.
func NewSOCKS5Dialer(cfg config.SOCKSConfig) (proxy.Dialer, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer for %s: %w", addr, err)
	}
	return dialer, nil
}

// ContextDialer returns a dial function routed through the configured proxy,
// or nil when no proxy is configured.
func ContextDialer(cfg config.SOCKSConfig) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if !cfg.Enabled() {
		return nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer, err := NewSOCKS5Dialer(cfg)
		if err != nil {
			return nil, err
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}
}
