// Package host implements the host runtime capabilities the bootstrapper
// relies on: the inter-process broadcast bus, the external-application
// registry and the application manifest. Bus and registry share one Redis.
package host

import (
	"github.com/redis/go-redis/v9"

	"serviceloader/internal/config"
	"serviceloader/internal/network"
)

// NewClient creates the Redis client backing the bus, registry and marker store.
func NewClient(cfg config.RedisConfig, socks config.SOCKSConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if dial := network.ContextDialer(socks); dial != nil {
		opts.Dialer = dial
	}
	return redis.NewClient(opts)
}
