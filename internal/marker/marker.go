// Package marker persists one-time flags such as "the add-in has been
// installed". A marker, once set, is never cleared by the loader.
package marker

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"serviceloader/internal/config"
)

// Store reads and sets named markers within one scope.
type Store interface {
	Has(ctx context.Context) (bool, error)
	Set(ctx context.Context) error
	Close() error
}

// NewStore creates the store selected by cfg.Store. scope separates markers
// of different service identities. client is required for the redis store.
func NewStore(cfg config.MarkerConfig, scope string, client *redis.Client) (Store, error) {
	switch strings.ToLower(cfg.Store) {
	case "", "file":
		return NewFileStore(cfg.Dir, scope, cfg.Name)
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis marker store requires a Redis client")
		}
		return NewRedisStore(client, scope, cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown marker store: %s (supported: file, redis)", cfg.Store)
	}
}
