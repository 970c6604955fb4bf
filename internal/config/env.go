package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the settings that can be replaced per machine
// without editing ServiceLoader.json. Unset variables leave the file
// value in place.
type envOverrides struct {
	ManifestPath   string `env:"SERVICELOADER_MANIFEST_PATH"`
	InstallDir     string `env:"SERVICELOADER_INSTALL_DIR"`
	AssetPath      string `env:"SERVICELOADER_ASSET_PATH"`
	Port           int    `env:"SERVICELOADER_PORT"`
	RedisAddress   string `env:"SERVICELOADER_REDIS_ADDRESS"`
	RedisPassword  string `env:"SERVICELOADER_REDIS_PASSWORD"`
	MarkerStore    string `env:"SERVICELOADER_MARKER_STORE"`
	EventsSinkType string `env:"SERVICELOADER_EVENTS_SINK"`
}

// ApplyEnv overlays SERVICELOADER_* environment variables on cfg and
// validates the result.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.ManifestPath != "" {
		cfg.ManifestPath = o.ManifestPath
	}
	if o.InstallDir != "" {
		cfg.Service.InstallDir = o.InstallDir
	}
	if o.AssetPath != "" {
		cfg.Installer.AssetPath = o.AssetPath
	}
	if o.Port != 0 {
		cfg.Runtime.Port = o.Port
	}
	if o.RedisAddress != "" {
		cfg.Runtime.Redis.Address = o.RedisAddress
	}
	if o.RedisPassword != "" {
		cfg.Runtime.Redis.Password = o.RedisPassword
	}
	if o.MarkerStore != "" {
		cfg.Marker.Store = o.MarkerStore
	}
	if o.EventsSinkType != "" {
		cfg.Events.SinkType = o.EventsSinkType
	}

	return cfg.Validate()
}
