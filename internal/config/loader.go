package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"serviceloader/internal/logger"
)

// rawConfig mirrors Config with durations as strings ("90s", "2m").
type rawConfig struct {
	Service            ServiceConfig    `json:"Service"`
	Installer          InstallerConfig  `json:"Installer"`
	ManifestPath       string           `json:"ManifestPath"`
	Runtime            RuntimeConfig    `json:"Runtime"`
	Marker             MarkerConfig     `json:"Marker"`
	Timeouts           rawTimeoutConfig `json:"Timeouts"`
	ResolveWhenRunning bool             `json:"ResolveWhenRunning"`
	Events             rawEventsConfig  `json:"Events"`
	SOCKSProxy         SOCKSConfig      `json:"SocksProxy"`
}

type rawTimeoutConfig struct {
	Deploy  string `json:"Deploy"`
	Install string `json:"Install"`
	Ready   string `json:"Ready"`
}

type rawEventsConfig struct {
	SinkType string         `json:"SinkType"`
	File     FileConfig     `json:"File"`
	Kafka    rawKafkaConfig `json:"Kafka"`
	SNS      SNSConfig      `json:"SNS"`
}

type rawKafkaConfig struct {
	Brokers        []string `json:"Brokers"`
	Topic          string   `json:"Topic"`
	Compression    string   `json:"Compression"`
	RequiredAcks   int      `json:"RequiredAcks"`
	MaxRetries     int      `json:"MaxRetries"`
	RetryBackoff   string   `json:"RetryBackoff"`
	FlushFrequency string   `json:"FlushFrequency"`
	Timeout        string   `json:"Timeout"`
	EnableTLS      bool     `json:"EnableTLS"`
	TLSCertFile    string   `json:"TLSCertFile"`
	TLSKeyFile     string   `json:"TLSKeyFile"`
	TLSCAFile      string   `json:"TLSCAFile"`
	SASLEnabled    bool     `json:"SASLEnabled"`
	SASLMechanism  string   `json:"SASLMechanism"`
	SASLUser       string   `json:"SASLUser"`
	SASLPassword   string   `json:"SASLPassword"`
}

// Load reads configuration from the specified file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from JSON bytes, applies it over the
// defaults and validates the result. Comments and trailing commas are
// accepted.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	parsed, err := convertRawConfig(&raw)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Merge(parsed)
	disableZeroTimeouts(cfg, &raw.Timeouts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// disableZeroTimeouts applies timeouts written explicitly as zero, which
// Merge would otherwise treat as unset.
func disableZeroTimeouts(cfg *Config, raw *rawTimeoutConfig) {
	if raw.Deploy != "" && isZeroDuration(raw.Deploy) {
		cfg.Timeouts.Deploy = 0
	}
	if raw.Install != "" && isZeroDuration(raw.Install) {
		cfg.Timeouts.Install = 0
	}
	if raw.Ready != "" && isZeroDuration(raw.Ready) {
		cfg.Timeouts.Ready = 0
	}
}

func isZeroDuration(s string) bool {
	d, err := time.ParseDuration(s)
	return err == nil && d == 0
}

func convertRawConfig(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		Service:            raw.Service,
		Installer:          raw.Installer,
		ManifestPath:       raw.ManifestPath,
		Runtime:            raw.Runtime,
		Marker:             raw.Marker,
		ResolveWhenRunning: raw.ResolveWhenRunning,
		SOCKSProxy:         raw.SOCKSProxy,
		Events: EventsConfig{
			SinkType: raw.Events.SinkType,
			File:     raw.Events.File,
			SNS:      raw.Events.SNS,
		},
	}

	var err error
	if cfg.Timeouts.Deploy, err = parseDuration("Timeouts.Deploy", raw.Timeouts.Deploy); err != nil {
		return nil, err
	}
	if cfg.Timeouts.Install, err = parseDuration("Timeouts.Install", raw.Timeouts.Install); err != nil {
		return nil, err
	}
	if cfg.Timeouts.Ready, err = parseDuration("Timeouts.Ready", raw.Timeouts.Ready); err != nil {
		return nil, err
	}

	kafka, err := convertRawKafka(&raw.Events.Kafka)
	if err != nil {
		return nil, err
	}
	cfg.Events.Kafka = *kafka

	return cfg, nil
}

func convertRawKafka(raw *rawKafkaConfig) (*KafkaConfig, error) {
	kafka := &KafkaConfig{
		Brokers:       raw.Brokers,
		Topic:         raw.Topic,
		Compression:   raw.Compression,
		RequiredAcks:  raw.RequiredAcks,
		MaxRetries:    raw.MaxRetries,
		EnableTLS:     raw.EnableTLS,
		TLSCertFile:   raw.TLSCertFile,
		TLSKeyFile:    raw.TLSKeyFile,
		TLSCAFile:     raw.TLSCAFile,
		SASLEnabled:   raw.SASLEnabled,
		SASLMechanism: raw.SASLMechanism,
		SASLUser:      raw.SASLUser,
		SASLPassword:  raw.SASLPassword,
	}

	var err error
	if kafka.RetryBackoff, err = parseDuration("Kafka.RetryBackoff", raw.RetryBackoff); err != nil {
		return nil, err
	}
	if kafka.FlushFrequency, err = parseDuration("Kafka.FlushFrequency", raw.FlushFrequency); err != nil {
		return nil, err
	}
	if kafka.Timeout, err = parseDuration("Kafka.Timeout", raw.Timeout); err != nil {
		return nil, err
	}
	return kafka, nil
}

// parseDuration returns 0 for an empty string so Merge keeps the default.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s duration: %s is negative", field, s)
	}
	return d, nil
}

// LoadLogging reads logging configuration from the specified file path.
func LoadLogging(path string) (*logger.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logging config file: %w", err)
	}
	return ParseLogging(data)
}

// ParseLogging parses logging configuration from JSON bytes.
func ParseLogging(data []byte) (*logger.Config, error) {
	var parsed logger.Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse logging config JSON: %w", err)
	}

	def := logger.DefaultConfig()
	if parsed.Level != "" {
		def.Level = parsed.Level
	}
	if parsed.FilePath != "" {
		def.FilePath = parsed.FilePath
	}
	if parsed.MaxSizeMB != 0 {
		def.MaxSizeMB = parsed.MaxSizeMB
	}
	if parsed.MaxBackups != 0 {
		def.MaxBackups = parsed.MaxBackups
	}
	if parsed.MaxAgeDays != 0 {
		def.MaxAgeDays = parsed.MaxAgeDays
	}
	def.Compress = parsed.Compress
	def.Console = parsed.Console

	return &def, nil
}

// LoadSplit loads ServiceLoader.json and Logging.json, then applies
// SERVICELOADER_* environment overrides.
func LoadSplit(configPath, loggingPath string) (*Config, *logger.Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	lc, err := LoadLogging(loggingPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load logging config: %w", err)
	}

	return cfg, lc, nil
}
