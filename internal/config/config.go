// Package config provides configuration management for the ServiceLoader.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config is the root configuration structure (ServiceLoader.json).
type Config struct {
	Service            ServiceConfig   `json:"Service"`
	Installer          InstallerConfig `json:"Installer"`
	ManifestPath       string          `json:"ManifestPath"` // file path or http(s) URL of the app manifest
	Runtime            RuntimeConfig   `json:"Runtime"`
	Marker             MarkerConfig    `json:"Marker"`
	Timeouts           TimeoutConfig   `json:"Timeouts"`
	ResolveWhenRunning bool            `json:"ResolveWhenRunning"`
	Events             EventsConfig    `json:"Events"`
	SOCKSProxy         SOCKSConfig     `json:"SocksProxy"`
}

// ServiceConfig names the companion service and where it lives.
type ServiceConfig struct {
	Identity            string `json:"Identity"`
	ExecutableName      string `json:"ExecutableName"`
	AddInFile           string `json:"AddInFile"`
	AssetAlias          string `json:"AssetAlias"`
	InstallDir          string `json:"InstallDir"` // %VAR% and $VAR are expanded
	ReadinessTopic      string `json:"ReadinessTopic"`
	DetectByProcessName bool   `json:"DetectByProcessName"`
}

// InstallerConfig locates the bundled copy of the service executable
// that performs the shared asset deployment.
type InstallerConfig struct {
	AssetPath string `json:"AssetPath"`
}

// RuntimeConfig describes the host runtime the service connects back to.
type RuntimeConfig struct {
	Port  int         `json:"Port"` // 0 uses the port of Redis.Address
	Redis RedisConfig `json:"Redis"`
}

// RedisConfig contains connection settings for the host bus.
type RedisConfig struct {
	Address  string `json:"Address"`
	Password string `json:"Password"`
	DB       int    `json:"DB"`
}

// MarkerConfig selects where the add-in install marker is persisted.
type MarkerConfig struct {
	Store string `json:"Store"` // "file" or "redis"
	Dir   string `json:"Dir"`   // file store only
	Name  string `json:"Name"`
}

// TimeoutConfig bounds the steps that wait on an external process.
// Zero disables the bound.
type TimeoutConfig struct {
	Deploy  time.Duration `json:"Deploy"`
	Install time.Duration `json:"Install"`
	Ready   time.Duration `json:"Ready"`
}

// EventsConfig selects the sink for bootstrap lifecycle events.
type EventsConfig struct {
	SinkType string      `json:"SinkType"` // "none", "file", "kafka" or "sns"
	File     FileConfig  `json:"File"`
	Kafka    KafkaConfig `json:"Kafka"`
	SNS      SNSConfig   `json:"SNS"`
}

// FileConfig contains settings for the file event sink.
type FileConfig struct {
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	Pretty     bool   `json:"Pretty"`
}

// KafkaConfig contains Kafka connection settings for the kafka event sink.
type KafkaConfig struct {
	Brokers        []string      `json:"Brokers"`
	Topic          string        `json:"Topic"`
	Compression    string        `json:"Compression"`
	RequiredAcks   int           `json:"RequiredAcks"`
	MaxRetries     int           `json:"MaxRetries"`
	RetryBackoff   time.Duration `json:"RetryBackoff"`
	FlushFrequency time.Duration `json:"FlushFrequency"`
	Timeout        time.Duration `json:"Timeout"`
	EnableTLS      bool          `json:"EnableTLS"`
	TLSCertFile    string        `json:"TLSCertFile"`
	TLSKeyFile     string        `json:"TLSKeyFile"`
	TLSCAFile      string        `json:"TLSCAFile"`
	SASLEnabled    bool          `json:"SASLEnabled"`
	SASLMechanism  string        `json:"SASLMechanism"`
	SASLUser       string        `json:"SASLUser"`
	SASLPassword   string        `json:"SASLPassword"`
}

// SNSConfig contains AWS settings for the sns event sink.
type SNSConfig struct {
	TopicARN        string `json:"TopicARN"`
	Region          string `json:"Region"`
	Endpoint        string `json:"Endpoint"` // overrides the AWS endpoint, e.g. LocalStack
	AccessKeyID     string `json:"AccessKeyID"`
	SecretAccessKey string `json:"SecretAccessKey"`
}

// SOCKSConfig contains SOCKS5 proxy settings used for Redis and Kafka.
type SOCKSConfig struct {
	Host string `json:"Host"`
	Port int    `json:"Port"`
}

// Enabled reports whether a proxy is configured.
func (s SOCKSConfig) Enabled() bool {
	return s.Host != "" && s.Port > 0
}

// DefaultConfig returns the configuration of the Excel service loader.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Identity:       "886834D1-4651-4872-996C-7B2578E953B9",
			ExecutableName: "OpenFin.ExcelService.exe",
			AddInFile:      "OpenFin.ExcelApi-AddIn.xll",
			AssetAlias:     "excel-api-addin",
			InstallDir:     `%LOCALAPPDATA%\OpenFin\shared\assets\excel-api-addin`,
			ReadinessTopic: "excelServiceEvent",
		},
		Installer: InstallerConfig{
			AssetPath: "assets/excel-api-addin/OpenFin.ExcelService.exe",
		},
		ManifestPath: "app.json",
		Runtime: RuntimeConfig{
			Redis: RedisConfig{
				Address: "127.0.0.1:6379",
			},
		},
		Marker: MarkerConfig{
			Store: "file",
			Dir:   "state/ServiceLoader",
			Name:  "openfin-xll-installed",
		},
		Timeouts: TimeoutConfig{
			Deploy:  2 * time.Minute,
			Install: 2 * time.Minute,
			Ready:   time.Minute,
		},
		Events: EventsConfig{
			SinkType: "file",
			File: FileConfig{
				FilePath:   "log/ServiceLoader/events.jsonl",
				MaxSizeMB:  10,
				MaxBackups: 3,
			},
			Kafka: KafkaConfig{
				Brokers:        []string{"localhost:9092"},
				Topic:          "serviceloader-events",
				Compression:    "snappy",
				RequiredAcks:   1,
				MaxRetries:     3,
				RetryBackoff:   100 * time.Millisecond,
				FlushFrequency: 500 * time.Millisecond,
				Timeout:        10 * time.Second,
			},
		},
	}
}

// Merge applies non-zero values from other to this config.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	s, o := &c.Service, other.Service
	if o.Identity != "" {
		s.Identity = o.Identity
	}
	if o.ExecutableName != "" {
		s.ExecutableName = o.ExecutableName
	}
	if o.AddInFile != "" {
		s.AddInFile = o.AddInFile
	}
	if o.AssetAlias != "" {
		s.AssetAlias = o.AssetAlias
	}
	if o.InstallDir != "" {
		s.InstallDir = o.InstallDir
	}
	if o.ReadinessTopic != "" {
		s.ReadinessTopic = o.ReadinessTopic
	}
	s.DetectByProcessName = o.DetectByProcessName

	if other.Installer.AssetPath != "" {
		c.Installer.AssetPath = other.Installer.AssetPath
	}
	if other.ManifestPath != "" {
		c.ManifestPath = other.ManifestPath
	}

	if other.Runtime.Port != 0 {
		c.Runtime.Port = other.Runtime.Port
	}
	if other.Runtime.Redis.Address != "" {
		c.Runtime.Redis.Address = other.Runtime.Redis.Address
	}
	if other.Runtime.Redis.Password != "" {
		c.Runtime.Redis.Password = other.Runtime.Redis.Password
	}
	if other.Runtime.Redis.DB != 0 {
		c.Runtime.Redis.DB = other.Runtime.Redis.DB
	}

	if other.Marker.Store != "" {
		c.Marker.Store = other.Marker.Store
	}
	if other.Marker.Dir != "" {
		c.Marker.Dir = other.Marker.Dir
	}
	if other.Marker.Name != "" {
		c.Marker.Name = other.Marker.Name
	}

	if other.Timeouts.Deploy != 0 {
		c.Timeouts.Deploy = other.Timeouts.Deploy
	}
	if other.Timeouts.Install != 0 {
		c.Timeouts.Install = other.Timeouts.Install
	}
	if other.Timeouts.Ready != 0 {
		c.Timeouts.Ready = other.Timeouts.Ready
	}

	c.ResolveWhenRunning = other.ResolveWhenRunning

	c.Events.merge(other.Events)

	if other.SOCKSProxy.Host != "" {
		c.SOCKSProxy.Host = other.SOCKSProxy.Host
	}
	if other.SOCKSProxy.Port != 0 {
		c.SOCKSProxy.Port = other.SOCKSProxy.Port
	}
}

func (e *EventsConfig) merge(o EventsConfig) {
	if o.SinkType != "" {
		e.SinkType = o.SinkType
	}

	if o.File.FilePath != "" {
		e.File.FilePath = o.File.FilePath
	}
	if o.File.MaxSizeMB != 0 {
		e.File.MaxSizeMB = o.File.MaxSizeMB
	}
	if o.File.MaxBackups != 0 {
		e.File.MaxBackups = o.File.MaxBackups
	}
	e.File.Pretty = o.File.Pretty

	if o.SNS.TopicARN != "" {
		e.SNS.TopicARN = o.SNS.TopicARN
	}
	if o.SNS.Region != "" {
		e.SNS.Region = o.SNS.Region
	}
	if o.SNS.Endpoint != "" {
		e.SNS.Endpoint = o.SNS.Endpoint
	}
	if o.SNS.AccessKeyID != "" {
		e.SNS.AccessKeyID = o.SNS.AccessKeyID
		e.SNS.SecretAccessKey = o.SNS.SecretAccessKey
	}

	k := &e.Kafka
	if len(o.Kafka.Brokers) > 0 {
		k.Brokers = o.Kafka.Brokers
	}
	if o.Kafka.Topic != "" {
		k.Topic = o.Kafka.Topic
	}
	if o.Kafka.Compression != "" {
		k.Compression = o.Kafka.Compression
	}
	if o.Kafka.RequiredAcks != 0 {
		k.RequiredAcks = o.Kafka.RequiredAcks
	}
	if o.Kafka.MaxRetries != 0 {
		k.MaxRetries = o.Kafka.MaxRetries
	}
	if o.Kafka.RetryBackoff != 0 {
		k.RetryBackoff = o.Kafka.RetryBackoff
	}
	if o.Kafka.FlushFrequency != 0 {
		k.FlushFrequency = o.Kafka.FlushFrequency
	}
	if o.Kafka.Timeout != 0 {
		k.Timeout = o.Kafka.Timeout
	}
	k.EnableTLS = o.Kafka.EnableTLS
	if o.Kafka.TLSCertFile != "" {
		k.TLSCertFile = o.Kafka.TLSCertFile
	}
	if o.Kafka.TLSKeyFile != "" {
		k.TLSKeyFile = o.Kafka.TLSKeyFile
	}
	if o.Kafka.TLSCAFile != "" {
		k.TLSCAFile = o.Kafka.TLSCAFile
	}
	k.SASLEnabled = o.Kafka.SASLEnabled
	if o.Kafka.SASLMechanism != "" {
		k.SASLMechanism = o.Kafka.SASLMechanism
	}
	if o.Kafka.SASLUser != "" {
		k.SASLUser = o.Kafka.SASLUser
	}
	if o.Kafka.SASLPassword != "" {
		k.SASLPassword = o.Kafka.SASLPassword
	}
}

// Validate checks the values the bootstrap sequence cannot run without.
func (c *Config) Validate() error {
	if _, err := uuid.Parse(c.Service.Identity); err != nil {
		return fmt.Errorf("Service.Identity %q is not a UUID: %w", c.Service.Identity, err)
	}
	if c.Service.ExecutableName == "" {
		return fmt.Errorf("Service.ExecutableName is required")
	}
	if c.Service.InstallDir == "" {
		return fmt.Errorf("Service.InstallDir is required")
	}
	if c.Service.ReadinessTopic == "" {
		return fmt.Errorf("Service.ReadinessTopic is required")
	}
	if c.Marker.Name == "" {
		return fmt.Errorf("Marker.Name is required")
	}
	switch strings.ToLower(c.Marker.Store) {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown Marker.Store %q (supported: file, redis)", c.Marker.Store)
	}
	switch strings.ToLower(c.Events.SinkType) {
	case "", "none", "file", "kafka":
	case "sns":
		if c.Events.SNS.TopicARN == "" {
			return fmt.Errorf("Events.SNS.TopicARN is required for the sns sink")
		}
	default:
		return fmt.Errorf("unknown Events.SinkType %q (supported: none, file, kafka, sns)", c.Events.SinkType)
	}
	if c.Runtime.Port < 0 || c.Runtime.Port > 65535 {
		return fmt.Errorf("Runtime.Port %d out of range", c.Runtime.Port)
	}
	return nil
}

var windowsEnvRef = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_()]*)%`)

// ExpandPath expands %VAR% (Windows style) and $VAR references.
// Unknown %VAR% references are left untouched.
func ExpandPath(path string) string {
	expanded := windowsEnvRef.ReplaceAllStringFunc(path, func(ref string) string {
		name := ref[1 : len(ref)-1]
		if v, ok := lookupEnvFold(name); ok {
			return v
		}
		return ref
	})
	return os.ExpandEnv(expanded)
}

func lookupEnvFold(name string) (string, bool) {
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	for _, kv := range os.Environ() {
		k, v, found := strings.Cut(kv, "=")
		if found && strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// InstallDir returns the expanded install location.
func (c *Config) InstallDir() string {
	return ExpandPath(c.Service.InstallDir)
}
