package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"serviceloader/internal/logger"
)

// --- Default Config Tests ---

func TestDefaultConfig_ExcelServiceIdentity(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Service.Identity != "886834D1-4651-4872-996C-7B2578E953B9" {
		t.Errorf("unexpected default identity %q", cfg.Service.Identity)
	}
	if cfg.Service.ReadinessTopic != "excelServiceEvent" {
		t.Errorf("expected ReadinessTopic=excelServiceEvent, got %q", cfg.Service.ReadinessTopic)
	}
	if cfg.Service.ExecutableName != "OpenFin.ExcelService.exe" {
		t.Errorf("expected ExecutableName=OpenFin.ExcelService.exe, got %q", cfg.Service.ExecutableName)
	}
	if cfg.Marker.Name != "openfin-xll-installed" {
		t.Errorf("expected Marker.Name=openfin-xll-installed, got %q", cfg.Marker.Name)
	}
	if cfg.ResolveWhenRunning {
		t.Error("expected ResolveWhenRunning=false by default")
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

// --- Parse Tests ---

func TestParse_EmptyObjectUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Timeouts.Ready != time.Minute {
		t.Errorf("expected Ready=1m, got %v", cfg.Timeouts.Ready)
	}
	if cfg.Marker.Store != "file" {
		t.Errorf("expected Marker.Store=file, got %q", cfg.Marker.Store)
	}
	if cfg.Events.SinkType != "file" {
		t.Errorf("expected Events.SinkType=file, got %q", cfg.Events.SinkType)
	}
}

func TestParse_OverridesAndDurations(t *testing.T) {
	input := `{
		"Service": {
			"InstallDir": "C:\\Apps\\excel",
			"DetectByProcessName": true
		},
		"Runtime": {
			"Port": 9696,
			"Redis": {"Address": "10.0.0.5:6380", "DB": 2}
		},
		"Marker": {"Store": "redis"},
		"Timeouts": {"Deploy": "30s", "Ready": "90s"},
		"ResolveWhenRunning": true,
		"Events": {
			"SinkType": "kafka",
			"Kafka": {"Brokers": ["b1:9092", "b2:9092"], "Timeout": "3s"}
		},
		"SocksProxy": {"Host": "proxy.local", "Port": 1080}
	}`

	cfg, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Service.InstallDir != `C:\Apps\excel` {
		t.Errorf("unexpected InstallDir %q", cfg.Service.InstallDir)
	}
	if !cfg.Service.DetectByProcessName {
		t.Error("expected DetectByProcessName=true")
	}
	if cfg.Service.Identity != DefaultConfig().Service.Identity {
		t.Errorf("identity should keep default, got %q", cfg.Service.Identity)
	}
	if cfg.Runtime.Port != 9696 {
		t.Errorf("expected Port=9696, got %d", cfg.Runtime.Port)
	}
	if cfg.Runtime.Redis.Address != "10.0.0.5:6380" || cfg.Runtime.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Runtime.Redis)
	}
	if cfg.Marker.Store != "redis" {
		t.Errorf("expected Marker.Store=redis, got %q", cfg.Marker.Store)
	}
	if cfg.Marker.Name != "openfin-xll-installed" {
		t.Errorf("marker name should keep default, got %q", cfg.Marker.Name)
	}
	if cfg.Timeouts.Deploy != 30*time.Second {
		t.Errorf("expected Deploy=30s, got %v", cfg.Timeouts.Deploy)
	}
	if cfg.Timeouts.Install != 2*time.Minute {
		t.Errorf("expected Install default 2m, got %v", cfg.Timeouts.Install)
	}
	if cfg.Timeouts.Ready != 90*time.Second {
		t.Errorf("expected Ready=90s, got %v", cfg.Timeouts.Ready)
	}
	if !cfg.ResolveWhenRunning {
		t.Error("expected ResolveWhenRunning=true")
	}
	if len(cfg.Events.Kafka.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %v", cfg.Events.Kafka.Brokers)
	}
	if cfg.Events.Kafka.Timeout != 3*time.Second {
		t.Errorf("expected Kafka.Timeout=3s, got %v", cfg.Events.Kafka.Timeout)
	}
	if cfg.Events.Kafka.Topic != "serviceloader-events" {
		t.Errorf("kafka topic should keep default, got %q", cfg.Events.Kafka.Topic)
	}
	if !cfg.SOCKSProxy.Enabled() {
		t.Error("expected SOCKS proxy enabled")
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(`{"Timeouts": {"Ready": "soon"}}`))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "Timeouts.Ready") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestParse_NegativeDuration(t *testing.T) {
	if _, err := Parse([]byte(`{"Timeouts": {"Deploy": "-1s"}}`)); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestParse_ExplicitZeroTimeoutDisablesBound(t *testing.T) {
	cfg, err := Parse([]byte(`{"Timeouts": {"Ready": "0s"}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Timeouts.Ready != 0 {
		t.Errorf("expected Ready bound disabled, got %v", cfg.Timeouts.Ready)
	}
	if cfg.Timeouts.Deploy != 2*time.Minute {
		t.Errorf("expected default Deploy bound kept, got %v", cfg.Timeouts.Deploy)
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"Service": }`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParse_RejectsNonUUIDIdentity(t *testing.T) {
	_, err := Parse([]byte(`{"Service": {"Identity": "excel-service"}}`))
	if err == nil {
		t.Fatal("expected error for non-UUID identity")
	}
}

func TestParse_RejectsUnknownMarkerStore(t *testing.T) {
	if _, err := Parse([]byte(`{"Marker": {"Store": "cookie"}}`)); err == nil {
		t.Fatal("expected error for unknown marker store")
	}
}

func TestParse_RejectsUnknownSinkType(t *testing.T) {
	if _, err := Parse([]byte(`{"Events": {"SinkType": "kafkarest"}}`)); err == nil {
		t.Fatal("expected error for unknown sink type")
	}
}

// --- Path expansion ---

func TestExpandPath_WindowsStyle(t *testing.T) {
	t.Setenv("LOCALAPPDATA", "/home/u/AppData/Local")

	got := ExpandPath(`%LOCALAPPDATA%\OpenFin\shared`)
	if got != `/home/u/AppData/Local\OpenFin\shared` {
		t.Errorf("unexpected expansion %q", got)
	}
}

func TestExpandPath_CaseInsensitiveName(t *testing.T) {
	t.Setenv("SL_TEST_DIR", "/opt/sl")

	if got := ExpandPath(`%sl_test_dir%/assets`); got != "/opt/sl/assets" {
		t.Errorf("unexpected expansion %q", got)
	}
}

func TestExpandPath_UnknownLeftAlone(t *testing.T) {
	got := ExpandPath(`%SL_DOES_NOT_EXIST_42%\x`)
	if got != `%SL_DOES_NOT_EXIST_42%\x` {
		t.Errorf("unknown reference should be kept, got %q", got)
	}
}

func TestExpandPath_DollarStyle(t *testing.T) {
	t.Setenv("SL_HOME", "/srv")
	if got := ExpandPath("$SL_HOME/excel"); got != "/srv/excel" {
		t.Errorf("unexpected expansion %q", got)
	}
}

// --- Logging config ---

func TestParseLogging_MergesOverDefaults(t *testing.T) {
	lc, err := ParseLogging([]byte(`{"Level": "debug", "Console": true}`))
	if err != nil {
		t.Fatalf("ParseLogging failed: %v", err)
	}
	def := logger.DefaultConfig()
	if lc.Level != "debug" {
		t.Errorf("expected Level=debug, got %q", lc.Level)
	}
	if lc.FilePath != def.FilePath {
		t.Errorf("expected default FilePath, got %q", lc.FilePath)
	}
	if lc.MaxSizeMB != def.MaxSizeMB {
		t.Errorf("expected default MaxSizeMB, got %d", lc.MaxSizeMB)
	}
	if !lc.Console {
		t.Error("expected Console=true")
	}
}

func TestLoadSplit_ReadsBothFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ServiceLoader.json")
	logPath := filepath.Join(dir, "Logging.json")
	if err := os.WriteFile(cfgPath, []byte(`{"ManifestPath": "http://localhost/app.json"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logPath, []byte(`{"Level": "warn"}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, lc, err := LoadSplit(cfgPath, logPath)
	if err != nil {
		t.Fatalf("LoadSplit failed: %v", err)
	}
	if cfg.ManifestPath != "http://localhost/app.json" {
		t.Errorf("unexpected ManifestPath %q", cfg.ManifestPath)
	}
	if lc.Level != "warn" {
		t.Errorf("expected Level=warn, got %q", lc.Level)
	}
}

func TestLoadSplit_MissingFile(t *testing.T) {
	_, _, err := LoadSplit(filepath.Join(t.TempDir(), "missing.json"), "also-missing.json")
	if err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestParse_AcceptsCommentsAndTrailingCommas(t *testing.T) {
	input := `{
		// host manifest served by the container
		"ManifestPath": "http://localhost:9090/app.json",
		"Runtime": {"Port": 9696,},
	}`
	cfg, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.ManifestPath != "http://localhost:9090/app.json" {
		t.Errorf("unexpected ManifestPath %q", cfg.ManifestPath)
	}
	if cfg.Runtime.Port != 9696 {
		t.Errorf("expected Port=9696, got %d", cfg.Runtime.Port)
	}
}

// --- Environment Override Tests ---

func TestApplyEnv_OverridesFileValues(t *testing.T) {
	t.Setenv("SERVICELOADER_REDIS_ADDRESS", "10.0.0.5:6380")
	t.Setenv("SERVICELOADER_PORT", "9000")
	t.Setenv("SERVICELOADER_MARKER_STORE", "redis")
	t.Setenv("SERVICELOADER_EVENTS_SINK", "none")

	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Runtime.Redis.Address != "10.0.0.5:6380" {
		t.Errorf("unexpected Redis.Address %q", cfg.Runtime.Redis.Address)
	}
	if cfg.Runtime.Port != 9000 {
		t.Errorf("expected Port=9000, got %d", cfg.Runtime.Port)
	}
	if cfg.Marker.Store != "redis" {
		t.Errorf("expected Marker.Store=redis, got %q", cfg.Marker.Store)
	}
	if cfg.Events.SinkType != "none" {
		t.Errorf("expected Events.SinkType=none, got %q", cfg.Events.SinkType)
	}
	if cfg.Service.InstallDir != DefaultConfig().Service.InstallDir {
		t.Errorf("unset variable should keep InstallDir, got %q", cfg.Service.InstallDir)
	}
}

func TestApplyEnv_InvalidPort(t *testing.T) {
	t.Setenv("SERVICELOADER_PORT", "not-a-port")

	err := ApplyEnv(DefaultConfig())
	if err == nil {
		t.Fatal("expected error for non-numeric port")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestApplyEnv_ValidatesResult(t *testing.T) {
	t.Setenv("SERVICELOADER_MARKER_STORE", "registry")

	if err := ApplyEnv(DefaultConfig()); err == nil {
		t.Fatal("expected validation error for unknown marker store")
	}
}

func TestParse_SNSSinkRequiresTopic(t *testing.T) {
	if _, err := Parse([]byte(`{"Events": {"SinkType": "sns"}}`)); err == nil {
		t.Fatal("expected error for sns sink without TopicARN")
	}

	cfg, err := Parse([]byte(`{"Events": {"SinkType": "sns", "SNS": {"TopicARN": "arn:aws:sns:us-east-1:000000000000:bootstrap", "Region": "us-east-1"}}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Events.SNS.Region != "us-east-1" {
		t.Errorf("expected Region=us-east-1, got %q", cfg.Events.SNS.Region)
	}
}
