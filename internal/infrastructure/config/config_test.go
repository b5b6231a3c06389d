package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
device:
  address: "192.168.1.50:3000"
  id: "bedroom"
  poll:
    status: 5
    base: 10
    vitals: 60
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Address != "192.168.1.50:3000" {
		t.Errorf("Device.Address = %q, want %q", cfg.Device.Address, "192.168.1.50:3000")
	}
	if cfg.Device.ID != "bedroom" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "bedroom")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, "device:\n  address: \"pod.local:3000\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Poll.Status != 5 || cfg.Device.Poll.Base != 10 || cfg.Device.Poll.Vitals != 60 {
		t.Errorf("Poll = %+v, want 5/10/60", cfg.Device.Poll)
	}
	if cfg.Device.UnavailableThreshold != 3 {
		t.Errorf("UnavailableThreshold = %d, want 3", cfg.Device.UnavailableThreshold)
	}
	if got := cfg.GetRequestTimeout(); got != 10*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 10s", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
api:
  port: 8080
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for missing device.address, got nil")
	}
	if !strings.Contains(err.Error(), "device.address") {
		t.Errorf("error = %v, want mention of device.address", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Device.Address = "pod.local:3000"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name:    "missing device address",
			mutate:  func(c *Config) { c.Device.Address = "  " },
			wantErr: true,
		},
		{
			name:    "device id with wildcard",
			mutate:  func(c *Config) { c.Device.ID = "pod/#" },
			wantErr: true,
		},
		{
			name:    "unavailable threshold below minimum",
			mutate:  func(c *Config) { c.Device.UnavailableThreshold = 2 },
			wantErr: true,
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Device.Poll.Base = 0 },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid API port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "API port ignored when API disabled",
			mutate:  func(c *Config) { c.API.Enabled = false; c.API.Port = 0 },
			wantErr: false,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "short JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
		{
			name:    "empty JWT secret allowed",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FREESLEEP_DEVICE_ADDRESS", "10.0.0.9:3000")
	t.Setenv("FREESLEEP_MQTT_HOST", "broker.local")
	t.Setenv("FREESLEEP_MQTT_PORT", "8883")
	t.Setenv("FREESLEEP_JWT_SECRET", "env-secret-key-at-least-32-characters")
	t.Setenv("FREESLEEP_API_UI_DIR", "/srv/freesleep-ui")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Device.Address != "10.0.0.9:3000" {
		t.Errorf("Device.Address = %q, want %q", cfg.Device.Address, "10.0.0.9:3000")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.Security.JWT.Secret != "env-secret-key-at-least-32-characters" {
		t.Errorf("JWT.Secret not overridden")
	}
	if cfg.API.UIDir != "/srv/freesleep-ui" {
		t.Errorf("API.UIDir = %q, want /srv/freesleep-ui", cfg.API.UIDir)
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	t.Setenv("FREESLEEP_MQTT_PORT", "not-a-port")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}
