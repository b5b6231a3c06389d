package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const podStatusJSON = `{
	"left":  {"isOn": true,  "targetTemperatureF": 80, "currentTemperatureF": 78.5, "secondsRemaining": 3600},
	"right": {"isOn": false, "targetTemperatureF": 72, "currentTemperatureF": 74.0, "secondsRemaining": 0},
	"waterLevel": "true",
	"isPriming": false
}`

// newPod starts an httptest pod that answers status reads and 404s the rest.
func newPod(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/api/deviceStatus" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(podStatusJSON))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeConfig writes a minimal config with every optional subsystem off.
func writeConfig(t *testing.T, address, dbPath, extra string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	content := `
device:
  address: "` + address + `"
  id: test-pod
  request_timeout: 2

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

api:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
` + extra
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config failure", err)
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	configPath := writeConfig(t, "127.0.0.1:1", "", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, configPath); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_MissingDeviceAddress verifies the pod address is required.
func TestRun_MissingDeviceAddress(t *testing.T) {
	configPath := writeConfig(t, "", filepath.Join(t.TempDir(), "test.db"), "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, configPath)
	if err == nil {
		t.Fatal("run() should fail without device.address")
	}
	if !strings.Contains(err.Error(), "device.address") {
		t.Errorf("error = %v, want device.address mention", err)
	}
}

// TestRun_StartupAndShutdown runs the core against a fake pod until the
// context expires.
func TestRun_StartupAndShutdown(t *testing.T) {
	pod := newPod(t)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	configPath := writeConfig(t, pod.URL, dbPath, "")

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	if err := run(ctx, configPath); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestRun_ContextCancelledDuringStartup verifies a cancelled context still
// shuts down cleanly.
func TestRun_ContextCancelledDuringStartup(t *testing.T) {
	pod := newPod(t)
	configPath := writeConfig(t, pod.URL, filepath.Join(t.TempDir(), "test.db"), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, configPath) }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

func TestRunCheck(t *testing.T) {
	pod := newPod(t)
	dbPath := filepath.Join(t.TempDir(), "test.db")

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "reachable pod", address: pod.URL},
		{name: "host and port", address: strings.TrimPrefix(pod.URL, "http://")},
		{name: "nothing listening", address: "127.0.0.1:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.address, dbPath, "")
			err := runCheck(context.Background(), configPath)
			if (err != nil) != tt.wantErr {
				t.Errorf("runCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunToken(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	t.Run("no secret", func(t *testing.T) {
		configPath := writeConfig(t, "127.0.0.1:1", dbPath, "")
		if err := runToken(configPath, "bedside-tablet"); err == nil {
			t.Error("runToken() should fail without a JWT secret")
		}
	})

	t.Run("with secret", func(t *testing.T) {
		configPath := writeConfig(t, "127.0.0.1:1", dbPath, `
security:
  jwt:
    secret: "0123456789abcdef0123456789abcdef"
    issuer: freesleep-test
`)
		if err := runToken(configPath, "bedside-tablet"); err != nil {
			t.Errorf("runToken() error = %v", err)
		}
	})
}

// TestGetConfigPath_Default verifies default config path when env not set.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv(configEnvVar, "")

	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies env var overrides default path.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv(configEnvVar, "/custom/path/config.yaml")

	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want /custom/path/config.yaml", got)
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv(configEnvVar, "/from/env.yaml")

	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{name: "defaults to env", args: nil, want: options{configPath: "/from/env.yaml"}},
		{name: "flag wins", args: []string{"-config", "/from/flag.yaml"}, want: options{configPath: "/from/flag.yaml"}},
		{name: "check", args: []string{"-check"}, want: options{configPath: "/from/env.yaml", check: true}},
		{name: "token", args: []string{"-token", "tablet"}, want: options{configPath: "/from/env.yaml", token: "tablet"}},
		{name: "unknown flag", args: []string{"-nope"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
