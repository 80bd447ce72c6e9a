package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write err=%v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  http_port: 9090\n"))
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}

	if cfg.Server.HTTPPort != 9090 {
		t.Fatalf("http_port=%d", cfg.Server.HTTPPort)
	}
	m := cfg.Modbus
	if m.Host != "192.168.1.100" || m.Port != 502 {
		t.Fatalf("gateway=%s:%d", m.Host, m.Port)
	}
	if m.Timeout != 10*time.Second || m.PollInterval != 10*time.Second {
		t.Fatalf("timeout=%s poll=%s", m.Timeout, m.PollInterval)
	}
	if m.Backoff.Initial != 5*time.Second || m.Backoff.Max != 60*time.Second {
		t.Fatalf("backoff=%+v", m.Backoff)
	}
	if m.BackoffOnReadError {
		t.Fatalf("backoff_on_read_error defaulted to true")
	}
	if m.Driver != "goburrow" {
		t.Fatalf("driver=%q", m.Driver)
	}
	if cfg.Database.Enabled {
		t.Fatalf("database enabled by default")
	}
	if cfg.Sensors != nil {
		t.Fatalf("Sensors=%v, want nil without a sensors block", cfg.Sensors)
	}
}

func TestLoad_SensorsBlockKeepsCase(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
modbus:
  host: 10.0.0.5
  poll_interval: 2s
sensors:
  sensor_th:
    slave_id: 1
    outTemp:
      index: 1
`))
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.Modbus.Host != "10.0.0.5" || cfg.Modbus.PollInterval != 2*time.Second {
		t.Fatalf("modbus=%+v", cfg.Modbus)
	}
	if cfg.Sensors == nil || cfg.Sensors.Kind != yaml.MappingNode {
		t.Fatalf("Sensors=%v", cfg.Sensors)
	}

	var decoded map[string]map[string]interface{}
	if err := cfg.Sensors.Decode(&decoded); err != nil {
		t.Fatalf("decode err=%v", err)
	}
	if _, ok := decoded["sensor_th"]["outTemp"]; !ok {
		t.Fatalf("outTemp key lost its case: %v", decoded)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MBS_MODBUS_HOST", "172.16.0.9")
	t.Setenv("MBS_MODBUS_BACKOFF_ON_READ_ERROR", "true")

	cfg, err := Load(writeConfig(t, "modbus:\n  host: 10.0.0.5\n"))
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.Modbus.Host != "172.16.0.9" {
		t.Fatalf("host=%s, want env override", cfg.Modbus.Host)
	}
	if !cfg.Modbus.BackoffOnReadError {
		t.Fatalf("backoff_on_read_error env override ignored")
	}
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, `
modbus:
  port: 0
  driver: serial
  backoff:
    initial: 30s
    max: 10s
`))
	if err == nil {
		t.Fatalf("Load err=nil")
	}
	for _, want := range []string{"modbus.port", "modbus.driver", "backoff.max"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err=%v, missing %q", err, want)
		}
	}
}

func TestLoad_BareNumbersAreSeconds(t *testing.T) {
	t.Setenv("MBS_SERVER_SHUTDOWN_TIMEOUT", "3")
	cfg, err := Load(writeConfig(t, `
modbus:
  timeout: 10
  poll_interval: 2.5
  backoff:
    initial: 5
    max: 1m
`))
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.Modbus.Timeout != 10*time.Second {
		t.Fatalf("timeout=%s, want 10s", cfg.Modbus.Timeout)
	}
	if cfg.Modbus.PollInterval != 2500*time.Millisecond {
		t.Fatalf("poll_interval=%s, want 2.5s", cfg.Modbus.PollInterval)
	}
	if cfg.Modbus.Backoff.Initial != 5*time.Second || cfg.Modbus.Backoff.Max != time.Minute {
		t.Fatalf("backoff=%+v", cfg.Modbus.Backoff)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Fatalf("shutdown_timeout=%s, want 3s from env", cfg.Server.ShutdownTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("Load err=nil for missing file")
	}
}

func TestGetJWTSecret(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "MBS_TEST_SECRET"}
	if a.GetJWTSecret() != devJWTSecret || a.IsProductionReady() {
		t.Fatalf("expected development fallback")
	}

	t.Setenv("MBS_TEST_SECRET", strings.Repeat("k", 40))
	if !a.IsProductionReady() {
		t.Fatalf("IsProductionReady=false with 40 char secret")
	}
}
