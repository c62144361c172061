package config

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
hostname: worker1
master: true
db: ":memory:"
poll_interval: 5s
multinode:
  reservation_timeout: 2m
devices:
  - hostname: panda01
    device_type: panda
  - hostname: panda02
    device_type: panda
    public: false
    group: kernel
device_types:
  panda:
    health_check:
      job_name: panda health check
      actions:
        - deploy: {}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Multinode.ReservationTimeout != 5*time.Minute {
		t.Errorf("ReservationTimeout = %v, want 5m", cfg.Multinode.ReservationTimeout)
	}
	if cfg.HealthCheck.Interval != 24*time.Hour {
		t.Errorf("HealthCheck.Interval = %v, want 24h", cfg.HealthCheck.Interval)
	}
	if cfg.Master {
		t.Error("Master should default to false")
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hostname != "worker1" || !cfg.Master || cfg.DB != ":memory:" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.Multinode.ReservationTimeout != 2*time.Minute {
		t.Errorf("ReservationTimeout = %v, want 2m", cfg.Multinode.ReservationTimeout)
	}
	// Unset values keep their defaults.
	if cfg.Heartbeat.DeviceTimeout != 5*time.Minute {
		t.Errorf("DeviceTimeout = %v, want default 5m", cfg.Heartbeat.DeviceTimeout)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("Devices = %d, want 2", len(cfg.Devices))
	}
	if !cfg.Devices[0].IsPublic() || cfg.Devices[1].IsPublic() {
		t.Errorf("public flags = %v %v, want true false", cfg.Devices[0].IsPublic(), cfg.Devices[1].IsPublic())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "devices: [", "parse config"},
		{"missing type", "devices:\n  - hostname: x\n", "device_type are required"},
		{"duplicate", "devices:\n  - {hostname: x, device_type: t}\n  - {hostname: x, device_type: t}\n", "duplicate hostname"},
		{"zero timeout", "multinode:\n  reservation_timeout: 0s\n", "reservation_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHealthCheckTemplate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	tmpl, ok := cfg.HealthCheckTemplate("panda")
	if !ok {
		t.Fatal("expected panda template")
	}
	var def map[string]any
	if err := json.Unmarshal([]byte(tmpl), &def); err != nil {
		t.Fatalf("template is not JSON: %v", err)
	}
	if def["job_name"] != "panda health check" {
		t.Errorf("job_name = %v", def["job_name"])
	}
	if _, ok := cfg.HealthCheckTemplate("beaglebone"); ok {
		t.Error("unexpected template for unknown type")
	}
}

func TestProvider(t *testing.T) {
	p := NewProvider(Default())
	cfg := p.Get()
	cfg.Master = true
	if p.Get().Master {
		t.Error("Get must return a copy")
	}
	p.Set(cfg)
	if !p.Get().Master {
		t.Error("Set did not apply")
	}
}

func TestWatch_Reloads(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	p := NewProvider(cfg)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, p, logger, func(c Config) { changed <- c }) }()

	// Give the watcher time to register before rewriting the file.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(sampleYAML, "master: true", "master: false", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changed:
		if c.Master {
			t.Error("reloaded config still has master: true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	if p.Get().Master {
		t.Error("provider not updated")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}
