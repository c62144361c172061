package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the scheduler daemon.
type Config struct {
	// Hostname identifies this dispatcher host. Defaults to os.Hostname().
	Hostname string `yaml:"hostname"`
	// Master enables reconciliation, staleness eviction and job assignment.
	Master bool `yaml:"master"`

	Addr         string        `yaml:"addr"`          // HTTP listen address (default ":8080")
	DB           string        `yaml:"db"`            // SQLite path or PostgreSQL DSN
	OutputRoot   string        `yaml:"output_root"`   // parent of per-job output directories
	PollInterval time.Duration `yaml:"poll_interval"` // scheduling cycle period

	Log         LogConfig                   `yaml:"log"`
	Heartbeat   HeartbeatConfig             `yaml:"heartbeat"`
	HealthCheck HealthCheckConfig           `yaml:"health_check"`
	Multinode   MultinodeConfig             `yaml:"multinode"`
	Notify      NotifyConfig                `yaml:"notify"`
	Devices     []DeviceConfig              `yaml:"devices"`
	DeviceTypes map[string]DeviceTypeConfig `yaml:"device_types"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

type HeartbeatConfig struct {
	DeviceTimeout time.Duration `yaml:"device_timeout"`
	WorkerTimeout time.Duration `yaml:"worker_timeout"`
}

type HealthCheckConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Submitter string        `yaml:"submitter"`
}

type MultinodeConfig struct {
	ReservationTimeout time.Duration `yaml:"reservation_timeout"`
}

// NotifyConfig configures completion notifications. With an empty
// WebhookURL notifications are only logged.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Rate       float64       `yaml:"rate"` // notifications per second
	Burst      int           `yaml:"burst"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryMax   int           `yaml:"retry_max"`
}

// DeviceConfig is a device driven by this dispatcher host.
type DeviceConfig struct {
	Hostname   string `yaml:"hostname"`
	DeviceType string `yaml:"device_type"`
	Public     *bool  `yaml:"public"`
	User       string `yaml:"user"`
	Group      string `yaml:"group"`
}

// IsPublic defaults to true when unset.
func (d DeviceConfig) IsPublic() bool {
	return d.Public == nil || *d.Public
}

// DeviceTypeConfig holds per-type settings. HealthCheck is the job
// definition submitted as the type's health check; nil disables them.
type DeviceTypeConfig struct {
	HealthCheck map[string]any `yaml:"health_check"`
}

// Default returns sensible defaults.
func Default() Config {
	host, _ := os.Hostname()
	return Config{
		Hostname:     host,
		Addr:         ":8080",
		DB:           "lava-scheduler.db",
		OutputRoot:   "/var/lib/lava-server/default/media/job-output",
		PollInterval: 20 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Heartbeat: HeartbeatConfig{
			DeviceTimeout: 5 * time.Minute,
			WorkerTimeout: 5 * time.Minute,
		},
		HealthCheck: HealthCheckConfig{
			Interval:  24 * time.Hour,
			Submitter: "lava-health",
		},
		Multinode: MultinodeConfig{
			ReservationTimeout: 5 * time.Minute,
		},
		Notify: NotifyConfig{
			Rate:     5,
			Burst:    10,
			Timeout:  10 * time.Second,
			RetryMax: 3,
		},
		DeviceTypes: map[string]DeviceTypeConfig{},
	}
}

// Load reads the YAML file at path on top of Default(). An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the scheduler cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.Hostname == "" {
		errs = append(errs, errors.New("hostname is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.Heartbeat.DeviceTimeout <= 0 || c.Heartbeat.WorkerTimeout <= 0 {
		errs = append(errs, errors.New("heartbeat timeouts must be positive"))
	}
	if c.Multinode.ReservationTimeout <= 0 {
		errs = append(errs, errors.New("multinode.reservation_timeout must be positive"))
	}
	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.Hostname == "" || d.DeviceType == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: hostname and device_type are required", i))
			continue
		}
		if seen[d.Hostname] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate hostname %q", i, d.Hostname))
		}
		seen[d.Hostname] = true
	}
	return errors.Join(errs...)
}

// HealthCheckTemplate returns the JSON health-check definition for
// deviceType, or false if the type has none.
func (c *Config) HealthCheckTemplate(deviceType string) (string, bool) {
	dt, ok := c.DeviceTypes[deviceType]
	if !ok || len(dt.HealthCheck) == 0 {
		return "", false
	}
	data, err := json.Marshal(dt.HealthCheck)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Provider holds the current configuration and allows it to be swapped
// while the daemon is running.
type Provider struct {
	mu  sync.RWMutex
	cfg Config
}

// NewProvider returns a Provider serving cfg.
func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Get returns a copy of the current configuration.
func (p *Provider) Get() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Set replaces the current configuration.
func (p *Provider) Set(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}
