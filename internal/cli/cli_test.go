package cli

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fullvlad/lava-server/internal/config"
	"github.com/fullvlad/lava-server/internal/scheduler"
	"github.com/fullvlad/lava-server/internal/server"
	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startTestServer starts a master scheduler API on an in-memory store and returns the URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c := config.Default()
	c.Hostname = "worker1"
	c.Master = true
	src := scheduler.NewJobSource(st, config.NewProvider(c), testLogger())
	srv := server.New(src, testLogger(), server.WithMaster(true), server.WithVersion("1.2.3"))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func runRoot(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.Execute()
}

func TestPrintHealth(t *testing.T) {
	url := startTestServer(t)

	var out bytes.Buffer
	if err := printHealth(&out, NewClient(url, testLogger())); err != nil {
		t.Fatalf("printHealth: %v", err)
	}
	for _, want := range []string{"Status:  healthy", "Role:    master", "Version: 1.2.3"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestClient_APIError(t *testing.T) {
	url := startTestServer(t)
	c := NewClient(url, testLogger())

	_, err := c.Post("/api/v1/jobs/missing/start", nil)
	apiErr, ok := err.(*model.APIError)
	if !ok {
		t.Fatalf("err = %v (%T), want *model.APIError", err, err)
	}
	if apiErr.Code != model.ErrNotFound {
		t.Errorf("code = %s, want %s", apiErr.Code, model.ErrNotFound)
	}
}

func TestRootFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.yaml")
	data := "hostname: worker9\npoll_interval: 5s\nlog:\n  level: warn\n  format: json\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	db := filepath.Join(dir, "lava.db")

	if err := runRoot(t, "--config", path, "--db", db, "--master", "--log-level", "debug", "migrate"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if cfg.Hostname != "worker9" || cfg.PollInterval != 5*time.Second {
		t.Errorf("file values not loaded: %+v", cfg)
	}
	if !cfg.Master || cfg.DB != db {
		t.Errorf("flags not applied: master=%v db=%q", cfg.Master, cfg.DB)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if logLevel.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", logLevel.Level())
	}
	if _, err := os.Stat(db); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestRootInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	os.WriteFile(path, []byte("poll_interval: -1s\n"), 0o644)

	err := runRoot(t, "--config", path, "migrate")
	if err == nil || !strings.Contains(err.Error(), "poll_interval") {
		t.Errorf("err = %v, want poll_interval validation error", err)
	}
}

func TestDevicesListing(t *testing.T) {
	db := filepath.Join(t.TempDir(), "lava.db")
	if err := runRoot(t, "--db", db, "--hostname", "worker1", "migrate"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st, err := store.Open(db, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	seen := time.Now().Add(-3 * time.Minute)
	err = st.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateDevice(ctx, &model.Device{
			Hostname: "panda01", DeviceType: "panda", Status: model.DeviceIdle,
			HealthStatus: model.HealthPass, Heartbeat: true, LastHeartbeat: &seen, IsPublic: true,
		}); err != nil {
			return err
		}
		return tx.CreateDevice(ctx, &model.Device{
			Hostname: "beagle01", DeviceType: "beagle", Status: model.DeviceOffline,
			HealthStatus: model.HealthUnknown, IsPublic: true,
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	devices, err := listDevices(ctx, st, "panda")
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].Hostname != "panda01" {
		t.Fatalf("devices = %+v", devices)
	}

	all, err := listDevices(ctx, st, "")
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	printDevices(&out, all, time.Now())
	text := out.String()
	for _, want := range []string{"panda01", "3 minutes ago", "beagle01", "never", "OFFLINE"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestPrintJobs(t *testing.T) {
	var out bytes.Buffer
	printJobs(&out, nil)
	if !strings.Contains(out.String(), "No jobs") {
		t.Errorf("empty output = %q", out.String())
	}

	out.Reset()
	printJobs(&out, []*model.TestJob{
		{ID: "job1", ActualDevice: "panda01", Priority: model.PriorityHigh, HealthCheck: true},
		{ID: "job2", ActualDevice: "panda02", Priority: model.PriorityLow, TargetGroup: "grp"},
	})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[2], "job1") || !strings.Contains(lines[3], "grp") {
		t.Errorf("rows:\n%s", out.String())
	}
}
