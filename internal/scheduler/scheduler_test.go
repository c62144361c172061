package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fullvlad/lava-server/internal/config"
	"github.com/fullvlad/lava-server/internal/heartbeat"
	"github.com/fullvlad/lava-server/internal/notify"
	"github.com/fullvlad/lava-server/internal/procctl"
	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) notify.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return notify.Result{Channel: "test", Delivered: true}
}

type signalRecorder struct {
	mu    sync.Mutex
	pgids []int
	err   error
}

func (r *signalRecorder) signal(pgid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pgids = append(r.pgids, pgid)
	return r.err
}

type fixture struct {
	st       *store.SQLStore
	src      *JobSource
	cfg      *config.Provider
	clock    *testClock
	notifier *recordingNotifier
	signals  *signalRecorder
	registry *prometheus.Registry
}

// newFixture builds a master JobSource on worker1 driving panda01..panda0N.
func newFixture(t *testing.T, devices int, mutate func(*config.Config)) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Hostname = "worker1"
	cfg.Master = true
	cfg.OutputRoot = t.TempDir()
	for i := 1; i <= devices; i++ {
		cfg.Devices = append(cfg.Devices, config.DeviceConfig{
			Hostname:   fmt.Sprintf("panda%02d", i),
			DeviceType: "panda",
		})
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		st:       st,
		cfg:      config.NewProvider(cfg),
		clock:    &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
		signals:  &signalRecorder{},
		registry: prometheus.NewRegistry(),
	}
	f.src = NewJobSource(st, f.cfg, testLogger(),
		WithClock(f.clock.Now),
		WithNotifier(f.notifier),
		WithKiller(procctl.NewKillerWithSignal(f.signals.signal, testLogger())),
		WithRegistry(f.registry),
		WithHostInfo(func() heartbeat.HostInfo { return heartbeat.HostInfo{Arch: "arm64", Platform: "test"} }),
	)
	return f
}

func (f *fixture) inTx(t *testing.T, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := f.st.InTx(context.Background(), func(tx store.Tx) error {
		return fn(context.Background(), tx)
	}); err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func (f *fixture) seedJobs(t *testing.T, jobs ...*model.TestJob) {
	t.Helper()
	f.inTx(t, func(ctx context.Context, tx store.Tx) error {
		for _, j := range jobs {
			if err := tx.CreateJob(ctx, j); err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *fixture) job(t *testing.T, id string) *model.TestJob {
	t.Helper()
	var j *model.TestJob
	f.inTx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		j, err = tx.GetJob(ctx, id)
		return err
	})
	if j == nil {
		t.Fatalf("job %s not found", id)
	}
	return j
}

func (f *fixture) device(t *testing.T, hostname string) *model.Device {
	t.Helper()
	var d *model.Device
	f.inTx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		d, err = tx.GetDevice(ctx, hostname)
		return err
	})
	if d == nil {
		t.Fatalf("device %s not found", hostname)
	}
	return d
}

func (f *fixture) transitions(t *testing.T, hostname string) []*model.DeviceStateTransition {
	t.Helper()
	var out []*model.DeviceStateTransition
	f.inTx(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListTransitions(ctx, hostname)
		return err
	})
	return out
}

func (f *fixture) cycle(t *testing.T) []*model.TestJob {
	t.Helper()
	jobs, err := f.src.GetJobList(context.Background())
	if err != nil {
		t.Fatalf("GetJobList: %v", err)
	}
	return jobs
}

// startJob runs a cycle to reserve id and then starts it.
func (f *fixture) startJob(t *testing.T, id string) *model.TestJob {
	t.Helper()
	f.cycle(t)
	if _, err := f.src.GetJobDetails(context.Background(), id); err != nil {
		t.Fatalf("GetJobDetails(%s): %v", id, err)
	}
	return f.job(t, id)
}

func (f *fixture) setJobStatus(t *testing.T, id string, status model.JobStatus) {
	t.Helper()
	f.inTx(t, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.GetJob(ctx, id)
		if err != nil {
			return err
		}
		j.Status = status
		return tx.UpdateJob(ctx, j)
	})
}

var baseSubmit = time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)

func pandaJob(id string, priority int, submitOffset time.Duration) *model.TestJob {
	return &model.TestJob{
		ID:                  id,
		Status:              model.JobSubmitted,
		Submitter:           "alice",
		Priority:            priority,
		RequestedDeviceType: "panda",
		Definition:          `{"job_name":"` + id + `","actions":[]}`,
		SubmitTime:          baseSubmit.Add(submitOffset),
	}
}

func ids(jobs []*model.TestJob) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// metricValue returns the value of the first sample of the named metric.
func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		m := mf.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
