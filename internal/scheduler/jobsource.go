// Package scheduler implements the dispatcher-facing scheduling core:
// building the dispatch-ready job list each cycle, repairing device state,
// and the callbacks dispatch workers use while running a job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fullvlad/lava-server/internal/config"
	"github.com/fullvlad/lava-server/internal/healthcheck"
	"github.com/fullvlad/lava-server/internal/heartbeat"
	"github.com/fullvlad/lava-server/internal/multinode"
	"github.com/fullvlad/lava-server/internal/notify"
	"github.com/fullvlad/lava-server/internal/procctl"
	"github.com/fullvlad/lava-server/internal/reservation"
	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

var (
	// ErrNoJob is returned when a device has no job bound to it.
	ErrNoJob = errors.New("no job bound to device")
	// ErrNoDevice is returned when a job has not been given a device yet.
	ErrNoDevice = errors.New("job has no device")
)

// JobSource is the scheduling core shared by the polling loop and the
// HTTP surface. Every exported operation runs in its own transaction.
type JobSource struct {
	store     store.Store
	cfg       *config.Provider
	heartbeat *heartbeat.Tracker
	health    *healthcheck.Generator
	engine    *reservation.Engine
	groups    *multinode.Coordinator
	killer    *procctl.Killer
	notifier  notify.Notifier
	metrics   *Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a JobSource.
type Option func(*options)

type options struct {
	killer   *procctl.Killer
	notifier notify.Notifier
	registry *prometheus.Registry
	now      func() time.Time
	hostInfo func() heartbeat.HostInfo
}

// WithKiller overrides the process killer.
func WithKiller(k *procctl.Killer) Option {
	return func(o *options) { o.killer = k }
}

// WithNotifier overrides the completion notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithRegistry registers scheduler metrics on reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithClock overrides the time source of the source and its components.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHostInfo overrides host inspection for worker heartbeats.
func WithHostInfo(fn func() heartbeat.HostInfo) Option {
	return func(o *options) { o.hostInfo = fn }
}

// NewJobSource wires the scheduling components around st. Hostname,
// heartbeat timeouts and the multinode reservation timeout are read once;
// master role, configured devices and health-check templates are read on
// every cycle.
func NewJobSource(st store.Store, cfg *config.Provider, logger *slog.Logger, opts ...Option) *JobSource {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	if o.killer == nil {
		o.killer = procctl.NewKiller(logger)
	}
	if o.notifier == nil {
		o.notifier = notify.New(cfg.Get().Notify, logger)
	}

	c := cfg.Get()
	hbOpts := []heartbeat.Option{heartbeat.WithClock(o.now)}
	if o.hostInfo != nil {
		hbOpts = append(hbOpts, heartbeat.WithHostInfo(o.hostInfo))
	}
	health := healthcheck.New(cfg, logger)
	health.SetClock(o.now)
	engine := reservation.New(cfg, logger)
	engine.SetClock(o.now)
	groups := multinode.New(engine, c.Multinode.ReservationTimeout, logger)
	groups.SetClock(o.now)

	return &JobSource{
		store:     st,
		cfg:       cfg,
		heartbeat: heartbeat.New(c, logger, hbOpts...),
		health:    health,
		engine:    engine,
		groups:    groups,
		killer:    o.killer,
		notifier:  o.notifier,
		metrics:   NewMetrics(o.registry),
		now:       o.now,
		logger:    logger.With("component", "scheduler"),
	}
}

// GetJobList runs one scheduling cycle and returns the jobs that are ready
// to be dispatched, in scheduling order.
func (s *JobSource) GetJobList(ctx context.Context) ([]*model.TestJob, error) {
	cfg := s.cfg.Get()
	start := time.Now()

	var result []*model.TestJob
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := s.heartbeat.DeviceHeartbeat(ctx, tx, cfg.Devices); err != nil {
			return fmt.Errorf("device heartbeat: %w", err)
		}
		if err := s.cancelSweep(ctx, tx, cfg.Hostname); err != nil {
			return fmt.Errorf("cancel sweep: %w", err)
		}

		var jobs []*model.TestJob
		if cfg.Master {
			if err := s.reconcile(ctx, tx); err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			if err := s.heartbeat.UpdateStaleness(ctx, tx); err != nil {
				return fmt.Errorf("heartbeat staleness: %w", err)
			}
			var err error
			if jobs, err = s.assignJobs(ctx, tx); err != nil {
				return fmt.Errorf("assign jobs: %w", err)
			}
		} else {
			var err error
			if jobs, err = s.localReserved(ctx, tx, cfg.Hostname); err != nil {
				return fmt.Errorf("local jobs: %w", err)
			}
		}

		jobs, err := s.groups.DelayIncompleteGroups(ctx, tx, jobs, cfg.Master)
		if err != nil {
			return fmt.Errorf("multinode filter: %w", err)
		}
		result = jobs
		return nil
	})
	s.metrics.observeCycle(time.Since(start), len(result), err)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("job list", "master", cfg.Master, "jobs", len(result))
	return result, nil
}

// Reconcile runs the device-status reconciliation pass on its own.
func (s *JobSource) Reconcile(ctx context.Context) error {
	return s.store.InTx(ctx, func(tx store.Tx) error {
		return s.reconcile(ctx, tx)
	})
}

// localReserved returns submitted jobs already reserved on devices driven
// by host. Non-master instances dispatch only these.
func (s *JobSource) localReserved(ctx context.Context, tx store.Tx, host string) ([]*model.TestJob, error) {
	jobs, err := tx.ListJobs(ctx, store.JobFilter{Statuses: []model.JobStatus{model.JobSubmitted}})
	if err != nil {
		return nil, err
	}
	var out []*model.TestJob
	for _, j := range jobs {
		if j.ActualDevice == "" {
			continue
		}
		d, err := tx.GetDevice(ctx, j.ActualDevice)
		if err != nil {
			return nil, fmt.Errorf("get device %s: %w", j.ActualDevice, err)
		}
		if d != nil && d.WorkerHost == host {
			out = append(out, j)
		}
	}
	return out, nil
}

// transition records a device status change made by the scheduler itself.
func (s *JobSource) transition(ctx context.Context, tx store.Tx, d *model.Device, from, to model.DeviceStatus, jobID, msg string) error {
	if err := tx.CreateTransition(ctx, &model.DeviceStateTransition{
		Device:    d.Hostname,
		OldState:  from,
		NewState:  to,
		Job:       jobID,
		Message:   msg,
		CreatedOn: s.now(),
	}); err != nil {
		return fmt.Errorf("record transition for %s: %w", d.Hostname, err)
	}
	return nil
}

// releaseToken deletes the submit token of j, if any.
func releaseToken(ctx context.Context, tx store.Tx, j *model.TestJob) error {
	if j.SubmitTokenID == "" {
		return nil
	}
	if err := tx.DeleteToken(ctx, j.SubmitTokenID); err != nil {
		return fmt.Errorf("delete token of job %s: %w", j.ID, err)
	}
	j.SubmitTokenID = ""
	return nil
}
