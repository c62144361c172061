// Package heartbeat records liveness of the local dispatcher host and its
// devices, and derives the heartbeat flags the scheduler relies on.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fullvlad/lava-server/internal/config"
	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

// Tracker updates worker and device heartbeats.
type Tracker struct {
	hostname      string
	deviceTimeout time.Duration
	workerTimeout time.Duration
	hostInfo      func() HostInfo
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithHostInfo overrides host inspection.
func WithHostInfo(fn func() HostInfo) Option {
	return func(t *Tracker) { t.hostInfo = fn }
}

// New creates a Tracker for the local host described by cfg.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		hostname:      cfg.Hostname,
		deviceTimeout: cfg.Heartbeat.DeviceTimeout,
		workerTimeout: cfg.Heartbeat.WorkerTimeout,
		hostInfo:      ReadHostInfo,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With("component", "heartbeat"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// DeviceHeartbeat refreshes the local Worker row and stamps every
// configured, non-retired device with this host and the current time.
// Configured devices missing from the store are created IDLE.
func (t *Tracker) DeviceHeartbeat(ctx context.Context, tx store.Tx, devices []config.DeviceConfig) error {
	now := t.now()
	if err := t.workerHeartbeat(ctx, tx, now); err != nil {
		return err
	}

	for _, dc := range devices {
		d, err := tx.GetDevice(ctx, dc.Hostname)
		if err != nil {
			return fmt.Errorf("get device %s: %w", dc.Hostname, err)
		}
		if d == nil {
			d = &model.Device{
				Hostname:      dc.Hostname,
				DeviceType:    dc.DeviceType,
				Status:        model.DeviceIdle,
				HealthStatus:  model.HealthUnknown,
				WorkerHost:    t.hostname,
				LastHeartbeat: &now,
				IsPublic:      dc.IsPublic(),
				User:          dc.User,
				Group:         dc.Group,
			}
			if err := tx.CreateDevice(ctx, d); err != nil {
				return fmt.Errorf("create device %s: %w", dc.Hostname, err)
			}
			t.logger.Info("configured device added", "hostname", d.Hostname, "device_type", d.DeviceType)
			continue
		}
		if d.Status == model.DeviceRetired {
			continue
		}
		d.WorkerHost = t.hostname
		d.LastHeartbeat = &now
		if err := tx.UpdateDevice(ctx, d); err != nil {
			return fmt.Errorf("update device %s: %w", d.Hostname, err)
		}
		t.logger.Debug("device heartbeat", "hostname", d.Hostname)
	}
	return nil
}

func (t *Tracker) workerHeartbeat(ctx context.Context, tx store.Tx, now time.Time) error {
	w, err := tx.GetWorker(ctx, t.hostname)
	if err != nil {
		return fmt.Errorf("get worker %s: %w", t.hostname, err)
	}
	info := t.hostInfo()
	if w == nil {
		w = &model.Worker{
			Hostname:      t.hostname,
			State:         model.WorkerStateOnline,
			LastHeartbeat: now,
			Uptime:        info.Uptime,
			Arch:          info.Arch,
			Platform:      info.Platform,
			HardwareInfo:  info.Hardware,
		}
		if err := tx.CreateWorker(ctx, w); err != nil {
			return fmt.Errorf("create worker %s: %w", t.hostname, err)
		}
		t.logger.Info("worker host added", "hostname", t.hostname, "arch", info.Arch, "platform", info.Platform)
		return nil
	}
	w.Uptime = info.Uptime
	w.LastHeartbeat = now
	if err := tx.UpdateWorker(ctx, w); err != nil {
		return fmt.Errorf("update worker %s: %w", t.hostname, err)
	}
	return nil
}

// UpdateStaleness recomputes Device.Heartbeat and Worker.State from the
// last heartbeat timestamps. Only rows whose flag changes are written.
func (t *Tracker) UpdateStaleness(ctx context.Context, tx store.Tx) error {
	now := t.now()

	devices, err := tx.ListDevices(ctx, store.DeviceFilter{})
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	for _, d := range devices {
		alive := d.LastHeartbeat != nil && now.Sub(*d.LastHeartbeat) < t.deviceTimeout
		if alive == d.Heartbeat {
			continue
		}
		d.Heartbeat = alive
		if err := tx.UpdateDevice(ctx, d); err != nil {
			return fmt.Errorf("update device %s: %w", d.Hostname, err)
		}
		t.logger.Info("device heartbeat changed", "hostname", d.Hostname, "heartbeat", alive)
	}

	workers, err := tx.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	for _, w := range workers {
		next := model.WorkerStateOffline
		if now.Sub(w.LastHeartbeat) < t.workerTimeout {
			next = model.WorkerStateOnline
		}
		if !w.State.CanTransitionTo(next) {
			continue
		}
		w.State = next
		if err := tx.UpdateWorker(ctx, w); err != nil {
			return fmt.Errorf("update worker %s: %w", w.Hostname, err)
		}
		t.logger.Info("worker state changed", "hostname", w.Hostname, "state", next)
	}
	return nil
}
