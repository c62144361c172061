// Package healthcheck submits synthetic jobs that validate idle devices.
package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fullvlad/lava-server/internal/config"
	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

// Generator decides which devices are due a health check and submits one.
type Generator struct {
	cfg    *config.Provider
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Generator reading device-type templates from cfg.
func New(cfg *config.Provider, logger *slog.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "healthcheck"),
	}
}

// SetClock overrides the time source.
func (g *Generator) SetClock(now func() time.Time) {
	g.now = now
}

// Generate submits a health-check job for every idle, alive device that
// needs one and returns the new jobs.
func (g *Generator) Generate(ctx context.Context, tx store.Tx) ([]*model.TestJob, error) {
	cfg := g.cfg.Get()
	now := g.now()

	devices, err := tx.ListDevices(ctx, store.DeviceFilter{Status: model.DeviceIdle, Heartbeat: store.Bool(true)})
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var created []*model.TestJob
	for _, d := range devices {
		tmpl, ok := cfg.HealthCheckTemplate(d.DeviceType)
		if !ok {
			continue
		}
		due, err := g.due(ctx, tx, d, cfg.HealthCheck.Interval, now)
		if err != nil {
			return nil, err
		}
		if !due {
			continue
		}
		pending, err := tx.ListJobs(ctx, store.JobFilter{
			Statuses:        model.LiveJobStatuses,
			RequestedDevice: d.Hostname,
			HealthCheck:     store.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("list health checks for %s: %w", d.Hostname, err)
		}
		if len(pending) > 0 {
			continue
		}

		job := &model.TestJob{
			ID:              uuid.New().String(),
			Description:     d.Hostname + " health check",
			Status:          model.JobSubmitted,
			Submitter:       cfg.HealthCheck.Submitter,
			Priority:        model.PriorityHigh,
			HealthCheck:     true,
			RequestedDevice: d.Hostname,
			Definition:      tmpl,
			SubmitTime:      now,
		}
		if err := tx.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create health check for %s: %w", d.Hostname, err)
		}
		g.logger.Info("health check submitted", "job_id", job.ID, "hostname", d.Hostname, "health", d.HealthStatus)
		created = append(created, job)
	}
	return created, nil
}

// due reports whether d needs a health check: its health is unknown or
// looping, it has never reported, its last report never finished, or the
// last report is older than interval.
func (g *Generator) due(ctx context.Context, tx store.Tx, d *model.Device, interval time.Duration, now time.Time) (bool, error) {
	switch d.HealthStatus {
	case model.HealthUnknown, model.HealthLooping:
		return true, nil
	}
	if d.LastHealthReportJob == "" {
		return true, nil
	}
	last, err := tx.GetJob(ctx, d.LastHealthReportJob)
	if err != nil {
		return false, fmt.Errorf("get last health report %s: %w", d.LastHealthReportJob, err)
	}
	if last == nil || last.EndTime == nil {
		return true, nil
	}
	return last.EndTime.Before(now.Add(-interval)), nil
}
