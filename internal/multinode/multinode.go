// Package multinode coordinates jobs that share a target group: a group is
// dispatched only once every member holds a device, and reservations that
// keep an incomplete group waiting too long are released.
package multinode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fullvlad/lava-server/internal/reservation"
	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

// Coordinator implements group scheduling on top of a reservation Engine.
type Coordinator struct {
	engine  *reservation.Engine
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Coordinator. Reservations of an incomplete group older
// than timeout are released.
func New(engine *reservation.Engine, timeout time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		engine:  engine,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With("component", "multinode"),
	}
}

// SetClock overrides the time source.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// ProcessGroup tries to reserve a device for every unassigned, submitted
// member of job's target group and returns the members claimed now.
func (c *Coordinator) ProcessGroup(ctx context.Context, tx store.Tx, job *model.TestJob) ([]*model.TestJob, error) {
	if !job.IsMultinode || job.TargetGroup == "" {
		return nil, nil
	}
	members, err := tx.ListJobs(ctx, store.JobFilter{TargetGroup: job.TargetGroup})
	if err != nil {
		return nil, fmt.Errorf("list group %s: %w", job.TargetGroup, err)
	}

	var claimed []*model.TestJob
	for _, m := range members {
		if m.Status != model.JobSubmitted || m.ActualDevice != "" {
			continue
		}
		user, err := tx.GetUser(ctx, m.Submitter)
		if err != nil {
			return nil, fmt.Errorf("get submitter %s: %w", m.Submitter, err)
		}
		c.logger.Debug("checking devices for group member", "job_id", m.ID, "group", m.TargetGroup,
			"device_type", m.RequestedDeviceType, "submitter", m.Submitter)
		ok, err := c.engine.Assign(ctx, tx, m, user)
		if err != nil {
			return nil, err
		}
		if ok {
			claimed = append(claimed, m)
		}
	}
	return claimed, nil
}

// DelayIncompleteGroups removes from jobs every member of a multinode
// group in which some member has no device yet. On the master, stale
// reservations held by such groups are released. Order is preserved.
func (c *Coordinator) DelayIncompleteGroups(ctx context.Context, tx store.Tx, jobs []*model.TestJob, master bool) ([]*model.TestJob, error) {
	incomplete := make(map[string]bool)
	checked := make(map[string]bool)

	for _, j := range jobs {
		if !j.IsMultinode || j.TargetGroup == "" || checked[j.TargetGroup] {
			continue
		}
		checked[j.TargetGroup] = true

		members, err := tx.ListJobs(ctx, store.JobFilter{TargetGroup: j.TargetGroup})
		if err != nil {
			return nil, fmt.Errorf("list group %s: %w", j.TargetGroup, err)
		}
		withDevice := 0
		for _, m := range members {
			if m.ActualDevice != "" {
				withDevice++
			}
		}
		c.logger.Debug("group allocation", "group", j.TargetGroup, "size", len(members), "with_device", withDevice)
		if withDevice == len(members) {
			continue
		}
		incomplete[j.TargetGroup] = true
		if master {
			if err := c.releaseStale(ctx, tx, members); err != nil {
				return nil, err
			}
		}
	}

	out := make([]*model.TestJob, 0, len(jobs))
	for _, j := range jobs {
		if j.IsMultinode && incomplete[j.TargetGroup] {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// releaseStale releases every RESERVED device of the group if any of them
// has been reserved for longer than the timeout.
func (c *Coordinator) releaseStale(ctx context.Context, tx store.Tx, members []*model.TestJob) error {
	now := c.now()
	var oldest *model.DeviceStateTransition
	for _, m := range members {
		if m.ActualDevice == "" {
			continue
		}
		d, err := tx.GetDevice(ctx, m.ActualDevice)
		if err != nil {
			return fmt.Errorf("get device %s: %w", m.ActualDevice, err)
		}
		if d == nil || d.Status != model.DeviceReserved {
			continue
		}
		last, err := tx.LatestTransition(ctx, d.Hostname)
		if err != nil {
			return fmt.Errorf("latest transition of %s: %w", d.Hostname, err)
		}
		if last != nil && last.CreatedOn.Before(now.Add(-c.timeout)) {
			oldest = last
			break
		}
	}
	if oldest == nil {
		return nil
	}

	for _, m := range members {
		if m.ActualDevice == "" {
			continue
		}
		d, err := tx.GetDevice(ctx, m.ActualDevice)
		if err != nil {
			return fmt.Errorf("get device %s: %w", m.ActualDevice, err)
		}
		if d == nil || d.Status != model.DeviceReserved || d.CurrentJob != m.ID {
			continue
		}
		c.logger.Info("releasing device from incomplete group", "hostname", d.Hostname, "job_id", m.ID,
			"group", m.TargetGroup, "reserved", humanize.RelTime(oldest.CreatedOn, now, "ago", "from now"))

		if err := tx.CreateTransition(ctx, &model.DeviceStateTransition{
			Device:    d.Hostname,
			OldState:  d.Status,
			NewState:  model.DeviceIdle,
			Message:   fmt.Sprintf("Job: %s, Release device from scheduling", m.ID),
			CreatedOn: now,
		}); err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
		d.Status = model.DeviceIdle
		d.CurrentJob = ""
		if err := tx.UpdateDevice(ctx, d); err != nil {
			return fmt.Errorf("update device %s: %w", d.Hostname, err)
		}

		if m.SubmitTokenID != "" {
			if err := tx.DeleteToken(ctx, m.SubmitTokenID); err != nil {
				return fmt.Errorf("delete token of job %s: %w", m.ID, err)
			}
		}
		m.ActualDevice = ""
		m.SubmitTokenID = ""
		if err := tx.UpdateJob(ctx, m); err != nil {
			return fmt.Errorf("update job %s: %w", m.ID, err)
		}
	}
	return nil
}
