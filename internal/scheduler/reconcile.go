package scheduler

import (
	"context"
	"fmt"

	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

// reconcile repairs devices left inconsistent by a lost dispatcher
// connection, using the status of the job bound to each device. Devices
// that are already consistent are not written, so repeated passes are
// no-ops.
func (s *JobSource) reconcile(ctx context.Context, tx store.Tx) error {
	devices, err := tx.ListDevices(ctx, store.DeviceFilter{})
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	for _, d := range devices {
		if err := s.reconcileDevice(ctx, tx, d); err != nil {
			return fmt.Errorf("device %s: %w", d.Hostname, err)
		}
	}
	return nil
}

func (s *JobSource) reconcileDevice(ctx context.Context, tx store.Tx, d *model.Device) error {
	var job *model.TestJob
	if d.CurrentJob != "" {
		var err error
		if job, err = tx.GetJob(ctx, d.CurrentJob); err != nil {
			return fmt.Errorf("get job %s: %w", d.CurrentJob, err)
		}
		if job == nil {
			s.logger.Error("device bound to a missing job", "hostname", d.Hostname, "job_id", d.CurrentJob)
		}
	}
	ended := d.CurrentJob != "" && (job == nil || job.Status.IsTerminal())

	old := d.Status
	next := old
	switch old {
	case model.DeviceRunning, model.DeviceOfflining:
		if d.CurrentJob != "" && !ended {
			return nil
		}
		next, _ = old.Released()
	case model.DeviceReserved:
		switch {
		case d.CurrentJob == "":
			s.logger.Error("reserved device has no job", "hostname", d.Hostname)
			next = model.DeviceIdle
		case ended:
			next = model.DeviceIdle
		case job.Status == model.JobRunning:
			next = model.DeviceRunning
		default:
			return nil
		}
	default:
		if !ended {
			return nil
		}
	}

	s.logger.Debug("repairing device status", "hostname", d.Hostname, "from", old, "to", next, "job_id", d.CurrentJob)
	msg := ""
	if d.CurrentJob != "" {
		msg = "Job: " + d.CurrentJob
	}
	if err := s.transition(ctx, tx, d, old, next, d.CurrentJob, msg); err != nil {
		return err
	}
	d.Status = next
	if ended {
		d.CurrentJob = ""
		if job != nil {
			if err := s.recordHealth(ctx, tx, d, job); err != nil {
				return err
			}
		}
	}
	if err := tx.UpdateDevice(ctx, d); err != nil {
		return fmt.Errorf("update device %s: %w", d.Hostname, err)
	}
	return nil
}

// recordHealth updates d's health bookkeeping from a finished health-check
// job. A failed health check puts the device into maintenance. Devices in
// LOOPING mode keep their health status. d is not persisted.
func (s *JobSource) recordHealth(ctx context.Context, tx store.Tx, d *model.Device, j *model.TestJob) error {
	if !j.HealthCheck {
		return nil
	}
	d.LastHealthReportJob = j.ID
	if d.HealthStatus == model.HealthLooping {
		return nil
	}
	switch j.Status {
	case model.JobComplete:
		d.HealthStatus = model.HealthPass
	case model.JobIncomplete:
		d.HealthStatus = model.HealthFail
		next := d.Status.Maintenance()
		s.logger.Warn("health check failed, device entering maintenance", "hostname", d.Hostname, "job_id", j.ID, "status", next)
		if next == d.Status {
			return nil
		}
		if err := s.transition(ctx, tx, d, d.Status, next, j.ID, "Health Check Job Failed"); err != nil {
			return err
		}
		d.Status = next
	}
	return nil
}
