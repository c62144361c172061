package scheduler

import (
	"context"
	"fmt"

	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

// cancelSweep finishes CANCELING jobs whose device is driven by host: the
// dispatch process group is signalled, the device is forced IDLE and the
// job is marked CANCELED. Jobs on other hosts are left to their worker.
func (s *JobSource) cancelSweep(ctx context.Context, tx store.Tx, host string) error {
	jobs, err := tx.ListJobs(ctx, store.JobFilter{Statuses: []model.JobStatus{model.JobCanceling}})
	if err != nil {
		return fmt.Errorf("list canceling jobs: %w", err)
	}
	if len(jobs) > 0 {
		s.logger.Debug("jobs in canceling status", "count", len(jobs))
	}

	for _, j := range jobs {
		if j.ActualDevice == "" {
			continue
		}
		d, err := tx.GetDevice(ctx, j.ActualDevice)
		if err != nil {
			return fmt.Errorf("get device %s: %w", j.ActualDevice, err)
		}
		if d == nil || d.WorkerHost != host {
			continue
		}

		s.killer.Kill(j.ID, j.OutputDir)

		if d.Status.IsBusy() && (d.CurrentJob == "" || d.CurrentJob == j.ID) {
			s.logger.Info("transitioning device to idle", "hostname", d.Hostname, "job_id", j.ID)
			if err := s.transition(ctx, tx, d, d.Status, model.DeviceIdle, j.ID,
				fmt.Sprintf("Worker %s cancelled job: %s", host, j.ID)); err != nil {
				return err
			}
			d.Status = model.DeviceIdle
			d.CurrentJob = ""
			if err := tx.UpdateDevice(ctx, d); err != nil {
				return fmt.Errorf("update device %s: %w", d.Hostname, err)
			}
		}

		now := s.now()
		j.Status = model.JobCanceled
		j.EndTime = &now
		if err := releaseToken(ctx, tx, j); err != nil {
			return err
		}
		if err := tx.UpdateJob(ctx, j); err != nil {
			return fmt.Errorf("update job %s: %w", j.ID, err)
		}
		s.metrics.cancellations.Inc()
		s.logger.Info("job canceled", "job_id", j.ID, "hostname", d.Hostname)
	}
	return nil
}
