package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fullvlad/lava-server/internal/notify"
	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

// ResultBundleFile is the file in a job's output directory holding the
// link to its uploaded results.
const ResultBundleFile = "result-bundle"

// JobCompleted finalizes the job that ran on hostname: the device falls
// back to IDLE (or OFFLINE when it was being taken offline), the job gets
// its final status from exitCode, and health bookkeeping is applied. A
// completion notification is sent after commit; its outcome is only logged.
func (s *JobSource) JobCompleted(ctx context.Context, hostname string, exitCode int, killReason string) error {
	var done *model.TestJob
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		d, err := tx.GetDevice(ctx, hostname)
		if err != nil {
			return fmt.Errorf("get device %s: %w", hostname, err)
		}
		if d == nil {
			return fmt.Errorf("device %s: %w", hostname, store.ErrNotFound)
		}
		j, err := s.boundJob(ctx, tx, d)
		if err != nil {
			return err
		}
		if j == nil {
			s.logger.Warn("completion reported for a device without a job", "hostname", hostname, "exit_code", exitCode)
			return nil
		}

		old := d.Status
		switch old {
		case model.DeviceRunning, model.DeviceReserved:
			d.Status = model.DeviceIdle
		case model.DeviceOfflining:
			d.Status = model.DeviceOffline
		case model.DeviceIdle:
			s.logger.Warn("device already idle at completion", "hostname", hostname, "job_id", j.ID)
		default:
			s.logger.Error("unexpected device state at completion", "hostname", hostname, "status", old)
			d.Status = model.DeviceIdle
		}
		d.CurrentJob = ""

		switch j.Status {
		case model.JobRunning:
			if exitCode == 0 {
				j.Status = model.JobComplete
			} else {
				j.Status = model.JobIncomplete
			}
		case model.JobCanceling:
			j.Status = model.JobCanceled
		default:
			s.logger.Error("unexpected job state at completion", "job_id", j.ID, "status", j.Status)
			j.Status = model.JobComplete
		}
		if killReason != "" {
			j.FailureComment = killReason
		}

		if err := s.transition(ctx, tx, d, old, d.Status, j.ID, "Job: "+j.ID); err != nil {
			return err
		}
		if err := s.recordHealth(ctx, tx, d, j); err != nil {
			return err
		}
		s.readResultBundle(j)

		now := s.now()
		j.EndTime = &now
		if err := releaseToken(ctx, tx, j); err != nil {
			return err
		}
		if err := tx.UpdateDevice(ctx, d); err != nil {
			return fmt.Errorf("update device %s: %w", d.Hostname, err)
		}
		if err := tx.UpdateJob(ctx, j); err != nil {
			return fmt.Errorf("update job %s: %w", j.ID, err)
		}
		done = j
		return nil
	})
	if err != nil {
		return err
	}
	if done == nil {
		return nil
	}

	s.metrics.completions.WithLabelValues(string(done.Status)).Inc()
	s.logger.Info("job completed", "job_id", done.ID, "hostname", hostname, "status", done.Status, "exit_code", exitCode)

	res := s.notifier.Notify(ctx, notify.NewEvent(done, hostname))
	if res.Err != nil {
		s.logger.Warn("completion notification failed", res.LogAttrs()...)
	} else {
		s.logger.Debug("completion notification", res.LogAttrs()...)
	}
	return nil
}

// boundJob returns the job bound to d. When the device binding was already
// cleared, the live job still pointing at d is used instead.
func (s *JobSource) boundJob(ctx context.Context, tx store.Tx, d *model.Device) (*model.TestJob, error) {
	if d.CurrentJob != "" {
		j, err := tx.GetJob(ctx, d.CurrentJob)
		if err != nil {
			return nil, fmt.Errorf("get job %s: %w", d.CurrentJob, err)
		}
		if j != nil {
			return j, nil
		}
		s.logger.Error("device bound to a missing job", "hostname", d.Hostname, "job_id", d.CurrentJob)
	}
	live, err := tx.ListJobs(ctx, store.JobFilter{Statuses: model.LiveJobStatuses, ActualDevice: d.Hostname})
	if err != nil {
		return nil, fmt.Errorf("list jobs on %s: %w", d.Hostname, err)
	}
	if len(live) == 0 {
		return nil, nil
	}
	return live[0], nil
}

// readResultBundle sets the results link and bundle sha1 of j from the
// result-bundle file in its output directory. A missing or unreadable file
// leaves j unchanged.
func (s *JobSource) readResultBundle(j *model.TestJob) {
	if j.OutputDir == "" {
		return
	}
	data, err := os.ReadFile(filepath.Join(j.OutputDir, ResultBundleFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("cannot read result bundle", "job_id", j.ID, "error", err)
		}
		return
	}
	link := strings.TrimSpace(string(data))
	if link == "" {
		return
	}
	j.ResultsLink = link
	parts := strings.Split(strings.Trim(link, "/"), "/")
	j.ResultsBundle = parts[len(parts)-1]
}
