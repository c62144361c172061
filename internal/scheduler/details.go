package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/fullvlad/lava-server/internal/reservation"
	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

// GetJobDetails marks a reserved job as started and returns its
// materialized definition. The device moves from RESERVED to RUNNING and
// the job's output directory is cleared.
func (s *JobSource) GetJobDetails(ctx context.Context, jobID string) (string, error) {
	var definition string
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		j, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("get job %s: %w", jobID, err)
		}
		if j == nil {
			return fmt.Errorf("job %s: %w", jobID, store.ErrNotFound)
		}
		if j.ActualDevice == "" {
			return fmt.Errorf("job %s: %w", jobID, ErrNoDevice)
		}
		if j.Status != model.JobRunning && !j.Status.CanTransitionTo(model.JobRunning) {
			return &model.InvalidTransitionError{
				Entity: "TestJob",
				ID:     j.ID,
				From:   string(j.Status),
				To:     string(model.JobRunning),
			}
		}

		d, err := tx.GetDevice(ctx, j.ActualDevice)
		if err != nil {
			return fmt.Errorf("get device %s: %w", j.ActualDevice, err)
		}
		if d == nil {
			return fmt.Errorf("device %s: %w", j.ActualDevice, store.ErrNotFound)
		}
		if d.Status == model.DeviceReserved {
			if err := s.transition(ctx, tx, d, d.Status, model.DeviceRunning, j.ID, "Job: "+j.ID); err != nil {
				return err
			}
			d.Status = model.DeviceRunning
			d.CurrentJob = j.ID
			if err := tx.UpdateDevice(ctx, d); err != nil {
				return fmt.Errorf("update device %s: %w", d.Hostname, err)
			}
		}

		now := s.now()
		j.Status = model.JobRunning
		j.StartTime = &now
		if j.OutputDir == "" {
			j.OutputDir = reservation.OutputDir(s.cfg.Get().OutputRoot, j.ID)
		}
		logFile, err := reservation.ResetOutput(j.OutputDir, j.ID)
		if err != nil {
			return fmt.Errorf("reset output of job %s: %w", j.ID, err)
		}
		j.LogFile = logFile
		if err := tx.UpdateJob(ctx, j); err != nil {
			return fmt.Errorf("update job %s: %w", j.ID, err)
		}
		definition = j.Definition
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("job started", "job_id", jobID)
	return definition, nil
}

// GetOutputDirForJobOnBoard returns the output directory of the job bound
// to hostname.
func (s *JobSource) GetOutputDirForJobOnBoard(ctx context.Context, hostname string) (string, error) {
	var dir string
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		j, err := s.deviceJob(ctx, tx, hostname)
		if err != nil {
			return err
		}
		dir = j.OutputDir
		return nil
	})
	return dir, err
}

// JobCheckForCancellation reports whether the job on hostname should stop:
// true unless the bound job is still RUNNING. A device without a job
// reports true.
func (s *JobSource) JobCheckForCancellation(ctx context.Context, hostname string) (bool, error) {
	cancel := true
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		j, err := s.deviceJob(ctx, tx, hostname)
		if err != nil {
			if errors.Is(err, ErrNoJob) {
				return nil
			}
			return err
		}
		cancel = j.Status != model.JobRunning
		return nil
	})
	if err != nil {
		return false, err
	}
	return cancel, nil
}

// deviceJob returns the current job of hostname, or ErrNoJob.
func (s *JobSource) deviceJob(ctx context.Context, tx store.Tx, hostname string) (*model.TestJob, error) {
	d, err := tx.GetDevice(ctx, hostname)
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", hostname, err)
	}
	if d == nil {
		return nil, fmt.Errorf("device %s: %w", hostname, store.ErrNotFound)
	}
	if d.CurrentJob == "" {
		return nil, fmt.Errorf("device %s: %w", hostname, ErrNoJob)
	}
	j, err := tx.GetJob(ctx, d.CurrentJob)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", d.CurrentJob, err)
	}
	if j == nil {
		return nil, fmt.Errorf("device %s: %w", hostname, ErrNoJob)
	}
	return j, nil
}
