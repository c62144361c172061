// Package reservation binds idle devices to queued jobs.
//
// A claim is a single savepoint: the device row is moved to RESERVED with
// a conditional update, then the job is bound and its execution artifacts
// (output directory, log placeholder, submit token, resolved definition)
// are created. Losing the race for a device rolls the savepoint back and
// is reported as "not claimed", never as an error.
package reservation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fullvlad/lava-server/internal/config"
	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

// errSkip aborts a claim whose preconditions no longer hold.
var errSkip = errors.New("preconditions not met")

// Engine performs device reservations.
type Engine struct {
	cfg    *config.Provider
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Engine. Output directories are created under the
// configured output root.
func New(cfg *config.Provider, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "reservation"),
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// OutputDir returns the output directory of jobID.
func OutputDir(root, jobID string) string {
	return filepath.Join(root, "job-"+jobID)
}

// LogFileName returns the log placeholder name of jobID.
func LogFileName(jobID string) string {
	return "job-" + jobID + ".log"
}

// Reserve tries to bind device to job. It returns true if the claim
// succeeded; device and job are updated in place. Any precondition failure
// or a lost race returns false with a nil error.
func (e *Engine) Reserve(ctx context.Context, tx store.Tx, device *model.Device, job *model.TestJob) (bool, error) {
	var claimedDevice *model.Device
	var claimedJob *model.TestJob

	err := tx.Savepoint(ctx, func() error {
		d, err := tx.GetDevice(ctx, device.Hostname)
		if err != nil {
			return fmt.Errorf("get device %s: %w", device.Hostname, err)
		}
		j, err := tx.GetJob(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("get job %s: %w", job.ID, err)
		}
		if d == nil || j == nil {
			return errSkip
		}
		if j.ActualDevice != "" || d.Status == model.DeviceRunning || !d.Heartbeat || d.CurrentJob != "" {
			return errSkip
		}

		if err := tx.CreateTransition(ctx, &model.DeviceStateTransition{
			Device:    d.Hostname,
			OldState:  d.Status,
			NewState:  model.DeviceReserved,
			Job:       j.ID,
			Message:   "Job: " + j.ID,
			CreatedOn: e.now(),
		}); err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
		if err := tx.ClaimDevice(ctx, d, j.ID); err != nil {
			return err
		}

		if err := e.bind(ctx, tx, d, j); err != nil {
			return err
		}
		if err := tx.UpdateJob(ctx, j); err != nil {
			return fmt.Errorf("update job %s: %w", j.ID, err)
		}
		claimedDevice, claimedJob = d, j
		return nil
	})

	switch {
	case err == nil:
		*device = *claimedDevice
		*job = *claimedJob
		e.logger.Info("device reserved", "hostname", device.Hostname, "job_id", job.ID)
		return true, nil
	case errors.Is(err, errSkip):
		return false, nil
	case errors.Is(err, store.ErrConflict):
		e.logger.Info("job has been assigned to another board -- rolling back", "job_id", job.ID, "hostname", device.Hostname)
		return false, nil
	}
	return false, err
}

// bind sets the job's device and materializes its execution artifacts.
func (e *Engine) bind(ctx context.Context, tx store.Tx, d *model.Device, j *model.TestJob) error {
	j.ActualDevice = d.Hostname
	j.OutputDir = OutputDir(e.cfg.Get().OutputRoot, j.ID)
	logFile, err := createLogPlaceholder(j.OutputDir, j.ID)
	if err != nil {
		return err
	}
	j.LogFile = logFile

	tok, err := e.issueToken(ctx, tx, j.Submitter)
	if err != nil {
		return err
	}
	j.SubmitTokenID = tok.ID

	def, err := Materialize(j, tok.Secret)
	if err != nil {
		return fmt.Errorf("materialize definition of job %s: %w", j.ID, err)
	}
	j.Definition = def
	return nil
}

func (e *Engine) issueToken(ctx context.Context, tx store.Tx, username string) (*model.AuthToken, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	tok := &model.AuthToken{
		ID:        uuid.New().String(),
		Secret:    secret,
		Username:  username,
		CreatedAt: e.now(),
	}
	if err := tx.CreateToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return tok, nil
}

// createLogPlaceholder creates outputDir and an empty job log inside it,
// truncating any previous log.
func createLogPlaceholder(outputDir, jobID string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outputDir, LogFileName(jobID))
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return "", fmt.Errorf("create log file: %w", err)
	}
	return path, nil
}

// ResetOutput clears outputDir and recreates the empty job log.
func ResetOutput(outputDir, jobID string) (string, error) {
	if err := os.RemoveAll(outputDir); err != nil {
		return "", fmt.Errorf("clear output dir: %w", err)
	}
	return createLogPlaceholder(outputDir, jobID)
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
