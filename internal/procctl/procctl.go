// Package procctl manages the pid marker file a dispatch process leaves
// in its job output directory and terminates its process group.
package procctl

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MarkerName is the file in a job's output directory holding the process
// group id of the dispatch process.
const MarkerName = "jobpid"

// SignalFunc delivers a termination signal to a process group.
type SignalFunc func(pgid int) error

// Killer terminates dispatch processes of canceled jobs. Killing is best
// effort: a single SIGTERM to the process group, no wait and no retry.
type Killer struct {
	signal SignalFunc
	logger *slog.Logger
}

// NewKiller returns a Killer that signals with SIGTERM.
func NewKiller(logger *slog.Logger) *Killer {
	return NewKillerWithSignal(terminateGroup, logger)
}

// NewKillerWithSignal returns a Killer using signal instead of SIGTERM.
func NewKillerWithSignal(signal SignalFunc, logger *slog.Logger) *Killer {
	return &Killer{
		signal: signal,
		logger: logger.With("component", "procctl"),
	}
}

// MarkerPath returns the marker file path for outputDir.
func MarkerPath(outputDir string) string {
	return filepath.Join(outputDir, MarkerName)
}

// WriteMarker records pgid in outputDir.
func WriteMarker(outputDir string, pgid int) error {
	return os.WriteFile(MarkerPath(outputDir), []byte(strconv.Itoa(pgid)+"\n"), 0o644)
}

// ReadMarker returns the process group id recorded in outputDir.
func ReadMarker(outputDir string) (int, error) {
	data, err := os.ReadFile(MarkerPath(outputDir))
	if err != nil {
		return 0, err
	}
	pgid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", MarkerPath(outputDir), err)
	}
	if pgid <= 1 {
		return 0, fmt.Errorf("refusing to signal process group %d", pgid)
	}
	return pgid, nil
}

// Kill signals the process group recorded for jobID in outputDir and
// removes the marker. It reports whether a signal was delivered. Failures
// are logged and never returned.
func (k *Killer) Kill(jobID, outputDir string) bool {
	pgid, err := ReadMarker(outputDir)
	if errors.Is(err, fs.ErrNotExist) {
		k.logger.Info("no pid marker for job, nothing to kill", "job_id", jobID, "output_dir", outputDir)
		return false
	}
	if err != nil {
		k.logger.Info("unusable pid marker", "job_id", jobID, "error", err)
		k.removeMarker(jobID, outputDir)
		return false
	}

	delivered := true
	if err := k.signal(pgid); err != nil {
		k.logger.Info("signal failed, process probably already gone", "job_id", jobID, "pgid", pgid, "error", err)
		delivered = false
	} else {
		k.logger.Info("sent SIGTERM to job process group", "job_id", jobID, "pgid", pgid)
	}
	k.removeMarker(jobID, outputDir)
	return delivered
}

func (k *Killer) removeMarker(jobID, outputDir string) {
	if err := os.Remove(MarkerPath(outputDir)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		k.logger.Warn("remove pid marker", "job_id", jobID, "error", err)
	}
}
