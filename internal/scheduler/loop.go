package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

// JobLister produces the dispatch-ready job list for one cycle.
type JobLister interface {
	GetJobList(ctx context.Context) ([]*model.TestJob, error)
}

// Handler receives the dispatch-ready jobs of every successful cycle.
type Handler interface {
	Dispatch(ctx context.Context, jobs []*model.TestJob) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, jobs []*model.TestJob) error

// Dispatch calls f.
func (f HandlerFunc) Dispatch(ctx context.Context, jobs []*model.TestJob) error {
	return f(ctx, jobs)
}

// LogHandler logs each ready job. Dispatch workers pull the same list over
// HTTP; the loop keeps reconciliation, health checks and reservations
// moving between their polls.
func LogHandler(logger *slog.Logger) Handler {
	logger = logger.With("component", "dispatch")
	return HandlerFunc(func(_ context.Context, jobs []*model.TestJob) error {
		for _, j := range jobs {
			s := model.Summarize(j)
			logger.Info("job ready for dispatch", "job_id", s.ID, "device", s.Device,
				"priority", s.Priority, "health_check", s.HealthCheck, "group", s.TargetGroup)
		}
		return nil
	})
}

// Loop runs scheduling cycles on a fixed interval.
type Loop struct {
	source   JobLister
	handler  Handler
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewLoop creates a new scheduler loop.
func NewLoop(source JobLister, interval time.Duration, handler Handler, logger *slog.Logger) *Loop {
	return &Loop{
		source:   source,
		handler:  handler,
		interval: interval,
		logger:   logger.With("component", "loop"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs a cycle immediately and then on every tick. Blocks until ctx
// is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("scheduler started", "poll_interval", l.interval)
	defer close(l.doneCh)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			return nil
		case <-ticker.C:
			l.runTick(ctx)
		}
	}
}

// Stop shuts down the loop and waits for the current tick to finish.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
	return nil
}

func (l *Loop) runTick(ctx context.Context) {
	err := l.Tick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrTransient):
		l.logger.Warn("database unavailable, retrying next tick", "error", err)
	default:
		l.logger.Error("tick error", "error", err)
	}
}

// Tick runs a single scheduling iteration.
func (l *Loop) Tick(ctx context.Context) error {
	// Phase 1: Build the dispatch-ready list in one transaction.
	jobs, err := l.source.GetJobList(ctx)
	if err != nil {
		return fmt.Errorf("phase 1 (job list): %w", err)
	}

	// Phase 2: Hand the list to the dispatcher.
	if len(jobs) == 0 {
		return nil
	}
	if err := l.handler.Dispatch(ctx, jobs); err != nil {
		return fmt.Errorf("phase 2 (dispatch): %w", err)
	}
	return nil
}
