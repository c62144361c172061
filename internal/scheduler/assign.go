package scheduler

import (
	"context"
	"fmt"

	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

// assignJobs submits due health checks, then walks the submitted queue in
// scheduling order and reserves devices. Jobs that already hold a device
// are passed through; each multinode group is processed once per cycle.
func (s *JobSource) assignJobs(ctx context.Context, tx store.Tx) ([]*model.TestJob, error) {
	if _, err := s.health.Generate(ctx, tx); err != nil {
		return nil, fmt.Errorf("health checks: %w", err)
	}

	pending, err := tx.ListJobs(ctx, store.JobFilter{Statuses: []model.JobStatus{model.JobSubmitted}})
	if err != nil {
		return nil, fmt.Errorf("list submitted jobs: %w", err)
	}

	var out []*model.TestJob
	seen := make(map[string]bool)
	add := func(j *model.TestJob) {
		if !seen[j.ID] {
			seen[j.ID] = true
			out = append(out, j)
		}
	}
	processedGroups := make(map[string]bool)

	for _, j := range pending {
		switch {
		case j.ActualDevice != "":
			add(j)

		case j.IsMultinode:
			if processedGroups[j.TargetGroup] {
				continue
			}
			processedGroups[j.TargetGroup] = true
			claimed, err := s.groups.ProcessGroup(ctx, tx, j)
			if err != nil {
				return nil, fmt.Errorf("group %s: %w", j.TargetGroup, err)
			}
			for _, c := range claimed {
				add(c)
			}
			s.metrics.reservations.Add(float64(len(claimed)))

		case j.RequestedDevice != "" || j.RequestedDeviceType != "":
			user, err := tx.GetUser(ctx, j.Submitter)
			if err != nil {
				return nil, fmt.Errorf("get submitter %s: %w", j.Submitter, err)
			}
			ok, err := s.engine.Assign(ctx, tx, j, user)
			if err != nil {
				return nil, fmt.Errorf("assign job %s: %w", j.ID, err)
			}
			if ok {
				s.metrics.reservations.Inc()
				add(j)
			}
		}
	}
	return out, nil
}
