package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/fullvlad/lava-server/pkg/model"
)

type jobRow struct {
	ID                  string  `db:"id"`
	Description         string  `db:"description"`
	Status              string  `db:"status"`
	Submitter           string  `db:"submitter"`
	Priority            int     `db:"priority"`
	HealthCheck         bool    `db:"health_check"`
	RequestedDevice     string  `db:"requested_device"`
	RequestedDeviceType string  `db:"requested_device_type"`
	ActualDevice        *string `db:"actual_device"`
	IsMultinode         bool    `db:"is_multinode"`
	TargetGroup         string  `db:"target_group"`
	SubmitToken         string  `db:"submit_token"`
	Definition          string  `db:"definition"`
	OutputDir           string  `db:"output_dir"`
	LogFile             string  `db:"log_file"`
	ResultsLink         string  `db:"results_link"`
	ResultsBundle       string  `db:"results_bundle"`
	FailureComment      string  `db:"failure_comment"`
	SubmitTime          string  `db:"submit_time"`
	StartTime           *string `db:"start_time"`
	EndTime             *string `db:"end_time"`
}

const jobColumns = `id, description, status, submitter, priority, health_check, requested_device,
	requested_device_type, actual_device, is_multinode, target_group, submit_token, definition,
	output_dir, log_file, results_link, results_bundle, failure_comment, submit_time, start_time, end_time`

// jobOrder is the scheduling order: health checks first, then priority,
// then oldest submission.
const jobOrder = ` ORDER BY health_check DESC, priority DESC, submit_time ASC, id ASC`

func (r *jobRow) toModel() (*model.TestJob, error) {
	submit, err := parseTime(r.SubmitTime)
	if err != nil {
		return nil, fmt.Errorf("job %s submit_time: %w", r.ID, err)
	}
	start, err := parseTimePtr(r.StartTime)
	if err != nil {
		return nil, fmt.Errorf("job %s start_time: %w", r.ID, err)
	}
	end, err := parseTimePtr(r.EndTime)
	if err != nil {
		return nil, fmt.Errorf("job %s end_time: %w", r.ID, err)
	}
	return &model.TestJob{
		ID:                  r.ID,
		Description:         r.Description,
		Status:              model.JobStatus(r.Status),
		Submitter:           r.Submitter,
		Priority:            r.Priority,
		HealthCheck:         r.HealthCheck,
		RequestedDevice:     r.RequestedDevice,
		RequestedDeviceType: r.RequestedDeviceType,
		ActualDevice:        deref(r.ActualDevice),
		IsMultinode:         r.IsMultinode,
		TargetGroup:         r.TargetGroup,
		SubmitTokenID:       r.SubmitToken,
		Definition:          r.Definition,
		OutputDir:           r.OutputDir,
		LogFile:             r.LogFile,
		ResultsLink:         r.ResultsLink,
		ResultsBundle:       r.ResultsBundle,
		FailureComment:      r.FailureComment,
		SubmitTime:          submit,
		StartTime:           start,
		EndTime:             end,
	}, nil
}

func (t *sqlTx) CreateJob(ctx context.Context, j *model.TestJob) error {
	t.logger.Debug("sql", "op", "insert", "table", "test_jobs", "id", j.ID)

	if j.Status == "" {
		j.Status = model.JobSubmitted
	}
	if j.Definition == "" {
		j.Definition = "{}"
	}
	_, err := t.exec(ctx,
		`INSERT INTO test_jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Description, string(j.Status), j.Submitter, j.Priority, j.HealthCheck,
		j.RequestedDevice, j.RequestedDeviceType, nullable(j.ActualDevice), j.IsMultinode,
		j.TargetGroup, j.SubmitTokenID, j.Definition, j.OutputDir, j.LogFile, j.ResultsLink,
		j.ResultsBundle, j.FailureComment, formatTime(j.SubmitTime),
		formatTimePtr(j.StartTime), formatTimePtr(j.EndTime),
	)
	return err
}

func (t *sqlTx) GetJob(ctx context.Context, id string) (*model.TestJob, error) {
	t.logger.Debug("sql", "op", "select", "table", "test_jobs", "id", id)

	var row jobRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(`SELECT `+jobColumns+` FROM test_jobs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (t *sqlTx) ListJobs(ctx context.Context, f JobFilter) ([]*model.TestJob, error) {
	t.logger.Debug("sql", "op", "select", "table", "test_jobs", "statuses", f.Statuses)

	var where []string
	var args []any
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "status IN (?)")
		args = append(args, statuses)
	}
	if f.TargetGroup != "" {
		where = append(where, "target_group = ?")
		args = append(args, f.TargetGroup)
	}
	if f.ActualDevice != "" {
		where = append(where, "actual_device = ?")
		args = append(args, f.ActualDevice)
	}
	if f.RequestedDevice != "" {
		where = append(where, "requested_device = ?")
		args = append(args, f.RequestedDevice)
	}
	if f.HealthCheck != nil {
		where = append(where, "health_check = ?")
		args = append(args, *f.HealthCheck)
	}

	query := `SELECT ` + jobColumns + ` FROM test_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += jobOrder

	if len(f.Statuses) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("expand statuses: %w", err)
		}
	}

	var rows []jobRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	jobs := make([]*model.TestJob, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (t *sqlTx) UpdateJob(ctx context.Context, j *model.TestJob) error {
	t.logger.Debug("sql", "op", "update", "table", "test_jobs", "id", j.ID, "status", j.Status)

	n, err := t.exec(ctx,
		`UPDATE test_jobs SET description = ?, status = ?, submitter = ?, priority = ?, health_check = ?,
		 requested_device = ?, requested_device_type = ?, actual_device = ?, is_multinode = ?,
		 target_group = ?, submit_token = ?, definition = ?, output_dir = ?, log_file = ?,
		 results_link = ?, results_bundle = ?, failure_comment = ?, start_time = ?, end_time = ?
		 WHERE id = ?`,
		j.Description, string(j.Status), j.Submitter, j.Priority, j.HealthCheck,
		j.RequestedDevice, j.RequestedDeviceType, nullable(j.ActualDevice), j.IsMultinode,
		j.TargetGroup, j.SubmitTokenID, j.Definition, j.OutputDir, j.LogFile,
		j.ResultsLink, j.ResultsBundle, j.FailureComment,
		formatTimePtr(j.StartTime), formatTimePtr(j.EndTime), j.ID,
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", j.ID, ErrNotFound)
	}
	return nil
}
