package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fullvlad/lava-server/pkg/model"
)

type deviceRow struct {
	Hostname            string  `db:"hostname"`
	DeviceType          string  `db:"device_type"`
	Status              string  `db:"status"`
	HealthStatus        string  `db:"health_status"`
	CurrentJob          *string `db:"current_job"`
	LastHealthReportJob *string `db:"last_health_report_job"`
	WorkerHost          string  `db:"worker_host"`
	Heartbeat           bool    `db:"heartbeat"`
	LastHeartbeat       *string `db:"last_heartbeat"`
	IsPublic            bool    `db:"is_public"`
	OwnerUser           string  `db:"owner_user"`
	OwnerGroup          string  `db:"owner_group"`
}

const deviceColumns = `hostname, device_type, status, health_status, current_job, last_health_report_job,
	worker_host, heartbeat, last_heartbeat, is_public, owner_user, owner_group`

func (r *deviceRow) toModel() (*model.Device, error) {
	last, err := parseTimePtr(r.LastHeartbeat)
	if err != nil {
		return nil, fmt.Errorf("device %s last_heartbeat: %w", r.Hostname, err)
	}
	return &model.Device{
		Hostname:            r.Hostname,
		DeviceType:          r.DeviceType,
		Status:              model.DeviceStatus(r.Status),
		HealthStatus:        model.HealthStatus(r.HealthStatus),
		CurrentJob:          deref(r.CurrentJob),
		LastHealthReportJob: deref(r.LastHealthReportJob),
		WorkerHost:          r.WorkerHost,
		Heartbeat:           r.Heartbeat,
		LastHeartbeat:       last,
		IsPublic:            r.IsPublic,
		User:                r.OwnerUser,
		Group:               r.OwnerGroup,
	}, nil
}

func (t *sqlTx) CreateDevice(ctx context.Context, d *model.Device) error {
	t.logger.Debug("sql", "op", "insert", "table", "devices", "hostname", d.Hostname)

	if d.Status == "" {
		d.Status = model.DeviceIdle
	}
	if d.HealthStatus == "" {
		d.HealthStatus = model.HealthUnknown
	}
	_, err := t.exec(ctx,
		`INSERT INTO devices (`+deviceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Hostname, d.DeviceType, string(d.Status), string(d.HealthStatus),
		nullable(d.CurrentJob), nullable(d.LastHealthReportJob), d.WorkerHost,
		d.Heartbeat, formatTimePtr(d.LastHeartbeat), d.IsPublic, d.User, d.Group,
	)
	return err
}

func (t *sqlTx) GetDevice(ctx context.Context, hostname string) (*model.Device, error) {
	t.logger.Debug("sql", "op", "select", "table", "devices", "hostname", hostname)

	var row deviceRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(`SELECT `+deviceColumns+` FROM devices WHERE hostname = ?`), hostname)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (t *sqlTx) ListDevices(ctx context.Context, f DeviceFilter) ([]*model.Device, error) {
	t.logger.Debug("sql", "op", "select", "table", "devices", "status", f.Status)

	var where []string
	var args []any
	if f.Hostname != "" {
		where = append(where, "hostname = ?")
		args = append(args, f.Hostname)
	}
	if f.DeviceType != "" {
		where = append(where, "device_type = ?")
		args = append(args, f.DeviceType)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Heartbeat != nil {
		where = append(where, "heartbeat = ?")
		args = append(args, *f.Heartbeat)
	}
	if f.Public != nil {
		where = append(where, "is_public = ?")
		args = append(args, *f.Public)
	}

	query := `SELECT ` + deviceColumns + ` FROM devices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY hostname"

	var rows []deviceRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	devices := make([]*model.Device, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func (t *sqlTx) UpdateDevice(ctx context.Context, d *model.Device) error {
	t.logger.Debug("sql", "op", "update", "table", "devices", "hostname", d.Hostname, "status", d.Status)

	n, err := t.exec(ctx,
		`UPDATE devices SET device_type = ?, status = ?, health_status = ?, current_job = ?,
		 last_health_report_job = ?, worker_host = ?, heartbeat = ?, last_heartbeat = ?,
		 is_public = ?, owner_user = ?, owner_group = ?
		 WHERE hostname = ?`,
		d.DeviceType, string(d.Status), string(d.HealthStatus), nullable(d.CurrentJob),
		nullable(d.LastHealthReportJob), d.WorkerHost, d.Heartbeat, formatTimePtr(d.LastHeartbeat),
		d.IsPublic, d.User, d.Group, d.Hostname,
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("device %s: %w", d.Hostname, ErrNotFound)
	}
	return nil
}

func (t *sqlTx) ClaimDevice(ctx context.Context, d *model.Device, jobID string) error {
	t.logger.Debug("sql", "op", "claim", "table", "devices", "hostname", d.Hostname, "job_id", jobID)

	n, err := t.exec(ctx,
		`UPDATE devices SET status = ?, current_job = ?
		 WHERE hostname = ? AND status = ? AND current_job IS NULL`,
		string(model.DeviceReserved), jobID, d.Hostname, string(d.Status),
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("claim device %s: %w", d.Hostname, ErrConflict)
	}
	d.Status = model.DeviceReserved
	d.CurrentJob = jobID
	return nil
}
