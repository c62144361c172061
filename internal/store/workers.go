package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fullvlad/lava-server/pkg/model"
)

type workerRow struct {
	Hostname      string `db:"hostname"`
	State         string `db:"state"`
	LastHeartbeat string `db:"last_heartbeat"`
	Uptime        string `db:"uptime"`
	Arch          string `db:"arch"`
	Platform      string `db:"platform"`
	HardwareInfo  string `db:"hardware_info"`
	Description   string `db:"description"`
}

const workerColumns = `hostname, state, last_heartbeat, uptime, arch, platform, hardware_info, description`

func (r *workerRow) toModel() (*model.Worker, error) {
	hb, err := parseTime(r.LastHeartbeat)
	if err != nil {
		return nil, fmt.Errorf("worker %s last_heartbeat: %w", r.Hostname, err)
	}
	return &model.Worker{
		Hostname:      r.Hostname,
		State:         model.WorkerState(r.State),
		LastHeartbeat: hb,
		Uptime:        r.Uptime,
		Arch:          r.Arch,
		Platform:      r.Platform,
		HardwareInfo:  r.HardwareInfo,
		Description:   r.Description,
	}, nil
}

func (t *sqlTx) CreateWorker(ctx context.Context, w *model.Worker) error {
	t.logger.Debug("sql", "op", "insert", "table", "workers", "hostname", w.Hostname)

	if w.State == "" {
		w.State = model.WorkerStateOnline
	}
	_, err := t.exec(ctx,
		`INSERT INTO workers (`+workerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Hostname, string(w.State), formatTime(w.LastHeartbeat), w.Uptime,
		w.Arch, w.Platform, w.HardwareInfo, w.Description,
	)
	return err
}

func (t *sqlTx) GetWorker(ctx context.Context, hostname string) (*model.Worker, error) {
	t.logger.Debug("sql", "op", "select", "table", "workers", "hostname", hostname)

	var row workerRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(`SELECT `+workerColumns+` FROM workers WHERE hostname = ?`), hostname)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (t *sqlTx) ListWorkers(ctx context.Context) ([]*model.Worker, error) {
	t.logger.Debug("sql", "op", "select", "table", "workers")

	var rows []workerRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT `+workerColumns+` FROM workers ORDER BY hostname`); err != nil {
		return nil, err
	}
	workers := make([]*model.Worker, 0, len(rows))
	for i := range rows {
		w, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

func (t *sqlTx) UpdateWorker(ctx context.Context, w *model.Worker) error {
	t.logger.Debug("sql", "op", "update", "table", "workers", "hostname", w.Hostname)

	n, err := t.exec(ctx,
		`UPDATE workers SET state = ?, last_heartbeat = ?, uptime = ?, arch = ?, platform = ?,
		 hardware_info = ?, description = ? WHERE hostname = ?`,
		string(w.State), formatTime(w.LastHeartbeat), w.Uptime, w.Arch, w.Platform,
		w.HardwareInfo, w.Description, w.Hostname,
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("worker %s: %w", w.Hostname, ErrNotFound)
	}
	return nil
}
