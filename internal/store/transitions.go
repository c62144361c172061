package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fullvlad/lava-server/pkg/model"
)

type transitionRow struct {
	ID        string `db:"id"`
	Device    string `db:"device"`
	OldState  string `db:"old_state"`
	NewState  string `db:"new_state"`
	Job       string `db:"job"`
	CreatedBy string `db:"created_by"`
	Message   string `db:"message"`
	CreatedOn string `db:"created_on"`
}

const transitionColumns = `id, device, old_state, new_state, job, created_by, message, created_on`

func (r *transitionRow) toModel() (*model.DeviceStateTransition, error) {
	created, err := parseTime(r.CreatedOn)
	if err != nil {
		return nil, fmt.Errorf("transition %s created_on: %w", r.ID, err)
	}
	return &model.DeviceStateTransition{
		ID:        r.ID,
		Device:    r.Device,
		OldState:  model.DeviceStatus(r.OldState),
		NewState:  model.DeviceStatus(r.NewState),
		Job:       r.Job,
		CreatedBy: r.CreatedBy,
		Message:   r.Message,
		CreatedOn: created,
	}, nil
}

func (t *sqlTx) CreateTransition(ctx context.Context, tr *model.DeviceStateTransition) error {
	// Version 7 IDs increase monotonically, so they order transitions
	// that share a timestamp.
	if tr.ID == "" {
		tr.ID = "dst_" + uuid.Must(uuid.NewV7()).String()
	}
	t.logger.Debug("sql", "op", "insert", "table", "device_state_transitions",
		"device", tr.Device, "old", tr.OldState, "new", tr.NewState)

	_, err := t.exec(ctx,
		`INSERT INTO device_state_transitions (`+transitionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.Device, string(tr.OldState), string(tr.NewState), tr.Job,
		tr.CreatedBy, tr.Message, formatTime(tr.CreatedOn),
	)
	return err
}

func (t *sqlTx) LatestTransition(ctx context.Context, hostname string) (*model.DeviceStateTransition, error) {
	t.logger.Debug("sql", "op", "select", "table", "device_state_transitions", "device", hostname)

	var row transitionRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(
		`SELECT `+transitionColumns+` FROM device_state_transitions
		 WHERE device = ? ORDER BY created_on DESC, id DESC LIMIT 1`), hostname)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (t *sqlTx) ListTransitions(ctx context.Context, hostname string) ([]*model.DeviceStateTransition, error) {
	t.logger.Debug("sql", "op", "select", "table", "device_state_transitions", "device", hostname)

	var rows []transitionRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(
		`SELECT `+transitionColumns+` FROM device_state_transitions
		 WHERE device = ? ORDER BY created_on ASC, id ASC`), hostname); err != nil {
		return nil, err
	}
	out := make([]*model.DeviceStateTransition, 0, len(rows))
	for i := range rows {
		tr, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}
