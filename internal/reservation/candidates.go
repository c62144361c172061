package reservation

import (
	"context"
	"fmt"

	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

// Candidates returns the idle, alive devices job may be placed on, in the
// order they should be tried. An explicit device request yields at most
// that device. A device-type request prefers non-public devices the
// submitter may use and falls back to public devices only when there are
// none. Health checks bypass the access check.
func (e *Engine) Candidates(ctx context.Context, tx store.Tx, job *model.TestJob, user *model.User) ([]*model.Device, error) {
	allowed := func(d *model.Device) bool {
		return job.HealthCheck || d.CanSubmit(user)
	}

	switch {
	case job.RequestedDevice != "":
		devices, err := tx.ListDevices(ctx, store.DeviceFilter{
			Hostname:  job.RequestedDevice,
			Status:    model.DeviceIdle,
			Heartbeat: store.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("list requested device %s: %w", job.RequestedDevice, err)
		}
		return filter(devices, allowed), nil

	case job.RequestedDeviceType != "":
		owned, err := tx.ListDevices(ctx, store.DeviceFilter{
			DeviceType: job.RequestedDeviceType,
			Status:     model.DeviceIdle,
			Heartbeat:  store.Bool(true),
			Public:     store.Bool(false),
		})
		if err != nil {
			return nil, fmt.Errorf("list owned %s devices: %w", job.RequestedDeviceType, err)
		}
		if devices := filter(owned, allowed); len(devices) > 0 {
			return devices, nil
		}
		e.logger.Debug("no owned devices, checking public devices", "job_id", job.ID, "device_type", job.RequestedDeviceType)
		public, err := tx.ListDevices(ctx, store.DeviceFilter{
			DeviceType: job.RequestedDeviceType,
			Status:     model.DeviceIdle,
			Heartbeat:  store.Bool(true),
			Public:     store.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("list public %s devices: %w", job.RequestedDeviceType, err)
		}
		return filter(public, allowed), nil
	}
	return nil, nil
}

// Assign tries each candidate device for job in order and returns true as
// soon as one claim succeeds.
func (e *Engine) Assign(ctx context.Context, tx store.Tx, job *model.TestJob, user *model.User) (bool, error) {
	devices, err := e.Candidates(ctx, tx, job, user)
	if err != nil {
		return false, err
	}
	for _, d := range devices {
		ok, err := e.Reserve(ctx, tx, d, job)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func filter(devices []*model.Device, keep func(*model.Device) bool) []*model.Device {
	out := devices[:0]
	for _, d := range devices {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}
