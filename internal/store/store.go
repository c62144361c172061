package store

import (
	"context"
	"errors"

	"github.com/fullvlad/lava-server/pkg/model"
)

var (
	// ErrNotFound is returned by lookups that must find a row.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write loses against a concurrent
	// writer: a uniqueness violation or a conditional update that matched
	// no row. Callers treat it as "try something else", not a failure.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks errors caused by a lost or rejected database
	// connection. The connection pool has already been reset when it is
	// returned; the whole unit of work can be retried later.
	ErrTransient = errors.New("transient database error")
)

// Store is the transactional persistence layer of the scheduler.
type Store interface {
	// InTx runs fn inside a transaction. The transaction is committed if
	// fn returns nil and rolled back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Tx exposes the entity operations available inside a transaction.
// Lookups of a single row return (nil, nil) when the row does not exist.
type Tx interface {
	// Savepoint runs fn as a nested unit of work. If fn returns an error
	// its writes are rolled back and the error is returned; the enclosing
	// transaction stays usable.
	Savepoint(ctx context.Context, fn func() error) error

	// Devices
	CreateDevice(ctx context.Context, d *model.Device) error
	GetDevice(ctx context.Context, hostname string) (*model.Device, error)
	ListDevices(ctx context.Context, f DeviceFilter) ([]*model.Device, error)
	UpdateDevice(ctx context.Context, d *model.Device) error
	// ClaimDevice binds jobID to d and marks it RESERVED, provided the
	// stored row still has d.Status and no current job. Returns
	// ErrConflict if another writer got there first.
	ClaimDevice(ctx context.Context, d *model.Device, jobID string) error

	// Jobs
	CreateJob(ctx context.Context, j *model.TestJob) error
	GetJob(ctx context.Context, id string) (*model.TestJob, error)
	ListJobs(ctx context.Context, f JobFilter) ([]*model.TestJob, error)
	UpdateJob(ctx context.Context, j *model.TestJob) error

	// Transitions (append-only)
	CreateTransition(ctx context.Context, t *model.DeviceStateTransition) error
	LatestTransition(ctx context.Context, hostname string) (*model.DeviceStateTransition, error)
	ListTransitions(ctx context.Context, hostname string) ([]*model.DeviceStateTransition, error)

	// Workers
	CreateWorker(ctx context.Context, w *model.Worker) error
	GetWorker(ctx context.Context, hostname string) (*model.Worker, error)
	ListWorkers(ctx context.Context) ([]*model.Worker, error)
	UpdateWorker(ctx context.Context, w *model.Worker) error

	// Users and submit tokens
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, username string) (*model.User, error)
	CreateToken(ctx context.Context, t *model.AuthToken) error
	GetToken(ctx context.Context, id string) (*model.AuthToken, error)
	DeleteToken(ctx context.Context, id string) error
}

// DeviceFilter narrows ListDevices. Zero values match everything.
type DeviceFilter struct {
	Hostname   string
	DeviceType string
	Status     model.DeviceStatus
	Heartbeat  *bool
	Public     *bool
}

// JobFilter narrows ListJobs. Zero values match everything. Results are
// always ordered by health check first, then priority, then submit time.
type JobFilter struct {
	Statuses        []model.JobStatus
	TargetGroup     string
	ActualDevice    string
	RequestedDevice string
	HealthCheck     *bool
}

// Bool returns a pointer to b, for filter fields.
func Bool(b bool) *bool {
	return &b
}
