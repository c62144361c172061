package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// schema contains the DDL for all scheduler tables. The statements are
// valid for both SQLite and PostgreSQL and use IF NOT EXISTS so Migrate
// can run on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		username     TEXT PRIMARY KEY,
		email        TEXT NOT NULL DEFAULT '',
		groups_json  TEXT NOT NULL DEFAULT '[]',
		is_superuser BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS auth_tokens (
		id         TEXT PRIMARY KEY,
		secret     TEXT NOT NULL UNIQUE,
		username   TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS workers (
		hostname       TEXT PRIMARY KEY,
		state          TEXT NOT NULL DEFAULT 'online',
		last_heartbeat TEXT NOT NULL,
		uptime         TEXT NOT NULL DEFAULT '',
		arch           TEXT NOT NULL DEFAULT '',
		platform       TEXT NOT NULL DEFAULT '',
		hardware_info  TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT ''
	)`,

	// current_job is NULL when the device is free. The UNIQUE constraint
	// guarantees a job is bound to at most one device.
	`CREATE TABLE IF NOT EXISTS devices (
		hostname               TEXT PRIMARY KEY,
		device_type            TEXT NOT NULL,
		status                 TEXT NOT NULL DEFAULT 'IDLE',
		health_status          TEXT NOT NULL DEFAULT 'UNKNOWN',
		current_job            TEXT UNIQUE,
		last_health_report_job TEXT,
		worker_host            TEXT NOT NULL DEFAULT '',
		heartbeat              BOOLEAN NOT NULL DEFAULT FALSE,
		last_heartbeat         TEXT,
		is_public              BOOLEAN NOT NULL DEFAULT TRUE,
		owner_user             TEXT NOT NULL DEFAULT '',
		owner_group            TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS test_jobs (
		id                    TEXT PRIMARY KEY,
		description           TEXT NOT NULL DEFAULT '',
		status                TEXT NOT NULL DEFAULT 'SUBMITTED',
		submitter             TEXT NOT NULL DEFAULT '',
		priority              INTEGER NOT NULL DEFAULT 50,
		health_check          BOOLEAN NOT NULL DEFAULT FALSE,
		requested_device      TEXT NOT NULL DEFAULT '',
		requested_device_type TEXT NOT NULL DEFAULT '',
		actual_device         TEXT,
		is_multinode          BOOLEAN NOT NULL DEFAULT FALSE,
		target_group          TEXT NOT NULL DEFAULT '',
		submit_token          TEXT NOT NULL DEFAULT '',
		definition            TEXT NOT NULL DEFAULT '{}',
		output_dir            TEXT NOT NULL DEFAULT '',
		log_file              TEXT NOT NULL DEFAULT '',
		results_link          TEXT NOT NULL DEFAULT '',
		results_bundle        TEXT NOT NULL DEFAULT '',
		failure_comment       TEXT NOT NULL DEFAULT '',
		submit_time           TEXT NOT NULL,
		start_time            TEXT,
		end_time              TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS device_state_transitions (
		id         TEXT PRIMARY KEY,
		device     TEXT NOT NULL,
		old_state  TEXT NOT NULL,
		new_state  TEXT NOT NULL,
		job        TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		message    TEXT NOT NULL DEFAULT '',
		created_on TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_test_jobs_status ON test_jobs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_test_jobs_target_group ON test_jobs(target_group)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status)`,
	`CREATE INDEX IF NOT EXISTS idx_transitions_device ON device_state_transitions(device, created_on)`,

	// At most one live job may hold a given device.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_test_jobs_live_device ON test_jobs(actual_device)
		WHERE actual_device IS NOT NULL AND status IN ('SUBMITTED', 'RUNNING', 'CANCELING')`,
}

// migrate runs all schema DDL statements in order.
func migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
