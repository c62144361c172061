package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// timeLayout is fixed width and always UTC so stored timestamps sort
// lexically in both databases.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const defaultMaxIdleConns = 2

// SQLStore implements Store on SQLite or PostgreSQL.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	logger *slog.Logger
}

// Open dispatches on the DSN: postgres:// and postgresql:// URLs, or
// key=value strings containing host=, open PostgreSQL; anything else is
// treated as a SQLite path.
func Open(dsn string, logger *slog.Logger) (*SQLStore, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return NewPostgresStore(dsn, logger)
	}
	return NewSQLiteStore(dsn, logger)
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		// IMMEDIATE transactions take the write lock up front, so two
		// schedulers serialize on BEGIN instead of deadlocking on upgrade.
		dsn = "file:" + dbPath + "?_txlock=immediate&_pragma=busy_timeout(5000)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	db.SetMaxIdleConns(defaultMaxIdleConns)

	return &SQLStore{
		db:     db,
		driver: "sqlite",
		logger: logger.With("component", "store"),
	}, nil
}

// NewPostgresStore connects to PostgreSQL.
func NewPostgresStore(dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &SQLStore{
		db:     db,
		driver: "postgres",
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate", "driver", s.driver)
	return migrate(ctx, s.db)
}

// InTx runs fn in a transaction, committing iff fn returns nil. Transient
// connection errors reset the pool before being returned wrapped in
// ErrTransient.
func (s *SQLStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.checkTransient(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx, logger: s.logger}); err != nil {
		return s.checkTransient(err)
	}
	if err := tx.Commit(); err != nil {
		return s.checkTransient(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// checkTransient drops idle connections when err indicates a broken
// connection, so the next transaction dials a fresh one.
func (s *SQLStore) checkTransient(err error) error {
	if errors.Is(err, ErrTransient) || !isTransient(err) {
		return err
	}
	s.logger.Warn("database error, forcing reconnection on next access", "error", err)
	s.db.SetMaxIdleConns(0)
	s.db.SetMaxIdleConns(defaultMaxIdleConns)
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// sqlTx implements Tx on a *sqlx.Tx.
type sqlTx struct {
	tx     *sqlx.Tx
	logger *slog.Logger
	sp     int
}

func (t *sqlTx) Savepoint(ctx context.Context, fn func() error) error {
	t.sp++
	name := fmt.Sprintf("sp_%d", t.sp)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("release savepoint: %w", relErr))
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// exec runs a write and maps uniqueness violations to ErrConflict.
func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return 0, err
	}
	return res.RowsAffected()
}

// --- value helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullable maps "" to SQL NULL for columns where NULL means "none" and
// must not collide under a UNIQUE constraint.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
