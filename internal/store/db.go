// Package store provides the relational store behind every workspace-scoped
// record. SQLite (modernc) is the embedded default; Postgres (lib/pq) is used
// in production. Both run the same SQL through sqlx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/logging"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects the database and tunes its connection pool.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps a sqlx connection pool with migration support.
type DB struct {
	x      *sqlx.DB
	driver string
	log    *logging.Logger
}

// Open connects to the configured database and runs pending migrations.
// A sqlite DSN of ":memory:" gives a private in-memory database (tests).
func Open(opts Options, log *logging.Logger) (*DB, error) {
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}

	var (
		x   *sqlx.DB
		err error
	)
	switch opts.Driver {
	case DriverSQLite:
		x, err = openSQLite(opts)
	case DriverPostgres:
		x, err = openPostgres(opts)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	db := &DB{x: x, driver: opts.Driver, log: log.Sub("store")}

	if err := db.migrate(context.Background()); err != nil {
		x.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.log.Info().Str("driver", opts.Driver).Msg("database opened")
	return db, nil
}

func openSQLite(opts Options) (*sqlx.DB, error) {
	path := opts.DSN
	memory := path == "" || path == ":memory:"
	if memory {
		path = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if !memory {
		// WAL mode for better concurrent read performance. Transactions take
		// the write lock up front so concurrent writers queue on busy_timeout
		// instead of failing a read-to-write upgrade.
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_txlock=immediate")
	}
	x, err := sqlx.Open("sqlite", path+"?"+strings.Join(pragmas, "&"))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	if memory {
		// Every connection to :memory: is a separate database; pin one.
		x.SetMaxOpenConns(1)
		x.SetMaxIdleConns(1)
		x.SetConnMaxLifetime(0)
	} else {
		applyPool(x, opts)
	}
	if err := x.Ping(); err != nil {
		x.Close()
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	return x, nil
}

func openPostgres(opts Options) (*sqlx.DB, error) {
	if opts.DSN == "" {
		return nil, errors.New("postgres driver requires a dsn")
	}
	x, err := sqlx.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	applyPool(x, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := x.PingContext(ctx); err != nil {
		x.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return x, nil
}

func applyPool(x *sqlx.DB, opts Options) {
	if opts.MaxOpenConns > 0 {
		x.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		x.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		x.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.log.Info().Msg("closing database")
	return db.x.Close()
}

// Driver returns the configured driver name.
func (db *DB) Driver() string { return db.driver }

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.x.PingContext(ctx)
}

// q rewrites ?-placeholders for the active driver.
func (db *DB) q(query string) string {
	if db.driver == DriverPostgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// inTx runs fn inside a transaction, rolling back on error.
func (db *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.x.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// notFound maps sql.ErrNoRows to domain.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// Timestamps are stored as unix microseconds so both drivers compare them
// numerically.
func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
