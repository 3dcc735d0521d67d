// Package sqldb is the typed wrapper around the MySQL backend: connection
// setup, semaphore-gated statement execution, duplicate-key signalling and
// the table-exists probe. Everything above this package is dialect-agnostic;
// all MySQL strings live here or in the schema package.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"go.h2hdb.org/infra/go/skerr"
	"go.h2hdb.org/infra/go/sklog"
	"go.h2hdb.org/infra/h2hdb/go/config"
)

const (
	// mysqlErrDuplicateEntry is ER_DUP_ENTRY.
	mysqlErrDuplicateEntry = 1062

	pingInterval = time.Minute
)

// Sentinel errors, tested for with errors.Is. Callers treat both as control
// flow, not failures.
var (
	// ErrNotFound means a lookup returned no row.
	ErrNotFound = errors.New("no matching row")

	// ErrDuplicateKey means a write violated a unique index.
	ErrDuplicateKey = errors.New("duplicate key")
)

// DB is the shared database handle. All statement execution is gated by a
// semaphore sized to the worker limit so that a burst of parallel ingest
// tasks cannot exhaust the server's connection pool.
type DB struct {
	db  *sqlx.DB
	sem *semaphore.Weighted
}

// New connects to the configured MySQL server and pings it. A background
// goroutine keeps the connection fresh.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	mcfg := mysql.NewConfig()
	mcfg.Net = "tcp"
	mcfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mcfg.User = cfg.User
	mcfg.Passwd = cfg.Password
	mcfg.DBName = cfg.Database
	mcfg.ParseTime = false
	mcfg.MultiStatements = false

	db, err := sqlx.Open("mysql", mcfg.FormatDSN())
	if err != nil {
		return nil, skerr.Wrapf(err, "opening %s", mcfg.Addr)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, skerr.Wrapf(err, "pinging %s", mcfg.Addr)
	}
	ret := newFromSqlx(db)

	// Ping the database occasionally to keep the connection fresh.
	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := db.PingContext(ctx); err != nil {
					sklog.Warningf("Database failed to respond: %s", err)
				}
			}
		}
	}()
	return ret, nil
}

// NewForTest wraps an already-open *sql.DB (e.g. a sqlmock handle) for use
// in tests.
func NewForTest(db *sql.DB) *DB {
	return newFromSqlx(sqlx.NewDb(db, "sqlmock"))
}

func newFromSqlx(db *sqlx.DB) *DB {
	return &DB{
		db:  db,
		sem: semaphore.NewWeighted(int64(config.WorkerLimit())),
	}
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return skerr.Wrap(d.db.Close())
}

// Exec runs a statement under the DB semaphore. Duplicate-key violations
// are converted to ErrDuplicateKey so callers can errors.Is on them.
func (d *DB) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, skerr.Wrap(err)
	}
	defer d.sem.Release(1)
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, convertErr(err, query)
	}
	return res, nil
}

// Get runs a single-row query under the DB semaphore, scanning into dest.
// Absence of a row is reported as ErrNotFound.
func (d *DB) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return skerr.Wrap(err)
	}
	defer d.sem.Release(1)
	if err := d.db.GetContext(ctx, dest, query, args...); err != nil {
		return convertErr(err, query)
	}
	return nil
}

// Select runs a multi-row query under the DB semaphore, scanning into dest.
// Zero rows is not an error.
func (d *DB) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return skerr.Wrap(err)
	}
	defer d.sem.Release(1)
	if err := d.db.SelectContext(ctx, dest, query, args...); err != nil {
		return convertErr(err, query)
	}
	return nil
}

// TableExists reports whether the named table exists in the connected
// schema.
func (d *DB) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := d.Get(ctx, &n, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?`, table)
	if err != nil {
		return false, skerr.Wrap(err)
	}
	return n > 0, nil
}

// IsDuplicateKey returns true if err (anywhere in its chain) is a
// duplicate-key violation.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || isMySQLDup(err)
}

// IsNotFound returns true if err (anywhere in its chain) signals an absent
// row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func isMySQLDup(err error) bool {
	var merr *mysql.MySQLError
	return errors.As(err, &merr) && merr.Number == mysqlErrDuplicateEntry
}

func convertErr(err error, query string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return skerr.Wrapf(ErrNotFound, "query %.60s", query)
	}
	if isMySQLDup(err) {
		return skerr.Wrapf(ErrDuplicateKey, "query %.60s: %s", query, err)
	}
	return skerr.Wrapf(err, "query %.60s", query)
}
