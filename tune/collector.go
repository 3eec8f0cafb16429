package tune

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
)

// ErrPerformanceSchemaDisabled is returned when the target server runs with
// performance_schema = OFF and digest collection is impossible.
var ErrPerformanceSchemaDisabled = errors.New("performance_schema is disabled on the target server")

// Collector reads diagnostic data from a MySQL server. All methods are
// read-only except ExplainAnalyzeQuery, which executes the statement it
// explains.
type Collector struct {
	db  *sql.DB
	cfg *Config
}

// Open connects to the server described by cfg and returns a Collector.
func Open(cfg *Config) (*Collector, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, errors.Annotate(err, "open mysql connection")
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewCollector(db, cfg), nil
}

// NewCollector wraps an existing database handle. Tests use this with a mock
// driver.
func NewCollector(db *sql.DB, cfg *Config) *Collector {
	return &Collector{db: db, cfg: cfg}
}

// Ping verifies the connection.
func (c *Collector) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.Annotate(err, "ping")
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Collector) Close() error {
	return errors.Trace(c.db.Close())
}

// ServerVersion returns the server version string, e.g. "8.0.36".
func (c *Collector) ServerVersion(ctx context.Context) (string, error) {
	var version string
	err := c.db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version)
	if err != nil {
		return "", errors.Annotate(err, "query server version")
	}
	return version, nil
}

// PerformanceSchemaEnabled reports whether the server has performance_schema
// instrumentation available.
func (c *Collector) PerformanceSchemaEnabled(ctx context.Context) (bool, error) {
	var enabled int
	err := c.db.QueryRowContext(ctx, "SELECT @@global.performance_schema").Scan(&enabled)
	if err != nil {
		return false, errors.Annotate(err, "query @@global.performance_schema")
	}
	return enabled == 1, nil
}

// requirePerformanceSchema gates collectors that read performance_schema
// tables so they fail with a typed error instead of a bare table-missing one.
func (c *Collector) requirePerformanceSchema(ctx context.Context) error {
	ok, err := c.PerformanceSchemaEnabled(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !ok {
		return ErrPerformanceSchemaDisabled
	}
	return nil
}

// picoToDuration converts a performance_schema picosecond timer value to a
// Duration. Timer columns overflow int64 nanoseconds only after ~292 years
// of accumulated wait, so the division is safe.
func picoToDuration(ps uint64) time.Duration {
	return time.Duration(ps / 1000)
}

// nullString returns the string value or "" for SQL NULL.
func nullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
