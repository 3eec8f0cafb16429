package tune

import (
	"context"
	"time"

	"github.com/pingcap/errors"
)

// TableIOStat is one row from
// performance_schema.table_io_waits_summary_by_table.
type TableIOStat struct {
	Schema string
	Table  string

	ReadCount  uint64
	WriteCount uint64
	ReadTime   time.Duration
	WriteTime  time.Duration
	FetchCount uint64
	FetchTime  time.Duration
}

// TotalTime is the combined read and write wait.
func (t *TableIOStat) TotalTime() time.Duration {
	return t.ReadTime + t.WriteTime
}

// TableSize is one row from information_schema.TABLES for a user table.
type TableSize struct {
	Schema     string
	Table      string
	Engine     string
	RowsEst    uint64
	DataBytes  uint64
	IndexBytes uint64
}

// TotalBytes is the combined data and index footprint.
func (t *TableSize) TotalBytes() uint64 {
	return t.DataBytes + t.IndexBytes
}

// systemSchemaFilter excludes MySQL's own schemas from per-table collectors.
const systemSchemaFilter = `('mysql', 'sys', 'information_schema', 'performance_schema')`

// TableIOWaits returns per-table I/O wait aggregates for user tables, ranked
// by total wait time.
func (c *Collector) TableIOWaits(ctx context.Context, limit int) ([]TableIOStat, error) {
	if err := c.requirePerformanceSchema(ctx); err != nil {
		return nil, errors.Trace(err)
	}

	query := `SELECT
		OBJECT_SCHEMA, OBJECT_NAME,
		COUNT_READ, COUNT_WRITE, SUM_TIMER_READ, SUM_TIMER_WRITE,
		COUNT_FETCH, SUM_TIMER_FETCH
	FROM performance_schema.table_io_waits_summary_by_table
	WHERE OBJECT_SCHEMA NOT IN ` + systemSchemaFilter + `
	  AND COUNT_STAR > 0
	ORDER BY SUM_TIMER_WAIT DESC
	LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Annotate(err, "query table io waits")
	}
	defer rows.Close()

	var out []TableIOStat
	for rows.Next() {
		var (
			t       TableIOStat
			readPS  uint64
			writePS uint64
			fetchPS uint64
		)
		err := rows.Scan(
			&t.Schema, &t.Table,
			&t.ReadCount, &t.WriteCount, &readPS, &writePS,
			&t.FetchCount, &fetchPS,
		)
		if err != nil {
			return nil, errors.Annotate(err, "scan table io row")
		}
		t.ReadTime = picoToDuration(readPS)
		t.WriteTime = picoToDuration(writePS)
		t.FetchTime = picoToDuration(fetchPS)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "iterate table io rows")
	}
	return out, nil
}

// TableSizes returns size estimates for user tables, largest first.
// information_schema row counts are statistics-based estimates, not exact
// counts.
func (c *Collector) TableSizes(ctx context.Context, limit int) ([]TableSize, error) {
	query := `SELECT
		TABLE_SCHEMA, TABLE_NAME, COALESCE(ENGINE, ''),
		COALESCE(TABLE_ROWS, 0), COALESCE(DATA_LENGTH, 0), COALESCE(INDEX_LENGTH, 0)
	FROM information_schema.TABLES
	WHERE TABLE_SCHEMA NOT IN ` + systemSchemaFilter + `
	  AND TABLE_TYPE = 'BASE TABLE'
	ORDER BY DATA_LENGTH + INDEX_LENGTH DESC
	LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Annotate(err, "query table sizes")
	}
	defer rows.Close()

	var out []TableSize
	for rows.Next() {
		var t TableSize
		err := rows.Scan(&t.Schema, &t.Table, &t.Engine, &t.RowsEst, &t.DataBytes, &t.IndexBytes)
		if err != nil {
			return nil, errors.Annotate(err, "scan table size row")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "iterate table size rows")
	}
	return out, nil
}
