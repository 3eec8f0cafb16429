package tune

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pingcap/errors"
)

// StatementDigest is one aggregate row from
// performance_schema.events_statements_summary_by_digest. Timer columns are
// converted from picoseconds to Durations at scan time.
type StatementDigest struct {
	Schema     string
	Digest     string
	DigestText string

	Calls     uint64
	TotalTime time.Duration
	MinTime   time.Duration
	AvgTime   time.Duration
	MaxTime   time.Duration
	LockTime  time.Duration

	RowsSent     uint64
	RowsExamined uint64
	RowsAffected uint64

	Errors   uint64
	Warnings uint64

	TmpTables       uint64
	TmpDiskTables   uint64
	SelectFullJoin  uint64
	SelectScan      uint64
	SortMergePasses uint64
	NoIndexUsed     uint64
	NoGoodIndexUsed uint64

	FirstSeen time.Time
	LastSeen  time.Time
}

// ExaminedPerSent returns how many rows the server examined for each row it
// returned. Ratios far above 1 mean the access path is not selective.
func (d *StatementDigest) ExaminedPerSent() float64 {
	if d.RowsSent == 0 {
		if d.RowsExamined == 0 {
			return 0
		}
		return float64(d.RowsExamined)
	}
	return float64(d.RowsExamined) / float64(d.RowsSent)
}

// StatementSort selects the ranking column for top-statement collection.
type StatementSort string

const (
	SortByLatency    StatementSort = "latency"
	SortByAvgLatency StatementSort = "avg-latency"
	SortByCalls      StatementSort = "calls"
	SortByExamined   StatementSort = "rows-examined"
	SortByLockTime   StatementSort = "lock-time"
	SortByTmpDisk    StatementSort = "tmp-disk"
	SortByErrors     StatementSort = "errors"
)

// sortColumns maps each sort to its ORDER BY expression. Only values from
// this table ever reach the query text.
var sortColumns = map[StatementSort]string{
	SortByLatency:    "SUM_TIMER_WAIT",
	SortByAvgLatency: "AVG_TIMER_WAIT",
	SortByCalls:      "COUNT_STAR",
	SortByExamined:   "SUM_ROWS_EXAMINED",
	SortByLockTime:   "SUM_LOCK_TIME",
	SortByTmpDisk:    "SUM_CREATED_TMP_DISK_TABLES",
	SortByErrors:     "SUM_ERRORS",
}

const statementDigestColumns = `
	SCHEMA_NAME, DIGEST, DIGEST_TEXT,
	COUNT_STAR, SUM_TIMER_WAIT, MIN_TIMER_WAIT, AVG_TIMER_WAIT, MAX_TIMER_WAIT, SUM_LOCK_TIME,
	SUM_ROWS_SENT, SUM_ROWS_EXAMINED, SUM_ROWS_AFFECTED,
	SUM_ERRORS, SUM_WARNINGS,
	SUM_CREATED_TMP_TABLES, SUM_CREATED_TMP_DISK_TABLES,
	SUM_SELECT_FULL_JOIN, SUM_SELECT_SCAN, SUM_SORT_MERGE_PASSES,
	SUM_NO_INDEX_USED, SUM_NO_GOOD_INDEX_USED,
	FIRST_SEEN, LAST_SEEN`

// TopStatementsByLatency returns the top statements ranked by total latency,
// the default view of the workload.
func (c *Collector) TopStatementsByLatency(ctx context.Context, limit int) ([]StatementDigest, error) {
	return c.TopStatementsBy(ctx, SortByLatency, limit)
}

// TopStatementsBy returns the top statements ranked by the given sort.
// Rows without a digest (instrumentation truncation) are skipped server-side.
func (c *Collector) TopStatementsBy(ctx context.Context, sort StatementSort, limit int) ([]StatementDigest, error) {
	col, ok := sortColumns[sort]
	if !ok {
		return nil, errors.Errorf("unknown statement sort %q", sort)
	}
	if err := c.requirePerformanceSchema(ctx); err != nil {
		return nil, errors.Trace(err)
	}

	query := fmt.Sprintf(`SELECT %s
	FROM performance_schema.events_statements_summary_by_digest
	WHERE DIGEST IS NOT NULL AND SUM_TIMER_WAIT >= ?
	ORDER BY %s DESC
	LIMIT ?`, statementDigestColumns, col)

	minPS := uint64(c.cfg.Collect.MinLatency) * 1000
	rows, err := c.db.QueryContext(ctx, query, minPS, limit)
	if err != nil {
		return nil, errors.Annotate(err, "query statement digests")
	}
	defer rows.Close()

	return c.scanStatementDigests(rows)
}

// StatementsWithFullScans returns statements that ran without a usable index,
// ranked by total latency. This mirrors the sys.statements_with_full_table_scans
// view without requiring the sys schema to be installed.
func (c *Collector) StatementsWithFullScans(ctx context.Context, limit int) ([]StatementDigest, error) {
	if err := c.requirePerformanceSchema(ctx); err != nil {
		return nil, errors.Trace(err)
	}

	query := fmt.Sprintf(`SELECT %s
	FROM performance_schema.events_statements_summary_by_digest
	WHERE DIGEST IS NOT NULL
	  AND (SUM_NO_INDEX_USED > 0 OR SUM_NO_GOOD_INDEX_USED > 0)
	  AND DIGEST_TEXT NOT LIKE 'SHOW%%'
	ORDER BY SUM_TIMER_WAIT DESC
	LIMIT ?`, statementDigestColumns)

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Annotate(err, "query full-scan statements")
	}
	defer rows.Close()

	return c.scanStatementDigests(rows)
}

func (c *Collector) scanStatementDigests(rows *sql.Rows) ([]StatementDigest, error) {
	var out []StatementDigest
	for rows.Next() {
		var (
			d          StatementDigest
			schema     sql.NullString
			digest     sql.NullString
			digestText sql.NullString
			totalPS    uint64
			minPS      uint64
			avgPS      uint64
			maxPS      uint64
			lockPS     uint64
		)
		err := rows.Scan(
			&schema, &digest, &digestText,
			&d.Calls, &totalPS, &minPS, &avgPS, &maxPS, &lockPS,
			&d.RowsSent, &d.RowsExamined, &d.RowsAffected,
			&d.Errors, &d.Warnings,
			&d.TmpTables, &d.TmpDiskTables,
			&d.SelectFullJoin, &d.SelectScan, &d.SortMergePasses,
			&d.NoIndexUsed, &d.NoGoodIndexUsed,
			&d.FirstSeen, &d.LastSeen,
		)
		if err != nil {
			return nil, errors.Annotate(err, "scan statement digest row")
		}

		d.Schema = nullString(schema)
		d.Digest = nullString(digest)
		d.DigestText = TruncateDigestText(nullString(digestText), c.cfg.Collect.MaxDigestText)
		d.TotalTime = picoToDuration(totalPS)
		d.MinTime = picoToDuration(minPS)
		d.AvgTime = picoToDuration(avgPS)
		d.MaxTime = picoToDuration(maxPS)
		d.LockTime = picoToDuration(lockPS)

		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "iterate statement digest rows")
	}
	return out, nil
}
