package tune

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func newMockCollector(t *testing.T) (*Collector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCollector(db, DefaultConfig()), mock
}

func expectPerfSchemaEnabled(mock sqlmock.Sqlmock, enabled int) {
	mock.ExpectQuery(`SELECT @@global.performance_schema`).
		WillReturnRows(sqlmock.NewRows([]string{"@@global.performance_schema"}).AddRow(enabled))
}

func digestRowColumns() []string {
	return []string{
		"SCHEMA_NAME", "DIGEST", "DIGEST_TEXT",
		"COUNT_STAR", "SUM_TIMER_WAIT", "MIN_TIMER_WAIT", "AVG_TIMER_WAIT", "MAX_TIMER_WAIT", "SUM_LOCK_TIME",
		"SUM_ROWS_SENT", "SUM_ROWS_EXAMINED", "SUM_ROWS_AFFECTED",
		"SUM_ERRORS", "SUM_WARNINGS",
		"SUM_CREATED_TMP_TABLES", "SUM_CREATED_TMP_DISK_TABLES",
		"SUM_SELECT_FULL_JOIN", "SUM_SELECT_SCAN", "SUM_SORT_MERGE_PASSES",
		"SUM_NO_INDEX_USED", "SUM_NO_GOOD_INDEX_USED",
		"FIRST_SEEN", "LAST_SEEN",
	}
}

func TestTopStatementsByLatency(t *testing.T) {
	c, mock := newMockCollector(t)
	expectPerfSchemaEnabled(mock, 1)

	first := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	last := first.Add(6 * time.Hour)

	rows := sqlmock.NewRows(digestRowColumns()).
		AddRow(
			"shop", "3f7a9c", "SELECT * FROM `orders` WHERE `status` = ?",
			int64(1200), int64(7_500_000_000_000), int64(1_000_000_000), int64(6_250_000_000), int64(90_000_000_000), int64(400_000_000_000),
			int64(12000), int64(4_800_000), int64(0),
			int64(0), int64(3),
			int64(10), int64(2),
			int64(0), int64(1200), int64(0),
			int64(1200), int64(0),
			first, last,
		)

	mock.ExpectQuery(`events_statements_summary_by_digest`).
		WillReturnRows(rows)

	stmts, err := c.TopStatementsByLatency(context.Background(), 20)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, stmts, 1)
	d := stmts[0]
	require.Equal(t, "shop", d.Schema)
	require.Equal(t, "3f7a9c", d.Digest)
	require.EqualValues(t, 1200, d.Calls)
	// 7.5e12 picoseconds is 7.5 seconds.
	require.Equal(t, 7500*time.Millisecond, d.TotalTime)
	require.Equal(t, time.Millisecond, d.MinTime)
	require.EqualValues(t, 4_800_000, d.RowsExamined)
	require.EqualValues(t, 1200, d.NoIndexUsed)
	require.Equal(t, first, d.FirstSeen)
	require.InDelta(t, 400, d.ExaminedPerSent(), 0.001)
}

func TestTopStatementsByUnknownSort(t *testing.T) {
	c, _ := newMockCollector(t)

	_, err := c.TopStatementsBy(context.Background(), StatementSort("bogus"), 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown statement sort")
}

func TestTopStatementsPerfSchemaDisabled(t *testing.T) {
	c, mock := newMockCollector(t)
	expectPerfSchemaEnabled(mock, 0)

	_, err := c.TopStatementsByLatency(context.Background(), 10)
	require.Error(t, err)
	require.True(t, errors.Cause(err) == ErrPerformanceSchemaDisabled)
}

func TestStatementsWithFullScans(t *testing.T) {
	c, mock := newMockCollector(t)
	expectPerfSchemaEnabled(mock, 1)

	now := time.Now()
	rows := sqlmock.NewRows(digestRowColumns()).
		AddRow(
			"shop", "9b1d44", "SELECT `o` . * FROM `orders` AS `o`",
			int64(40), int64(2_000_000_000_000), int64(30_000_000_000), int64(50_000_000_000), int64(70_000_000_000), int64(0),
			int64(400000), int64(4_000_000), int64(0),
			int64(0), int64(0),
			int64(0), int64(0),
			int64(0), int64(40), int64(0),
			int64(40), int64(0),
			now, now,
		)

	mock.ExpectQuery(`SUM_NO_INDEX_USED > 0 OR SUM_NO_GOOD_INDEX_USED > 0`).
		WillReturnRows(rows)

	stmts, err := c.StatementsWithFullScans(context.Background(), 10)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, stmts, 1)
	require.EqualValues(t, 40, stmts[0].NoIndexUsed)
}

func TestDigestTextTruncatedAtConfigLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := DefaultConfig()
	cfg.Collect.MaxDigestText = 64
	c := NewCollector(db, cfg)
	expectPerfSchemaEnabled(mock, 1)

	long := ""
	for i := 0; i < 50; i++ {
		long += "SELECT "
	}
	now := time.Now()
	rows := sqlmock.NewRows(digestRowColumns()).
		AddRow(
			nil, "ff01", long,
			int64(1), int64(0), int64(0), int64(0), int64(0), int64(0),
			int64(0), int64(0), int64(0),
			int64(0), int64(0),
			int64(0), int64(0),
			int64(0), int64(0), int64(0),
			int64(0), int64(0),
			now, now,
		)
	mock.ExpectQuery(`events_statements_summary_by_digest`).WillReturnRows(rows)

	stmts, err := c.TopStatementsByLatency(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Len(t, stmts[0].DigestText, 64)
	require.Equal(t, "", stmts[0].Schema)
}

func TestServerVersion(t *testing.T) {
	c, mock := newMockCollector(t)
	mock.ExpectQuery(`SELECT VERSION`).
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))

	v, err := c.ServerVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, "8.0.36", v)
}
