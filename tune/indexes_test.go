package tune

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestIndexUsageStats(t *testing.T) {
	c, mock := newMockCollector(t)
	expectPerfSchemaEnabled(mock, 1)

	rows := sqlmock.NewRows([]string{
		"OBJECT_SCHEMA", "OBJECT_NAME", "INDEX_NAME",
		"COUNT_FETCH", "COUNT_INSERT", "COUNT_UPDATE", "COUNT_DELETE", "SUM_TIMER_WAIT",
	}).
		AddRow("shop", "orders", "PRIMARY", int64(50000), int64(900), int64(100), int64(5), int64(4_000_000_000)).
		AddRow("shop", "orders", "idx_status", int64(0), int64(900), int64(100), int64(5), int64(1_000_000)).
		AddRow("shop", "orders", nil, int64(1200), int64(0), int64(0), int64(0), int64(9_000_000_000))

	mock.ExpectQuery(`table_io_waits_summary_by_index_usage`).WillReturnRows(rows)

	usage, err := c.IndexUsageStats(context.Background())
	require.NoError(t, err)
	require.Len(t, usage, 3)

	require.Equal(t, "PRIMARY", usage[0].Index)
	require.False(t, usage[0].Unused())

	require.Equal(t, "idx_status", usage[1].Index)
	require.True(t, usage[1].Unused())

	// NULL index name means reads that used no index.
	require.Equal(t, "", usage[2].Index)
	require.False(t, usage[2].Unused())
}

func TestUnusedIndexesNeedsTableReads(t *testing.T) {
	usage := []IndexUsage{
		{Schema: "shop", Table: "orders", Index: "PRIMARY", FetchCount: 1000},
		{Schema: "shop", Table: "orders", Index: "idx_status", FetchCount: 0},
		{Schema: "shop", Table: "cold", Index: "idx_a", FetchCount: 0},
	}

	unused := UnusedIndexes(usage)
	require.Len(t, unused, 1)
	require.Equal(t, "idx_status", unused[0].Index)
}

func TestIndexDefinitions(t *testing.T) {
	c, mock := newMockCollector(t)

	rows := sqlmock.NewRows([]string{
		"TABLE_SCHEMA", "TABLE_NAME", "INDEX_NAME", "NON_UNIQUE", "SEQ_IN_INDEX", "COLUMN_NAME",
	}).
		AddRow("shop", "orders", "PRIMARY", int64(0), int64(1), "id").
		AddRow("shop", "orders", "idx_user", int64(1), int64(1), "user_id").
		AddRow("shop", "orders", "idx_user_created", int64(1), int64(1), "user_id").
		AddRow("shop", "orders", "idx_user_created", int64(1), int64(2), "created_at")

	mock.ExpectQuery(`information_schema.STATISTICS`).WillReturnRows(rows)

	defs, err := c.IndexDefinitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 3)
	require.Equal(t, []string{"user_id", "created_at"}, defs[2].Columns)
	require.True(t, defs[0].Unique)
	require.False(t, defs[1].Unique)
}

func TestRedundantIndexes(t *testing.T) {
	defs := []IndexDef{
		{Schema: "shop", Table: "orders", Name: "PRIMARY", Unique: true, Columns: []string{"id"}},
		{Schema: "shop", Table: "orders", Name: "idx_user", Columns: []string{"user_id"}},
		{Schema: "shop", Table: "orders", Name: "idx_user_created", Columns: []string{"user_id", "created_at"}},
		{Schema: "shop", Table: "users", Name: "idx_email", Unique: true, Columns: []string{"email"}},
		{Schema: "shop", Table: "users", Name: "idx_email_name", Columns: []string{"email", "name"}},
	}

	redundant := RedundantIndexes(defs)
	require.Len(t, redundant, 1)
	require.Equal(t, "idx_user", redundant[0].Index.Name)
	require.Equal(t, "idx_user_created", redundant[0].CoveredBy.Name)
}

func TestRedundantIndexesExactDuplicates(t *testing.T) {
	defs := []IndexDef{
		{Schema: "shop", Table: "t", Name: "idx_a", Columns: []string{"a"}},
		{Schema: "shop", Table: "t", Name: "idx_b", Columns: []string{"a"}},
	}

	redundant := RedundantIndexes(defs)
	require.Len(t, redundant, 1)
	require.Equal(t, "idx_a", redundant[0].Index.Name)
	require.Equal(t, "idx_b", redundant[0].CoveredBy.Name)
}

func TestRedundantIndexesColumnCaseInsensitive(t *testing.T) {
	defs := []IndexDef{
		{Schema: "shop", Table: "t", Name: "idx_one", Columns: []string{"UserID"}},
		{Schema: "shop", Table: "t", Name: "idx_two", Columns: []string{"userid", "b"}},
	}
	require.Len(t, RedundantIndexes(defs), 1)
}
