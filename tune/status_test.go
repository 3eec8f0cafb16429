package tune

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestCollectGlobalStatus(t *testing.T) {
	c, mock := newMockCollector(t)

	rows := sqlmock.NewRows([]string{"Variable_name", "Value"}).
		AddRow("Uptime", "86400").
		AddRow("Questions", "123456").
		AddRow("Slow_queries", "42").
		AddRow("Select_full_join", "3").
		AddRow("Handler_read_rnd_next", "900").
		AddRow("Handler_read_key", "100").
		AddRow("Created_tmp_tables", "200").
		AddRow("Created_tmp_disk_tables", "50").
		AddRow("Innodb_buffer_pool_read_requests", "1000000").
		AddRow("Innodb_buffer_pool_reads", "5000").
		AddRow("Ssl_cipher", "TLS_AES_128").
		AddRow("Some_future_counter", "7")

	mock.ExpectQuery(`SHOW GLOBAL STATUS`).WillReturnRows(rows)

	status, err := c.CollectGlobalStatus(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.EqualValues(t, 86400, status.Uptime)
	require.EqualValues(t, 42, status.SlowQueries)
	require.EqualValues(t, 3, status.SelectFullJoin)
	require.EqualValues(t, 50, status.CreatedTmpDiskTables)
	require.InDelta(t, 0.25, status.TmpDiskRatio(), 0.0001)
	require.InDelta(t, 99.5, status.BufferPoolHitPct(), 0.0001)
	require.InDelta(t, 0.9, status.FullScanReadRatio(), 0.0001)
}

func TestGlobalStatusRatiosZeroSafe(t *testing.T) {
	s := &GlobalStatus{}
	require.Equal(t, 100.0, s.BufferPoolHitPct())
	require.Equal(t, 0.0, s.TmpDiskRatio())
	require.Equal(t, 0.0, s.FullScanReadRatio())
}
