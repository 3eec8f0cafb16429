package tune

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	cfg := DefaultConfig()
	r := NewReport(cfg)
	r.ServerVersion = "8.0.36"
	r.AddStatements([]StatementDigest{
		{
			Schema:       "shop",
			Digest:       "aaaa1111bbbb2222cccc3333dddd4444",
			DigestText:   "SELECT * FROM `orders` WHERE `status` = ?",
			Calls:        1200,
			TotalTime:    42 * time.Second,
			AvgTime:      35 * time.Millisecond,
			RowsSent:     1200,
			RowsExamined: 480000,
		},
	})
	r.AddTableIO([]TableIOStat{
		{Schema: "shop", Table: "orders", ReadCount: 9000, ReadTime: 12 * time.Second},
	})
	r.AddTableSizes([]TableSize{
		{Schema: "shop", Table: "orders", Engine: "InnoDB", RowsEst: 500000,
			DataBytes: 256 << 20, IndexBytes: 64 << 20},
	})
	r.AddStatus(&GlobalStatus{
		Uptime:                       86400,
		InnodbBufferPoolReads:        10,
		InnodbBufferPoolReadRequests: 100000,
		CreatedTmpTables:             50,
		CreatedTmpDiskTables:         5,
		SelectFullJoin:               3,
		SlowQueries:                  7,
	})
	r.AddFindings([]Finding{
		{Rule: Rules["QRY.001"], Target: "shop/aaaa1111bbbb2222", Detail: "statement selects all columns"},
		{Rule: Rules["SRV.001"], Target: "server", Detail: "buffer pool hit ratio 99.99%"},
	})
	return r
}

func TestReportWriteTo(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteTo(&buf))
	out := buf.String()

	require.Contains(t, out, "against MySQL 8.0.36")
	require.Contains(t, out, "Top statements by total latency")
	require.Contains(t, out, "Table I/O hotspots")
	require.Contains(t, out, "Largest tables")
	require.Contains(t, out, "Server status")
	require.Contains(t, out, "Findings")

	require.Contains(t, out, "shop.orders")
	require.Contains(t, out, "256.0 MiB")
	require.Contains(t, out, "24h0m0s")

	// Critical findings sort ahead of informational ones, and the footer
	// explains each distinct rule once.
	require.Less(t, strings.Index(out, "SRV.001"), strings.Index(out, "QRY.001"))
	require.Contains(t, out, "QRY.001: "+Rules["QRY.001"].Summary)
}

func TestReportSkipsEmptySections(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	r := NewReport(DefaultConfig())
	require.NoError(t, r.WriteTo(&buf))
	out := buf.String()

	require.Contains(t, out, "Tuning report generated")
	require.NotContains(t, out, "Top statements")
	require.NotContains(t, out, "Findings")
}

func TestReportWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteJSON(&buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "8.0.36", decoded["server_version"])
	require.NotEmpty(t, decoded["statements"])
	require.NotEmpty(t, decoded["findings"])

	// Empty sections are omitted entirely.
	require.NotContains(t, decoded, "full_scans")
}

func TestHumanDuration(t *testing.T) {
	require.Equal(t, "42s", humanDuration(42*time.Second))
	require.Equal(t, "35ms", humanDuration(35*time.Millisecond))
	require.Equal(t, "500µs", humanDuration(500*time.Microsecond))
	require.Equal(t, "2h30m0s", humanDuration(2*time.Hour+30*time.Minute))
}

func TestHumanBytes(t *testing.T) {
	require.Equal(t, "512 B", humanBytes(512))
	require.Equal(t, "1.0 KiB", humanBytes(1024))
	require.Equal(t, "256.0 MiB", humanBytes(256<<20))
	require.Equal(t, "1.5 GiB", humanBytes(3<<29))
}
