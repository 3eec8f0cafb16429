package tune

import (
	"context"
	"strconv"

	"github.com/pingcap/errors"
)

// GlobalStatus is a snapshot of the SHOW GLOBAL STATUS counters that matter
// for query tuning. Counters are cumulative since server start.
type GlobalStatus struct {
	Uptime uint64

	Questions      uint64
	SlowQueries    uint64
	SelectFullJoin uint64
	SelectScan     uint64

	HandlerReadRndNext uint64
	HandlerReadNext    uint64
	HandlerReadKey     uint64

	CreatedTmpTables     uint64
	CreatedTmpDiskTables uint64

	SortMergePasses uint64

	InnodbBufferPoolReadRequests uint64
	InnodbBufferPoolReads        uint64
}

// statusCounters maps SHOW GLOBAL STATUS variable names to struct fields.
func (s *GlobalStatus) statusCounters() map[string]*uint64 {
	return map[string]*uint64{
		"Uptime":                           &s.Uptime,
		"Questions":                        &s.Questions,
		"Slow_queries":                     &s.SlowQueries,
		"Select_full_join":                 &s.SelectFullJoin,
		"Select_scan":                      &s.SelectScan,
		"Handler_read_rnd_next":            &s.HandlerReadRndNext,
		"Handler_read_next":                &s.HandlerReadNext,
		"Handler_read_key":                 &s.HandlerReadKey,
		"Created_tmp_tables":               &s.CreatedTmpTables,
		"Created_tmp_disk_tables":          &s.CreatedTmpDiskTables,
		"Sort_merge_passes":                &s.SortMergePasses,
		"Innodb_buffer_pool_read_requests": &s.InnodbBufferPoolReadRequests,
		"Innodb_buffer_pool_reads":         &s.InnodbBufferPoolReads,
	}
}

// BufferPoolHitPct returns the InnoDB buffer pool hit rate as a percentage.
// A server that has not read any pages yet reports 100.
func (s *GlobalStatus) BufferPoolHitPct() float64 {
	if s.InnodbBufferPoolReadRequests == 0 {
		return 100
	}
	misses := float64(s.InnodbBufferPoolReads)
	requests := float64(s.InnodbBufferPoolReadRequests)
	return (1 - misses/requests) * 100
}

// TmpDiskRatio returns the fraction of implicit temporary tables that
// spilled to disk.
func (s *GlobalStatus) TmpDiskRatio() float64 {
	if s.CreatedTmpTables == 0 {
		return 0
	}
	return float64(s.CreatedTmpDiskTables) / float64(s.CreatedTmpTables)
}

// FullScanReadRatio returns the share of row reads done by full scans
// (Handler_read_rnd_next) against all handler reads tracked here.
func (s *GlobalStatus) FullScanReadRatio() float64 {
	total := s.HandlerReadRndNext + s.HandlerReadNext + s.HandlerReadKey
	if total == 0 {
		return 0
	}
	return float64(s.HandlerReadRndNext) / float64(total)
}

// CollectGlobalStatus reads the tuning-relevant counters from
// SHOW GLOBAL STATUS. Unknown or non-numeric variables are ignored so the
// same code works across server versions.
func (c *Collector) CollectGlobalStatus(ctx context.Context) (*GlobalStatus, error) {
	rows, err := c.db.QueryContext(ctx, "SHOW GLOBAL STATUS")
	if err != nil {
		return nil, errors.Annotate(err, "show global status")
	}
	defer rows.Close()

	status := &GlobalStatus{}
	counters := status.statusCounters()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.Annotate(err, "scan status row")
		}
		dest, ok := counters[name]
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			continue
		}
		*dest = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "iterate status rows")
	}
	return status, nil
}
