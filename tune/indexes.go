package tune

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pingcap/errors"
)

// IndexUsage is one row from
// performance_schema.table_io_waits_summary_by_index_usage. A NULL index name
// in that table means reads that used no index at all; those rows are kept
// with Index == "" because they are exactly the interesting ones.
type IndexUsage struct {
	Schema string
	Table  string
	Index  string

	FetchCount  uint64
	InsertCount uint64
	UpdateCount uint64
	DeleteCount uint64
	WaitTime    time.Duration
}

// Unused reports whether the index has never served a read while still
// paying write maintenance cost.
func (u *IndexUsage) Unused() bool {
	return u.Index != "" && u.Index != "PRIMARY" && u.FetchCount == 0
}

// IndexDef is one index definition assembled from
// information_schema.STATISTICS, columns in key order.
type IndexDef struct {
	Schema  string
	Table   string
	Name    string
	Unique  bool
	Columns []string
}

// RedundantIndex pairs an index with the wider index that already covers it.
type RedundantIndex struct {
	Index     IndexDef
	CoveredBy IndexDef
}

// IndexUsageStats returns per-index usage for user tables, ordered by table
// then index.
func (c *Collector) IndexUsageStats(ctx context.Context) ([]IndexUsage, error) {
	if err := c.requirePerformanceSchema(ctx); err != nil {
		return nil, errors.Trace(err)
	}

	query := `SELECT
		OBJECT_SCHEMA, OBJECT_NAME, INDEX_NAME,
		COUNT_FETCH, COUNT_INSERT, COUNT_UPDATE, COUNT_DELETE, SUM_TIMER_WAIT
	FROM performance_schema.table_io_waits_summary_by_index_usage
	WHERE OBJECT_SCHEMA NOT IN ` + systemSchemaFilter + `
	ORDER BY OBJECT_SCHEMA, OBJECT_NAME, INDEX_NAME`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Annotate(err, "query index usage")
	}
	defer rows.Close()

	var out []IndexUsage
	for rows.Next() {
		var (
			u      IndexUsage
			name   sql.NullString
			waitPS uint64
		)
		err := rows.Scan(&u.Schema, &u.Table, &name, &u.FetchCount, &u.InsertCount, &u.UpdateCount, &u.DeleteCount, &waitPS)
		if err != nil {
			return nil, errors.Annotate(err, "scan index usage row")
		}
		u.Index = nullString(name)
		u.WaitTime = picoToDuration(waitPS)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "iterate index usage rows")
	}
	return out, nil
}

// UnusedIndexes filters usage stats down to secondary indexes with zero reads
// on tables that do see read traffic. Indexes on cold tables are not reported:
// zero reads there says nothing about the index.
func UnusedIndexes(usage []IndexUsage) []IndexUsage {
	reads := make(map[string]uint64)
	for _, u := range usage {
		reads[u.Schema+"."+u.Table] += u.FetchCount
	}

	var out []IndexUsage
	for _, u := range usage {
		if u.Unused() && reads[u.Schema+"."+u.Table] > 0 {
			out = append(out, u)
		}
	}
	return out
}

// IndexDefinitions reads index definitions for user tables from
// information_schema.STATISTICS.
func (c *Collector) IndexDefinitions(ctx context.Context) ([]IndexDef, error) {
	query := `SELECT
		TABLE_SCHEMA, TABLE_NAME, INDEX_NAME, NON_UNIQUE, SEQ_IN_INDEX, COLUMN_NAME
	FROM information_schema.STATISTICS
	WHERE TABLE_SCHEMA NOT IN ` + systemSchemaFilter + `
	ORDER BY TABLE_SCHEMA, TABLE_NAME, INDEX_NAME, SEQ_IN_INDEX`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Annotate(err, "query index definitions")
	}
	defer rows.Close()

	var out []IndexDef
	for rows.Next() {
		var (
			schema    string
			table     string
			name      string
			nonUnique int
			seq       int
			column    string
		)
		if err := rows.Scan(&schema, &table, &name, &nonUnique, &seq, &column); err != nil {
			return nil, errors.Annotate(err, "scan index definition row")
		}

		// Rows arrive ordered by SEQ_IN_INDEX, so a seq of 1 starts a new
		// index and later columns append to the last one.
		if seq == 1 {
			out = append(out, IndexDef{
				Schema: schema,
				Table:  table,
				Name:   name,
				Unique: nonUnique == 0,
			})
		}
		if len(out) == 0 {
			return nil, errors.Errorf("index %s.%s.%s starts at SEQ_IN_INDEX %d", schema, table, name, seq)
		}
		out[len(out)-1].Columns = append(out[len(out)-1].Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "iterate index definition rows")
	}
	return out, nil
}

// RedundantIndexes finds indexes whose column list is a leftmost prefix of
// another index on the same table. A unique index is never reported redundant
// against a non-unique one, since dropping it would drop the constraint.
func RedundantIndexes(defs []IndexDef) []RedundantIndex {
	byTable := make(map[string][]IndexDef)
	for _, d := range defs {
		key := d.Schema + "." + d.Table
		byTable[key] = append(byTable[key], d)
	}

	var out []RedundantIndex
	for _, indexes := range byTable {
		for _, narrow := range indexes {
			if narrow.Name == "PRIMARY" {
				continue
			}
			for _, wide := range indexes {
				if narrow.Name == wide.Name {
					continue
				}
				if narrow.Unique && !wide.Unique {
					continue
				}
				if len(narrow.Columns) > len(wide.Columns) {
					continue
				}
				if len(narrow.Columns) == len(wide.Columns) && narrow.Name > wide.Name {
					// Exact duplicates report once, under the
					// lexically smaller name.
					continue
				}
				if isPrefix(narrow.Columns, wide.Columns) {
					out = append(out, RedundantIndex{Index: narrow, CoveredBy: wide})
					break
				}
			}
		}
	}
	return out
}

func isPrefix(short, long []string) bool {
	if len(short) > len(long) {
		return false
	}
	for i, col := range short {
		if !strings.EqualFold(col, long[i]) {
			return false
		}
	}
	return true
}
