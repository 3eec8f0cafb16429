// Package tune provides a query-performance analysis engine for MySQL.
//
// Tune connects to a MySQL 8.x server and collects the diagnostic data a DBA
// would otherwise query by hand: statement digest statistics from
// performance_schema, table and index I/O waits, table sizes, global status
// counters, and EXPLAIN / EXPLAIN ANALYZE plans. Collected data is run through
// a set of heuristic advisor rules to produce ranked findings. It uses the
// TiDB parser for MySQL-compatible SQL parsing and digest normalization.
//
// Example usage:
//
//	cfg := tune.DefaultConfig()
//	cfg.MySQL.Addr = "127.0.0.1:3306"
//	cfg.MySQL.User = "root"
//
//	c, err := tune.Open(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	// Top statements by total latency
//	stmts, err := c.TopStatementsByLatency(ctx, 10)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Analyze the workload and print a report
//	a := tune.NewAnalyzer(cfg)
//	findings := a.AnalyzeDigests(stmts)
//	report := tune.NewReport(cfg)
//	report.AddStatements(stmts)
//	report.AddFindings(findings)
//	report.WriteTo(os.Stdout)
package tune

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/types/parser_driver"
)

// Version returns the current version of the tune engine.
func Version() string {
	return "1.0.0"
}

// ParseOne parses a single SQL statement and returns its AST. Multi-statement
// input is rejected so that advisor findings always name one statement.
func ParseOne(sql string) (ast.StmtNode, error) {
	p := parser.New()

	stmtNodes, _, err := p.ParseSQL(sql)
	if err != nil {
		return nil, errors.Annotate(err, "parse SQL")
	}
	if len(stmtNodes) == 0 {
		return nil, errors.New("empty statement")
	}
	if len(stmtNodes) > 1 {
		return nil, errors.Errorf("expected a single statement, got %d", len(stmtNodes))
	}

	return stmtNodes[0], nil
}
