package tune

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/pkg/parser/ast"
)

// Finding is one advisor hit: a rule fired against a concrete target
// (a digest, table, index, plan node, or server counter).
type Finding struct {
	Rule   Rule
	Target string
	Detail string
}

// Severity returns the severity of the underlying rule.
func (f Finding) Severity() Severity {
	return f.Rule.Severity
}

// SortFindings orders findings by severity (critical first), then rule ID,
// then target, so reports are stable.
func SortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Rule.Severity != findings[j].Rule.Severity {
			return findings[i].Rule.Severity > findings[j].Rule.Severity
		}
		if findings[i].Rule.ID != findings[j].Rule.ID {
			return findings[i].Rule.ID < findings[j].Rule.ID
		}
		return findings[i].Target < findings[j].Target
	})
}

// Analyzer applies the rule table to collected data using the configured
// thresholds.
type Analyzer struct {
	cfg *Config
}

// NewAnalyzer creates an Analyzer with the given configuration.
func NewAnalyzer(cfg *Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// AnalyzeStatement runs the static QRY rules against a single SQL statement.
func (a *Analyzer) AnalyzeStatement(sql string) ([]Finding, error) {
	stmt, err := ParseOne(sql)
	if err != nil {
		return nil, errors.Trace(err)
	}

	checker := &stmtChecker{target: statementTarget(sql)}
	stmt.Accept(checker)

	switch s := stmt.(type) {
	case *ast.UpdateStmt:
		if s.Where == nil {
			checker.add("QRY.002", "UPDATE has no WHERE clause")
		}
	case *ast.DeleteStmt:
		if s.Where == nil {
			checker.add("QRY.002", "DELETE has no WHERE clause")
		}
	}

	SortFindings(checker.findings)
	return checker.findings, nil
}

// statementTarget shortens a statement for use as a finding target.
func statementTarget(sql string) string {
	sql = strings.Join(strings.Fields(sql), " ")
	return TruncateDigestText(sql, 60)
}

// stmtChecker is an AST visitor implementing the statement-level rules.
type stmtChecker struct {
	target   string
	findings []Finding

	sawWildcard bool
	whereDepth  int
}

func (c *stmtChecker) add(ruleID, detail string) {
	c.findings = append(c.findings, Finding{
		Rule:   ruleByID(ruleID),
		Target: c.target,
		Detail: detail,
	})
}

// Enter implements ast.Visitor.
func (c *stmtChecker) Enter(in ast.Node) (ast.Node, bool) {
	switch n := in.(type) {
	case *ast.SelectStmt:
		if n.Fields != nil && !c.sawWildcard {
			for _, field := range n.Fields.Fields {
				if field.WildCard != nil {
					c.sawWildcard = true
					c.add("QRY.001", "select list contains *")
					break
				}
			}
		}
		if n.OrderBy != nil {
			for _, item := range n.OrderBy.Items {
				if fn, ok := item.Expr.(*ast.FuncCallExpr); ok && fn.FnName.L == "rand" {
					c.add("QRY.004", "ORDER BY RAND()")
				}
			}
		}
		if n.Limit != nil && n.OrderBy == nil {
			c.add("QRY.007", "LIMIT without ORDER BY")
		}
		if n.Where != nil {
			c.checkPredicates(n.Where)
		}
	case *ast.UpdateStmt:
		if n.Where != nil {
			c.checkPredicates(n.Where)
		}
	case *ast.DeleteStmt:
		if n.Where != nil {
			c.checkPredicates(n.Where)
		}
	case *ast.PatternLikeOrIlikeExpr:
		if pattern, ok := likePatternString(n); ok && len(pattern) > 0 {
			if pattern[0] == '%' || pattern[0] == '_' {
				c.add("QRY.003", fmt.Sprintf("pattern %q has a leading wildcard", pattern))
			}
		}
	case *ast.PatternInExpr:
		if n.Not && n.Sel != nil {
			c.add("QRY.005", "NOT IN (subquery)")
		}
	}
	return in, false
}

// Leave implements ast.Visitor.
func (c *stmtChecker) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

// checkPredicates walks one WHERE tree looking for function calls applied to
// columns inside comparisons (QRY.006).
func (c *stmtChecker) checkPredicates(where ast.ExprNode) {
	pc := &predicateChecker{parent: c}
	where.Accept(pc)
}

type predicateChecker struct {
	parent *stmtChecker
}

// Enter implements ast.Visitor.
func (p *predicateChecker) Enter(in ast.Node) (ast.Node, bool) {
	if cmp, ok := in.(*ast.BinaryOperationExpr); ok {
		for _, side := range []ast.ExprNode{cmp.L, cmp.R} {
			if fn, ok := side.(*ast.FuncCallExpr); ok && funcWrapsColumn(fn) {
				p.parent.add("QRY.006", fmt.Sprintf("%s() wraps a column in a comparison", fn.FnName.O))
			}
		}
	}
	return in, false
}

// Leave implements ast.Visitor.
func (p *predicateChecker) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

// funcWrapsColumn reports whether any direct argument is a column reference.
func funcWrapsColumn(fn *ast.FuncCallExpr) bool {
	for _, arg := range fn.Args {
		if _, ok := arg.(*ast.ColumnNameExpr); ok {
			return true
		}
	}
	return false
}

// likePatternString extracts the literal pattern of a LIKE expression, when
// it is a literal.
func likePatternString(n *ast.PatternLikeOrIlikeExpr) (string, bool) {
	ve, ok := n.Pattern.(ast.ValueExpr)
	if !ok {
		return "", false
	}
	s, ok := ve.GetValue().(string)
	return s, ok
}

// AnalyzeDigests runs the DIG rules over collected statement digests.
func (a *Analyzer) AnalyzeDigests(digests []StatementDigest) []Finding {
	var findings []Finding
	for _, d := range digests {
		target := digestTarget(d)

		if ratio := d.ExaminedPerSent(); ratio >= a.cfg.Advisor.ExaminedRatio && d.RowsExamined > 0 {
			findings = append(findings, Finding{
				Rule:   ruleByID("DIG.001"),
				Target: target,
				Detail: fmt.Sprintf("examined %.0f rows per row sent over %d calls", ratio, d.Calls),
			})
		}
		if d.NoIndexUsed > 0 && d.Calls >= a.cfg.Advisor.FullScanCalls {
			findings = append(findings, Finding{
				Rule:   ruleByID("DIG.002"),
				Target: target,
				Detail: fmt.Sprintf("%d of %d executions used no index", d.NoIndexUsed, d.Calls),
			})
		}
		if d.TmpDiskTables > 0 {
			findings = append(findings, Finding{
				Rule:   ruleByID("DIG.003"),
				Target: target,
				Detail: fmt.Sprintf("%d on-disk temporary tables (%d in memory)", d.TmpDiskTables, d.TmpTables),
			})
		}
		if d.SortMergePasses > 0 {
			findings = append(findings, Finding{
				Rule:   ruleByID("DIG.004"),
				Target: target,
				Detail: fmt.Sprintf("%d sort merge passes", d.SortMergePasses),
			})
		}
		if d.Errors > 0 {
			findings = append(findings, Finding{
				Rule:   ruleByID("DIG.005"),
				Target: target,
				Detail: fmt.Sprintf("%d errors over %d calls", d.Errors, d.Calls),
			})
		}
	}
	SortFindings(findings)
	return findings
}

// digestTarget names a digest row for findings: schema plus digest prefix.
func digestTarget(d StatementDigest) string {
	digest := d.Digest
	if len(digest) > 16 {
		digest = digest[:16]
	}
	if d.Schema == "" {
		return digest
	}
	return d.Schema + "/" + digest
}

// AnalyzeIndexes runs the IDX rules over index usage data.
func (a *Analyzer) AnalyzeIndexes(unused []IndexUsage, redundant []RedundantIndex) []Finding {
	var findings []Finding
	for _, u := range unused {
		findings = append(findings, Finding{
			Rule:   ruleByID("IDX.001"),
			Target: fmt.Sprintf("%s.%s.%s", u.Schema, u.Table, u.Index),
			Detail: fmt.Sprintf("0 fetches; %d inserts, %d updates, %d deletes maintained it", u.InsertCount, u.UpdateCount, u.DeleteCount),
		})
	}
	for _, r := range redundant {
		findings = append(findings, Finding{
			Rule:   ruleByID("IDX.002"),
			Target: fmt.Sprintf("%s.%s.%s", r.Index.Schema, r.Index.Table, r.Index.Name),
			Detail: fmt.Sprintf("(%s) is a prefix of %s (%s)", strings.Join(r.Index.Columns, ", "), r.CoveredBy.Name, strings.Join(r.CoveredBy.Columns, ", ")),
		})
	}
	SortFindings(findings)
	return findings
}

// AnalyzeStatus runs the SRV rules over a global status snapshot.
func (a *Analyzer) AnalyzeStatus(s *GlobalStatus) []Finding {
	var findings []Finding

	if hit := s.BufferPoolHitPct(); hit < a.cfg.Advisor.BufferPoolHitPct {
		findings = append(findings, Finding{
			Rule:   ruleByID("SRV.001"),
			Target: "innodb_buffer_pool",
			Detail: fmt.Sprintf("hit rate %.2f%% (%d disk reads / %d requests)", hit, s.InnodbBufferPoolReads, s.InnodbBufferPoolReadRequests),
		})
	}
	if ratio := s.TmpDiskRatio(); ratio >= a.cfg.Advisor.TmpDiskRatio && s.CreatedTmpTables > 0 {
		findings = append(findings, Finding{
			Rule:   ruleByID("SRV.002"),
			Target: "created_tmp_disk_tables",
			Detail: fmt.Sprintf("%.1f%% of %d temporary tables spilled to disk", ratio*100, s.CreatedTmpTables),
		})
	}
	if s.SelectFullJoin > 0 {
		findings = append(findings, Finding{
			Rule:   ruleByID("SRV.003"),
			Target: "select_full_join",
			Detail: fmt.Sprintf("%d index-less joins since server start", s.SelectFullJoin),
		})
	}
	if ratio := s.FullScanReadRatio(); ratio > 0.5 {
		findings = append(findings, Finding{
			Rule:   ruleByID("SRV.004"),
			Target: "handler_read_rnd_next",
			Detail: fmt.Sprintf("%.1f%% of handler reads are sequential", ratio*100),
		})
	}

	SortFindings(findings)
	return findings
}

// AnalyzePlan runs the PLN rules over an EXPLAIN FORMAT=JSON plan.
func (a *Analyzer) AnalyzePlan(p *Plan) []Finding {
	var findings []Finding
	p.Walk(func(n *PlanNode) {
		if n.Op != "table" {
			return
		}
		target := "table " + n.Table

		switch n.AccessType {
		case "ALL":
			// Small tables scan cheaply; only large ones fire PLN.001.
			if n.RowsExaminedPerScan >= a.cfg.Advisor.LargeTableRows {
				findings = append(findings, Finding{
					Rule:   ruleByID("PLN.001"),
					Target: target,
					Detail: fmt.Sprintf("full scan, ~%d rows per execution", n.RowsExaminedPerScan),
				})
			}
		case "index":
			findings = append(findings, Finding{
				Rule:   ruleByID("PLN.002"),
				Target: target,
				Detail: fmt.Sprintf("full index scan on %s, ~%d entries", n.Key, n.RowsExaminedPerScan),
			})
		}

		if n.Key == "" && len(n.PossibleKeys) > 0 {
			findings = append(findings, Finding{
				Rule:   ruleByID("PLN.003"),
				Target: target,
				Detail: fmt.Sprintf("candidates [%s] rejected by the optimizer", strings.Join(n.PossibleKeys, ", ")),
			})
		}
		if n.AccessType == "ALL" && len(n.PossibleKeys) == 0 {
			findings = append(findings, Finding{
				Rule:   ruleByID("PLN.005"),
				Target: target,
				Detail: "no index can serve the attached condition: " + n.AttachedCondition,
			})
		}
		if n.Filtered > 0 && n.Filtered < 10 && n.AccessType != "ALL" {
			findings = append(findings, Finding{
				Rule:   ruleByID("PLN.004"),
				Target: target,
				Detail: fmt.Sprintf("only %.1f%% of fetched rows survive the filter", n.Filtered),
			})
		}
	})
	SortFindings(findings)
	return findings
}
