package tune

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/pkg/parser/ast"
)

// PlanNode is one node of an EXPLAIN FORMAT=JSON plan tree. Op is the JSON
// key the node came from ("table", "nested_loop", "ordering_operation", ...);
// the table-specific fields are only set when Op is "table".
type PlanNode struct {
	Op string

	Table               string
	AccessType          string
	Key                 string
	PossibleKeys        []string
	UsedKeyParts        []string
	RowsExaminedPerScan uint64
	RowsProducedPerJoin uint64
	Filtered            float64
	UsingIndex          bool
	AttachedCondition   string
	PrefixCost          float64

	Children []*PlanNode
}

// Plan is a parsed EXPLAIN FORMAT=JSON result.
type Plan struct {
	Root      *PlanNode
	QueryCost float64
}

// Walk visits every node of the plan in depth-first order.
func (p *Plan) Walk(fn func(*PlanNode)) {
	if p.Root != nil {
		walkPlan(p.Root, fn)
	}
}

func walkPlan(n *PlanNode, fn func(*PlanNode)) {
	fn(n)
	for _, child := range n.Children {
		walkPlan(child, fn)
	}
}

// FullScans returns the table nodes read with access type ALL.
func (p *Plan) FullScans() []*PlanNode {
	var out []*PlanNode
	p.Walk(func(n *PlanNode) {
		if n.Op == "table" && n.AccessType == "ALL" {
			out = append(out, n)
		}
	})
	return out
}

// planChildKeys lists the JSON keys that nest further plan content, in the
// order children are attached. A fixed order keeps plan trees deterministic
// regardless of Go map iteration.
var planChildKeys = []string{
	"table",
	"nested_loop",
	"ordering_operation",
	"grouping_operation",
	"duplicates_removal",
	"windowing",
	"buffer_result",
	"materialized_from_subquery",
	"union_result",
	"query_specifications",
	"attached_subqueries",
	"optimized_away_subqueries",
	"select_list_subqueries",
	"order_by_subqueries",
	"group_by_subqueries",
	"having_subqueries",
	"query_block",
}

// ParseExplainJSON parses the output of EXPLAIN FORMAT=JSON.
func ParseExplainJSON(data []byte) (*Plan, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Annotate(err, "decode explain JSON")
	}
	block, ok := doc["query_block"].(map[string]any)
	if !ok {
		return nil, errors.New("explain JSON has no query_block")
	}

	plan := &Plan{Root: parsePlanNode("query_block", block)}
	if ci, ok := block["cost_info"].(map[string]any); ok {
		plan.QueryCost = jsonFloat(ci["query_cost"])
	}
	return plan, nil
}

func parsePlanNode(op string, m map[string]any) *PlanNode {
	n := &PlanNode{Op: op}
	if op == "table" {
		n.Table = jsonString(m["table_name"])
		n.AccessType = jsonString(m["access_type"])
		n.Key = jsonString(m["key"])
		n.PossibleKeys = jsonStrings(m["possible_keys"])
		n.UsedKeyParts = jsonStrings(m["used_key_parts"])
		n.RowsExaminedPerScan = uint64(jsonFloat(m["rows_examined_per_scan"]))
		n.RowsProducedPerJoin = uint64(jsonFloat(m["rows_produced_per_join"]))
		n.Filtered = jsonFloat(m["filtered"])
		n.UsingIndex, _ = m["using_index"].(bool)
		n.AttachedCondition = jsonString(m["attached_condition"])
		if ci, ok := m["cost_info"].(map[string]any); ok {
			n.PrefixCost = jsonFloat(ci["prefix_cost"])
		}
	}

	for _, key := range planChildKeys {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch child := v.(type) {
		case map[string]any:
			n.Children = append(n.Children, parsePlanNode(key, child))
		case []any:
			for _, elem := range child {
				em, ok := elem.(map[string]any)
				if !ok {
					continue
				}
				// List elements are wrappers like {"table": {...}} or
				// {"dependent": true, "query_block": {...}}; recurse into
				// the wrapper without a node of its own.
				wrapper := &PlanNode{Op: key}
				for _, wk := range planChildKeys {
					wv, ok := em[wk].(map[string]any)
					if !ok {
						continue
					}
					wrapper.Children = append(wrapper.Children, parsePlanNode(wk, wv))
				}
				if len(wrapper.Children) == 1 && key == "nested_loop" {
					n.Children = append(n.Children, wrapper.Children[0])
				} else {
					n.Children = append(n.Children, wrapper)
				}
			}
		}
	}
	return n
}

func jsonString(v any) string {
	s, _ := v.(string)
	return s
}

func jsonStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// jsonFloat accepts both JSON numbers and MySQL's stringified numbers
// ("filtered": "100.00", "query_cost": "1.25").
func jsonFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// AnalyzeNode is one operator line of EXPLAIN ANALYZE tree output. Times are
// in milliseconds as printed by the server.
type AnalyzeNode struct {
	Text       string
	EstCost    float64
	EstRows    float64
	TimeFirst  float64
	TimeLast   float64
	ActualRows float64
	Loops      uint64
	Executed   bool

	Children []*AnalyzeNode
}

// Walk visits the node and its subtree in depth-first order.
func (n *AnalyzeNode) Walk(fn func(*AnalyzeNode)) {
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

var analyzeLineRe = regexp.MustCompile(
	`^(\s*)-> (.*?)\s*` +
		`(?:\(cost=([0-9.eE+]+)(?:\.\.[0-9.eE+]+)? rows=([0-9.eE+]+)\))?\s*` +
		`(?:\(actual time=([0-9.]+)\.\.([0-9.]+) rows=([0-9.eE+]+) loops=([0-9]+)\)|\(never executed\))?\s*$`)

// ParseAnalyzeTree parses the indented tree text EXPLAIN ANALYZE returns.
// Depth is taken from the 4-space indentation; unknown operator text is kept
// verbatim.
func ParseAnalyzeTree(output string) (*AnalyzeNode, error) {
	var (
		root  *AnalyzeNode
		stack []*AnalyzeNode
	)
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := analyzeLineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, errors.Errorf("unrecognized explain analyze line: %q", line)
		}
		depth := len(m[1]) / 4

		node := &AnalyzeNode{Text: m[2]}
		if m[3] != "" {
			node.EstCost, _ = strconv.ParseFloat(m[3], 64)
			node.EstRows, _ = strconv.ParseFloat(m[4], 64)
		}
		if m[5] != "" {
			node.Executed = true
			node.TimeFirst, _ = strconv.ParseFloat(m[5], 64)
			node.TimeLast, _ = strconv.ParseFloat(m[6], 64)
			node.ActualRows, _ = strconv.ParseFloat(m[7], 64)
			node.Loops, _ = strconv.ParseUint(m[8], 10, 64)
		}

		if depth > len(stack) {
			return nil, errors.Errorf("explain analyze indentation jumps at: %q", line)
		}
		stack = stack[:depth]
		if len(stack) == 0 {
			if root != nil {
				return nil, errors.New("explain analyze output has multiple roots")
			}
			root = node
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, node)
		}
		stack = append(stack, node)
	}
	if root == nil {
		return nil, errors.New("empty explain analyze output")
	}
	return root, nil
}

// ExplainQuery runs EXPLAIN FORMAT=JSON on a single SELECT/DML statement and
// parses the plan. The statement is parsed locally first so only one
// well-formed statement ever reaches the server.
func (c *Collector) ExplainQuery(ctx context.Context, sql string) (*Plan, error) {
	if _, err := ParseOne(sql); err != nil {
		return nil, errors.Trace(err)
	}

	var raw string
	err := c.db.QueryRowContext(ctx, "EXPLAIN FORMAT=JSON "+sql).Scan(&raw)
	if err != nil {
		return nil, errors.Annotate(err, "run explain")
	}
	return ParseExplainJSON([]byte(raw))
}

// ExplainAnalyzeQuery runs EXPLAIN ANALYZE and parses the tree output.
// EXPLAIN ANALYZE executes the statement, so anything but a SELECT is
// rejected here rather than mutating the target.
func (c *Collector) ExplainAnalyzeQuery(ctx context.Context, sql string) (*AnalyzeNode, error) {
	stmt, err := ParseOne(sql)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch stmt.(type) {
	case *ast.SelectStmt, *ast.SetOprStmt:
	default:
		return nil, errors.Errorf("explain analyze executes the statement; refusing non-SELECT %T", stmt)
	}

	var raw string
	err = c.db.QueryRowContext(ctx, "EXPLAIN ANALYZE "+sql).Scan(&raw)
	if err != nil {
		return nil, errors.Annotate(err, "run explain analyze")
	}
	return ParseAnalyzeTree(raw)
}
