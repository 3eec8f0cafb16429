package tune

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const joinPlanJSON = `{
  "query_block": {
    "select_id": 1,
    "cost_info": {"query_cost": "10081.65"},
    "nested_loop": [
      {
        "table": {
          "table_name": "o",
          "access_type": "ALL",
          "possible_keys": ["idx_user"],
          "rows_examined_per_scan": 99171,
          "rows_produced_per_join": 9917,
          "filtered": "10.00",
          "cost_info": {"prefix_cost": "10081.65"},
          "attached_condition": "(o.status = 'open')"
        }
      },
      {
        "table": {
          "table_name": "u",
          "access_type": "eq_ref",
          "possible_keys": ["PRIMARY"],
          "key": "PRIMARY",
          "used_key_parts": ["id"],
          "rows_examined_per_scan": 1,
          "rows_produced_per_join": 9917,
          "filtered": "100.00",
          "using_index": true
        }
      }
    ]
  }
}`

func TestParseExplainJSONJoin(t *testing.T) {
	plan, err := ParseExplainJSON([]byte(joinPlanJSON))
	require.NoError(t, err)
	require.InDelta(t, 10081.65, plan.QueryCost, 0.001)

	require.Equal(t, "query_block", plan.Root.Op)
	require.Len(t, plan.Root.Children, 2)

	o := plan.Root.Children[0]
	require.Equal(t, "table", o.Op)
	require.Equal(t, "o", o.Table)
	require.Equal(t, "ALL", o.AccessType)
	require.Equal(t, []string{"idx_user"}, o.PossibleKeys)
	require.Equal(t, uint64(99171), o.RowsExaminedPerScan)
	require.InDelta(t, 10.0, o.Filtered, 0.001)
	require.InDelta(t, 10081.65, o.PrefixCost, 0.001)

	u := plan.Root.Children[1]
	require.Equal(t, "u", u.Table)
	require.Equal(t, "eq_ref", u.AccessType)
	require.Equal(t, "PRIMARY", u.Key)
	require.True(t, u.UsingIndex)

	scans := plan.FullScans()
	require.Len(t, scans, 1)
	require.Equal(t, "o", scans[0].Table)
}

func TestParseExplainJSONOrderingOperation(t *testing.T) {
	data := `{
	  "query_block": {
	    "select_id": 1,
	    "cost_info": {"query_cost": "3.25"},
	    "ordering_operation": {
	      "using_filesort": true,
	      "table": {
	        "table_name": "users",
	        "access_type": "index",
	        "key": "idx_name",
	        "rows_examined_per_scan": 30,
	        "filtered": "100.00"
	      }
	    }
	  }
	}`
	plan, err := ParseExplainJSON([]byte(data))
	require.NoError(t, err)

	require.Len(t, plan.Root.Children, 1)
	ordering := plan.Root.Children[0]
	require.Equal(t, "ordering_operation", ordering.Op)
	require.Len(t, ordering.Children, 1)
	require.Equal(t, "users", ordering.Children[0].Table)
	require.Empty(t, plan.FullScans())
}

func TestParseExplainJSONErrors(t *testing.T) {
	_, err := ParseExplainJSON([]byte("not json"))
	require.Error(t, err)

	_, err = ParseExplainJSON([]byte(`{"other": 1}`))
	require.Error(t, err)
}

func TestAnalyzePlanFindings(t *testing.T) {
	plan, err := ParseExplainJSON([]byte(joinPlanJSON))
	require.NoError(t, err)

	a := NewAnalyzer(DefaultConfig())
	findings := a.AnalyzePlan(plan)
	ids := findingRules(findings)
	require.Equal(t, []string{"PLN.001", "PLN.003"}, ids)
	require.Equal(t, "table o", findings[0].Target)
}

func TestAnalyzePlanSmallTableQuiet(t *testing.T) {
	data := `{
	  "query_block": {
	    "table": {
	      "table_name": "tiny",
	      "access_type": "ALL",
	      "possible_keys": ["idx_a"],
	      "rows_examined_per_scan": 12,
	      "filtered": "100.00"
	    }
	  }
	}`
	plan, err := ParseExplainJSON([]byte(data))
	require.NoError(t, err)

	a := NewAnalyzer(DefaultConfig())
	findings := a.AnalyzePlan(plan)
	// Too small for PLN.001; keys were rejected, which still reports.
	require.Equal(t, []string{"PLN.003"}, findingRules(findings))
}

const analyzeTreeSample = `-> Limit: 10 row(s)  (cost=1771.50 rows=10) (actual time=31.3..31.3 rows=10 loops=1)
    -> Sort: o.created_at DESC, limit input to 10 row(s) per chunk  (cost=1771.50 rows=17408) (actual time=31.3..31.3 rows=10 loops=1)
        -> Filter: (o.status = 'open')  (cost=1771.50 rows=17408) (actual time=0.0582..24.8 rows=8213 loops=1)
            -> Table scan on o  (cost=1771.50 rows=174080) (actual time=0.0549..17.9 rows=100000 loops=1)
`

func TestParseAnalyzeTree(t *testing.T) {
	root, err := ParseAnalyzeTree(analyzeTreeSample)
	require.NoError(t, err)

	require.Equal(t, "Limit: 10 row(s)", root.Text)
	require.True(t, root.Executed)
	require.InDelta(t, 1771.50, root.EstCost, 0.001)
	require.InDelta(t, 10, root.EstRows, 0.001)
	require.EqualValues(t, 1, root.Loops)

	require.Len(t, root.Children, 1)
	sortNode := root.Children[0]
	require.Contains(t, sortNode.Text, "Sort: o.created_at DESC")

	require.Len(t, sortNode.Children, 1)
	filter := sortNode.Children[0]
	require.InDelta(t, 0.0582, filter.TimeFirst, 0.0001)
	require.InDelta(t, 24.8, filter.TimeLast, 0.001)

	require.Len(t, filter.Children, 1)
	scan := filter.Children[0]
	require.Equal(t, "Table scan on o", scan.Text)
	require.InDelta(t, 100000, scan.ActualRows, 0.001)

	var count int
	root.Walk(func(*AnalyzeNode) { count++ })
	require.Equal(t, 4, count)
}

func TestParseAnalyzeTreeNeverExecuted(t *testing.T) {
	out := `-> Nested loop inner join  (cost=1.30 rows=2) (actual time=0.04..0.05 rows=2 loops=1)
    -> Filter: (t.a is not null)  (cost=0.45 rows=2) (never executed)
`
	root, err := ParseAnalyzeTree(out)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	require.False(t, root.Children[0].Executed)
	require.InDelta(t, 0.45, root.Children[0].EstCost, 0.001)
}

func TestParseAnalyzeTreeErrors(t *testing.T) {
	_, err := ParseAnalyzeTree("")
	require.Error(t, err)

	_, err = ParseAnalyzeTree("garbage line\n")
	require.Error(t, err)

	// Indentation cannot skip a level.
	_, err = ParseAnalyzeTree("-> a  (cost=1 rows=1)\n        -> b  (cost=1 rows=1)\n")
	require.Error(t, err)

	_, err = ParseAnalyzeTree("-> a  (cost=1 rows=1)\n-> b  (cost=1 rows=1)\n")
	require.Error(t, err)
}
