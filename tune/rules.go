package tune

// Severity ranks how urgently a finding should be acted on.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Rule is one heuristic the advisor can fire. IDs are stable: QRY rules come
// from statement text, DIG from digest statistics, IDX from index usage,
// SRV from global status, PLN from EXPLAIN plans.
type Rule struct {
	ID       string
	Summary  string
	Content  string
	Severity Severity
}

// Rules is the advisor rule table, keyed by rule ID.
var Rules = map[string]Rule{
	"QRY.001": {
		ID:       "QRY.001",
		Summary:  "Avoid SELECT *.",
		Content:  `Selecting every column rules out covering indexes and ships data the client never reads. Name the columns the query actually needs.`,
		Severity: SeverityInfo,
	},
	"QRY.002": {
		ID:       "QRY.002",
		Summary:  "UPDATE or DELETE without a WHERE clause.",
		Content:  `The statement touches every row in the table. If that is intended, prefer TRUNCATE for deletes; otherwise add a predicate.`,
		Severity: SeverityCritical,
	},
	"QRY.003": {
		ID:       "QRY.003",
		Summary:  "LIKE pattern starts with a wildcard.",
		Content:  `A leading '%' or '_' prevents any index range scan on the column, forcing a full scan. Consider a reversed column or full-text index.`,
		Severity: SeverityWarning,
	},
	"QRY.004": {
		ID:       "QRY.004",
		Summary:  "ORDER BY RAND() sorts the whole result.",
		Content:  `RAND() is evaluated per row and defeats indexes on the sort; the server materializes and sorts everything. Pick random rows by key range instead.`,
		Severity: SeverityWarning,
	},
	"QRY.005": {
		ID:       "QRY.005",
		Summary:  "NOT IN with a subquery.",
		Content:  `NOT IN subqueries behave surprisingly with NULLs and often execute as dependent subqueries. Rewrite as NOT EXISTS or an anti-join.`,
		Severity: SeverityWarning,
	},
	"QRY.006": {
		ID:       "QRY.006",
		Summary:  "Function applied to a column in a predicate.",
		Content:  `Wrapping a column in a function (e.g. DATE(created_at) = ...) makes the predicate non-sargable and skips the column's index. Move the computation to the constant side or add a generated column.`,
		Severity: SeverityWarning,
	},
	"QRY.007": {
		ID:       "QRY.007",
		Summary:  "LIMIT without ORDER BY.",
		Content:  `Which rows survive the LIMIT is undefined without an ORDER BY; the result can change between executions and between plans.`,
		Severity: SeverityInfo,
	},
	"DIG.001": {
		ID:       "DIG.001",
		Summary:  "Statement examines far more rows than it returns.",
		Content:  `A high rows-examined to rows-sent ratio means the access path filters late. Check EXPLAIN for the table scanned and add or extend an index so filtering happens in the storage engine.`,
		Severity: SeverityWarning,
	},
	"DIG.002": {
		ID:       "DIG.002",
		Summary:  "Hot statement runs without an index.",
		Content:  `The statement executed frequently while performance_schema flagged no usable index. Run EXPLAIN on the digest text and index the filtering columns.`,
		Severity: SeverityCritical,
	},
	"DIG.003": {
		ID:       "DIG.003",
		Summary:  "Statement spills temporary tables to disk.",
		Content:  `Implicit temporary tables exceeded tmp_table_size/max_heap_table_size or carry TEXT/BLOB columns. Trim the select list, or raise the in-memory limits if the workload warrants it.`,
		Severity: SeverityWarning,
	},
	"DIG.004": {
		ID:       "DIG.004",
		Summary:  "Sorts are spilling to multi-pass filesort.",
		Content:  `Sort merge passes mean sort_buffer_size is too small for the result being ordered, or the ORDER BY has no supporting index.`,
		Severity: SeverityInfo,
	},
	"DIG.005": {
		ID:       "DIG.005",
		Summary:  "Statement accumulates errors.",
		Content:  `A digest with a non-zero error count is burning round trips on statements that fail. Inspect the application path issuing it.`,
		Severity: SeverityWarning,
	},
	"IDX.001": {
		ID:       "IDX.001",
		Summary:  "Index is never read.",
		Content:  `The index has served no fetches since server start while its table does see reads. It still costs every write. Verify across a full business cycle before dropping.`,
		Severity: SeverityInfo,
	},
	"IDX.002": {
		ID:       "IDX.002",
		Summary:  "Index is a prefix of another index.",
		Content:  `A wider index already answers every query this one can. Drop the narrower index to save write amplification and buffer pool space.`,
		Severity: SeverityWarning,
	},
	"SRV.001": {
		ID:       "SRV.001",
		Summary:  "InnoDB buffer pool hit rate is low.",
		Content:  `Reads are going to disk. Either the buffer pool is undersized for the working set or scans are churning it. Check innodb_buffer_pool_size against data size.`,
		Severity: SeverityCritical,
	},
	"SRV.002": {
		ID:       "SRV.002",
		Summary:  "Temporary tables frequently spill to disk.",
		Content:  `A high created_tmp_disk_tables ratio slows every GROUP BY/DISTINCT/UNION that hits it. Find the offending digests (DIG.003) before raising tmp_table_size globally.`,
		Severity: SeverityWarning,
	},
	"SRV.003": {
		ID:       "SRV.003",
		Summary:  "Joins are running without indexes.",
		Content:  `Select_full_join counts joins that scanned a table for every outer row. Each one is a candidate for an index on the join column.`,
		Severity: SeverityWarning,
	},
	"SRV.004": {
		ID:       "SRV.004",
		Summary:  "Row reads are dominated by full scans.",
		Content:  `Handler_read_rnd_next outweighing keyed reads means the server mostly walks tables sequentially. The top-statements view will name the digests responsible.`,
		Severity: SeverityWarning,
	},
	"PLN.001": {
		ID:       "PLN.001",
		Summary:  "Plan scans a large table with access type ALL.",
		Content:  `The optimizer found no usable index for this table and will read every row per execution. Index the columns in the attached condition.`,
		Severity: SeverityCritical,
	},
	"PLN.002": {
		ID:       "PLN.002",
		Summary:  "Plan walks a full index.",
		Content:  `Access type "index" reads the entire index in order. Cheaper than ALL, but still O(table); a tighter range condition or composite index avoids it.`,
		Severity: SeverityWarning,
	},
	"PLN.003": {
		ID:       "PLN.003",
		Summary:  "Candidate keys exist but none was chosen.",
		Content:  `possible_keys is non-empty yet the optimizer picked no key, usually due to low selectivity estimates or a type mismatch. Check index statistics (ANALYZE TABLE) and the predicate's types.`,
		Severity: SeverityWarning,
	},
	"PLN.004": {
		ID:       "PLN.004",
		Summary:  "Post-access filter discards most rows.",
		Content:  `A low filtered percentage means rows are fetched and then thrown away. Extending the chosen index with the filtering column turns this into storage-engine filtering.`,
		Severity: SeverityInfo,
	},
	"PLN.005": {
		ID:       "PLN.005",
		Summary:  "No candidate index for this table access.",
		Content:  `possible_keys is empty: nothing in the schema can serve the predicate. Add an index on the condition's columns.`,
		Severity: SeverityWarning,
	},
}

// ruleByID fetches a rule; unknown IDs panic because they are programming
// errors in the advisor, not runtime conditions.
func ruleByID(id string) Rule {
	r, ok := Rules[id]
	if !ok {
		panic("tune: unknown rule " + id)
	}
	return r
}
