package tune

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/fatih/color"
	"github.com/pingcap/errors"
)

// Report collects the sections of a tuning run for rendering. Sections left
// empty are skipped when writing.
type Report struct {
	ServerVersion string    `json:"server_version,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`

	Statements []StatementDigest `json:"statements,omitempty"`
	FullScans  []StatementDigest `json:"full_scans,omitempty"`
	TableIO    []TableIOStat     `json:"table_io,omitempty"`
	TableSizes []TableSize       `json:"table_sizes,omitempty"`
	Status     *GlobalStatus     `json:"status,omitempty"`
	Findings   []Finding         `json:"findings,omitempty"`

	cfg *Config
}

// NewReport creates an empty report.
func NewReport(cfg *Config) *Report {
	return &Report{GeneratedAt: time.Now(), cfg: cfg}
}

// AddStatements sets the top-statements section.
func (r *Report) AddStatements(stmts []StatementDigest) { r.Statements = stmts }

// AddFullScans sets the full-scan statements section.
func (r *Report) AddFullScans(stmts []StatementDigest) { r.FullScans = stmts }

// AddTableIO sets the table I/O section.
func (r *Report) AddTableIO(stats []TableIOStat) { r.TableIO = stats }

// AddTableSizes sets the table sizes section.
func (r *Report) AddTableSizes(sizes []TableSize) { r.TableSizes = sizes }

// AddStatus sets the global status section.
func (r *Report) AddStatus(s *GlobalStatus) { r.Status = s }

// AddFindings appends advisor findings, keeping the list sorted.
func (r *Report) AddFindings(findings []Finding) {
	r.Findings = append(r.Findings, findings...)
	SortFindings(r.Findings)
}

var (
	sectionColor  = color.New(color.Bold, color.FgCyan).SprintFunc()
	criticalColor = color.New(color.Bold, color.FgRed).SprintFunc()
	warningColor  = color.New(color.FgYellow).SprintFunc()
	infoColor     = color.New(color.FgGreen).SprintFunc()
)

func severityLabel(s Severity) string {
	switch s {
	case SeverityCritical:
		return criticalColor(s.String())
	case SeverityWarning:
		return warningColor(s.String())
	default:
		return infoColor(s.String())
	}
}

// WriteTo renders the report as text tables.
func (r *Report) WriteTo(w io.Writer) error {
	fmt.Fprintf(w, "Tuning report generated %s", r.GeneratedAt.Format(time.RFC3339))
	if r.ServerVersion != "" {
		fmt.Fprintf(w, " against MySQL %s", r.ServerVersion)
	}
	fmt.Fprintln(w)

	if len(r.Statements) > 0 {
		fmt.Fprintf(w, "\n%s\n", sectionColor("Top statements by total latency"))
		r.writeStatements(w, r.Statements)
	}
	if len(r.FullScans) > 0 {
		fmt.Fprintf(w, "\n%s\n", sectionColor("Statements running full table scans"))
		r.writeStatements(w, r.FullScans)
	}
	if len(r.TableIO) > 0 {
		fmt.Fprintf(w, "\n%s\n", sectionColor("Table I/O hotspots"))
		t := newTable(w)
		t.AddHeader("TABLE", "READS", "WRITES", "READ TIME", "WRITE TIME")
		for _, s := range r.TableIO {
			t.AddLine(s.Schema+"."+s.Table, s.ReadCount, s.WriteCount,
				humanDuration(s.ReadTime), humanDuration(s.WriteTime))
		}
		t.Print()
	}
	if len(r.TableSizes) > 0 {
		fmt.Fprintf(w, "\n%s\n", sectionColor("Largest tables"))
		t := newTable(w)
		t.AddHeader("TABLE", "ENGINE", "~ROWS", "DATA", "INDEX")
		for _, s := range r.TableSizes {
			t.AddLine(s.Schema+"."+s.Table, s.Engine, s.RowsEst,
				humanBytes(s.DataBytes), humanBytes(s.IndexBytes))
		}
		t.Print()
	}
	if r.Status != nil {
		fmt.Fprintf(w, "\n%s\n", sectionColor("Server status"))
		t := newTable(w)
		t.AddLine("uptime", humanDuration(time.Duration(r.Status.Uptime)*time.Second))
		t.AddLine("buffer pool hit", fmt.Sprintf("%.2f%%", r.Status.BufferPoolHitPct()))
		t.AddLine("tmp disk ratio", fmt.Sprintf("%.1f%%", r.Status.TmpDiskRatio()*100))
		t.AddLine("full join selects", r.Status.SelectFullJoin)
		t.AddLine("slow queries", r.Status.SlowQueries)
		t.Print()
	}
	if len(r.Findings) > 0 {
		fmt.Fprintf(w, "\n%s\n", sectionColor("Findings"))
		t := newTable(w)
		t.AddHeader("SEVERITY", "RULE", "TARGET", "DETAIL")
		for _, f := range r.Findings {
			t.AddLine(severityLabel(f.Severity()), f.Rule.ID, f.Target, f.Detail)
		}
		t.Print()
		fmt.Fprintln(w)
		for _, id := range distinctRuleIDs(r.Findings) {
			rule := Rules[id]
			fmt.Fprintf(w, "%s: %s\n", rule.ID, rule.Summary)
		}
	}
	return nil
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return errors.Annotate(err, "encode report")
	}
	return nil
}

func (r *Report) writeStatements(w io.Writer, stmts []StatementDigest) {
	t := newTable(w)
	t.AddHeader("SCHEMA", "CALLS", "TOTAL", "AVG", "ROWS EXAM", "EXAM/SENT", "QUERY")
	width := 64
	if r.cfg != nil && r.cfg.Collect.MaxDigestText < width {
		width = r.cfg.Collect.MaxDigestText
	}
	for _, d := range stmts {
		t.AddLine(d.Schema, d.Calls,
			humanDuration(d.TotalTime), humanDuration(d.AvgTime),
			d.RowsExamined, fmt.Sprintf("%.1f", d.ExaminedPerSent()),
			TruncateDigestText(d.DigestText, width))
	}
	t.Print()
}

func newTable(w io.Writer) *tabby.Tabby {
	return tabby.NewCustom(tabwriter.NewWriter(w, 0, 8, 2, ' ', 0))
}

func distinctRuleIDs(findings []Finding) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range findings {
		if !seen[f.Rule.ID] {
			seen[f.Rule.ID] = true
			out = append(out, f.Rule.ID)
		}
	}
	return out
}

// humanDuration trims a duration to a readable precision.
func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return d.Round(time.Minute).String()
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.String()
	}
}

// humanBytes formats a byte count with binary units.
func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
