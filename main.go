package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/thanh-p/mysql-performance-tuning/tune"
)

var (
	flagConfig   string
	flagAddr     string
	flagUser     string
	flagPassword string
	flagSchema   string
	flagTop      int
	flagJSON     bool
)

func main() {
	root := &cobra.Command{
		Use:          "mysqltune",
		Short:        "Query-performance analysis for MySQL",
		Long:         "mysqltune collects performance_schema digest statistics, index usage and EXPLAIN plans from a MySQL server and reports tuning findings.",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "path to TOML config file")
	pf.StringVar(&flagAddr, "addr", "", "MySQL address (host:port)")
	pf.StringVar(&flagUser, "user", "", "MySQL user")
	pf.StringVar(&flagPassword, "password", "", "MySQL password")
	pf.StringVar(&flagSchema, "schema", "", "default schema")
	pf.IntVar(&flagTop, "top", 0, "number of rows per section")
	pf.BoolVar(&flagJSON, "json", false, "emit JSON instead of tables")

	root.AddCommand(
		newReportCmd(),
		newTopCmd(),
		newTablesCmd(),
		newIndexesCmd(),
		newStatusCmd(),
		newExplainCmd(),
		newAnalyzeCmd(),
		newDaemonCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig builds the effective config from file plus flag overrides.
func loadConfig() (*tune.Config, error) {
	cfg := tune.DefaultConfig()
	if flagConfig != "" {
		loaded, err := tune.LoadConfig(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flagAddr != "" {
		cfg.MySQL.Addr = flagAddr
	}
	if flagUser != "" {
		cfg.MySQL.User = flagUser
	}
	if flagPassword != "" {
		cfg.MySQL.Password = flagPassword
	}
	if flagSchema != "" {
		cfg.MySQL.Schema = flagSchema
	}
	if flagTop > 0 {
		cfg.Collect.TopN = flagTop
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := tune.InitLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withCollector opens a collector and hands it to fn with a bounded context.
func withCollector(fn func(ctx context.Context, cfg *tune.Config, c *tune.Collector) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := tune.Open(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		return err
	}
	return fn(ctx, cfg, c)
}

func emit(report *tune.Report) error {
	if flagJSON {
		return report.WriteJSON(os.Stdout)
	}
	return report.WriteTo(os.Stdout)
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Run every collector and print a full tuning report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollector(func(ctx context.Context, cfg *tune.Config, c *tune.Collector) error {
				report := tune.NewReport(cfg)
				if v, err := c.ServerVersion(ctx); err == nil {
					report.ServerVersion = v
				}

				analyzer := tune.NewAnalyzer(cfg)
				n := cfg.Collect.TopN

				stmts, err := c.TopStatementsByLatency(ctx, n)
				if err != nil {
					return err
				}
				report.AddStatements(stmts)
				report.AddFindings(analyzer.AnalyzeDigests(stmts))

				scans, err := c.StatementsWithFullScans(ctx, n)
				if err != nil {
					return err
				}
				report.AddFullScans(scans)

				io, err := c.TableIOWaits(ctx, n)
				if err != nil {
					return err
				}
				report.AddTableIO(io)

				sizes, err := c.TableSizes(ctx, n)
				if err != nil {
					return err
				}
				report.AddTableSizes(sizes)

				usage, err := c.IndexUsageStats(ctx)
				if err != nil {
					return err
				}
				defs, err := c.IndexDefinitions(ctx)
				if err != nil {
					return err
				}
				report.AddFindings(analyzer.AnalyzeIndexes(
					tune.UnusedIndexes(usage), tune.RedundantIndexes(defs)))

				status, err := c.CollectGlobalStatus(ctx)
				if err != nil {
					return err
				}
				report.AddStatus(status)
				report.AddFindings(analyzer.AnalyzeStatus(status))

				return emit(report)
			})
		},
	}
}

func newTopCmd() *cobra.Command {
	var sortBy string
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show top statements from the digest summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollector(func(ctx context.Context, cfg *tune.Config, c *tune.Collector) error {
				stmts, err := c.TopStatementsBy(ctx, tune.StatementSort(sortBy), cfg.Collect.TopN)
				if err != nil {
					return err
				}
				report := tune.NewReport(cfg)
				report.AddStatements(stmts)
				return emit(report)
			})
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort", string(tune.SortByLatency),
		"ranking column: latency, avg-latency, calls, rows-examined, lock-time, tmp-disk, errors")
	return cmd
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "Show table I/O hotspots and sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollector(func(ctx context.Context, cfg *tune.Config, c *tune.Collector) error {
				report := tune.NewReport(cfg)
				io, err := c.TableIOWaits(ctx, cfg.Collect.TopN)
				if err != nil {
					return err
				}
				report.AddTableIO(io)
				sizes, err := c.TableSizes(ctx, cfg.Collect.TopN)
				if err != nil {
					return err
				}
				report.AddTableSizes(sizes)
				return emit(report)
			})
		},
	}
}

func newIndexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "Report unused and redundant indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollector(func(ctx context.Context, cfg *tune.Config, c *tune.Collector) error {
				usage, err := c.IndexUsageStats(ctx)
				if err != nil {
					return err
				}
				defs, err := c.IndexDefinitions(ctx)
				if err != nil {
					return err
				}
				analyzer := tune.NewAnalyzer(cfg)
				report := tune.NewReport(cfg)
				report.AddFindings(analyzer.AnalyzeIndexes(
					tune.UnusedIndexes(usage), tune.RedundantIndexes(defs)))
				return emit(report)
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tuning-relevant global status counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollector(func(ctx context.Context, cfg *tune.Config, c *tune.Collector) error {
				status, err := c.CollectGlobalStatus(ctx)
				if err != nil {
					return err
				}
				analyzer := tune.NewAnalyzer(cfg)
				report := tune.NewReport(cfg)
				report.AddStatus(status)
				report.AddFindings(analyzer.AnalyzeStatus(status))
				return emit(report)
			})
		},
	}
}

func newExplainCmd() *cobra.Command {
	var analyze bool
	cmd := &cobra.Command{
		Use:   "explain <sql>",
		Short: "Run EXPLAIN on a statement and report plan findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql := args[0]
			return withCollector(func(ctx context.Context, cfg *tune.Config, c *tune.Collector) error {
				if analyze {
					node, err := c.ExplainAnalyzeQuery(ctx, sql)
					if err != nil {
						return err
					}
					printAnalyzeTree(node, 0)
					return nil
				}

				plan, err := c.ExplainQuery(ctx, sql)
				if err != nil {
					return err
				}
				fmt.Printf("query cost: %.2f\n", plan.QueryCost)
				printPlanTree(plan.Root, 0)

				analyzer := tune.NewAnalyzer(cfg)
				report := tune.NewReport(cfg)
				report.AddFindings(analyzer.AnalyzePlan(plan))
				return emit(report)
			})
		},
	}
	cmd.Flags().BoolVar(&analyze, "analyze", false, "use EXPLAIN ANALYZE (executes the statement)")
	return cmd
}

func printPlanTree(n *tune.PlanNode, depth int) {
	for i := 0; i < depth; i++ {
		fmt.Print("  ")
	}
	if n.Op == "table" {
		fmt.Printf("- %s (%s", n.Table, n.AccessType)
		if n.Key != "" {
			fmt.Printf(", key=%s", n.Key)
		}
		fmt.Printf(", ~%d rows)\n", n.RowsExaminedPerScan)
	} else {
		fmt.Printf("- %s\n", n.Op)
	}
	for _, child := range n.Children {
		printPlanTree(child, depth+1)
	}
}

func printAnalyzeTree(n *tune.AnalyzeNode, depth int) {
	for i := 0; i < depth; i++ {
		fmt.Print("  ")
	}
	if n.Executed {
		fmt.Printf("- %s (%.3f..%.3f ms, rows=%.0f, loops=%d)\n",
			n.Text, n.TimeFirst, n.TimeLast, n.ActualRows, n.Loops)
	} else {
		fmt.Printf("- %s (never executed)\n", n.Text)
	}
	for _, child := range n.Children {
		printAnalyzeTree(child, depth+1)
	}
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <sql>",
		Short: "Run the static advisor rules on a statement (no server needed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			analyzer := tune.NewAnalyzer(cfg)
			findings, err := analyzer.AnalyzeStatement(args[0])
			if err != nil {
				return err
			}
			if len(findings) == 0 {
				fmt.Println("no findings")
				return nil
			}
			report := tune.NewReport(cfg)
			report.AddFindings(findings)
			return emit(report)
		},
	}
}

func newDaemonCmd() *cobra.Command {
	var listen string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the sampling daemon with an HTTP API and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Daemon.ListenAddr = listen
			}
			if interval > 0 {
				cfg.Daemon.SampleInterval = tune.Duration(interval)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			c, err := tune.Open(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			tune.RegisterMetrics()
			server := tune.NewServer(cfg, c)
			return server.RunUntilSignal()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address")
	cmd.Flags().DurationVar(&interval, "interval", 0, "sample interval")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mysqltune %s\n", tune.Version())
		},
	}
}
