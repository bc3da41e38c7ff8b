package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	verrors "github.com/23skdu/vecbench/internal/errors"
	"github.com/23skdu/vecbench/internal/ingest"
	"github.com/23skdu/vecbench/internal/metrics"
	"github.com/23skdu/vecbench/internal/provider"
	"github.com/23skdu/vecbench/internal/query"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for invalid run or process configuration, 1 otherwise.
func exitCode(err error) int {
	if verrors.IsType(err, verrors.ErrorTypeConfiguration) {
		return 2
	}
	return 1
}

type rootFlags struct {
	provider string
	cacheDir string
	envFile  string
}

func newRootCmd(out, logOut io.Writer) *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:           "vecbench",
		Short:         "Load-test vector database providers",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.SetErr(logOut)
	root.PersistentFlags().StringVar(&flags.provider, "provider", "memory", "provider to benchmark (memory, duckdb, qdrant, flight)")
	root.PersistentFlags().StringVar(&flags.cacheDir, "cache-dir", "", "local cache for downloaded datasets (overrides VECBENCH_CACHE_DIR)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "optional dotenv file loaded before the environment")

	withApp := func(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(flags.envFile)
			if err != nil {
				return err
			}
			if flags.cacheDir != "" {
				cfg.CacheDir = flags.cacheDir
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logOut, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close(ctx)
			return fn(ctx, a, args)
		}
	}

	root.AddCommand(
		newIngestCmd(&flags, withApp),
		newQueryCmd(&flags, withApp),
		newCleanupCmd(&flags, withApp),
		newInspectCmd(withApp),
	)
	return root
}

type appRunner func(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error

func newIngestCmd(root *rootFlags, withApp appRunner) *cobra.Command {
	var (
		cfg        ingest.Config
		metricsOut string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Upsert a dataset and measure throughput, latency and freshness",
	}
	cmd.Flags().StringVar(&cfg.Collection, "collection", "", "collection name (default x-<size>)")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", 2000, "documents per upsert")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 8, "concurrent writers")
	cmd.Flags().StringVar(&cfg.Input, "input", "", "dataset path or URI (default s3://topk-bench/docs-<size>.parquet)")
	cmd.Flags().StringVar(&cfg.Size, "size", "100k", "dataset size tag (100k, 1m, 10m)")
	cmd.Flags().StringVar(&cfg.Mode, "mode", "ingest", "mode label recorded on every metric")
	cmd.Flags().StringVar(&metricsOut, "metrics-out", "", "write metrics to this parquet path or URI")

	cmd.RunE = withApp(func(ctx context.Context, a *app, _ []string) error {
		if cfg.Collection == "" {
			cfg.Collection = "x-" + cfg.Size
		}
		if cfg.Input == "" {
			cfg.Input = fmt.Sprintf(query.DefaultDataset, cfg.Size)
		}
		cfg.CacheDir = a.cfg.CacheDir

		p, err := a.provider(root.provider)
		if err != nil {
			return err
		}
		res, runErr := ingest.Run(ctx, a.deps(p, "ingest"), cfg)
		a.finish(res)
		if res != nil && res.Interrupted {
			a.logger.Warn().Str("run_id", res.RunID).Msg("Ingest interrupted")
		}
		if err := a.export(ctx, metricsOut); err != nil {
			a.logger.Error().Err(err).Msg("Failed to export metrics")
			if runErr == nil {
				runErr = err
			}
		}
		return runErr
	})
	return cmd
}

func newQueryCmd(root *rootFlags, withApp appRunner) *cobra.Command {
	var (
		cfg           query.Config
		intFilter     uint32
		keywordFilter string
		metricsOut    string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query a collection and measure throughput, latency and recall",
	}
	cmd.Flags().StringVar(&cfg.Collection, "collection", "", "collection name (default x-<size>)")
	cmd.Flags().StringVar(&cfg.Queries, "queries", "", "query set path or URI (default s3://topk-bench/queries-<size>.parquet)")
	cmd.Flags().IntVar(&cfg.TopK, "top-k", 10, "results per query (at most 100)")
	cmd.Flags().Uint32Var(&intFilter, "int-filter", 0, "only match documents with int_filter <= value")
	cmd.Flags().StringVar(&keywordFilter, "keyword-filter", "", "only match documents containing every keyword token")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 1, "concurrent query workers")
	cmd.Flags().StringVar(&cfg.Size, "size", "100k", "dataset size tag (100k, 1m, 10m)")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "how long to generate queries")
	cmd.Flags().StringVar(&cfg.Mode, "mode", "qps", "mode label; filter runs end with a recall pass")
	cmd.Flags().BoolVar(&cfg.Warmup, "warmup", false, "warmup run, skips the recall pass")
	cmd.Flags().BoolVar(&cfg.ReadWrite, "read-write", false, "derive queries from the dataset and write concurrently")
	cmd.Flags().Float64Var(&cfg.MaxQPS, "max-qps", -1, "cap generated queries per second (default VECBENCH_QUERY_MAX_QPS, 0 disables)")
	cmd.Flags().StringVar(&metricsOut, "metrics-out", "", "write metrics to this parquet path or URI")

	cmd.RunE = withApp(func(ctx context.Context, a *app, _ []string) error {
		if cmd.Flags().Changed("int-filter") {
			cfg.IntFilter = &intFilter
		}
		if cmd.Flags().Changed("keyword-filter") {
			cfg.KeywordFilter = &keywordFilter
		}
		if cfg.Collection == "" {
			cfg.Collection = "x-" + cfg.Size
		}
		if cfg.Queries == "" {
			cfg.Queries = fmt.Sprintf("s3://topk-bench/queries-%s.parquet", cfg.Size)
		}
		if cfg.MaxQPS < 0 {
			cfg.MaxQPS = a.cfg.Query.RPS
		}
		cfg.CacheDir = a.cfg.CacheDir
		cfg.Dataset = a.cfg.Dataset

		qc, err := query.NewConfig(cfg)
		if err != nil {
			return err
		}
		p, err := a.provider(root.provider)
		if err != nil {
			return err
		}
		res, runErr := query.Run(ctx, a.deps(p, "query"), qc)
		a.finish(res)
		if res != nil && res.Interrupted {
			a.logger.Warn().Str("run_id", res.RunID).Msg("Query bench interrupted")
		}
		if err := a.export(ctx, metricsOut); err != nil {
			a.logger.Error().Err(err).Msg("Failed to export metrics")
			if runErr == nil {
				runErr = err
			}
		}
		return runErr
	})
	return cmd
}

func newCleanupCmd(root *rootFlags, withApp appRunner) *cobra.Command {
	var wet bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "List provider collections and delete them with --wet",
	}
	cmd.Flags().BoolVar(&wet, "wet", false, "actually delete; otherwise only print what would be deleted")

	cmd.RunE = withApp(func(ctx context.Context, a *app, _ []string) error {
		p, err := a.provider(root.provider)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close(context.WithoutCancel(ctx)) }()

		c, ok := p.(provider.Cleaner)
		if !ok {
			return fmt.Errorf("provider %s cannot list collections", p.Name())
		}
		names, err := c.ListCollections(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range names {
			if !wet {
				fmt.Fprintf(out, "DRY RUN] Would delete collection=%q in provider=%q.\n", name, p.Name())
				continue
			}
			fmt.Fprintf(out, "Deleting collection=%q in provider=%q...\n", name, p.Name())
			if err := c.DeleteCollection(ctx, name); err != nil {
				return err
			}
		}
		return nil
	})
	return cmd
}

func newInspectCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <metrics.parquet>",
		Short: "Summarise an exported metrics file",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = withApp(func(ctx context.Context, a *app, args []string) error {
		local, err := a.files.EnsureFile(ctx, args[0])
		if err != nil {
			return err
		}
		rows, labelKeys, err := metrics.ReadExport(local)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), rows, labelKeys)
		return nil
	})
	return cmd
}

func printSummary(out io.Writer, rows []metrics.ExportRow, labelKeys []string) {
	runs := make(map[string]struct{})
	for _, r := range rows {
		runs[r.Labels[metrics.RunIDLabel]] = struct{}{}
	}
	fmt.Fprintf(out, "%s rows, %d runs, labels: %v\n", humanize.Comma(int64(len(rows))), len(runs), labelKeys)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tCOUNT\tMEAN\tMIN\tMAX\tSUM")
	for _, s := range metrics.Summarize(rows) {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%.3f\t%.3f\n",
			s.Metric, humanize.Comma(int64(s.Count)), s.Mean, s.Min, s.Max, s.Sum)
	}
	_ = tw.Flush()
}
