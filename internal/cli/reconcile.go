package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/popfix/internal/emit"
	"github.com/ppiankov/popfix/internal/journal"
	"github.com/ppiankov/popfix/internal/ledger"
	"github.com/ppiankov/popfix/internal/logging"
	"github.com/ppiankov/popfix/internal/metrics"
	"github.com/ppiankov/popfix/internal/model"
	"github.com/ppiankov/popfix/internal/pipeline"
	"github.com/ppiankov/popfix/internal/reconcile"
	"github.com/ppiankov/popfix/internal/util"
	"github.com/ppiankov/popfix/internal/wikidata"
	"github.com/ppiankov/popfix/internal/worker"
)

var (
	ledgerPath       string
	qidsFile         string
	reconcileTimeout time.Duration
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Emit commands that leave one point in time per population statement",
	Long: `Reconcile walks every municipality entity, finds population statements
with more than one point-in-time qualifier and writes QuickStatements
commands that fix them.

Entities come from --qids (one QID per line) or, by default, from every
item carrying the municipality code property. Statements that have to be
rebuilt take their replacement lines from --ledger, the output of
'popfix generate'.

In strict mode (default) the run stops at the first entity that cannot be
reconciled; commands for every entity before it are still written. In
continue mode failures are collected and reported at the end.

Example:
  popfix reconcile --ledger initial.qs
  popfix reconcile --ledger initial.qs --qids sample.txt --mode continue
  popfix reconcile --ledger initial.qs --report run.json --workers 8`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	flags := reconcileCmd.Flags()
	flags.StringVar(&ledgerPath, "ledger", "", "initial commands used to rebuild statements (required)")
	flags.StringVar(&qidsFile, "qids", "", "file with entity ids to reconcile (default: all coded municipalities)")
	flags.DurationVar(&reconcileTimeout, "timeout", 0, "total timeout for the run (0 disables)")
	flags.StringP("output", "o", "", "command output file")
	flags.Bool("sort", false, "sort output lines")
	flags.String("mode", "", "failure mode (strict, continue)")
	flags.Int("workers", 0, "number of concurrent entity fetches")
	flags.String("report", "", "write the run report as JSON to this file")
	flags.String("retrieved-stamp", "", "retrieved (S813) timestamp for rebuilt statements")
	flags.String("metrics-textfile", "", "write prometheus metrics to this textfile")
	flags.Bool("no-cache", false, "disable cache (force fresh fetch)")
	flags.Bool("no-journal", false, "do not record the run in the journal")
	flags.String("http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	flags.String("https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")
	_ = reconcileCmd.MarkFlagRequired("ledger")

	bind := map[string]string{
		"output.path":               "output",
		"output.sort":               "sort",
		"output.report":             "report",
		"reconcile.mode":            "mode",
		"reconcile.retrieved_stamp": "retrieved-stamp",
		"concurrency.workers":       "workers",
		"metrics.textfile":          "metrics-textfile",
		"http.http_proxy":           "http-proxy",
		"http.https_proxy":          "https-proxy",
	}
	for key, name := range bind {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		cfg.Cache.Enabled = false
	}
	if noJournal, _ := cmd.Flags().GetBool("no-journal"); noJournal {
		cfg.Journal.Enabled = false
	}
	if err := reconcile.ValidateRules(cfg.Reconcile.Rules); err != nil {
		return fmt.Errorf("reconcile.rules: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if reconcileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reconcileTimeout)
		defer cancel()
	}
	ctx = logging.WithLogger(ctx, logging.Default())
	log := logging.FromContext(ctx)

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  popfix reconcile\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Ledger:       %s\n", ledgerPath)
	fmt.Fprintf(os.Stderr, "  Output:       %s\n", cfg.Output.Path)
	fmt.Fprintf(os.Stderr, "  Mode:         %s\n", cfg.Reconcile.Mode)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.Concurrency.Workers)
	fmt.Fprintf(os.Stderr, "  Rules:        %s\n", cfg.Reconcile.Rules.Version)
	fmt.Fprintf(os.Stderr, "\n")

	var m *metrics.Metrics
	if cfg.Metrics.Textfile != "" {
		m = metrics.New()
	}
	client := pipeline.NewClient(ctx, cfg, m)

	// Ledger parsing and entity listing are independent
	var (
		ldg  *ledger.Ledger
		qids []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l, err := ledger.LoadFile(ledgerPath)
		if err != nil {
			return err
		}
		ldg = l
		return nil
	})
	g.Go(func() error {
		ids, err := listEntities(gctx, client, cfg.Endpoints.CodeProperty)
		if err != nil {
			return err
		}
		qids = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "✓ Loaded %d ledger lines for %d entities\n", ldg.Len(), len(ldg.Entities()))
	fmt.Fprintf(os.Stderr, "✓ Reconciling %d entities\n\n", len(qids))

	resolver := reconcile.NewResolver(ldg, cfg.Reconcile)
	p := pipeline.New(client, resolver,
		pipeline.WithMetrics(m),
		pipeline.WithWorkers(cfg.Concurrency.Workers))

	out, err := emit.Create(cfg.Output.Path, emit.Sorted(cfg.Output.Sort))
	if err != nil {
		return err
	}

	report := &model.RunReport{
		StartedAt: time.Now(),
		Mode:      cfg.Reconcile.Mode,
		Ledger:    ledgerPath,
		Output:    cfg.Output.Path,
	}

	var store *journal.Store
	if cfg.Journal.Enabled {
		store, err = journal.Open(util.ExpandHome(cfg.Journal.Path))
		if err != nil {
			log.Warn().Err(err).Msg("journal unavailable, run will not be recorded")
		} else {
			defer func() { _ = store.Close() }()
			if report.RunID, err = store.StartRun(ctx, report, cfg.Reconcile.Rules.Version); err != nil {
				log.Warn().Err(err).Msg("journal start failed")
				store = nil
			}
		}
	}

	runErr := p.Run(ctx, qids, report, pipeline.RunOptions{
		Mode: cfg.Reconcile.Mode,
		Sink: out,
		OnEntity: func(seq int, e *model.EntityReport) error {
			if cfg.Output.Verbose || e.Status != model.StatusConsistent {
				emit.RenderEntity(os.Stderr, e)
			}
			if store == nil {
				return nil
			}
			return store.RecordEntity(ctx, report.RunID, seq, e)
		},
	})

	// Everything emitted before a failure is kept
	if err := out.Close(); err != nil {
		return errors.Join(runErr, err)
	}

	if store != nil {
		if err := store.FinishRun(context.WithoutCancel(ctx), report.RunID, report); err != nil {
			log.Warn().Err(err).Msg("journal finish failed")
		}
	}
	if cfg.Output.Report != "" {
		if err := emit.RenderJSON(report, cfg.Output.Report); err != nil {
			log.Error().Err(err).Str("path", cfg.Output.Report).Msg("report not written")
		}
	}
	stats, cached := client.CacheStats()
	if cached {
		m.ObserveCache(stats)
	}
	if m != nil {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Error().Err(err).Str("path", cfg.Metrics.Textfile).Msg("metrics not written")
		}
	}

	emit.RenderSummary(os.Stderr, report)
	if cached {
		fmt.Fprintf(os.Stderr, "  Cache:        %d memory, %d disk, %d miss\n\n",
			stats.MemoryHits, stats.DiskHits, stats.Misses)
	}

	if runErr != nil {
		return fmt.Errorf("reconcile: %w", runErr)
	}
	if n := report.Count(model.StatusFailed); n > 0 {
		return fmt.Errorf("reconcile: %d entities failed", n)
	}
	return nil
}

// listEntities returns the entities named in --qids, or every item carrying
// the code property when no file is given.
func listEntities(ctx context.Context, client *wikidata.Client, property string) ([]string, error) {
	if qidsFile != "" {
		return worker.ReadQIDsFromFile(qidsFile)
	}
	bindings, err := client.CodeBindings(ctx, property)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return wikidata.QIDs(bindings), nil
}
