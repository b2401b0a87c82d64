package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/popfix/internal/ledger"
	"github.com/ppiankov/popfix/internal/logging"
	"github.com/ppiankov/popfix/internal/pipeline"
	"github.com/ppiankov/popfix/internal/reconcile"
	"github.com/ppiankov/popfix/internal/worker"
)

var inspectLedger string

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <qid>",
	Short: "Show how one entity would be reconciled",
	Long: `Inspect fetches a single entity and prints every population statement,
its point-in-time qualifiers, the rules that apply and the commands a
reconcile run would emit. Nothing is written.

Without --ledger, statements that need a rebuild report the years the
ledger would have to provide.

Example:
  popfix inspect Q1000
  popfix inspect Q1000 --ledger initial.qs`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectLedger, "ledger", "", "initial commands used to rebuild statements")
	inspectCmd.Flags().Bool("no-cache", false, "disable cache (force fresh fetch)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	qid := strings.ToUpper(strings.TrimSpace(args[0]))
	if !worker.ValidQID(qid) {
		return fmt.Errorf("invalid entity id: %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		cfg.Cache.Enabled = false
	}

	ldg := ledger.Empty()
	if inspectLedger != "" {
		if ldg, err = ledger.LoadFile(inspectLedger); err != nil {
			return err
		}
	}

	ctx := logging.WithLogger(context.Background(), logging.Default())
	ctx, cancel := context.WithTimeout(ctx, cfg.HTTP.Timeout*time.Duration(cfg.HTTP.MaxRetries+1))
	defer cancel()

	client := pipeline.NewClient(ctx, cfg, nil)
	p := pipeline.New(client, reconcile.NewResolver(ldg, cfg.Reconcile))

	_, plans, err := p.Inspect(ctx, qid)
	if err != nil {
		return err
	}

	renderPlans(cmd.OutOrStdout(), qid, plans)
	return nil
}

func renderPlans(w io.Writer, qid string, plans []pipeline.StatementPlan) {
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "  %s: %d population statement(s)\n", qid, len(plans))
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")

	for i, plan := range plans {
		fmt.Fprintf(w, "\n[%d] %s  (%d point(s) in time)\n", i+1, plan.Statement.Amount, plan.PointsInTime)
		for _, q := range plan.Statement.Qualifiers {
			fmt.Fprintf(w, "    %d. %s\n", q.Position+1, q)
		}

		if plan.Err != nil {
			fmt.Fprintf(w, "  ✗ %v\n", plan.Err)
		}
		for _, d := range plan.Decisions {
			fmt.Fprintf(w, "  rule: %s", d.Rule)
			if d.Dropped != "" {
				fmt.Fprintf(w, "  drop %s", d.Dropped)
			}
			if len(d.Years) > 0 {
				fmt.Fprintf(w, "  years %s", strings.Join(d.Years, ","))
			}
			fmt.Fprintln(w)
		}
		if len(plan.Commands) == 0 && plan.Err == nil {
			fmt.Fprintln(w, "  · consistent")
			continue
		}
		for _, c := range plan.Commands {
			fmt.Fprintf(w, "  %s\n", c)
		}
	}

	n := 0
	for _, plan := range plans {
		n += len(plan.Commands)
	}
	fmt.Fprintf(w, "\n%d command(s)\n", n)
}
