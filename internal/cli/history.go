package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/popfix/internal/journal"
	"github.com/ppiankov/popfix/internal/util"
	"github.com/ppiankov/popfix/internal/worker"
)

var (
	historyLimit int
	historyAll   bool
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [run-id | qid]",
	Short: "Show recorded reconciliation runs",
	Long: `History reads the run journal.

Without arguments it lists recent runs. With a run id it lists the
entities that failed in that run together with the years the ledger is
missing, which is what an operator needs to author new ledger lines.
With an entity id it shows that entity's outcome in every run.

Example:
  popfix history
  popfix history 42
  popfix history 42 --all
  popfix history Q1000`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "list every entity of the run, not only failures")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := journal.Open(util.ExpandHome(cfg.Journal.Path))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	w := cmd.OutOrStdout()

	if len(args) == 0 {
		runs, err := store.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		renderRuns(w, runs)
		return nil
	}

	arg := strings.ToUpper(strings.TrimSpace(args[0]))
	if worker.ValidQID(arg) {
		outcomes, err := store.EntityHistory(ctx, arg)
		if err != nil {
			return err
		}
		renderOutcomes(w, outcomes, true)
		return nil
	}

	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid argument %q (want a run id or an entity id)", args[0])
	}
	run, err := store.GetRun(ctx, id)
	if errors.Is(err, journal.ErrRunNotFound) {
		return fmt.Errorf("run #%d not found in %s", id, store.Path())
	}
	if err != nil {
		return err
	}

	var outcomes []journal.Outcome
	if historyAll {
		outcomes, err = store.Outcomes(ctx, id, "")
	} else {
		outcomes, err = store.Failures(ctx, id)
	}
	if err != nil {
		return err
	}

	renderRuns(w, []journal.Run{run})
	fmt.Fprintln(w)
	renderOutcomes(w, outcomes, false)
	return nil
}

func renderRuns(w io.Writer, runs []journal.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	fmt.Fprintf(w, "%-6s %-20s %-9s %8s %8s %8s  %s\n", "RUN", "STARTED", "MODE", "ENTITIES", "FAILED", "COMMANDS", "STATE")
	for _, r := range runs {
		fmt.Fprintf(w, "%-6s %-20s %-9s %8d %8d %8d  %s\n",
			"#"+strconv.FormatInt(r.ID, 10),
			r.StartedAt.Local().Format(time.DateTime),
			r.Mode, r.Entities, r.Failures, r.Commands, runState(r))
	}
}

func runState(r journal.Run) string {
	switch {
	case r.FinishedAt.IsZero():
		return "unfinished"
	case r.Halted:
		return "halted"
	default:
		return "complete"
	}
}

func renderOutcomes(w io.Writer, outcomes []journal.Outcome, withRun bool) {
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "no matching entities")
		return
	}
	for _, o := range outcomes {
		prefix := o.QID
		if withRun {
			prefix = fmt.Sprintf("#%d %s", o.RunID, o.QID)
		}
		switch {
		case len(o.MissingYears) > 0:
			fmt.Fprintf(w, "✗ %s  missing years: %s\n", prefix, strings.Join(o.MissingYears, ", "))
		case o.Error != "":
			fmt.Fprintf(w, "✗ %s  %s\n", prefix, o.Error)
		default:
			fmt.Fprintf(w, "· %s  %s, %d command(s)\n", prefix, o.Status, len(o.Commands))
		}
	}
}
