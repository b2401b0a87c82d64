package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/popfix/internal/model"
)

const rule = "═══════════════════════════════════════════════════════════"

// RenderJSON writes the run report as indented JSON
func RenderJSON(report *model.RunReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Banner prints a section header
func Banner(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n  %s\n%s\n\n", rule, title, rule)
}

// RenderEntity prints one progress line for an entity
func RenderEntity(w io.Writer, e *model.EntityReport) {
	switch e.Status {
	case model.StatusFixed:
		fmt.Fprintf(w, "✓ %s: %d command(s)\n", e.QID, len(e.Commands))
	case model.StatusConsistent:
		fmt.Fprintf(w, "· %s: OK\n", e.QID)
	default:
		fmt.Fprintf(w, "✗ %s: %s\n", e.QID, e.Error)
	}
}

// RenderSummary prints the end-of-run totals
func RenderSummary(w io.Writer, report *model.RunReport) {
	title := "Reconciliation Complete"
	if report.Halted {
		title = "Reconciliation Halted"
	}
	Banner(w, title)

	fmt.Fprintf(w, "  Entities:    %d\n", len(report.Entities))
	fmt.Fprintf(w, "  Fixed:       %d\n", report.Count(model.StatusFixed))
	fmt.Fprintf(w, "  Consistent:  %d\n", report.Count(model.StatusConsistent))
	fmt.Fprintf(w, "  Failed:      %d\n", report.Count(model.StatusFailed))
	fmt.Fprintf(w, "  Commands:    %d\n", report.CommandCount())
	if report.Output != "" {
		fmt.Fprintf(w, "  Output:      %s\n", report.Output)
	}
	if report.RunID != 0 {
		fmt.Fprintf(w, "  Run:         #%d\n", report.RunID)
	}
	if report.Halted {
		fmt.Fprintf(w, "  Mode:        %s (stopped at first failure)\n", report.Mode)
	}

	if failures := report.Failures(); len(failures) > 0 {
		fmt.Fprintf(w, "\n  Failures:\n")
		for _, f := range failures {
			if len(f.MissingYears) > 0 {
				fmt.Fprintf(w, "    %s  missing years: %s\n", f.QID, strings.Join(f.MissingYears, ", "))
				continue
			}
			fmt.Fprintf(w, "    %s  %s\n", f.QID, f.Error)
		}
	}
	fmt.Fprintln(w)
}
