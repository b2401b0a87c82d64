package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/popfix/internal/emit"
	"github.com/ppiankov/popfix/internal/estimate"
	"github.com/ppiankov/popfix/internal/logging"
	"github.com/ppiankov/popfix/internal/model"
	"github.com/ppiankov/popfix/internal/pipeline"
	"github.com/ppiankov/popfix/internal/wikidata"
)

var (
	genDate    string
	genURL     string
	genMethod  string
	genOutput  string
	genIgnore  []string
	genFix     []string
	genNoCache bool
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate <table.csv>...",
	Short: "Generate initial population commands from estimate tables",
	Long: `Generate reads normalized census or estimate tables and writes one
population statement per municipality, with point in time, determination
method and a reference to the publication.

Tables need a code column (or state + municipality code columns) and a
population column. Headers are matched ignoring case and accents, so
"POPULAÇÃO ESTIMADA" and "populacao estimada" are the same column.

Codes are mapped to entities through the query service. A code with no
entity fails the whole run unless it is listed in --ignore-code.

The output is the ledger of a later 'popfix reconcile' run.

Example:
  popfix generate --date 2021-07-01 --url https://example.org/estimativas_2021.xls est2021.csv
  popfix generate --date 2010-08-01 --method census --url https://example.org/censo2010 c2010.csv
  popfix generate --date 2021-07-01 --url ... --fix-code 5300100=5300108 est2021.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	flags := generateCmd.Flags()
	flags.StringVar(&genDate, "date", "", "reference date of the tables, YYYY-MM-DD (required)")
	flags.StringVar(&genURL, "url", "", "publication URL used as reference (required)")
	flags.StringVar(&genMethod, "method", "estimation", "determination method (estimation, census or an item id)")
	flags.StringVarP(&genOutput, "output", "o", "initial_populations.qs", "command output file")
	flags.StringSliceVar(&genIgnore, "ignore-code", nil, "municipality codes to skip")
	flags.StringSliceVar(&genFix, "fix-code", nil, "code replacement as old=new")
	flags.BoolVar(&genNoCache, "no-cache", false, "disable cache (force fresh fetch)")
	_ = generateCmd.MarkFlagRequired("date")
	_ = generateCmd.MarkFlagRequired("url")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if genNoCache {
		cfg.Cache.Enabled = false
	}

	src := estimate.Source{Date: genDate, URL: genURL, Method: genMethod}
	if err := src.Validate(); err != nil {
		return err
	}
	opts := estimate.Options{
		Ignore: make(map[string]bool, len(genIgnore)),
		Today:  time.Now(),
	}
	for _, code := range genIgnore {
		opts.Ignore[strings.TrimSpace(code)] = true
	}
	if opts.FixCodes, err = parseCodeFixes(genFix); err != nil {
		return err
	}

	tables := make([]*estimate.Table, 0, len(args))
	for _, path := range args {
		t, err := estimate.ReadFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ %s: %d municipalities, total population %d\n", path, len(t.Rows), t.Total())
		tables = append(tables, t)
	}

	ctx := logging.WithLogger(context.Background(), logging.Default())
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	client := pipeline.NewClient(ctx, cfg, nil)
	bindings, err := client.CodeBindings(ctx, cfg.Endpoints.CodeProperty)
	if err != nil {
		return fmt.Errorf("load municipality codes: %w", err)
	}
	codes := wikidata.NewCodeMap(bindings)
	fmt.Fprintf(os.Stderr, "✓ Loaded %d municipality codes\n", len(codes))

	var cmds []model.Command
	for _, t := range tables {
		out, err := estimate.Generate(t, src, codes, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", t.Source, err)
		}
		cmds = append(cmds, out...)
	}

	estimate.SortCommands(cmds)

	out, err := emit.Create(genOutput)
	if err != nil {
		return err
	}
	if err := out.Emit(cmds); err != nil {
		out.Abort()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "✓ Wrote %d commands to %s\n", out.Lines(), out.Path())
	return nil
}

// parseCodeFixes turns old=new pairs into a replacement map
func parseCodeFixes(pairs []string) (map[string]string, error) {
	fixes := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		from, to, ok := strings.Cut(pair, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid --fix-code %q (want old=new)", pair)
		}
		fixes[from] = to
	}
	return fixes, nil
}
