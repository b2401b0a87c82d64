// Package estimate turns normalized population tables into initial
// statement commands, the ledger input of a reconciliation run.
package estimate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrColumns is returned when a table lacks the code or population columns
var ErrColumns = errors.New("missing required columns")

// Row is one municipality of a table
type Row struct {
	Code       string
	Population int64
}

// Table is a population table for a single reference date
type Table struct {
	Source string // file name, for messages
	Rows   []Row
}

// Total returns the summed population
func (t *Table) Total() int64 {
	var n int64
	for _, r := range t.Rows {
		n += r.Population
	}
	return n
}

// Header aliases after normalization (accents stripped, upper case, single spaces)
var (
	codeHeaders  = []string{"CODE", "COD. IBGE", "CODIGO", "COD"}
	ufHeaders    = []string{"COD. UF", "U.F.", "UF"}
	municHeaders = []string{"COD. MUNIC", "MUNIC"}
	popHeaders   = []string{"POPULATION", "POPULACAO ESTIMADA", "POPULACAO", "ESTIMADA"}
)

var (
	footnoteRef  = regexp.MustCompile(`\(\d+\)`)
	footnoteTail = regexp.MustCompile(`\(?\*\)?\S*$`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// NormalizeHeader folds a column name for matching: accents removed,
// upper-cased, whitespace collapsed.
func NormalizeHeader(h string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, h)
	if err != nil {
		folded = h
	}
	folded = cases.Upper(language.Und).String(folded)
	return strings.TrimSpace(spaceRun.ReplaceAllString(folded, " "))
}

// ReadFile reads a CSV table from disk
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer func() { _ = f.Close() }()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.Source = path
	return t, nil
}

// Read parses a CSV table. The code is taken from a full code column, or
// from state and municipality columns with the latter left-padded to five
// digits. Rows without a population are skipped.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := NormalizeHeader(h)
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}

	codeCol := lookup(cols, codeHeaders)
	ufCol := lookup(cols, ufHeaders)
	municCol := lookup(cols, municHeaders)
	popCol := lookup(cols, popHeaders)

	if popCol < 0 || (codeCol < 0 && (ufCol < 0 || municCol < 0)) {
		return nil, fmt.Errorf("%w: have %s", ErrColumns, strings.Join(header, ", "))
	}

	t := &Table{}
	seen := make(map[string]int)
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		raw := field(rec, popCol)
		if raw == "" {
			continue
		}

		var code string
		if codeCol >= 0 {
			code = field(rec, codeCol)
		} else {
			munic := field(rec, municCol)
			if munic == "" {
				continue
			}
			code = field(rec, ufCol) + leftPad(munic, 5)
		}
		if code == "" {
			continue
		}

		pop, err := ParsePopulation(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		if prev, dup := seen[code]; dup {
			return nil, fmt.Errorf("line %d: code %s already on line %d", line, code, prev)
		}
		seen[code] = line
		t.Rows = append(t.Rows, Row{Code: code, Population: pop})
	}

	return t, nil
}

// ParsePopulation reads a count written with thousand separators and
// optional footnote markers, e.g. "1.234.567(1)" or "12,345*".
func ParsePopulation(s string) (int64, error) {
	clean := footnoteRef.ReplaceAllString(s, "")
	clean = footnoteTail.ReplaceAllString(clean, "")
	clean = strings.NewReplacer(",", "", ".", "", " ", "").Replace(strings.TrimSpace(clean))

	n, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid population %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative population %q", s)
	}
	return n, nil
}

func lookup(cols map[string]int, names []string) int {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i
		}
	}
	return -1
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
