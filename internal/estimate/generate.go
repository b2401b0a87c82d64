package estimate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/popfix/internal/model"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// CodeLookup resolves a municipality code to its entity
type CodeLookup interface {
	QID(code string) (string, bool)
}

// Source describes where and when a table was published
type Source struct {
	Date   string // reference date, YYYY-MM-DD
	URL    string
	Method string // determination method item
}

// Options tune generation
type Options struct {
	Ignore   map[string]bool   // codes to skip
	FixCodes map[string]string // code replacements applied before lookup
	Today    time.Time         // retrieved date, defaults to now
}

// UnknownCodesError lists table codes with no entity
type UnknownCodesError struct {
	Codes []string
}

func (e *UnknownCodesError) Error() string {
	return fmt.Sprintf("no entity for %d code(s): %s", len(e.Codes), strings.Join(e.Codes, ", "))
}

// MethodItem maps a method name to its item id; item ids pass through
func MethodItem(name string) (string, error) {
	switch strings.ToLower(name) {
	case "estimation", "estimate", "":
		return model.ItemEstimation, nil
	case "census":
		return model.ItemCensus, nil
	}
	if len(name) > 1 && name[0] == 'Q' {
		if _, err := strconv.Atoi(name[1:]); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown method %q (want estimation, census or an item id)", name)
}

// Validate checks the source fields
func (s Source) Validate() error {
	if !datePattern.MatchString(s.Date) {
		return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s.Date)
	}
	if _, err := time.Parse("2006-01-02", s.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", s.Date, err)
	}
	if s.URL == "" {
		return fmt.Errorf("source url is required")
	}
	if strings.ContainsAny(s.URL, "|\"") {
		return fmt.Errorf("source url %q contains a reserved character", s.URL)
	}
	return nil
}

// Generate builds one create command per row:
// Q|P1082|pop|P585|+date/11|P459|method|S854|"url"|S813|+today/11.
// Unknown codes fail the whole table so no municipality is silently dropped.
func Generate(t *Table, src Source, codes CodeLookup, opts Options) ([]model.Command, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	method, err := MethodItem(src.Method)
	if err != nil {
		return nil, err
	}

	today := opts.Today
	if today.IsZero() {
		today = time.Now()
	}
	pointInTime := "+" + src.Date + "T00:00:00Z/11"
	retrieved := "+" + today.Format("2006-01-02") + "T00:00:00Z/11"

	var (
		out     []model.Command
		unknown []string
	)
	for _, row := range t.Rows {
		code := row.Code
		if fixed, ok := opts.FixCodes[code]; ok {
			code = fixed
		}
		if opts.Ignore[code] {
			continue
		}
		qid, ok := codes.QID(code)
		if !ok {
			unknown = append(unknown, code)
			continue
		}
		out = append(out, model.NewCreate(
			qid, model.PropPopulation, strconv.FormatInt(row.Population, 10),
			model.PropPointInTime, pointInTime,
			model.PropMethod, method,
			model.SourceReferenceURL, `"`+src.URL+`"`,
			model.SourceRetrieved, retrieved,
		))
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &UnknownCodesError{Codes: unknown}
	}
	return out, nil
}

// SortCommands orders commands by their rendered line, grouping each entity's statements
func SortCommands(cmds []model.Command) {
	sort.SliceStable(cmds, func(i, j int) bool {
		return cmds[i].String() < cmds[j].String()
	})
}
