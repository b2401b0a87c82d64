// Package ledger indexes the pre-authored initial commands that serve as
// ground truth when a population statement has to be rebuilt.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ppiankov/popfix/internal/model"
)

// ErrMalformed is matched by every ParseError
var ErrMalformed = errors.New("malformed ledger line")

// ParseError reports a ledger line that could not be used
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ledger line %d: %s", e.Line, e.Reason)
}

// Is implements errors.Is support
func (e *ParseError) Is(target error) bool {
	return target == ErrMalformed
}

type key struct {
	qid  string
	year string
}

// Ledger is an immutable index of initial commands by entity and year
type Ledger struct {
	byEntity map[string][]model.Command
	byYear   map[key]model.Command
	order    []string
	size     int
}

// Empty returns a ledger with no entries
func Empty() *Ledger {
	return &Ledger{
		byEntity: make(map[string][]model.Command),
		byYear:   make(map[key]model.Command),
	}
}

// Load reads initial command lines (one per line, pipe-delimited)
func Load(r io.Reader) (*Ledger, error) {
	l := Empty()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "|")
		if len(fields) < 5 {
			return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("expected at least 5 fields, got %d", len(fields))}
		}
		if fields[0] == "" || strings.HasPrefix(fields[0], "-") {
			return nil, &ParseError{Line: lineNo, Reason: "field 0 must be an entity id"}
		}

		l.add(model.NewCreate(fields...))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}

	return l, nil
}

// LoadFile reads a ledger from disk
func LoadFile(path string) (*Ledger, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = file.Close() }()

	return Load(file)
}

func (l *Ledger) add(c model.Command) {
	qid := c.Subject()
	if _, ok := l.byEntity[qid]; !ok {
		l.order = append(l.order, qid)
	}
	l.byEntity[qid] = append(l.byEntity[qid], c)

	// First line for a year wins
	k := key{qid: qid, year: c.Year()}
	if _, ok := l.byYear[k]; !ok {
		l.byYear[k] = c
	}
	l.size++
}

// Lookup returns the initial command for an entity and year token ("+2010")
func (l *Ledger) Lookup(qid, year string) (model.Command, bool) {
	if l == nil {
		return model.Command{}, false
	}
	c, ok := l.byYear[key{qid: qid, year: year}]
	return c, ok
}

// ForEntity returns a copy of the entity's commands in ledger order
func (l *Ledger) ForEntity(qid string) []model.Command {
	if l == nil {
		return nil
	}
	return append([]model.Command(nil), l.byEntity[qid]...)
}

// Entities returns the entity ids in first-seen order
func (l *Ledger) Entities() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.order...)
}

// Len returns the number of commands in the ledger
func (l *Ledger) Len() int {
	if l == nil {
		return 0
	}
	return l.size
}
