// Package journal records reconciliation runs in a local SQLite database so
// operators can audit what was emitted and which entities still need ledger lines.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/popfix/internal/model"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	mode TEXT NOT NULL,
	ledger TEXT NOT NULL,
	output TEXT NOT NULL,
	rules_version TEXT NOT NULL DEFAULT '',
	entities INTEGER NOT NULL DEFAULT 0,
	failures INTEGER NOT NULL DEFAULT 0,
	commands INTEGER NOT NULL DEFAULT 0,
	halted INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS entity_outcomes (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	seq INTEGER NOT NULL,
	qid TEXT NOT NULL,
	status TEXT NOT NULL,
	commands TEXT NOT NULL DEFAULT '',
	missing_years TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_outcomes_qid ON entity_outcomes(qid);
CREATE INDEX IF NOT EXISTS idx_outcomes_status ON entity_outcomes(run_id, status);
`

// ErrRunNotFound is returned for an unknown run id
var ErrRunNotFound = errors.New("run not found")

// Run is one row of the runs table
type Run struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   time.Time // zero while running or after a crash
	Mode         string
	Ledger       string
	Output       string
	RulesVersion string
	Entities     int
	Failures     int
	Commands     int
	Halted       bool
}

// Outcome is the journaled result of one entity
type Outcome struct {
	RunID        int64
	Seq          int
	QID          string
	Status       model.EntityStatus
	Commands     []string
	MissingYears []string
	Error        string
	Duration     time.Duration
}

// Store is the run journal
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the journal at path
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; also keeps :memory: on one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database location
func (s *Store) Path() string {
	return s.path
}

// StartRun inserts a run and returns its id
func (s *Store) StartRun(ctx context.Context, r *model.RunReport, rulesVersion string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, mode, ledger, output, rules_version) VALUES (?, ?, ?, ?, ?)`,
		formatTime(r.StartedAt), r.Mode, r.Ledger, r.Output, rulesVersion)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}
	return id, nil
}

// RecordEntity appends one entity outcome to a run
func (s *Store) RecordEntity(ctx context.Context, runID int64, seq int, e *model.EntityReport) error {
	lines := make([]string, len(e.Commands))
	for i, c := range e.Commands {
		lines[i] = c.String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_outcomes (run_id, seq, qid, status, commands, missing_years, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, e.QID, string(e.Status),
		strings.Join(lines, "\n"), strings.Join(e.MissingYears, ","), e.Error, e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert outcome %s: %w", e.QID, err)
	}
	return nil
}

// FinishRun stores the final totals of a run
func (s *Store) FinishRun(ctx context.Context, runID int64, r *model.RunReport) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, entities = ?, failures = ?, commands = ?, halted = ? WHERE id = ?`,
		formatTime(r.FinishedAt), len(r.Entities), r.Count(model.StatusFailed), r.CommandCount(), boolInt(r.Halted), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, COALESCE(finished_at, ''), mode, ledger, output, rules_version,
		        entities, failures, commands, halted
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a single run
func (s *Store) GetRun(ctx context.Context, id int64) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, COALESCE(finished_at, ''), mode, ledger, output, rules_version,
		        entities, failures, commands, halted
		 FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %d: %w", id, ErrRunNotFound)
	}
	return r, err
}

// Outcomes returns the entity outcomes of a run in processing order,
// optionally filtered by status
func (s *Store) Outcomes(ctx context.Context, runID int64, status model.EntityStatus) ([]Outcome, error) {
	query := `SELECT run_id, seq, qid, status, commands, missing_years, error, duration_ms
		FROM entity_outcomes WHERE run_id = ?`
	args := []any{runID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanOutcomes(rows)
}

// Failures returns the failed entities of a run
func (s *Store) Failures(ctx context.Context, runID int64) ([]Outcome, error) {
	return s.Outcomes(ctx, runID, model.StatusFailed)
}

// EntityHistory returns every journaled outcome of an entity, newest run first
func (s *Store) EntityHistory(ctx context.Context, qid string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, qid, status, commands, missing_years, error, duration_ms
		 FROM entity_outcomes WHERE qid = ? ORDER BY run_id DESC`, qid)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanOutcomes(rows)
}

func scanOutcomes(rows *sql.Rows) ([]Outcome, error) {
	var out []Outcome
	for rows.Next() {
		var (
			o                     Outcome
			status, cmds, missing string
			durationMs            int64
		)
		if err := rows.Scan(&o.RunID, &o.Seq, &o.QID, &status, &cmds, &missing, &o.Error, &durationMs); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = model.EntityStatus(status)
		o.Commands = splitNonEmpty(cmds, "\n")
		o.MissingYears = splitNonEmpty(missing, ",")
		o.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                 Run
		started, finished string
		halted            int
	)
	if err := row.Scan(&r.ID, &started, &finished, &r.Mode, &r.Ledger, &r.Output, &r.RulesVersion,
		&r.Entities, &r.Failures, &r.Commands, &halted); err != nil {
		return Run{}, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	r.Halted = halted != 0
	return r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
