package model

import "time"

// EntityStatus is the outcome of reconciling one entity
type EntityStatus string

const (
	StatusConsistent EntityStatus = "consistent" // Nothing to fix
	StatusFixed      EntityStatus = "fixed"      // Commands were emitted
	StatusFailed     EntityStatus = "failed"     // Fetch or reconciliation error
)

// Rule names a decision the resolver took for a statement
type Rule string

const (
	RuleHigherPrecision  Rule = "higher_precision"  // Same year, keep the more precise qualifier
	RuleEarliestDeclared Rule = "earliest_declared" // Same year and precision, keep the first
	RuleCensusPair       Rule = "census_pair"       // Census-only statement with a stale year
	RuleSuperseded       Rule = "superseded_year"   // Year covered by another statement
	RuleKnownGap         Rule = "known_gap"         // Year without replacement data, patch the other
	RuleRebuild          Rule = "rebuild"           // Statement removed and rebuilt from the ledger
)

// Decision records why commands were emitted for a statement
type Decision struct {
	Rule     Rule     `json:"rule"`
	Amount   string   `json:"amount"`
	Dropped  string   `json:"dropped,omitempty"` // Dropped qualifier literal or year
	Years    []string `json:"years,omitempty"`   // Years involved
	Resolved []string `json:"resolved,omitempty"`
}

// EntityReport summarizes the processing of one entity
type EntityReport struct {
	QID          string        `json:"qid"`
	Status       EntityStatus  `json:"status"`
	Statements   int           `json:"statements"`
	Duplicates   int           `json:"duplicates"`
	Commands     []Command     `json:"commands,omitempty"`
	Decisions    []Decision    `json:"decisions,omitempty"`
	MissingYears []string      `json:"missing_years,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// RunReport is the complete result of a reconciliation run
type RunReport struct {
	RunID      int64          `json:"run_id,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Mode       string         `json:"mode"`
	Ledger     string         `json:"ledger"`
	Output     string         `json:"output"`
	Entities   []EntityReport `json:"entities"`
	Halted     bool           `json:"halted"` // Strict mode stopped at a failure
}

// Count returns how many entities ended with the given status
func (r *RunReport) Count(status EntityStatus) int {
	n := 0
	for _, e := range r.Entities {
		if e.Status == status {
			n++
		}
	}
	return n
}

// CommandCount returns the number of commands emitted by successful entities
func (r *RunReport) CommandCount() int {
	n := 0
	for _, e := range r.Entities {
		if e.Status == StatusFixed {
			n += len(e.Commands)
		}
	}
	return n
}

// Failures returns the failed entity reports in processing order
func (r *RunReport) Failures() []EntityReport {
	var out []EntityReport
	for _, e := range r.Entities {
		if e.Status == StatusFailed {
			out = append(out, e)
		}
	}
	return out
}
