// Package reconcile decides which point-in-time qualifiers or statements to
// remove so that every population statement keeps exactly one reporting year,
// and which ledger commands re-create the statements it removes.
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/ppiankov/popfix/internal/logging"
	"github.com/ppiankov/popfix/internal/model"
)

// Ledger is the read-only source of pre-authored initial commands
type Ledger interface {
	Lookup(qid, year string) (model.Command, bool)
	ForEntity(qid string) []model.Command
}

// Resolver applies the resolution policy to an entity's statements
type Resolver struct {
	ledger         Ledger
	rules          model.RuleSet
	retrievedStamp string
	summary        string
}

// NewResolver creates a resolver backed by the given ledger
func NewResolver(ledger Ledger, cfg model.ReconcileConfig) *Resolver {
	if cfg.RetrievedStamp == "" {
		cfg.RetrievedStamp = model.DefaultRetrievedTime
	}
	if cfg.EditSummary == "" {
		cfg.EditSummary = model.DefaultEditSummary
	}
	if cfg.Rules.Version == "" {
		cfg.Rules = model.DefaultRuleSet()
	}

	return &Resolver{
		ledger:         ledger,
		rules:          cfg.Rules,
		retrievedStamp: cfg.RetrievedStamp,
		summary:        cfg.EditSummary,
	}
}

// Rules returns the rule set in effect
func (r *Resolver) Rules() model.RuleSet {
	return r.rules
}

// Resolution is the outcome of reconciling one entity
type Resolution struct {
	QID        string
	Commands   []model.Command
	Decisions  []model.Decision
	Duplicates int
}

// Consistent reports whether the entity needed no change
func (r *Resolution) Consistent() bool {
	return len(r.Commands) == 0
}

// Resolve reconciles every statement of an entity in order. On error the
// resolution holds the commands produced before the failing statement.
func (r *Resolver) Resolve(ctx context.Context, qid string, statements []model.Statement) (*Resolution, error) {
	log := logging.FromContext(ctx).With().Str("qid", qid).Logger()
	res := &Resolution{QID: qid}

	dups := Duplicates(statements)
	res.Duplicates = len(dups)

	for _, st := range dups {
		cmds, decisions, err := r.ResolveStatement(qid, st)
		res.Commands = append(res.Commands, cmds...)
		res.Decisions = append(res.Decisions, decisions...)
		for _, d := range decisions {
			log.Debug().
				Str("rule", string(d.Rule)).
				Str("amount", d.Amount).
				Str("dropped", d.Dropped).
				Strs("years", d.Years).
				Msg("rule applied")
		}
		if err != nil {
			return res, err
		}
	}

	if len(res.Commands) == 0 {
		log.Info().Msg("OK")
		return res, nil
	}

	last := len(res.Commands) - 1
	res.Commands[last] = res.Commands[last].WithSummary(r.summary)
	for _, c := range res.Commands {
		log.Info().Msg(c.String())
	}
	return res, nil
}

// ResolveStatement produces the commands for a single statement. Statements
// with at most one point-in-time qualifier yield nothing.
func (r *Resolver) ResolveStatement(qid string, st model.Statement) ([]model.Command, []model.Decision, error) {
	points := st.PointsInTime()
	if len(points) <= 1 {
		return nil, nil, nil
	}

	if len(points) == 2 {
		drop, rule, ok, err := r.binaryDrop(qid, st, points)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			cmd := model.NewRemoveQualifier(qid, st.Property, st.Amount, model.PropPointInTime, drop.Literal())
			decision := model.Decision{
				Rule:    rule,
				Amount:  st.Amount,
				Dropped: drop.Literal(),
				Years:   []string{points[0].Year(), points[1].Year()},
			}
			return []model.Command{cmd}, []model.Decision{decision}, nil
		}
	}

	return r.rebuild(qid, st, points)
}

// binaryDrop picks the qualifier to drop from a two-qualifier statement.
// ok is false when no tie-break rule applies.
func (r *Resolver) binaryDrop(qid string, st model.Statement, points []model.Qualifier) (model.Qualifier, model.Rule, bool, error) {
	if len(points) != 2 {
		return model.Qualifier{}, "", false, &AssumptionError{
			QID:    qid,
			Reason: fmt.Sprintf("binary case expects 2 point-in-time qualifiers, got %d", len(points)),
		}
	}

	ordered := append([]model.Qualifier(nil), points...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	older, newer := ordered[0], ordered[1]
	if older.Position == newer.Position {
		return model.Qualifier{}, "", false, &AssumptionError{
			QID:    qid,
			Reason: fmt.Sprintf("qualifiers %s and %s share declaration position %d", older, newer, older.Position),
		}
	}

	if older.Year() == newer.Year() {
		if older.Precision < newer.Precision {
			return older, model.RuleHigherPrecision, true, nil
		}
		if older.Precision > newer.Precision {
			return newer, model.RuleHigherPrecision, true, nil
		}
		return newer, model.RuleEarliestDeclared, true, nil
	}

	if onlyCensus(st) {
		if year, ok := censusPairDrop(r.rules, older.Year(), newer.Year()); ok {
			if older.Year() == year {
				return older, model.RuleCensusPair, true, nil
			}
			return newer, model.RuleCensusPair, true, nil
		}
	}

	return model.Qualifier{}, "", false, nil
}

// rebuild removes the whole statement and re-creates one statement per year
// from the ledger.
func (r *Resolver) rebuild(qid string, st model.Statement, points []model.Qualifier) ([]model.Command, []model.Decision, error) {
	cmds := []model.Command{model.NewRemoveStatement(qid, st.Property, st.Amount)}

	pending := newYearSet()
	for _, q := range points {
		pending.add(q.Year())
	}
	decisions := []model.Decision{{Rule: model.RuleRebuild, Amount: st.Amount, Years: pending.list()}}

	for _, p := range r.rules.Superseded {
		if pending.has(p.Drop) && pending.has(p.Keep) {
			pending.remove(p.Drop)
			decisions = append(decisions, model.Decision{
				Rule:    model.RuleSuperseded,
				Amount:  st.Amount,
				Dropped: p.Drop,
				Years:   pending.list(),
			})
		}
	}

	if gap, ok := knownGap(r.rules, pending); ok && pending.len() == 2 {
		// Patch the statement in place instead of removing it
		cmds = cmds[:0]
		pending.remove(gap)
		other := pending.list()[0]

		line, found := r.ledger.Lookup(qid, other)
		if !found {
			return cmds, decisions, &MissingYearsError{QID: qid, Years: []string{other}}
		}
		if len(line.Fields) < 10 {
			return cmds, decisions, &AssumptionError{
				QID:    qid,
				Reason: fmt.Sprintf("ledger command for %s has %d fields, need at least 10: %s", other, len(line.Fields), line),
			}
		}

		f := line.Fields
		cmds = append(cmds,
			model.NewRemoveQualifier(f[0], f[1], f[2], f[3], f[4]),
			model.NewRemoveQualifier(f[0], f[1], f[2], f[5], f[6]),
			model.NewRemoveReference(f[0], f[1], f[2], f[7], f[8]),
			model.NewRemoveReference(f[0], f[1], f[2], f[9], r.retrievedStamp),
			line,
		)
		pending.remove(other)
		decisions = append(decisions, model.Decision{
			Rule:     model.RuleKnownGap,
			Amount:   st.Amount,
			Dropped:  gap,
			Resolved: []string{other},
		})
	}

	var resolved []string
	for _, line := range r.ledger.ForEntity(qid) {
		year := line.Year()
		if pending.remove(year) {
			cmds = append(cmds, line)
			resolved = append(resolved, year)
		}
	}
	if len(resolved) > 0 {
		decisions[0].Resolved = resolved
	}

	if pending.len() > 0 {
		return cmds, decisions, &MissingYearsError{QID: qid, Years: pending.list()}
	}
	return cmds, decisions, nil
}
