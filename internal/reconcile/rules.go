package reconcile

import (
	"fmt"
	"regexp"

	"github.com/ppiankov/popfix/internal/model"
)

var yearTokenPattern = regexp.MustCompile(`^[+-]\d{4}$`)

// ValidateRules checks that every year in the rule set is a year token
func ValidateRules(rules model.RuleSet) error {
	check := func(section, year string) error {
		if !yearTokenPattern.MatchString(year) {
			return fmt.Errorf("rules %s: %s: %q is not a year token like +2010", rules.Version, section, year)
		}
		return nil
	}

	for _, p := range rules.CensusPairs {
		if err := check("census_pairs", p.Drop); err != nil {
			return err
		}
		if err := check("census_pairs", p.Keep); err != nil {
			return err
		}
	}
	for _, p := range rules.Superseded {
		if err := check("superseded", p.Drop); err != nil {
			return err
		}
		if err := check("superseded", p.Keep); err != nil {
			return err
		}
	}
	for _, y := range rules.KnownGaps {
		if err := check("known_gaps", y); err != nil {
			return err
		}
	}
	return nil
}

// censusPairDrop returns the year to drop when {a, b} matches a census pair
func censusPairDrop(rules model.RuleSet, a, b string) (string, bool) {
	for _, p := range rules.CensusPairs {
		if (a == p.Drop && b == p.Keep) || (a == p.Keep && b == p.Drop) {
			return p.Drop, true
		}
	}
	return "", false
}

// knownGap returns the first configured gap year present in pending
func knownGap(rules model.RuleSet, pending *yearSet) (string, bool) {
	for _, y := range rules.KnownGaps {
		if pending.has(y) {
			return y, true
		}
	}
	return "", false
}

// onlyCensus reports whether every method qualifier is census (and there is one)
func onlyCensus(st model.Statement) bool {
	methods := st.Methods()
	if len(methods) == 0 {
		return false
	}
	for _, m := range methods {
		if m != model.ItemCensus {
			return false
		}
	}
	return true
}
