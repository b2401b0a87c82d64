package model

// YearPair relates a year to drop to the year whose presence triggers the drop
type YearPair struct {
	Drop string `json:"drop" yaml:"drop" mapstructure:"drop"`
	Keep string `json:"keep" yaml:"keep" mapstructure:"keep"`
}

// RuleSet is the versioned table of year-specific exceptions applied during
// reconciliation. New exceptions are added here, not in the resolver.
type RuleSet struct {
	Version string `json:"version" yaml:"version" mapstructure:"version"`

	// CensusPairs resolve a two-qualifier census-only statement whose years are
	// exactly {Drop, Keep} by removing the Drop qualifier.
	CensusPairs []YearPair `json:"census_pairs" yaml:"census_pairs" mapstructure:"census_pairs"`

	// Superseded years are removed from a rebuilt statement when Keep is also present.
	Superseded []YearPair `json:"superseded" yaml:"superseded" mapstructure:"superseded"`

	// KnownGaps are years with no replacement data in the ledger.
	KnownGaps []string `json:"known_gaps" yaml:"known_gaps" mapstructure:"known_gaps"`
}

// DefaultRuleSet returns the rules for the 2025-08 data release
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Version: "2025-08",
		// Census re-releases often attach a stale 2000 qualifier to the 2010 figure
		CensusPairs: []YearPair{{Drop: "+2000", Keep: "+2010"}},
		// The 2000 census lives in a separate, lower-resolution statement
		Superseded: []YearPair{{Drop: "+2000", Keep: "+2010"}},
		// 2022 census figures are not in the initial commands
		KnownGaps: []string{"+2022"},
	}
}
