package model

// Well-known Wikidata identifiers used by popfix
const (
	PropPopulation       = "P1082" // population
	PropPointInTime      = "P585"  // point in time
	PropMethod           = "P459"  // determination method
	PropIBGECode         = "P1585" // Brazilian municipality code
	SourceReferenceURL   = "S854"  // reference URL (source form)
	SourceRetrieved      = "S813"  // retrieved (source form)
	ItemCensus           = "Q39825"
	ItemEstimation       = "Q791801"
	DefaultEditSummary   = "fixing duplicate P1082 statements and P585 qualifiers"
	DefaultRetrievedTime = "+2025-08-29T00:00:00Z/11"
)
