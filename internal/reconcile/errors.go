package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingYears indicates the ledger cannot rebuild every year of a statement
	ErrMissingYears = errors.New("missing replacement commands")

	// ErrAssumption indicates an internal consistency check failed
	ErrAssumption = errors.New("reconciliation assumption violated")
)

// MissingYearsError names the entity and the years an operator must author
// ledger entries for before the entity can be reconciled.
type MissingYearsError struct {
	QID   string
	Years []string
}

func (e *MissingYearsError) Error() string {
	return fmt.Sprintf("%s: missing qs commands for years: %s", e.QID, strings.Join(e.Years, ", "))
}

// Is implements errors.Is support
func (e *MissingYearsError) Is(target error) bool {
	return target == ErrMissingYears
}

// AssumptionError reports input the resolver is not built to handle
type AssumptionError struct {
	QID    string
	Reason string
}

func (e *AssumptionError) Error() string {
	return fmt.Sprintf("%s: %s", e.QID, e.Reason)
}

// Is implements errors.Is support
func (e *AssumptionError) Is(target error) bool {
	return target == ErrAssumption
}
