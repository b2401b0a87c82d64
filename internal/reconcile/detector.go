package reconcile

import "github.com/ppiankov/popfix/internal/model"

// PointInTimeCount returns how many point-in-time qualifiers a statement carries
func PointInTimeCount(st model.Statement) int {
	n := 0
	for _, q := range st.Qualifiers {
		if q.Kind == model.QualifierPointInTime {
			n++
		}
	}
	return n
}

// NeedsReconcile reports whether a statement breaks the at-most-one invariant
func NeedsReconcile(st model.Statement) bool {
	return PointInTimeCount(st) > 1
}

// Duplicates returns the statements that need reconciling, in input order
func Duplicates(statements []model.Statement) []model.Statement {
	var out []model.Statement
	for _, st := range statements {
		if NeedsReconcile(st) {
			out = append(out, st)
		}
	}
	return out
}
