package model

import (
	"fmt"
	"strconv"
)

// QualifierKind tags the variant held by a Qualifier
type QualifierKind int

const (
	QualifierOther       QualifierKind = iota // Any property popfix does not interpret
	QualifierPointInTime                      // P585 time + precision
	QualifierMethod                           // P459 determination method
)

func (k QualifierKind) String() string {
	switch k {
	case QualifierPointInTime:
		return "point_in_time"
	case QualifierMethod:
		return "method"
	default:
		return "other"
	}
}

// Qualifier is a (property, value) pair attached to a statement.
// Position is the declaration order within the statement and drives tie-breaks.
type Qualifier struct {
	Kind     QualifierKind `json:"kind"`
	Property string        `json:"property"`
	Position int           `json:"position"`

	Time      string `json:"time,omitempty"`      // PointInTime only, e.g. "+2010-08-01T00:00:00Z"
	Precision int    `json:"precision,omitempty"` // PointInTime only, higher = more specific

	Method string `json:"method,omitempty"` // Method only, e.g. "Q39825"

	Raw string `json:"raw,omitempty"` // Other only, opaque value text
}

// PointInTime builds a point-in-time qualifier
func PointInTime(position int, time string, precision int) Qualifier {
	return Qualifier{
		Kind:      QualifierPointInTime,
		Property:  PropPointInTime,
		Position:  position,
		Time:      time,
		Precision: precision,
	}
}

// Method builds a determination-method qualifier
func Method(position int, method string) Qualifier {
	return Qualifier{
		Kind:     QualifierMethod,
		Property: PropMethod,
		Position: position,
		Method:   method,
	}
}

// Year returns the year token of a point-in-time qualifier (sign + 4 digits)
func (q Qualifier) Year() string {
	return YearToken(q.Time)
}

// Literal renders a point-in-time value the way commands address it: time/precision
func (q Qualifier) Literal() string {
	return q.Time + "/" + strconv.Itoa(q.Precision)
}

func (q Qualifier) String() string {
	switch q.Kind {
	case QualifierPointInTime:
		return fmt.Sprintf("%s=%s", q.Property, q.Literal())
	case QualifierMethod:
		return fmt.Sprintf("%s=%s", q.Property, q.Method)
	default:
		return fmt.Sprintf("%s=%s", q.Property, q.Raw)
	}
}

// Statement is one claimed value of an entity property with its qualifiers
type Statement struct {
	ID         string      `json:"id,omitempty"`
	Property   string      `json:"property"`
	Amount     string      `json:"amount"` // printable numeral, verbatim from the source
	Qualifiers []Qualifier `json:"qualifiers"`
}

// PointsInTime returns the point-in-time qualifiers in declaration order
func (s Statement) PointsInTime() []Qualifier {
	var out []Qualifier
	for _, q := range s.Qualifiers {
		if q.Kind == QualifierPointInTime {
			out = append(out, q)
		}
	}
	return out
}

// Methods returns the determination methods attached to the statement
func (s Statement) Methods() []string {
	var out []string
	for _, q := range s.Qualifiers {
		if q.Kind == QualifierMethod {
			out = append(out, q.Method)
		}
	}
	return out
}

// Entity is a fetched item with its statements grouped by property
type Entity struct {
	ID         string                 `json:"id"`
	Statements map[string][]Statement `json:"statements"`
}

// Population returns the entity's population statements
func (e *Entity) Population() []Statement {
	if e == nil {
		return nil
	}
	return e.Statements[PropPopulation]
}

// YearToken extracts the first 5 characters of a time literal ("+2010").
// Shorter inputs are returned unchanged.
func YearToken(time string) string {
	if len(time) < 5 {
		return time
	}
	return time[:5]
}
