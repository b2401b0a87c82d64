package wikidata

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/popfix/internal/model"
)

type restEntity struct {
	ID         string                     `json:"id"`
	Statements map[string][]restStatement `json:"statements"`
}

type restStatement struct {
	ID       string `json:"id"`
	Property struct {
		ID string `json:"id"`
	} `json:"property"`
	Value      restValue       `json:"value"`
	Qualifiers []restQualifier `json:"qualifiers"`
}

type restQualifier struct {
	Property struct {
		ID string `json:"id"`
	} `json:"property"`
	Value restValue `json:"value"`
}

type restValue struct {
	Type    string          `json:"type"` // value, somevalue, novalue
	Content json.RawMessage `json:"content"`
}

type timeContent struct {
	Time      string `json:"time"`
	Precision int    `json:"precision"`
}

type quantityContent struct {
	Amount string `json:"amount"`
}

// DecodeEntity decodes a Wikibase REST item, keeping the statements of the
// given properties. Qualifiers are decoded into typed variants.
func DecodeEntity(data []byte, properties ...string) (*model.Entity, error) {
	var raw restEntity
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse entity: %w", err)
	}

	entity := &model.Entity{
		ID:         raw.ID,
		Statements: make(map[string][]model.Statement, len(properties)),
	}

	for _, prop := range properties {
		for i, rs := range raw.Statements[prop] {
			st, err := decodeStatement(prop, rs)
			if err != nil {
				return nil, fmt.Errorf("statement %d of %s: %w", i, prop, err)
			}
			entity.Statements[prop] = append(entity.Statements[prop], st)
		}
	}

	return entity, nil
}

func decodeStatement(prop string, rs restStatement) (model.Statement, error) {
	st := model.Statement{ID: rs.ID, Property: prop}

	if rs.Value.Type == "value" && len(rs.Value.Content) > 0 {
		var q quantityContent
		if err := json.Unmarshal(rs.Value.Content, &q); err != nil {
			return st, fmt.Errorf("value: %w", err)
		}
		st.Amount = q.Amount
	}

	for i, rq := range rs.Qualifiers {
		q, err := decodeQualifier(i, rq)
		if err != nil {
			return st, fmt.Errorf("qualifier %d: %w", i, err)
		}
		st.Qualifiers = append(st.Qualifiers, q)
	}

	return st, nil
}

func decodeQualifier(position int, rq restQualifier) (model.Qualifier, error) {
	prop := rq.Property.ID

	switch prop {
	case model.PropPointInTime:
		if rq.Value.Type != "value" {
			return model.Qualifier{}, fmt.Errorf("%s has no concrete time (%s)", prop, rq.Value.Type)
		}
		var tc timeContent
		if err := json.Unmarshal(rq.Value.Content, &tc); err != nil {
			return model.Qualifier{}, fmt.Errorf("%s: %w", prop, err)
		}
		if tc.Time == "" {
			return model.Qualifier{}, fmt.Errorf("%s: empty time", prop)
		}
		return model.PointInTime(position, tc.Time, tc.Precision), nil

	case model.PropMethod:
		var method string
		if rq.Value.Type == "value" {
			if err := json.Unmarshal(rq.Value.Content, &method); err != nil {
				return model.Qualifier{}, fmt.Errorf("%s: %w", prop, err)
			}
		}
		return model.Method(position, method), nil

	default:
		return model.Qualifier{
			Kind:     model.QualifierOther,
			Property: prop,
			Position: position,
			Raw:      strings.TrimSpace(string(rq.Value.Content)),
		}, nil
	}
}
