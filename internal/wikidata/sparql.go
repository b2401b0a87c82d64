package wikidata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CodeBinding pairs an entity with its external code
type CodeBinding struct {
	QID  string
	Code string
}

type sparqlResponse struct {
	Results struct {
		Bindings []map[string]struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"bindings"`
	} `json:"results"`
}

// CodeQuery returns the SPARQL query listing every item with the given code property
func CodeQuery(property string) string {
	return fmt.Sprintf("SELECT ?item ?code WHERE {\n  ?item wdt:%s ?code.\n}", property)
}

// CodeBindings runs the code lookup query
func (c *Client) CodeBindings(ctx context.Context, property string) ([]CodeBinding, error) {
	q := url.Values{}
	q.Set("query", CodeQuery(property))
	q.Set("format", "json")

	var bindings []CodeBinding
	err := c.getCached(ctx, c.sparqlURL+"?"+q.Encode(), "application/sparql-results+json, application/json",
		func(body []byte) error {
			b, err := DecodeBindings(body)
			bindings = b
			return err
		})
	if err != nil {
		return nil, err
	}
	return bindings, nil
}

// DecodeBindings parses a SPARQL JSON result with ?item and ?code variables
func DecodeBindings(data []byte) ([]CodeBinding, error) {
	var resp sparqlResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse sparql results: %w", err)
	}

	out := make([]CodeBinding, 0, len(resp.Results.Bindings))
	for i, row := range resp.Results.Bindings {
		item, ok := row["item"]
		if !ok {
			return nil, fmt.Errorf("binding %d: missing ?item", i)
		}
		code, ok := row["code"]
		if !ok {
			return nil, fmt.Errorf("binding %d: missing ?code", i)
		}
		out = append(out, CodeBinding{QID: lastSegment(item.Value), Code: code.Value})
	}
	return out, nil
}

// CodeMap maps codes to entity ids. A code bound to several items keeps the first.
type CodeMap map[string]string

// NewCodeMap indexes bindings by code
func NewCodeMap(bindings []CodeBinding) CodeMap {
	m := make(CodeMap, len(bindings))
	for _, b := range bindings {
		if _, ok := m[b.Code]; !ok {
			m[b.Code] = b.QID
		}
	}
	return m
}

// QID returns the entity for a code
func (m CodeMap) QID(code string) (string, bool) {
	qid, ok := m[code]
	return qid, ok
}

// QIDs returns the distinct entity ids of the bindings, sorted by numeric id
func QIDs(bindings []CodeBinding) []string {
	seen := make(map[string]bool, len(bindings))
	var out []string
	for _, b := range bindings {
		if !seen[b.QID] {
			seen[b.QID] = true
			out = append(out, b.QID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessQID(out[i], out[j]) })
	return out
}

func lessQID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func lastSegment(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
