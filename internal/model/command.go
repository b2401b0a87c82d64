package model

import (
	"fmt"
	"strings"
)

// CommandKind identifies the edit a command performs
type CommandKind string

const (
	CommandCreate          CommandKind = "create"           // Raw statement line, no prefix
	CommandRemoveStatement CommandKind = "remove_statement" // -Q|P|amount
	CommandRemoveQualifier CommandKind = "remove_qualifier" // REMOVE_QUAL|Q|P|amount|qualProp|qualValue
	CommandRemoveReference CommandKind = "remove_reference" // REMOVE_REF|Q|P|amount|refProp|refValue
)

const (
	prefixRemoveQualifier = "REMOVE_QUAL"
	prefixRemoveReference = "REMOVE_REF"
	summaryOpen           = "/* "
	summaryClose          = " */"
)

// Command is one line of the output command artifact.
// Fields never include the kind prefix nor the edit summary.
type Command struct {
	Kind    CommandKind `json:"kind"`
	Fields  []string    `json:"fields"`
	Summary string      `json:"summary,omitempty"`
}

// NewCreate wraps an initial statement line
func NewCreate(fields ...string) Command {
	return Command{Kind: CommandCreate, Fields: fields}
}

// NewRemoveStatement removes a whole statement addressed by its value
func NewRemoveStatement(qid, property, amount string) Command {
	return Command{Kind: CommandRemoveStatement, Fields: []string{qid, property, amount}}
}

// NewRemoveQualifier removes one qualifier from a statement
func NewRemoveQualifier(qid, property, amount, qualProperty, qualValue string) Command {
	return Command{
		Kind:   CommandRemoveQualifier,
		Fields: []string{qid, property, amount, qualProperty, qualValue},
	}
}

// NewRemoveReference removes one reference snak from a statement
func NewRemoveReference(qid, property, amount, refProperty, refValue string) Command {
	return Command{
		Kind:   CommandRemoveReference,
		Fields: []string{qid, property, amount, refProperty, refValue},
	}
}

// Subject returns the entity the command addresses
func (c Command) Subject() string {
	if len(c.Fields) == 0 {
		return ""
	}
	return c.Fields[0]
}

// Field returns the i-th field or "" when absent
func (c Command) Field(i int) string {
	if i < 0 || i >= len(c.Fields) {
		return ""
	}
	return c.Fields[i]
}

// Year returns the year token of a create command's point-in-time field (field 4)
func (c Command) Year() string {
	return YearToken(c.Field(4))
}

// WithSummary returns a copy carrying the given edit summary
func (c Command) WithSummary(summary string) Command {
	out := Command{Kind: c.Kind, Summary: summary}
	out.Fields = append([]string(nil), c.Fields...)
	return out
}

// String renders the pipe-delimited command line
func (c Command) String() string {
	var parts []string
	switch c.Kind {
	case CommandRemoveStatement:
		parts = append(parts, c.Fields...)
		if len(parts) > 0 {
			parts[0] = "-" + parts[0]
		}
	case CommandRemoveQualifier:
		parts = append([]string{prefixRemoveQualifier}, c.Fields...)
	case CommandRemoveReference:
		parts = append([]string{prefixRemoveReference}, c.Fields...)
	default:
		parts = append(parts, c.Fields...)
	}
	if c.Summary != "" {
		parts = append(parts, summaryOpen+c.Summary+summaryClose)
	}
	return strings.Join(parts, "|")
}

// ParseCommand parses one pipe-delimited line back into a Command
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, fmt.Errorf("empty command line")
	}

	parts := strings.Split(line, "|")

	var summary string
	if last := parts[len(parts)-1]; strings.HasPrefix(last, summaryOpen) && strings.HasSuffix(last, summaryClose) {
		summary = strings.TrimSuffix(strings.TrimPrefix(last, summaryOpen), summaryClose)
		parts = parts[:len(parts)-1]
	}

	cmd := Command{Summary: summary}
	switch {
	case parts[0] == prefixRemoveQualifier:
		cmd.Kind = CommandRemoveQualifier
		cmd.Fields = parts[1:]
	case parts[0] == prefixRemoveReference:
		cmd.Kind = CommandRemoveReference
		cmd.Fields = parts[1:]
	case strings.HasPrefix(parts[0], "-"):
		cmd.Kind = CommandRemoveStatement
		cmd.Fields = append([]string{strings.TrimPrefix(parts[0], "-")}, parts[1:]...)
	default:
		cmd.Kind = CommandCreate
		cmd.Fields = parts
	}

	if len(cmd.Fields) < 3 {
		return Command{}, fmt.Errorf("command %q: expected at least subject, property and value", line)
	}
	return cmd, nil
}
