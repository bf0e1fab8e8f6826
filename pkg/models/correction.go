package models

import (
	"fmt"
	"strings"
	"time"
)

// CorrectionType enumerates the closed set of correction variants.
type CorrectionType string

const (
	CorrectionJoinSelection  CorrectionType = "join_selection"
	CorrectionIdentifierMap  CorrectionType = "identifier_mapping"
	CorrectionTableSelection CorrectionType = "table_selection"
	CorrectionFreeText       CorrectionType = "free_text"
)

// Correction is an external actor's resolution of an ambiguity or an
// override of a prior automatic decision. Exactly the fields for the
// variant named by Type are populated.
type Correction struct {
	Type          CorrectionType `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	AttemptNumber int            `json:"attempt_number"`

	// join_selection
	Tables        []string `json:"tables,omitempty"`
	JoinCondition string   `json:"join_condition,omitempty"`

	// identifier_mapping
	Term        string `json:"term,omitempty"`
	Replacement string `json:"replacement,omitempty"`

	// table_selection
	SelectedTable  string   `json:"selected_table,omitempty"`
	RejectedTables []string `json:"rejected_tables,omitempty"`

	// free_text
	Text string `json:"text,omitempty"`
}

// ConstraintString renders the correction as a hard constraint for prompt
// context. Returns "" for corrections that carry no constraint.
func (c Correction) ConstraintString() string {
	switch c.Type {
	case CorrectionJoinSelection:
		return fmt.Sprintf("MANDATORY JOIN: %s between %s",
			c.JoinCondition, strings.Join(c.Tables, ", "))
	case CorrectionIdentifierMap:
		return fmt.Sprintf("IDENTIFIER MAPPING: '%s' maps to '%s'", c.Term, c.Replacement)
	case CorrectionTableSelection:
		if len(c.RejectedTables) > 0 {
			return fmt.Sprintf("MANDATORY TABLE: Use table '%s'. DO NOT use: %s",
				c.SelectedTable, strings.Join(c.RejectedTables, ", "))
		}
		return fmt.Sprintf("MANDATORY TABLE: Use table '%s'", c.SelectedTable)
	case CorrectionFreeText:
		return fmt.Sprintf("USER CLARIFICATION: %s", c.Text)
	}
	return ""
}
