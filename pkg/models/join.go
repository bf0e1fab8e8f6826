package models

import "fmt"

// Rationale tags attached to join candidates by the scoring engine.
const (
	RationaleNameSimilarity = "name_similarity"
	RationaleBusinessName   = "business_name_match"
	RationalePrimaryKey     = "primary_key"
	RationaleFKPattern      = "fk_naming_pattern"
	RationaleTypeCompatible = "type_compatible"
	RationaleExplicit       = "explicit_constraint"
)

// JoinCandidate is a scored hypothesis that two columns across two tables
// can be joined. Candidates are computed fresh per inference call and kept
// only on the owning session.
type JoinCandidate struct {
	LeftTable   string   `json:"left_table"`
	LeftColumn  string   `json:"left_column"`
	RightTable  string   `json:"right_table"`
	RightColumn string   `json:"right_column"`
	Confidence  float64  `json:"confidence"`
	Rationale   []string `json:"rationale,omitempty"`
}

// Condition renders the candidate as a SQL join condition.
func (j JoinCandidate) Condition() string {
	return fmt.Sprintf("%s.%s = %s.%s", j.LeftTable, j.LeftColumn, j.RightTable, j.RightColumn)
}

// HasRationale reports whether the candidate carries the given tag.
func (j JoinCandidate) HasRationale(tag string) bool {
	for _, r := range j.Rationale {
		if r == tag {
			return true
		}
	}
	return false
}

// KeyIndicator reports whether the candidate is backed by a primary-key or
// foreign-key signal. Used as the tie breaker when confidences are equal.
func (j JoinCandidate) KeyIndicator() bool {
	return j.HasRationale(RationalePrimaryKey) || j.HasRationale(RationaleFKPattern)
}

func (j JoinCandidate) String() string {
	return fmt.Sprintf("%s (confidence %.2f)", j.Condition(), j.Confidence)
}
