// Package correction turns user clarifications, free text or structured,
// into the closed set of correction variants the orchestrator applies.
package correction

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

// ErrInvalid is returned for corrections that cannot be accepted. The
// session is never mutated on a rejected correction.
type ErrInvalid struct {
	Reason string
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("invalid correction: %s", e.Reason)
}

var (
	// "join A.x with B.y", "join A.x to B.y", "join A.x and B.y"
	reJoinWith = regexp.MustCompile(`(?i)join\s+(\w+)\.(\w+)\s+(?:with|to|and)\s+(\w+)\.(\w+)`)
	// "use A.x = B.y" or a bare "A.x = B.y"
	reJoinEq = regexp.MustCompile(`(?i)(\w+)\.(\w+)\s*=\s*(\w+)\.(\w+)`)
	// "X means T.c", "X maps to T.c", "map X to T.c"
	reMeans = regexp.MustCompile(`(?i)(\w+)\s+(?:means|maps\s+to)\s+(\w+(?:\.\w+)?)`)
	reMapTo = regexp.MustCompile(`(?i)map\s+(\w+)\s+to\s+(\w+(?:\.\w+)?)`)
	// "use T.c for X"
	reUseFor = regexp.MustCompile(`(?i)use\s+(\w+)\.(\w+)\s+for\s+(\w+)`)
	// "use X instead of Y"
	reInsteadOf = regexp.MustCompile(`(?i)use\s+(\w+(?:\.\w+)?)\s+instead\s+of\s+(\w+(?:\.\w+)?)`)
	// "use table X", "use the X table"
	reUseTable = regexp.MustCompile(`(?i)use\s+(?:the\s+)?(?:table\s+)?(\w+)\s+table|use\s+table\s+(\w+)`)
)

// Parse converts free-text input into a correction. Recognized structured
// patterns produce a typed variant; anything else falls back to free text.
func Parse(input string) (models.Correction, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return models.Correction{}, &ErrInvalid{Reason: "empty correction"}
	}

	c := parseStructured(input)
	c.Timestamp = time.Now().UTC()
	log.Printf("[Correction] Parsed correction type: %s", c.Type)
	return c, nil
}

func parseStructured(input string) models.Correction {
	if m := reJoinWith.FindStringSubmatch(input); m != nil {
		return joinCorrection(m[1], m[2], m[3], m[4])
	}
	if m := reJoinEq.FindStringSubmatch(input); m != nil {
		return joinCorrection(m[1], m[2], m[3], m[4])
	}
	if m := reInsteadOf.FindStringSubmatch(input); m != nil {
		return models.Correction{
			Type:        models.CorrectionIdentifierMap,
			Term:        m[2],
			Replacement: m[1],
		}
	}
	if m := reMeans.FindStringSubmatch(input); m != nil {
		return models.Correction{
			Type:        models.CorrectionIdentifierMap,
			Term:        m[1],
			Replacement: m[2],
		}
	}
	if m := reMapTo.FindStringSubmatch(input); m != nil {
		return models.Correction{
			Type:        models.CorrectionIdentifierMap,
			Term:        m[1],
			Replacement: m[2],
		}
	}
	if m := reUseFor.FindStringSubmatch(input); m != nil {
		return models.Correction{
			Type:        models.CorrectionIdentifierMap,
			Term:        m[3],
			Replacement: m[1] + "." + m[2],
		}
	}
	if m := reUseTable.FindStringSubmatch(input); m != nil {
		table := m[1]
		if table == "" {
			table = m[2]
		}
		return models.Correction{
			Type:          models.CorrectionTableSelection,
			SelectedTable: table,
		}
	}
	return models.Correction{
		Type: models.CorrectionFreeText,
		Text: input,
	}
}

func joinCorrection(t1, c1, t2, c2 string) models.Correction {
	return models.Correction{
		Type:          models.CorrectionJoinSelection,
		Tables:        []string{t1, t2},
		JoinCondition: fmt.Sprintf("%s.%s = %s.%s", t1, c1, t2, c2),
	}
}

// Structured is the wire form of a structured correction payload.
type Structured struct {
	Type          string   `json:"type"`
	Tables        []string `json:"tables,omitempty"`
	JoinCondition string   `json:"join_condition,omitempty"`
	Term          string   `json:"term,omitempty"`
	Replacement   string   `json:"replacement,omitempty"`
	SelectedTable string   `json:"selected_table,omitempty"`
	Rejected      []string `json:"rejected_tables,omitempty"`
	Text          string   `json:"text,omitempty"`
}

// ParseStructured validates a structured payload into a correction.
func ParseStructured(s Structured) (models.Correction, error) {
	c := models.Correction{Timestamp: time.Now().UTC()}
	switch strings.ToLower(s.Type) {
	case "join", "join_selection", "join_clarification":
		if len(s.Tables) < 2 || s.JoinCondition == "" {
			return c, &ErrInvalid{Reason: "join correction requires tables and join_condition"}
		}
		c.Type = models.CorrectionJoinSelection
		c.Tables = s.Tables
		c.JoinCondition = s.JoinCondition
	case "identifier", "identifier_mapping", "column", "column_mapping":
		if s.Term == "" || s.Replacement == "" {
			return c, &ErrInvalid{Reason: "identifier mapping requires term and replacement"}
		}
		c.Type = models.CorrectionIdentifierMap
		c.Term = s.Term
		c.Replacement = s.Replacement
	case "table", "table_selection":
		if s.SelectedTable == "" {
			return c, &ErrInvalid{Reason: "table selection requires selected_table"}
		}
		c.Type = models.CorrectionTableSelection
		c.SelectedTable = s.SelectedTable
		c.RejectedTables = s.Rejected
	case "", "free_text", "natural_language":
		if strings.TrimSpace(s.Text) == "" {
			return c, &ErrInvalid{Reason: "empty correction"}
		}
		return Parse(s.Text)
	default:
		return c, &ErrInvalid{Reason: fmt.Sprintf("unknown correction type %q", s.Type)}
	}
	return c, nil
}
