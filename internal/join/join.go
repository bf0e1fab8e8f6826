// Package join scores column pairs across two tables and produces ranked
// join candidates, surfacing ambiguity instead of guessing.
package join

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/jordanhubbard/queryforge/internal/schema"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

// Scoring weights. Each term is in [0,1] so the total is too.
const (
	weightNameSimilarity     = 0.40
	weightBusinessSimilarity = 0.25
	weightPrimaryKeyBonus    = 0.20
	weightFKPatternBonus     = 0.15
)

// Candidate floor and ambiguity policy.
const (
	minCandidateConfidence = 0.50
	ambiguityConfidence    = 0.70
	ambiguityMargin        = 0.10
)

// AmbiguousJoinError signals that several candidates are too close to pick
// from automatically. Carries the tied candidates for the clarification
// prompt.
type AmbiguousJoinError struct {
	LeftTable  string
	RightTable string
	Candidates []models.JoinCandidate
}

func (e *AmbiguousJoinError) Error() string {
	return fmt.Sprintf("multiple equally plausible joins between %s and %s", e.LeftTable, e.RightTable)
}

// Options renders the tied candidates for user presentation.
func (e *AmbiguousJoinError) Options() []string {
	opts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		opts[i] = c.String()
	}
	return opts
}

// NoJoinFoundError signals that no column pair scored above the floor.
type NoJoinFoundError struct {
	LeftTable  string
	RightTable string
}

func (e *NoJoinFoundError) Error() string {
	return fmt.Sprintf("no join candidate found between %s and %s", e.LeftTable, e.RightTable)
}

// Engine computes join candidates. It is stateless and independent of the
// memory subsystem.
type Engine struct{}

// NewEngine returns a join candidate engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Infer scores every type-compatible column pair across the two tables and
// returns candidates ordered by confidence. An explicit join correction
// among the constraints short-circuits scoring at confidence 1.0.
// Ambiguity is fatal for automation: the caller must route the returned
// AmbiguousJoinError to a human rather than picking the top candidate.
func (e *Engine) Infer(left, right *schema.Table, constraints []models.Correction) ([]models.JoinCandidate, error) {
	if explicit := explicitJoin(left, right, constraints); explicit != nil {
		log.Printf("[Join] Using explicit join constraint for %s-%s: %s",
			left.Name, right.Name, explicit.Condition())
		return []models.JoinCandidate{*explicit}, nil
	}

	var candidates []models.JoinCandidate
	for _, lc := range left.Columns {
		for _, rc := range right.Columns {
			if !schema.Compatible(lc.Type, rc.Type) {
				continue
			}
			c := e.score(left, lc, right, rc)
			if c.Confidence >= minCandidateConfidence {
				candidates = append(candidates, c)
			}
		}
	}

	if len(candidates) == 0 {
		return nil, &NoJoinFoundError{LeftTable: left.Name, RightTable: right.Name}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		// Ties break toward key-backed candidates.
		return candidates[i].KeyIndicator() && !candidates[j].KeyIndicator()
	})

	if tied := tiedCandidates(candidates); len(tied) > 1 {
		log.Printf("[Join] Ambiguity between %s and %s: %d candidates within %.2f",
			left.Name, right.Name, len(tied), ambiguityMargin)
		return nil, &AmbiguousJoinError{
			LeftTable:  left.Name,
			RightTable: right.Name,
			Candidates: tied,
		}
	}

	log.Printf("[Join] Inferred %d candidate(s) between %s and %s, top confidence %.2f",
		len(candidates), left.Name, right.Name, candidates[0].Confidence)
	return candidates, nil
}

// score computes the weighted confidence for one column pair.
func (e *Engine) score(lt *schema.Table, lc schema.Column, rt *schema.Table, rc schema.Column) models.JoinCandidate {
	rationale := []string{models.RationaleTypeCompatible}
	score := 0.0

	nameSim := Similarity(lc.Name, rc.Name)
	score += nameSim * weightNameSimilarity
	if nameSim >= 0.8 {
		rationale = append(rationale, models.RationaleNameSimilarity)
	}

	if lc.BusinessName != "" && rc.BusinessName != "" {
		bizSim := Similarity(lc.BusinessName, rc.BusinessName)
		score += bizSim * weightBusinessSimilarity
		if bizSim >= 0.8 {
			rationale = append(rationale, models.RationaleBusinessName)
		}
	}

	// Primary-key bonus only when the other side references the key's
	// table by naming convention.
	if (lc.PrimaryKey && hasFKPattern(rc.Name, lt.Name)) ||
		(rc.PrimaryKey && hasFKPattern(lc.Name, rt.Name)) {
		score += weightPrimaryKeyBonus
		rationale = append(rationale, models.RationalePrimaryKey)
	}

	if hasFKPattern(lc.Name, rt.Name) || hasFKPattern(rc.Name, lt.Name) {
		score += weightFKPatternBonus
		rationale = append(rationale, models.RationaleFKPattern)
	}

	if score > 1.0 {
		score = 1.0
	}

	return models.JoinCandidate{
		LeftTable:   lt.Name,
		LeftColumn:  lc.Name,
		RightTable:  rt.Name,
		RightColumn: rc.Name,
		Confidence:  score,
		Rationale:   rationale,
	}
}

// tiedCandidates returns the candidates that are jointly ambiguous: at
// least two with confidence >= 0.70 within 0.10 of the leader.
func tiedCandidates(sorted []models.JoinCandidate) []models.JoinCandidate {
	if len(sorted) < 2 {
		return nil
	}
	top := sorted[0].Confidence
	if top < ambiguityConfidence {
		return nil
	}
	var tied []models.JoinCandidate
	for _, c := range sorted {
		if c.Confidence >= ambiguityConfidence && top-c.Confidence <= ambiguityMargin {
			// Identical column pairs reversed are still distinct candidates.
			tied = append(tied, c)
		}
	}
	if len(tied) < 2 {
		return nil
	}
	return tied
}

// explicitJoin returns a confidence-1.0 candidate when a join correction
// names these two tables.
func explicitJoin(left, right *schema.Table, constraints []models.Correction) *models.JoinCandidate {
	for _, c := range constraints {
		if c.Type != models.CorrectionJoinSelection || len(c.Tables) < 2 {
			continue
		}
		if !mentionsBoth(c.Tables, left.Name, right.Name) {
			continue
		}
		lt, lcol, rt, rcol, ok := parseCondition(c.JoinCondition)
		if !ok {
			continue
		}
		cand := &models.JoinCandidate{
			LeftTable:   lt,
			LeftColumn:  lcol,
			RightTable:  rt,
			RightColumn: rcol,
			Confidence:  1.0,
			Rationale:   []string{models.RationaleExplicit},
		}
		return cand
	}
	return nil
}

func mentionsBoth(tables []string, a, b string) bool {
	foundA, foundB := false, false
	for _, t := range tables {
		if strings.EqualFold(t, a) {
			foundA = true
		}
		if strings.EqualFold(t, b) {
			foundB = true
		}
	}
	return foundA && foundB
}

// parseCondition splits "A.x = B.y" into its four identifiers.
func parseCondition(cond string) (lt, lc, rt, rc string, ok bool) {
	parts := strings.SplitN(cond, "=", 2)
	if len(parts) != 2 {
		return "", "", "", "", false
	}
	l := strings.SplitN(strings.TrimSpace(parts[0]), ".", 2)
	r := strings.SplitN(strings.TrimSpace(parts[1]), ".", 2)
	if len(l) != 2 || len(r) != 2 {
		return "", "", "", "", false
	}
	return l[0], l[1], r[0], r[1], true
}

// hasFKPattern reports whether a column name follows a foreign-key naming
// convention for the referenced table: table_id, tableid, table_key,
// fk_table, with the singular table name accepted too.
func hasFKPattern(column, table string) bool {
	col := normalize(column)
	for _, t := range []string{normalize(table), normalize(singular(table))} {
		if t == "" {
			continue
		}
		for _, pattern := range []string{t + "id", t + "key", "fk" + t} {
			if strings.Contains(col, pattern) {
				return true
			}
		}
	}
	return false
}

// singular strips the usual plural suffixes: Customers -> Customer,
// Categories -> Category.
func singular(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, "ies"):
		return name[:len(name)-3] + "y"
	case strings.HasSuffix(lower, "ses"):
		return name[:len(name)-2]
	case strings.HasSuffix(lower, "s") && !strings.HasSuffix(lower, "ss"):
		return name[:len(name)-1]
	}
	return name
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// Similarity is a normalized longest-common-subsequence ratio over
// normalized identifiers: 2*LCS/(len(a)+len(b)), in [0,1].
func Similarity(a, b string) float64 {
	a, b = normalize(a), normalize(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	// Single-row LCS table.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(b)]
	return 2 * float64(lcs) / float64(len(a)+len(b))
}
