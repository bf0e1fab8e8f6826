package memory

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

// Initial confidence for freshly learned lessons. A correction is a
// stronger signal than an observed recovery.
const (
	errorRecoveryConfidence  = 0.80
	correctionConfidence     = 0.85
	inferredPrefixConfidence = 0.70
)

var (
	// "Table `project.dataset.Customers` not found" and plainer forms.
	reErrTableBackticks = regexp.MustCompile("Table `(?:[^.`]+\\.)*([^.`]+)`")
	reErrTablePlain     = regexp.MustCompile(`(?i)table\s+"?([A-Za-z_][A-Za-z0-9_]*)"?\s+(?:was\s+)?not\s+found`)

	rePrefixMention = regexp.MustCompile(`(?i)\b([a-z]+_)\s*prefix|\bprefix\s+([a-z]+_)`)
)

// LearnFromSession extracts lessons from a finished run. Three rules
// apply, in order: recoveries from "not found" errors become table
// mappings, user corrections become mappings, and lessons applied
// during the run have their confidence reinforced or penalized by the
// outcome. Learning never fails the session; problems are logged.
func (e *Engine) LearnFromSession(sess *models.Session) []*models.Lesson {
	e.learnMu.Lock()
	defer e.learnMu.Unlock()

	var learned []*models.Lesson

	if sess.State == models.StateCompleted && sess.FinalSQL() != "" {
		learned = append(learned, e.learnFromErrorRecovery(sess)...)
	}
	if len(sess.Corrections) > 0 {
		learned = append(learned, e.learnFromCorrections(sess)...)
	}
	e.reinforceAppliedLessons(sess)

	for _, l := range learned {
		e.saveOrReinforce(l)
	}
	if len(learned) > 0 {
		log.Printf("[Memory] Learned %d lesson(s) from session %s", len(learned), sess.ID)
	}
	return learned
}

// learnFromErrorRecovery finds failed-then-fixed table references: an
// attempt whose error names a missing table, followed by an attempt
// that succeeded using a longer variant of that name.
func (e *Engine) learnFromErrorRecovery(sess *models.Session) []*models.Lesson {
	var lessons []*models.Lesson
	attempts := sess.SQLAttempts

	for i := 0; i < len(attempts)-1; i++ {
		errMsg := attempts[i].Error
		if errMsg == "" || !strings.Contains(strings.ToLower(errMsg), "not found") {
			continue
		}
		failedTable := extractMissingTable(errMsg)
		if failedTable == "" {
			continue
		}
		next := attempts[i+1]
		if next.Error != "" || next.SQL == "" {
			continue
		}
		actual := extractTableVariant(next.SQL, failedTable)
		if actual == "" || strings.EqualFold(actual, failedTable) {
			continue
		}
		lessons = append(lessons, newTableMappingLesson(
			failedTable, actual, sess.ID,
			errorRecoveryConfidence, models.SourceLearnedError,
		))
		log.Printf("[Memory] Learned table mapping from recovery: %s -> %s", failedTable, actual)
	}
	return lessons
}

// learnFromCorrections turns user clarifications into lessons.
func (e *Engine) learnFromCorrections(sess *models.Session) []*models.Lesson {
	var lessons []*models.Lesson

	for _, c := range sess.Corrections {
		switch c.Type {
		case models.CorrectionIdentifierMap:
			lessons = append(lessons, lessonFromIdentifierMap(sess, c)...)
		case models.CorrectionFreeText:
			lessons = append(lessons, lessonsFromPrefixMention(sess, c.Text)...)
		}
	}
	return lessons
}

// lessonFromIdentifierMap maps a term correction onto the schema: a
// replacement of the form table.column becomes a column mapping, a
// replacement naming a known table becomes a table mapping.
func lessonFromIdentifierMap(sess *models.Session, c models.Correction) []*models.Lesson {
	if c.Term == "" || c.Replacement == "" {
		return nil
	}

	if table, column, ok := strings.Cut(c.Replacement, "."); ok {
		l := &models.Lesson{
			ID:           uuid.New().String(),
			Kind:         models.LessonColumnMapping,
			Description:  fmt.Sprintf("In %s, column %q maps to %q", table, c.Term, column),
			Confidence:   correctionConfidence,
			Source:       models.SourceLearnedCorrect,
			TableName:    table,
			SchemaColumn: c.Term,
			ActualColumn: column,
			SessionIDs:   []string{sess.ID},
		}
		return []*models.Lesson{l}
	}

	for _, t := range sess.IdentifiedTables {
		if strings.EqualFold(t, c.Term) {
			return []*models.Lesson{newTableMappingLesson(
				c.Term, c.Replacement, sess.ID,
				correctionConfidence, models.SourceLearnedCorrect,
			)}
		}
	}

	if len(sess.IdentifiedTables) == 0 {
		return nil
	}
	// Bare term, assume a column on the first identified table.
	table := sess.IdentifiedTables[0]
	l := &models.Lesson{
		ID:           uuid.New().String(),
		Kind:         models.LessonColumnMapping,
		Description:  fmt.Sprintf("In %s, column %q maps to %q", table, c.Term, c.Replacement),
		Confidence:   correctionConfidence,
		Source:       models.SourceLearnedCorrect,
		TableName:    table,
		SchemaColumn: c.Term,
		ActualColumn: c.Replacement,
		SessionIDs:   []string{sess.ID},
	}
	return []*models.Lesson{l}
}

// lessonsFromPrefixMention picks up free-text hints like "all tables
// use the PROD_ prefix" and projects them onto the identified tables at
// reduced confidence.
func lessonsFromPrefixMention(sess *models.Session, text string) []*models.Lesson {
	m := rePrefixMention.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	prefix := strings.ToUpper(m[1])
	if prefix == "" {
		prefix = strings.ToUpper(m[2])
	}
	var lessons []*models.Lesson
	lower := strings.ToLower(text)
	for _, table := range sess.IdentifiedTables {
		// Skip tables the user named explicitly, those get their own
		// identifier corrections.
		if strings.Contains(lower, strings.ToLower(table)) {
			continue
		}
		lessons = append(lessons, newTableMappingLesson(
			table, prefix+table, sess.ID,
			inferredPrefixConfidence, models.SourceLearnedCorrect,
		))
	}
	return lessons
}

// reinforceAppliedLessons feeds the session outcome back to every
// lesson that influenced it.
func (e *Engine) reinforceAppliedLessons(sess *models.Session) {
	successful := sess.State == models.StateCompleted
	for _, id := range sess.AppliedLessonIDs {
		e.RecordUsage(id, successful)
	}
}

// saveOrReinforce persists a new lesson unless an equivalent mapping
// already exists, in which case the existing lesson is reinforced
// instead of duplicated.
func (e *Engine) saveOrReinforce(l *models.Lesson) {
	if e.db == nil {
		return
	}
	existing, err := e.db.FindLesson(l.Kind, l.SchemaName, l.TableName, l.SchemaColumn)
	if err != nil {
		log.Printf("[Memory] Failed to check for duplicate lesson: %v", err)
		return
	}
	if existing != nil {
		if _, err := e.db.RecordLessonUsage(existing.ID, true); err != nil {
			log.Printf("[Memory] Failed to reinforce lesson %s: %v", existing.ID, err)
		}
		return
	}
	if err := e.db.SaveLesson(l); err != nil {
		log.Printf("[Memory] Failed to save lesson %s: %v", l.ID, err)
	}
}

// newTableMappingLesson builds a table mapping with prefix detection:
// PROD_Customers for Customers yields the PROD_ prefix.
func newTableMappingLesson(schemaName, actualName, sessionID string, confidence float64, source models.LessonSource) *models.Lesson {
	prefix := ""
	if strings.HasSuffix(actualName, schemaName) && len(actualName) > len(schemaName) {
		prefix = actualName[:len(actualName)-len(schemaName)]
	}
	return &models.Lesson{
		ID:          uuid.New().String(),
		Kind:        models.LessonTableMapping,
		Description: fmt.Sprintf("Table %q maps to %q in the warehouse", schemaName, actualName),
		Confidence:  confidence,
		Source:      source,
		SchemaName:  schemaName,
		ActualName:  actualName,
		Prefix:      prefix,
		SessionIDs:  []string{sessionID},
	}
}

// extractMissingTable pulls the table name out of a "not found" error.
func extractMissingTable(errMsg string) string {
	if m := reErrTableBackticks.FindStringSubmatch(errMsg); m != nil {
		return m[1]
	}
	if m := reErrTablePlain.FindStringSubmatch(errMsg); m != nil {
		return m[1]
	}
	return ""
}

// extractTableVariant finds a FROM/JOIN reference in sql that contains
// the base table name, e.g. PROD_Customers for Customers.
func extractTableVariant(sqlText, base string) string {
	re, err := regexp.Compile(`(?i)\b(?:FROM|JOIN)\s+` + "`?" + `(?:[A-Za-z0-9_-]+\.)*([A-Za-z_][A-Za-z0-9_]*` + regexp.QuoteMeta(base) + `[A-Za-z0-9_]*)` + "`?")
	if err != nil {
		return ""
	}
	if m := re.FindStringSubmatch(sqlText); m != nil {
		return m[1]
	}
	return ""
}
