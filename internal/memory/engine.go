package memory

import (
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/jordanhubbard/queryforge/internal/database"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

// Retrieval and application limits. Lessons below the confidence floor
// are never applied, only reinforced back up through curation.
const (
	applyConfidenceFloor = 0.50
	maxRelevantLessons   = 10
	maxRelevantChars     = 4000
)

// Engine combines the curated and learned lesson stores behind the
// operations the pipeline needs: identifier transformation, prompt
// context retrieval, usage feedback, and learning from finished runs.
// Reads are concurrent; learning is serialized.
type Engine struct {
	curated *CuratedStore
	db      *database.Database

	learnMu sync.Mutex
}

// NewEngine builds a memory engine over both stores. db may be nil for
// curated-only operation.
func NewEngine(curated *CuratedStore, db *database.Database) *Engine {
	return &Engine{curated: curated, db: db}
}

// all returns curated plus learned lessons, curated first so that ties
// resolve toward human-maintained knowledge.
func (e *Engine) all() []*models.Lesson {
	lessons := e.curated.All()
	if e.db != nil {
		learned, err := e.db.ListLessons(0)
		if err != nil {
			log.Printf("[Memory] Failed to load learned lessons: %v", err)
		} else {
			lessons = append(lessons, learned...)
		}
	}
	return lessons
}

// TransformTable maps a schema table name to its actual name using the
// highest-confidence applicable lesson. Returns the input unchanged with
// an empty lesson id when nothing applies. Transformation is idempotent:
// a name already in actual form maps to itself.
func (e *Engine) TransformTable(table string) (string, string) {
	var best *models.Lesson
	var mapped string
	for _, l := range e.all() {
		if l.Confidence < applyConfidenceFloor {
			continue
		}
		out := l.ApplyTable(table)
		if out == "" || out == table {
			continue
		}
		if better(l, best) {
			best, mapped = l, out
		}
	}
	if best == nil {
		return table, ""
	}
	log.Printf("[Memory] Table %s -> %s via lesson %s (%.2f)", table, mapped, best.ID, best.Confidence)
	return mapped, best.ID
}

// TransformColumn maps table.column the same way.
func (e *Engine) TransformColumn(table, column string) (string, string) {
	var best *models.Lesson
	var mapped string
	for _, l := range e.all() {
		if l.Confidence < applyConfidenceFloor {
			continue
		}
		out := l.ApplyColumn(table, column)
		if out == "" || out == column {
			continue
		}
		if better(l, best) {
			best, mapped = l, out
		}
	}
	if best == nil {
		return column, ""
	}
	log.Printf("[Memory] Column %s.%s -> %s via lesson %s (%.2f)", table, column, mapped, best.ID, best.Confidence)
	return mapped, best.ID
}

// better implements the selection order: higher confidence wins, and a
// curated lesson beats a learned one at equal confidence.
func better(candidate, incumbent *models.Lesson) bool {
	if incumbent == nil {
		return true
	}
	if candidate.Confidence != incumbent.Confidence {
		return candidate.Confidence > incumbent.Confidence
	}
	return candidate.Curated() && !incumbent.Curated()
}

// RelevantLessons selects lessons worth injecting into a reasoning
// prompt for this query: mappings touching the identified tables, error
// patterns matching the last error, and query patterns mentioning terms
// from the query. Output is capped by count and total characters.
func (e *Engine) RelevantLessons(query string, tables []string, lastError string) []*models.Lesson {
	queryLower := strings.ToLower(query)
	tableSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		tableSet[strings.ToLower(t)] = true
	}

	var relevant []*models.Lesson
	for _, l := range e.all() {
		if l.Confidence < applyConfidenceFloor {
			continue
		}
		switch l.Kind {
		case models.LessonTableMapping:
			if tableSet[strings.ToLower(l.SchemaName)] || tableSet[strings.ToLower(l.ActualName)] || l.Pattern != "" {
				relevant = append(relevant, l)
			}
		case models.LessonColumnMapping:
			if tableSet[strings.ToLower(l.TableName)] {
				relevant = append(relevant, l)
			}
		case models.LessonErrorPattern:
			if lastError != "" && l.MatchesError(lastError) {
				relevant = append(relevant, l)
			}
		case models.LessonQueryPattern:
			if l.WhenToUse != "" && containsAnyWord(queryLower, l.WhenToUse) {
				relevant = append(relevant, l)
			}
		}
	}

	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].Confidence > relevant[j].Confidence
	})

	var out []*models.Lesson
	chars := 0
	for _, l := range relevant {
		if len(out) >= maxRelevantLessons {
			break
		}
		chars += len(l.Description)
		if chars > maxRelevantChars {
			break
		}
		out = append(out, l)
	}
	return out
}

// containsAnyWord reports whether any whitespace-separated term of
// phrase appears in text.
func containsAnyWord(text, phrase string) bool {
	for _, w := range strings.Fields(strings.ToLower(phrase)) {
		if len(w) > 3 && strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// RecordUsage feeds one application outcome back into whichever store
// owns the lesson.
func (e *Engine) RecordUsage(id string, successful bool) {
	if e.curated.RecordUsage(id, successful) {
		return
	}
	if e.db == nil {
		return
	}
	if _, err := e.db.RecordLessonUsage(id, successful); err != nil {
		log.Printf("[Memory] Failed to record usage for lesson %s: %v", id, err)
	}
}

// ContextString renders lessons as prompt context lines.
func ContextString(lessons []*models.Lesson) string {
	if len(lessons) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Known schema lessons:\n")
	for _, l := range lessons {
		switch l.Kind {
		case models.LessonTableMapping:
			if l.Prefix != "" {
				sb.WriteString("- Tables matching " + l.Pattern + " take the prefix " + l.Prefix + "\n")
			} else {
				sb.WriteString("- Table " + l.SchemaName + " is actually named " + l.ActualName + "\n")
			}
		case models.LessonColumnMapping:
			sb.WriteString("- Column " + l.TableName + "." + l.SchemaColumn + " is actually named " + l.ActualColumn + "\n")
		case models.LessonErrorPattern:
			sb.WriteString("- If you see \"" + l.ErrorPattern + "\": " + l.SuggestedFix + "\n")
		case models.LessonQueryPattern:
			sb.WriteString("- " + l.Description + "\n")
		}
	}
	return sb.String()
}
