package models

import (
	"regexp"
	"time"
)

// LessonKind enumerates the kinds of knowledge the memory subsystem keeps.
type LessonKind string

const (
	LessonTableMapping  LessonKind = "table_mapping"
	LessonColumnMapping LessonKind = "column_mapping"
	LessonErrorPattern  LessonKind = "error_pattern"
	LessonQueryPattern  LessonKind = "query_pattern"
)

// LessonSource records where a lesson came from. Curated lessons are loaded
// from a versioned file and never mutated beyond usage counters.
type LessonSource string

const (
	SourceCurated        LessonSource = "curated"
	SourceLearnedError   LessonSource = "learned-from-error"
	SourceLearnedCorrect LessonSource = "learned-from-correction"
)

// Lesson is a persisted, confidence-scored fact about how schema
// identifiers or error patterns map to correct usage. Fields beyond the
// common block apply per kind.
type Lesson struct {
	ID          string       `json:"id" yaml:"id"`
	Kind        LessonKind   `json:"kind" yaml:"kind"`
	Description string       `json:"description" yaml:"description"`
	Confidence  float64      `json:"confidence" yaml:"confidence"`
	Source      LessonSource `json:"source" yaml:"source"`

	TimesApplied    int      `json:"times_applied" yaml:"times_applied,omitempty"`
	TimesSuccessful int      `json:"times_successful" yaml:"times_successful,omitempty"`
	SessionIDs      []string `json:"session_ids,omitempty" yaml:"session_ids,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`

	// table_mapping
	SchemaName string `json:"schema_name,omitempty" yaml:"schema_name,omitempty"`
	ActualName string `json:"actual_name,omitempty" yaml:"actual_name,omitempty"`
	Prefix     string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Pattern    string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// column_mapping
	TableName    string `json:"table_name,omitempty" yaml:"table_name,omitempty"`
	SchemaColumn string `json:"schema_column,omitempty" yaml:"schema_column,omitempty"`
	ActualColumn string `json:"actual_column,omitempty" yaml:"actual_column,omitempty"`

	// error_pattern
	ErrorPattern string `json:"error_pattern,omitempty" yaml:"error_pattern,omitempty"`
	SuggestedFix string `json:"suggested_fix,omitempty" yaml:"suggested_fix,omitempty"`

	// query_pattern
	SQLTemplate string `json:"sql_template,omitempty" yaml:"sql_template,omitempty"`
	WhenToUse   string `json:"when_to_use,omitempty" yaml:"when_to_use,omitempty"`
}

// Curated reports whether the lesson came from the human-editable file.
func (l *Lesson) Curated() bool {
	return l.Source == SourceCurated
}

// RecordUsage updates the usage counters and evolves confidence. A failure
// costs more than a success earns so a lesson that starts misfiring loses
// trust faster than it gained it.
func (l *Lesson) RecordUsage(successful bool) {
	l.TimesApplied++
	if successful {
		l.TimesSuccessful++
		l.Confidence = min(1.0, l.Confidence+0.02)
	} else {
		l.Confidence = max(0.0, l.Confidence-0.05)
	}
	l.UpdatedAt = time.Now().UTC()
}

// SuccessRate returns times_successful / times_applied, 0 when unused.
func (l *Lesson) SuccessRate() float64 {
	if l.TimesApplied == 0 {
		return 0
	}
	return float64(l.TimesSuccessful) / float64(l.TimesApplied)
}

// ApplyTable returns the mapped table name, or "" when the lesson does not
// apply. Exact schema-name matches win; a regex pattern with a prefix
// covers rule-style mappings like "add PROD_ to everything".
func (l *Lesson) ApplyTable(table string) string {
	if l.Kind != LessonTableMapping {
		return ""
	}
	if table == l.SchemaName {
		return l.ActualName
	}
	if l.Pattern != "" {
		re, err := regexp.Compile(l.Pattern)
		if err != nil {
			return ""
		}
		if re.MatchString(table) {
			if l.Prefix != "" {
				return l.Prefix + table
			}
			return l.ActualName
		}
	}
	return ""
}

// ApplyColumn returns the mapped column name for table.column, or "".
func (l *Lesson) ApplyColumn(table, column string) string {
	if l.Kind != LessonColumnMapping {
		return ""
	}
	if table == l.TableName && column == l.SchemaColumn {
		return l.ActualColumn
	}
	return ""
}

// MatchesError reports whether an error-pattern lesson applies to a message.
func (l *Lesson) MatchesError(msg string) bool {
	if l.Kind != LessonErrorPattern || l.ErrorPattern == "" {
		return false
	}
	re, err := regexp.Compile("(?i)" + l.ErrorPattern)
	if err != nil {
		return false
	}
	return re.MatchString(msg)
}
