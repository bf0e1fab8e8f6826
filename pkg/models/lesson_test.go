package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLesson_ConfidenceEvolution(t *testing.T) {
	l := &Lesson{Confidence: 0.80}

	l.RecordUsage(true)
	assert.InDelta(t, 0.82, l.Confidence, 1e-9)
	assert.Equal(t, 1, l.TimesApplied)
	assert.Equal(t, 1, l.TimesSuccessful)

	// A failure costs more than a success earns.
	l.RecordUsage(false)
	assert.InDelta(t, 0.77, l.Confidence, 1e-9)
	assert.Equal(t, 2, l.TimesApplied)
	assert.Equal(t, 1, l.TimesSuccessful)
}

func TestLesson_ConfidenceClamped(t *testing.T) {
	l := &Lesson{Confidence: 0.99}
	l.RecordUsage(true)
	assert.Equal(t, 1.0, l.Confidence)
	l.RecordUsage(true)
	assert.Equal(t, 1.0, l.Confidence)

	l.Confidence = 0.03
	l.RecordUsage(false)
	assert.Equal(t, 0.0, l.Confidence)
	l.RecordUsage(false)
	assert.Equal(t, 0.0, l.Confidence)
}

func TestLesson_SuccessRate(t *testing.T) {
	l := &Lesson{}
	assert.Equal(t, 0.0, l.SuccessRate())

	l.RecordUsage(true)
	l.RecordUsage(true)
	l.RecordUsage(false)
	assert.InDelta(t, 2.0/3.0, l.SuccessRate(), 1e-9)
}

func TestLesson_ApplyTable(t *testing.T) {
	exact := &Lesson{
		Kind:       LessonTableMapping,
		SchemaName: "orders",
		ActualName: "PROD_STORE.orders",
	}
	assert.Equal(t, "PROD_STORE.orders", exact.ApplyTable("orders"))
	assert.Empty(t, exact.ApplyTable("users"))

	prefixed := &Lesson{
		Kind:    LessonTableMapping,
		Pattern: `^\w+$`,
		Prefix:  "PROD_",
	}
	assert.Equal(t, "PROD_users", prefixed.ApplyTable("users"))
	assert.Empty(t, prefixed.ApplyTable("already.qualified"))

	wrongKind := &Lesson{Kind: LessonColumnMapping, SchemaName: "orders", ActualName: "x"}
	assert.Empty(t, wrongKind.ApplyTable("orders"))
}

func TestLesson_ApplyColumn(t *testing.T) {
	l := &Lesson{
		Kind:         LessonColumnMapping,
		TableName:    "orders",
		SchemaColumn: "revenue",
		ActualColumn: "total_amount",
	}
	assert.Equal(t, "total_amount", l.ApplyColumn("orders", "revenue"))
	assert.Empty(t, l.ApplyColumn("orders", "total"))
	assert.Empty(t, l.ApplyColumn("users", "revenue"))
}

func TestLesson_MatchesError(t *testing.T) {
	l := &Lesson{
		Kind:         LessonErrorPattern,
		ErrorPattern: `table .* not found`,
	}
	assert.True(t, l.MatchesError(`Table "orders" NOT FOUND in dataset`))
	assert.False(t, l.MatchesError("permission denied"))

	broken := &Lesson{Kind: LessonErrorPattern, ErrorPattern: "("}
	assert.False(t, broken.MatchesError("anything"))
}
