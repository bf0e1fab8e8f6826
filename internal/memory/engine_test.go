package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/queryforge/internal/database"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

const curatedYAML = `lessons:
  - id: map-orders
    kind: table_mapping
    description: orders lives in the prod dataset
    schema_name: orders
    actual_name: PROD_STORE.orders
  - id: map-revenue
    kind: column_mapping
    description: revenue is total_amount
    table_name: orders
    schema_column: revenue
    actual_column: total_amount
    confidence: 0.9
  - id: err-backticks
    kind: error_pattern
    description: quote fully qualified names
    error_pattern: 'invalid table name'
    suggested_fix: wrap the table path in backticks
`

func setupCurated(t *testing.T) *CuratedStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lessons.yaml")
	require.NoError(t, os.WriteFile(path, []byte(curatedYAML), 0o644))
	cs, err := NewCuratedStore(path)
	require.NoError(t, err)
	return cs
}

func setupEngine(t *testing.T) (*Engine, *database.Database) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "lessons.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEngine(setupCurated(t), db), db
}

func TestCuratedStore_LoadsAndNormalizes(t *testing.T) {
	cs := setupCurated(t)
	assert.Len(t, cs.All(), 3)

	l := cs.Get("map-orders")
	require.NotNil(t, l)
	assert.Equal(t, models.SourceCurated, l.Source)
	// Unset confidence defaults to full trust.
	assert.Equal(t, 1.0, l.Confidence)

	rev := cs.Get("map-revenue")
	require.NotNil(t, rev)
	assert.Equal(t, 0.9, rev.Confidence)
}

func TestCuratedStore_MissingFileStartsEmpty(t *testing.T) {
	cs, err := NewCuratedStore(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cs.All())
}

func TestCuratedStore_ReloadCarriesCounters(t *testing.T) {
	cs := setupCurated(t)
	cs.RecordUsage("map-orders", false)
	before := cs.Get("map-orders").Confidence

	require.NoError(t, cs.reload())
	after := cs.Get("map-orders")
	assert.Equal(t, 1, after.TimesApplied)
	assert.Equal(t, before, after.Confidence)
}

func TestTransformTable_UsesCuratedLesson(t *testing.T) {
	e, _ := setupEngine(t)

	mapped, lessonID := e.TransformTable("orders")
	assert.Equal(t, "PROD_STORE.orders", mapped)
	assert.Equal(t, "map-orders", lessonID)
}

func TestTransformTable_UnknownPassesThrough(t *testing.T) {
	e, _ := setupEngine(t)

	mapped, lessonID := e.TransformTable("users")
	assert.Equal(t, "users", mapped)
	assert.Empty(t, lessonID)
}

func TestTransformTable_Idempotent(t *testing.T) {
	e, _ := setupEngine(t)

	once, _ := e.TransformTable("orders")
	twice, lessonID := e.TransformTable(once)
	assert.Equal(t, once, twice)
	assert.Empty(t, lessonID)
}

func TestTransformTable_HigherConfidenceWins(t *testing.T) {
	e, db := setupEngine(t)

	require.NoError(t, db.SaveLesson(&models.Lesson{
		ID:         "learned-orders",
		Kind:       models.LessonTableMapping,
		Source:     models.SourceLearnedError,
		Confidence: 0.8,
		SchemaName: "orders",
		ActualName: "STAGING.orders",
	}))

	// Curated lesson holds confidence 1.0 and must win.
	mapped, lessonID := e.TransformTable("orders")
	assert.Equal(t, "PROD_STORE.orders", mapped)
	assert.Equal(t, "map-orders", lessonID)
}

func TestTransformTable_BelowFloorIgnored(t *testing.T) {
	e, db := setupEngine(t)

	require.NoError(t, db.SaveLesson(&models.Lesson{
		ID:         "shaky",
		Kind:       models.LessonTableMapping,
		Source:     models.SourceLearnedError,
		Confidence: 0.3,
		SchemaName: "users",
		ActualName: "PROD_STORE.users",
	}))

	mapped, lessonID := e.TransformTable("users")
	assert.Equal(t, "users", mapped)
	assert.Empty(t, lessonID)
}

func TestTransformColumn(t *testing.T) {
	e, _ := setupEngine(t)

	mapped, lessonID := e.TransformColumn("orders", "revenue")
	assert.Equal(t, "total_amount", mapped)
	assert.Equal(t, "map-revenue", lessonID)

	mapped, lessonID = e.TransformColumn("users", "revenue")
	assert.Equal(t, "revenue", mapped)
	assert.Empty(t, lessonID)
}

func TestRelevantLessons_FiltersByKind(t *testing.T) {
	e, _ := setupEngine(t)

	relevant := e.RelevantLessons("total revenue", []string{"orders"}, "")
	ids := lessonIDs(relevant)
	assert.Contains(t, ids, "map-orders")
	assert.Contains(t, ids, "map-revenue")
	assert.NotContains(t, ids, "err-backticks")

	withError := e.RelevantLessons("total revenue", []string{"orders"}, "Invalid table name: orders")
	assert.Contains(t, lessonIDs(withError), "err-backticks")

	unrelated := e.RelevantLessons("anything", []string{"users"}, "")
	assert.Empty(t, unrelated)
}

func TestRecordUsage_RoutesToOwningStore(t *testing.T) {
	e, db := setupEngine(t)

	e.RecordUsage("map-revenue", false)
	assert.InDelta(t, 0.85, e.curated.Get("map-revenue").Confidence, 1e-9)

	require.NoError(t, db.SaveLesson(&models.Lesson{
		ID:         "learned-1",
		Kind:       models.LessonTableMapping,
		Source:     models.SourceLearnedError,
		Confidence: 0.8,
		SchemaName: "users",
		ActualName: "PROD_users",
	}))
	e.RecordUsage("learned-1", true)

	stored, err := db.GetLesson("learned-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.82, stored.Confidence, 1e-9)
	assert.Equal(t, 1, stored.TimesApplied)
}

func TestContextString(t *testing.T) {
	out := ContextString([]*models.Lesson{
		{Kind: models.LessonTableMapping, SchemaName: "orders", ActualName: "PROD_orders"},
		{Kind: models.LessonColumnMapping, TableName: "orders", SchemaColumn: "revenue", ActualColumn: "total_amount"},
	})
	assert.Contains(t, out, "Table orders is actually named PROD_orders")
	assert.Contains(t, out, "Column orders.revenue is actually named total_amount")

	assert.Empty(t, ContextString(nil))
}

func lessonIDs(lessons []*models.Lesson) []string {
	ids := make([]string, len(lessons))
	for i, l := range lessons {
		ids[i] = l.ID
	}
	return ids
}
