package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleLesson(id string) *models.Lesson {
	return &models.Lesson{
		ID:          id,
		Kind:        models.LessonTableMapping,
		Description: "orders lives in the prod dataset",
		Confidence:  0.80,
		Source:      models.SourceLearnedError,
		SchemaName:  "orders",
		ActualName:  "PROD_STORE.orders",
		Prefix:      "PROD_STORE.",
	}
}

func TestSaveAndGetLesson(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.SaveLesson(sampleLesson("l1")))

	got, err := db.GetLesson("l1")
	require.NoError(t, err)
	assert.Equal(t, "orders", got.SchemaName)
	assert.Equal(t, "PROD_STORE.orders", got.ActualName)
	assert.Equal(t, 0.80, got.Confidence)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetLesson_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetLesson("nope")
	assert.ErrorIs(t, err, ErrLessonNotFound)
}

func TestSaveLesson_Upserts(t *testing.T) {
	db := setupTestDB(t)

	l := sampleLesson("l1")
	require.NoError(t, db.SaveLesson(l))

	l.Confidence = 0.95
	l.ActualName = "PROD_STORE.fct_orders"
	require.NoError(t, db.SaveLesson(l))

	got, err := db.GetLesson("l1")
	require.NoError(t, err)
	assert.Equal(t, 0.95, got.Confidence)
	assert.Equal(t, "PROD_STORE.fct_orders", got.ActualName)

	all, err := db.ListLessons(0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListLessons_Limit(t *testing.T) {
	db := setupTestDB(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.SaveLesson(sampleLesson(id)))
	}

	all, err := db.ListLessons(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	two, err := db.ListLessons(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestFindLesson(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.SaveLesson(sampleLesson("l1")))

	found, err := db.FindLesson(models.LessonTableMapping, "orders", "", "")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "l1", found.ID)

	missing, err := db.FindLesson(models.LessonTableMapping, "users", "", "")
	require.NoError(t, err)
	assert.Nil(t, missing)

	wrongKind, err := db.FindLesson(models.LessonColumnMapping, "orders", "", "")
	require.NoError(t, err)
	assert.Nil(t, wrongKind)
}

func TestRecordLessonUsage(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.SaveLesson(sampleLesson("l1")))

	updated, err := db.RecordLessonUsage("l1", true)
	require.NoError(t, err)
	assert.InDelta(t, 0.82, updated.Confidence, 1e-9)
	assert.Equal(t, 1, updated.TimesApplied)

	updated, err = db.RecordLessonUsage("l1", false)
	require.NoError(t, err)
	assert.InDelta(t, 0.77, updated.Confidence, 1e-9)

	// The evolution is durable, not just returned.
	got, err := db.GetLesson("l1")
	require.NoError(t, err)
	assert.InDelta(t, 0.77, got.Confidence, 1e-9)
	assert.Equal(t, 2, got.TimesApplied)
	assert.Equal(t, 1, got.TimesSuccessful)

	_, err = db.RecordLessonUsage("absent", true)
	assert.ErrorIs(t, err, ErrLessonNotFound)
}

func TestDeleteLesson(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.SaveLesson(sampleLesson("l1")))

	require.NoError(t, db.DeleteLesson("l1"))
	_, err := db.GetLesson("l1")
	assert.ErrorIs(t, err, ErrLessonNotFound)

	assert.ErrorIs(t, db.DeleteLesson("l1"), ErrLessonNotFound)
}
