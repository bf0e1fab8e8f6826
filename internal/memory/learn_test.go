package memory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/queryforge/internal/database"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

func setupLearnEngine(t *testing.T) (*Engine, *database.Database) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "learn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	curated, err := NewCuratedStore("")
	require.NoError(t, err)
	return NewEngine(curated, db), db
}

func completedSession() *models.Session {
	s := models.NewSession("how many customers signed up last month")
	s.State = models.StateCompleted
	s.IdentifiedTables = []string{"Customers"}
	return s
}

func TestLearnFromSession_ErrorRecovery(t *testing.T) {
	e, db := setupLearnEngine(t)

	s := completedSession()
	s.SQLAttempts = []models.SQLAttempt{
		{
			SQL:   "SELECT COUNT(*) FROM Customers",
			Phase: "execution",
			Error: `Table "Customers" not found`,
		},
		{
			SQL:     "SELECT COUNT(*) FROM PROD_Customers",
			Phase:   "execution",
			Success: true,
		},
	}

	learned := e.LearnFromSession(s)
	require.Len(t, learned, 1)

	l := learned[0]
	assert.Equal(t, models.LessonTableMapping, l.Kind)
	assert.Equal(t, "Customers", l.SchemaName)
	assert.Equal(t, "PROD_Customers", l.ActualName)
	assert.Equal(t, "PROD_", l.Prefix)
	assert.Equal(t, 0.80, l.Confidence)
	assert.Equal(t, models.SourceLearnedError, l.Source)

	stored, err := db.FindLesson(models.LessonTableMapping, "Customers", "", "")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "PROD_Customers", stored.ActualName)
}

func TestLearnFromSession_BacktickedErrorPath(t *testing.T) {
	e, _ := setupLearnEngine(t)

	s := completedSession()
	s.SQLAttempts = []models.SQLAttempt{
		{
			SQL:   "SELECT 1 FROM Customers",
			Error: "Table `my-project.sales.Customers` not found in location US",
		},
		{
			SQL:     "SELECT 1 FROM `my-project.sales.DIM_Customers`",
			Success: true,
		},
	}

	learned := e.LearnFromSession(s)
	require.Len(t, learned, 1)
	assert.Equal(t, "Customers", learned[0].SchemaName)
	assert.Equal(t, "DIM_Customers", learned[0].ActualName)
}

func TestLearnFromSession_NoRecoveryWithoutSuccess(t *testing.T) {
	e, _ := setupLearnEngine(t)

	s := completedSession()
	s.State = models.StateFailed
	s.SQLAttempts = []models.SQLAttempt{
		{SQL: "SELECT 1 FROM Customers", Error: `Table "Customers" not found`},
		{SQL: "SELECT 1 FROM PROD_Customers", Error: "permission denied"},
	}

	assert.Empty(t, e.LearnFromSession(s))
}

func TestLearnFromSession_IdentifierCorrectionToColumn(t *testing.T) {
	e, _ := setupLearnEngine(t)

	s := completedSession()
	s.IdentifiedTables = []string{"orders"}
	s.Corrections = []models.Correction{{
		Type:        models.CorrectionIdentifierMap,
		Term:        "revenue",
		Replacement: "orders.total_amount",
	}}

	learned := e.LearnFromSession(s)
	require.Len(t, learned, 1)

	l := learned[0]
	assert.Equal(t, models.LessonColumnMapping, l.Kind)
	assert.Equal(t, "orders", l.TableName)
	assert.Equal(t, "revenue", l.SchemaColumn)
	assert.Equal(t, "total_amount", l.ActualColumn)
	assert.Equal(t, 0.85, l.Confidence)
	assert.Equal(t, models.SourceLearnedCorrect, l.Source)
}

func TestLearnFromSession_IdentifierCorrectionToTable(t *testing.T) {
	e, _ := setupLearnEngine(t)

	s := completedSession()
	s.IdentifiedTables = []string{"orders"}
	s.Corrections = []models.Correction{{
		Type:        models.CorrectionIdentifierMap,
		Term:        "orders",
		Replacement: "fct_orders",
	}}

	learned := e.LearnFromSession(s)
	require.Len(t, learned, 1)
	assert.Equal(t, models.LessonTableMapping, learned[0].Kind)
	assert.Equal(t, "orders", learned[0].SchemaName)
	assert.Equal(t, "fct_orders", learned[0].ActualName)
}

func TestLearnFromSession_PrefixMention(t *testing.T) {
	e, _ := setupLearnEngine(t)

	s := completedSession()
	s.IdentifiedTables = []string{"orders", "users"}
	s.Corrections = []models.Correction{{
		Type: models.CorrectionFreeText,
		Text: "all warehouse tables use the prod_ prefix",
	}}

	learned := e.LearnFromSession(s)
	require.Len(t, learned, 2)
	for _, l := range learned {
		assert.Equal(t, models.LessonTableMapping, l.Kind)
		assert.Equal(t, "PROD_", l.Prefix)
		assert.Equal(t, 0.70, l.Confidence)
	}
}

func TestLearnFromSession_DuplicateReinforcesInsteadOfSaving(t *testing.T) {
	e, db := setupLearnEngine(t)

	require.NoError(t, db.SaveLesson(&models.Lesson{
		ID:         "existing",
		Kind:       models.LessonTableMapping,
		Source:     models.SourceLearnedError,
		Confidence: 0.80,
		SchemaName: "Customers",
		ActualName: "PROD_Customers",
	}))

	s := completedSession()
	s.SQLAttempts = []models.SQLAttempt{
		{SQL: "SELECT 1 FROM Customers", Error: `Table "Customers" not found`},
		{SQL: "SELECT 1 FROM PROD_Customers", Success: true},
	}
	e.LearnFromSession(s)

	lessons, err := db.ListLessons(0)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, "existing", lessons[0].ID)
	assert.Equal(t, 1, lessons[0].TimesApplied)
	assert.InDelta(t, 0.82, lessons[0].Confidence, 1e-9)
}

func TestLearnFromSession_ReinforcesAppliedLessons(t *testing.T) {
	e, db := setupLearnEngine(t)

	require.NoError(t, db.SaveLesson(&models.Lesson{
		ID:         "applied",
		Kind:       models.LessonTableMapping,
		Source:     models.SourceLearnedError,
		Confidence: 0.80,
		SchemaName: "users",
		ActualName: "PROD_users",
	}))

	s := completedSession()
	s.AppliedLessonIDs = []string{"applied"}
	e.LearnFromSession(s)

	stored, err := db.GetLesson("applied")
	require.NoError(t, err)
	assert.InDelta(t, 0.82, stored.Confidence, 1e-9)

	// A failed session penalizes the lessons it used.
	s2 := completedSession()
	s2.State = models.StateFailed
	s2.AppliedLessonIDs = []string{"applied"}
	e.LearnFromSession(s2)

	stored, err = db.GetLesson("applied")
	require.NoError(t, err)
	assert.InDelta(t, 0.77, stored.Confidence, 1e-9)
}
