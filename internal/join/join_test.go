package join

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/queryforge/internal/schema"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

func ordersTable() *schema.Table {
	return &schema.Table{
		Name: "orders",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, PrimaryKey: true},
			{Name: "user_id", Type: schema.TypeInteger},
			{Name: "total_amount", Type: schema.TypeNumeric},
			{Name: "created_at", Type: schema.TypeTimestamp},
		},
	}
}

func usersTable() *schema.Table {
	return &schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, PrimaryKey: true},
			{Name: "email", Type: schema.TypeString},
			{Name: "signup_date", Type: schema.TypeDate},
		},
	}
}

func TestInfer_FKPatternAgainstPrimaryKey(t *testing.T) {
	e := NewEngine()

	candidates, err := e.Infer(ordersTable(), usersTable(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	top := candidates[0]
	assert.Equal(t, "orders", top.LeftTable)
	assert.Equal(t, "user_id", top.LeftColumn)
	assert.Equal(t, "users", top.RightTable)
	assert.Equal(t, "id", top.RightColumn)
	assert.GreaterOrEqual(t, top.Confidence, 0.5)
	assert.Contains(t, top.Rationale, models.RationalePrimaryKey)
	assert.Contains(t, top.Rationale, models.RationaleFKPattern)
}

func TestInfer_NoCandidateAboveFloor(t *testing.T) {
	e := NewEngine()
	left := &schema.Table{
		Name:    "weather",
		Columns: []schema.Column{{Name: "humidity", Type: schema.TypeFloat}},
	}
	right := &schema.Table{
		Name:    "tickets",
		Columns: []schema.Column{{Name: "priority", Type: schema.TypeInteger}},
	}

	_, err := e.Infer(left, right, nil)
	require.Error(t, err)

	var noJoin *NoJoinFoundError
	require.ErrorAs(t, err, &noJoin)
	assert.Equal(t, "weather", noJoin.LeftTable)
	assert.Equal(t, "tickets", noJoin.RightTable)
}

func TestInfer_TypeIncompatiblePairsExcluded(t *testing.T) {
	e := NewEngine()
	left := &schema.Table{
		Name:    "events",
		Columns: []schema.Column{{Name: "account_id", Type: schema.TypeString}},
	}
	right := &schema.Table{
		Name: "accounts",
		Columns: []schema.Column{
			{Name: "account_id", Type: schema.TypeInteger},
		},
	}

	// Identical names but string vs integer: never a candidate.
	_, err := e.Infer(left, right, nil)
	var noJoin *NoJoinFoundError
	require.ErrorAs(t, err, &noJoin)
}

func TestInfer_AmbiguityWhenTwoStrongCandidates(t *testing.T) {
	e := NewEngine()
	left := &schema.Table{
		Name: "messages",
		Columns: []schema.Column{
			{Name: "sender_user_id", BusinessName: "User", Type: schema.TypeInteger},
			{Name: "receiver_user_id", BusinessName: "User", Type: schema.TypeInteger},
		},
	}
	right := &schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "user_id", BusinessName: "User", Type: schema.TypeInteger, PrimaryKey: true},
		},
	}

	_, err := e.Infer(left, right, nil)
	require.Error(t, err)

	var ambiguous *AmbiguousJoinError
	require.ErrorAs(t, err, &ambiguous)
	assert.GreaterOrEqual(t, len(ambiguous.Candidates), 2)
	assert.Len(t, ambiguous.Options(), len(ambiguous.Candidates))
	for _, c := range ambiguous.Candidates {
		assert.GreaterOrEqual(t, c.Confidence, 0.70)
	}
}

func TestInfer_ExplicitConstraintShortCircuits(t *testing.T) {
	e := NewEngine()
	constraints := []models.Correction{{
		Type:          models.CorrectionJoinSelection,
		Tables:        []string{"orders", "users"},
		JoinCondition: "orders.user_id = users.id",
	}}

	candidates, err := e.Infer(ordersTable(), usersTable(), constraints)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 1.0, candidates[0].Confidence)
	assert.Equal(t, []string{models.RationaleExplicit}, candidates[0].Rationale)
	assert.Equal(t, "orders.user_id = users.id", candidates[0].Condition())
}

func TestInfer_ExplicitConstraintForOtherTablesIgnored(t *testing.T) {
	e := NewEngine()
	constraints := []models.Correction{{
		Type:          models.CorrectionJoinSelection,
		Tables:        []string{"orders", "products"},
		JoinCondition: "orders.product_id = products.id",
	}}

	candidates, err := e.Infer(ordersTable(), usersTable(), constraints)
	require.NoError(t, err)
	assert.NotEqual(t, 1.0, candidates[0].Confidence)
}

func TestHasFKPattern(t *testing.T) {
	tests := []struct {
		column string
		table  string
		want   bool
	}{
		{"user_id", "users", true},
		{"userid", "users", true},
		{"user_key", "users", true},
		{"fk_user", "users", true},
		{"customer_id", "customers", true},
		{"category_id", "categories", true},
		{"email", "users", false},
		{"id", "users", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hasFKPattern(tt.column, tt.table),
			"hasFKPattern(%q, %q)", tt.column, tt.table)
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("user_id", "userid"))
	assert.Equal(t, 1.0, Similarity("ID", "id"))
	assert.Equal(t, 0.0, Similarity("", "id"))
	assert.Greater(t, Similarity("customer_id", "cust_id"), 0.7)
	assert.Less(t, Similarity("email", "total_amount"), 0.5)
}

func TestSingular(t *testing.T) {
	assert.Equal(t, "user", singular("users"))
	assert.Equal(t, "category", singular("categories"))
	assert.Equal(t, "address", singular("address"))
	assert.Equal(t, "statu", singular("status"))
}
