package correction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

func TestParse_JoinPatterns(t *testing.T) {
	for _, input := range []string{
		"join orders.user_id with users.id",
		"join orders.user_id to users.id",
		"use orders.user_id = users.id",
		"orders.user_id = users.id",
	} {
		c, err := Parse(input)
		require.NoError(t, err, input)
		assert.Equal(t, models.CorrectionJoinSelection, c.Type, input)
		assert.Equal(t, []string{"orders", "users"}, c.Tables, input)
		assert.Equal(t, "orders.user_id = users.id", c.JoinCondition, input)
	}
}

func TestParse_IdentifierPatterns(t *testing.T) {
	tests := []struct {
		input       string
		term        string
		replacement string
	}{
		{"revenue means orders.total_amount", "revenue", "orders.total_amount"},
		{"revenue maps to total_amount", "revenue", "total_amount"},
		{"map revenue to orders.total_amount", "revenue", "orders.total_amount"},
		{"use orders.total_amount for revenue", "revenue", "orders.total_amount"},
		{"use fct_orders instead of orders", "orders", "fct_orders"},
	}
	for _, tt := range tests {
		c, err := Parse(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, models.CorrectionIdentifierMap, c.Type, tt.input)
		assert.Equal(t, tt.term, c.Term, tt.input)
		assert.Equal(t, tt.replacement, c.Replacement, tt.input)
	}
}

func TestParse_FreeTextFallback(t *testing.T) {
	c, err := Parse("only include orders from the last quarter")
	require.NoError(t, err)
	assert.Equal(t, models.CorrectionFreeText, c.Type)
	assert.Equal(t, "only include orders from the last quarter", c.Text)
	assert.False(t, c.Timestamp.IsZero())
}

func TestParse_EmptyRejected(t *testing.T) {
	_, err := Parse("   ")
	require.Error(t, err)

	var invalid *ErrInvalid
	assert.ErrorAs(t, err, &invalid)
}

func TestParseStructured_Join(t *testing.T) {
	c, err := ParseStructured(Structured{
		Type:          "join_selection",
		Tables:        []string{"orders", "users"},
		JoinCondition: "orders.user_id = users.id",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CorrectionJoinSelection, c.Type)

	_, err = ParseStructured(Structured{Type: "join", Tables: []string{"orders"}})
	assert.Error(t, err)
}

func TestParseStructured_TableSelection(t *testing.T) {
	c, err := ParseStructured(Structured{
		Type:          "table_selection",
		SelectedTable: "fct_orders",
		Rejected:      []string{"orders_staging"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.CorrectionTableSelection, c.Type)
	assert.Equal(t, "fct_orders", c.SelectedTable)
	assert.Equal(t, []string{"orders_staging"}, c.RejectedTables)

	_, err = ParseStructured(Structured{Type: "table"})
	assert.Error(t, err)
}

func TestParseStructured_FreeTextDelegatesToParser(t *testing.T) {
	c, err := ParseStructured(Structured{Text: "revenue means orders.total_amount"})
	require.NoError(t, err)
	assert.Equal(t, models.CorrectionIdentifierMap, c.Type)
}

func TestParseStructured_UnknownType(t *testing.T) {
	_, err := ParseStructured(Structured{Type: "telepathy"})
	require.Error(t, err)

	var invalid *ErrInvalid
	assert.ErrorAs(t, err, &invalid)
}
