package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/queryforge/internal/schema"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

// scriptedClient returns canned responses in order.
type scriptedClient struct {
	responses []string
	requests  []*ChatCompletionRequest
}

func (c *scriptedClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	c.requests = append(c.requests, req)
	content := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return &ChatCompletionResponse{
		Choices: []ChatCompletionChoice{{Message: ChatMessage{Role: "assistant", Content: content}}},
	}, nil
}

func testSchema() *schema.Schema {
	return &schema.Schema{Tables: map[string]*schema.Table{
		"orders": {Name: "orders", Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, PrimaryKey: true},
			{Name: "total_amount", Type: schema.TypeNumeric},
		}},
		"users": {Name: "users", Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, PrimaryKey: true},
		}},
	}}
}

func TestUnderstand_DropsUnknownTables(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"tables": ["orders", "shipments"], "columns": ["orders.total_amount"], "joins_needed": false, "reasoning": "revenue lives in orders"}`,
	}}
	svc := NewService(client, "test-model")

	u, err := svc.Understand(context.Background(), "total revenue", testSchema(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, u.Tables)
	assert.False(t, u.JoinsNeeded)
}

func TestUnderstand_IncludesConstraintsAndLessons(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"tables": ["orders"], "reasoning": "ok"}`,
	}}
	svc := NewService(client, "test-model")

	_, err := svc.Understand(context.Background(), "total revenue", testSchema(),
		[]string{"use fct_orders instead of orders"},
		"Known schema lessons:\n- Table orders is actually named PROD_orders\n")
	require.NoError(t, err)

	require.Len(t, client.requests, 1)
	prompt := client.requests[0].Messages[1].Content
	assert.Contains(t, prompt, "Hard constraints")
	assert.Contains(t, prompt, "use fct_orders instead of orders")
	assert.Contains(t, prompt, "Known schema lessons")
	// Deterministic parsing wants temperature zero.
	assert.Equal(t, 0.0, client.requests[0].Temperature)
}

func TestGenerateSQL_FeedsBackFailedAttempts(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"```json\n{\"sql\": \"SELECT SUM(total_amount) FROM orders;\", \"confidence\": 0.9}\n```",
	}}
	svc := NewService(client, "test-model")

	r, err := svc.GenerateSQL(context.Background(), "total revenue", testSchema(),
		[]string{"orders"}, nil, nil, "",
		[]models.SQLAttempt{{SQL: "SELECT SUM(amount) FROM orders", Error: "no such column: amount"}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT SUM(total_amount) FROM orders", r.SQL)

	prompt := client.requests[0].Messages[1].Content
	assert.Contains(t, prompt, "Previous attempts failed")
	assert.Contains(t, prompt, "no such column: amount")
}

func TestGenerateSQL_EmptySQLRejected(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"sql": "", "confidence": 0.1}`}}
	svc := NewService(client, "test-model")

	_, err := svc.GenerateSQL(context.Background(), "q", testSchema(), []string{"orders"}, nil, nil, "", nil)
	assert.Error(t, err)
}

func TestUnmarshalResponse(t *testing.T) {
	type payload struct {
		SQL string `json:"sql"`
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"bare json", `{"sql": "SELECT 1"}`, "SELECT 1"},
		{"fenced json", "Here you go:\n```json\n{\"sql\": \"SELECT 2\"}\n```", "SELECT 2"},
		{"embedded in prose", `The answer is {"sql": "SELECT 3"} as requested.`, "SELECT 3"},
		{"nested braces", `prefix {"sql": "SELECT 4", "extra": {"a": 1}} suffix`, "SELECT 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			require.NoError(t, unmarshalResponse(tt.text, &p))
			assert.Equal(t, tt.want, p.SQL)
		})
	}

	var p payload
	assert.Error(t, unmarshalResponse("no json here at all", &p))
}

func TestCleanSQL(t *testing.T) {
	assert.Equal(t, "SELECT 1", cleanSQL("SELECT 1;"))
	assert.Equal(t, "SELECT 1", cleanSQL("```sql\nSELECT 1;\n```"))
	assert.Equal(t, "SELECT 1", cleanSQL("```\nSELECT 1\n```"))
	assert.Equal(t, "SELECT 1", cleanSQL("  SELECT 1  "))
	assert.Empty(t, cleanSQL(""))
}
