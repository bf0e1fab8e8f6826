package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jordanhubbard/queryforge/internal/schema"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

const systemMessage = `You are an expert SQL analyst. You translate natural language
questions into SQL over the schema you are given. You only use tables and
columns that exist in the schema. When the question is ambiguous about which
table or column to use, you say so instead of guessing. You always respond
with a single JSON object matching the requested format, with no extra text.`

// Understanding is the structured result of query analysis.
type Understanding struct {
	Tables       []string `json:"tables"`
	Columns      []string `json:"columns"`
	JoinsNeeded  bool     `json:"joins_needed"`
	Filters      string   `json:"filters,omitempty"`
	Aggregations string   `json:"aggregations,omitempty"`
	Ordering     string   `json:"ordering,omitempty"`
	Reasoning    string   `json:"reasoning"`

	// Set when the model cannot choose between tables. The options feed
	// the clarification prompt.
	Ambiguous        bool     `json:"ambiguous,omitempty"`
	AmbiguityOptions []string `json:"ambiguity_options,omitempty"`
	AmbiguityReason  string   `json:"ambiguity_reason,omitempty"`
}

// SQLResult is the structured result of SQL generation.
type SQLResult struct {
	SQL         string  `json:"sql"`
	Explanation string  `json:"explanation,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// Service runs the two reasoning operations of the pipeline over a chat
// completion backend.
type Service struct {
	client Client
	model  string
}

// NewService builds a reasoning service for the given model.
func NewService(client Client, model string) *Service {
	return &Service{client: client, model: model}
}

// Understand analyzes a natural-language query against the schema and
// returns the tables, columns, and shape of the answer. Tables the
// model names that are not in the schema are dropped with a warning.
func (s *Service) Understand(ctx context.Context, query string, sch *schema.Schema, constraints []string, lessonContext string) (*Understanding, error) {
	var sb strings.Builder
	sb.WriteString("Analyze this question and identify what is needed to answer it.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n\n", query)
	sb.WriteString("Schema:\n")
	sb.WriteString(sch.ContextString())
	writeConstraints(&sb, constraints)
	if lessonContext != "" {
		sb.WriteString("\n" + lessonContext)
	}
	sb.WriteString(`
Respond with JSON:
{
  "tables": ["table names needed"],
  "columns": ["table.column entries needed"],
  "joins_needed": true/false,
  "filters": "description of filter conditions, or empty",
  "aggregations": "description of aggregations, or empty",
  "ordering": "description of ordering, or empty",
  "reasoning": "short explanation",
  "ambiguous": true only if multiple tables could plausibly answer the question,
  "ambiguity_options": ["the competing table names"],
  "ambiguity_reason": "why the choice is unclear"
}`)

	resp, err := s.complete(ctx, sb.String(), 0.0)
	if err != nil {
		return nil, err
	}

	var u Understanding
	if err := unmarshalResponse(resp, &u); err != nil {
		return nil, fmt.Errorf("failed to parse understanding: %w", err)
	}

	var valid []string
	for _, t := range u.Tables {
		if sch.Table(t) != nil {
			valid = append(valid, t)
		} else {
			log.Printf("[Reasoning] Dropping unknown table %q from understanding", t)
		}
	}
	u.Tables = valid

	log.Printf("[Reasoning] Identified %d table(s) for query: %v", len(u.Tables), u.Tables)
	return &u, nil
}

// GenerateSQL produces SQL for the query using the accepted joins, hard
// constraints, and any prior failed attempts as feedback.
func (s *Service) GenerateSQL(ctx context.Context, query string, sch *schema.Schema, tables []string, joins []models.JoinCandidate, constraints []string, lessonContext string, priorAttempts []models.SQLAttempt) (*SQLResult, error) {
	var sb strings.Builder
	sb.WriteString("Write a SQL query that answers this question.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n\n", query)
	fmt.Fprintf(&sb, "Use these tables: %s\n\n", strings.Join(tables, ", "))
	sb.WriteString("Schema:\n")
	sb.WriteString(sch.ContextString())

	if len(joins) > 0 {
		sb.WriteString("\nUse these join conditions:\n")
		for _, j := range joins {
			fmt.Fprintf(&sb, "- %s\n", j.Condition())
		}
	}
	writeConstraints(&sb, constraints)
	if lessonContext != "" {
		sb.WriteString("\n" + lessonContext)
	}

	if len(priorAttempts) > 0 {
		sb.WriteString("\nPrevious attempts failed. Do not repeat these mistakes:\n")
		for _, a := range priorAttempts {
			if a.Error == "" {
				continue
			}
			fmt.Fprintf(&sb, "SQL: %s\nError: %s\n\n", a.SQL, a.Error)
		}
	}

	sb.WriteString(`
Respond with JSON:
{
  "sql": "the SQL query",
  "explanation": "short explanation",
  "confidence": 0.0 to 1.0
}`)

	resp, err := s.complete(ctx, sb.String(), 0.0)
	if err != nil {
		return nil, err
	}

	var r SQLResult
	if err := unmarshalResponse(resp, &r); err != nil {
		return nil, fmt.Errorf("failed to parse SQL generation response: %w", err)
	}
	r.SQL = cleanSQL(r.SQL)
	if r.SQL == "" {
		return nil, fmt.Errorf("reasoning service returned empty SQL")
	}
	return &r, nil
}

func (s *Service) complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model: s.model,
		Messages: []ChatMessage{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from reasoning service")
	}
	return resp.Choices[0].Message.Content, nil
}

func writeConstraints(sb *strings.Builder, constraints []string) {
	if len(constraints) == 0 {
		return
	}
	sb.WriteString("\nHard constraints from the user, these are non-negotiable:\n")
	for _, c := range constraints {
		fmt.Fprintf(sb, "- %s\n", c)
	}
}

// unmarshalResponse parses a JSON object out of a model response that
// may wrap it in prose or a markdown code fence.
func unmarshalResponse(text string, v any) error {
	text = strings.TrimSpace(text)

	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	// Try extracting JSON from markdown code block
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		end := strings.Index(text[start:], "```")
		if end > 0 {
			jsonStr := strings.TrimSpace(text[start : start+end])
			if err := json.Unmarshal([]byte(jsonStr), v); err == nil {
				return nil
			}
		}
	}

	// Try extracting any JSON object
	if idx := strings.Index(text, "{"); idx >= 0 {
		jsonStr := text[idx:]
		depth := 0
		for i, ch := range jsonStr {
			switch ch {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := jsonStr[:i+1]
					if err := json.Unmarshal([]byte(candidate), v); err == nil {
						return nil
					}
				}
			}
		}
	}

	return fmt.Errorf("no valid JSON object found in response")
}

// cleanSQL strips code fences and trailing semicolons from generated SQL.
func cleanSQL(sqlText string) string {
	sqlText = strings.TrimSpace(sqlText)
	if strings.HasPrefix(sqlText, "```") {
		sqlText = strings.TrimPrefix(sqlText, "```sql")
		sqlText = strings.TrimPrefix(sqlText, "```")
		if idx := strings.Index(sqlText, "```"); idx >= 0 {
			sqlText = sqlText[:idx]
		}
	}
	sqlText = strings.TrimSpace(sqlText)
	sqlText = strings.TrimSuffix(sqlText, ";")
	return strings.TrimSpace(sqlText)
}
