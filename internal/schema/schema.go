// Package schema holds the table/column model the pipeline reasons over
// and the provider that loads it from a definition file.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ColumnType is the normalized type of a column for join compatibility.
type ColumnType string

const (
	TypeString    ColumnType = "string"
	TypeInteger   ColumnType = "integer"
	TypeNumeric   ColumnType = "numeric"
	TypeFloat     ColumnType = "float"
	TypeBoolean   ColumnType = "boolean"
	TypeDate      ColumnType = "date"
	TypeDatetime  ColumnType = "datetime"
	TypeTimestamp ColumnType = "timestamp"
)

// compatGroups are the type families considered joinable with each other.
var compatGroups = [][]ColumnType{
	{TypeInteger, TypeNumeric, TypeFloat},
	{TypeString},
	{TypeDate, TypeDatetime, TypeTimestamp},
	{TypeBoolean},
}

// Compatible reports whether two column types can appear in a join
// condition. Incompatible pairs are excluded from scoring entirely.
func Compatible(a, b ColumnType) bool {
	if a == b {
		return true
	}
	for _, group := range compatGroups {
		inA, inB := false, false
		for _, t := range group {
			if t == a {
				inA = true
			}
			if t == b {
				inB = true
			}
		}
		if inA && inB {
			return true
		}
	}
	return false
}

// Column describes one column of a table.
type Column struct {
	Name         string     `yaml:"name" json:"name"`
	BusinessName string     `yaml:"business_name,omitempty" json:"business_name,omitempty"`
	Type         ColumnType `yaml:"type" json:"type"`
	Description  string     `yaml:"description,omitempty" json:"description,omitempty"`
	PrimaryKey   bool       `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
}

// Table describes one table with its descriptive context.
type Table struct {
	Name            string   `yaml:"name" json:"name"`
	Description     string   `yaml:"description,omitempty" json:"description,omitempty"`
	BusinessContext string   `yaml:"business_context,omitempty" json:"business_context,omitempty"`
	Columns         []Column `yaml:"columns" json:"columns"`
}

// Column finds a column by name, nil if absent.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i]
		}
	}
	return nil
}

// PrimaryKeys returns the columns flagged as primary keys.
func (t *Table) PrimaryKeys() []Column {
	var keys []Column
	for _, c := range t.Columns {
		if c.PrimaryKey {
			keys = append(keys, c)
		}
	}
	return keys
}

// Schema is the full set of tables available to a session.
type Schema struct {
	Tables map[string]*Table `json:"tables"`
}

// Table looks a table up case-insensitively, nil if absent.
func (s *Schema) Table(name string) *Table {
	if t, ok := s.Tables[name]; ok {
		return t
	}
	for n, t := range s.Tables {
		if strings.EqualFold(n, name) {
			return t
		}
	}
	return nil
}

// TableNames returns the table names in sorted order.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for n := range s.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ContextString renders the schema as prompt context for the reasoning
// service: one block per table with typed columns and descriptions.
func (s *Schema) ContextString() string {
	var sb strings.Builder
	for _, name := range s.TableNames() {
		t := s.Tables[name]
		fmt.Fprintf(&sb, "Table: %s\n", t.Name)
		if t.Description != "" {
			fmt.Fprintf(&sb, "  Description: %s\n", t.Description)
		}
		if t.BusinessContext != "" {
			fmt.Fprintf(&sb, "  Business context: %s\n", t.BusinessContext)
		}
		for _, c := range t.Columns {
			line := fmt.Sprintf("  - %s (%s)", c.Name, c.Type)
			if c.PrimaryKey {
				line += " [primary key]"
			}
			if c.BusinessName != "" {
				line += fmt.Sprintf(" business name: %s", c.BusinessName)
			}
			if c.Description != "" {
				line += fmt.Sprintf(" -- %s", c.Description)
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
