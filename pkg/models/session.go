package models

import (
	"time"

	"github.com/google/uuid"
)

// State identifies where a session is in the query pipeline.
type State string

const (
	StateInitializing       State = "initializing"
	StateSchemaLoading      State = "schema_loading"
	StateQueryUnderstanding State = "query_understanding"
	StateInferringJoins     State = "inferring_joins"
	StateGeneratingSQL      State = "generating_sql"
	StateExecutingQuery     State = "executing_query"
	StateAwaitingCorrection State = "awaiting_correction"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
	StateInterrupted        State = "interrupted"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StateTransition records one edge taken by a session's state machine.
type StateTransition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// SQLAttempt records one generation/validation/execution cycle.
type SQLAttempt struct {
	SQL       string    `json:"sql"`
	Phase     string    `json:"phase"` // "generation", "validation", "execution"
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	RowCount  int64     `json:"row_count,omitempty"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultSummary describes the output of a successful query execution.
type ResultSummary struct {
	RowCount       int64            `json:"row_count"`
	BytesProcessed int64            `json:"bytes_processed"`
	Rows           []map[string]any `json:"rows,omitempty"`
}

// FailureSummary is attached to a session that reaches the failed state.
type FailureSummary struct {
	Query              string   `json:"query"`
	IdentifiedTables   []string `json:"identified_tables"`
	SQLAttempts        int      `json:"sql_attempts"`
	CorrectionAttempts int      `json:"correction_attempts"`
	Error              string   `json:"error"`
	Recommendations    []string `json:"recommendations"`
}

// AmbiguityInfo describes a clarification the pipeline needs before it can
// continue. Phase is the state that raised it and the state a resume
// re-enters.
type AmbiguityInfo struct {
	Kind    string   `json:"kind"` // "table_choice", "join_choice"
	Options []string `json:"options"`
	Context string   `json:"context,omitempty"`
	Phase   State    `json:"phase"`
}

// Session is the durable record of one natural-language query run. It is
// owned by a single goroutine at a time; the stores persist it as one
// JSON document keyed by ID.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Query        string `json:"query"`
	SchemaSource string `json:"schema_source,omitempty"`

	State       State             `json:"state"`
	ResumeState State             `json:"resume_state,omitempty"` // set while interrupted
	Transitions []StateTransition `json:"transitions"`

	IdentifiedTables []string        `json:"identified_tables,omitempty"`
	JoinCandidates   []JoinCandidate `json:"join_candidates,omitempty"`
	AcceptedJoins    []JoinCandidate `json:"accepted_joins,omitempty"`

	HardConstraints []string     `json:"hard_constraints,omitempty"`
	Corrections     []Correction `json:"corrections,omitempty"`

	SQLAttempts    []SQLAttempt    `json:"sql_attempts,omitempty"`
	ResultSummary  *ResultSummary  `json:"result_summary,omitempty"`
	FailureSummary *FailureSummary `json:"failure_summary,omitempty"`
	Ambiguity      *AmbiguityInfo  `json:"ambiguity,omitempty"`

	IterationCount     int `json:"iteration_count"`
	CorrectionAttempts int `json:"correction_attempts"`

	// SkipAmbiguityPhase names the phase whose ambiguity check is skipped
	// on the next pass, after the user already resolved it.
	SkipAmbiguityPhase State `json:"skip_ambiguity_phase,omitempty"`

	// AppliedLessonIDs tracks lessons used during this run so the memory
	// engine can reinforce or penalize them afterwards.
	AppliedLessonIDs []string `json:"applied_lesson_ids,omitempty"`
}

// NewSession creates a session for a user query in the initializing state.
func NewSession(query string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
		Query:     query,
		State:     StateInitializing,
	}
}

// AddSQLAttempt appends one generation/execution record.
func (s *Session) AddSQLAttempt(a SQLAttempt) {
	a.Iteration = s.IterationCount
	a.Timestamp = time.Now().UTC()
	s.SQLAttempts = append(s.SQLAttempts, a)
	s.UpdatedAt = a.Timestamp
}

// FinalSQL returns the SQL of the last successful attempt, if any.
func (s *Session) FinalSQL() string {
	for i := len(s.SQLAttempts) - 1; i >= 0; i-- {
		if s.SQLAttempts[i].Success {
			return s.SQLAttempts[i].SQL
		}
	}
	return ""
}

// AddCorrection records a parsed correction and its derived constraint.
// Hard constraints only grow within a run.
func (s *Session) AddCorrection(c Correction) {
	c.AttemptNumber = s.CorrectionAttempts
	s.Corrections = append(s.Corrections, c)
	if constraint := c.ConstraintString(); constraint != "" {
		s.HardConstraints = append(s.HardConstraints, constraint)
	}
	s.UpdatedAt = time.Now().UTC()
}

// RecordLessonUse remembers that a lesson influenced this run.
func (s *Session) RecordLessonUse(lessonID string) {
	for _, id := range s.AppliedLessonIDs {
		if id == lessonID {
			return
		}
	}
	s.AppliedLessonIDs = append(s.AppliedLessonIDs, lessonID)
}
