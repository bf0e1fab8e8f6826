package models

// OutcomeKind classifies how a Submit or Resume call ended.
type OutcomeKind string

const (
	OutcomeCompleted   OutcomeKind = "completed"
	OutcomeAmbiguous   OutcomeKind = "ambiguous"
	OutcomeFailed      OutcomeKind = "failed"
	OutcomeInterrupted OutcomeKind = "interrupted"
)

// Outcome is what callers of the pipeline observe. Every variant carries
// the session id so the run can be inspected or resumed.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	SessionID string      `json:"session_id"`

	// completed
	SQL     string         `json:"sql,omitempty"`
	Results *ResultSummary `json:"results,omitempty"`

	// ambiguous
	Ambiguity *AmbiguityInfo `json:"ambiguity,omitempty"`

	// failed
	Failure *FailureSummary `json:"failure,omitempty"`

	// interrupted
	ResumeToken string `json:"resume_token,omitempty"`
}
