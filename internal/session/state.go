package session

import (
	"fmt"
	"time"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

// ErrInvalidTransition is returned when a transition is not in the edge
// table. The session is left unchanged.
type ErrInvalidTransition struct {
	From models.State
	To   models.State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// validTransitions is the directed edge table of the session state machine.
// INTERRUPTED is handled separately: it is reachable from any non-terminal
// state, and leaves back to the state it interrupted.
var validTransitions = map[models.State][]models.State{
	models.StateInitializing:       {models.StateSchemaLoading},
	models.StateSchemaLoading:      {models.StateQueryUnderstanding},
	models.StateQueryUnderstanding: {models.StateInferringJoins, models.StateGeneratingSQL, models.StateAwaitingCorrection},
	models.StateInferringJoins:     {models.StateGeneratingSQL, models.StateAwaitingCorrection},
	models.StateGeneratingSQL:      {models.StateExecutingQuery},
	models.StateExecutingQuery:     {models.StateGeneratingSQL, models.StateCompleted, models.StateFailed},
	models.StateAwaitingCorrection: {models.StateQueryUnderstanding, models.StateInferringJoins},
	models.StateCompleted:          {},
	models.StateFailed:             {},
}

// CanTransition reports whether the edge from -> to is legal.
func CanTransition(s *models.Session, to models.State) bool {
	from := s.State
	if to == models.StateInterrupted {
		return !from.Terminal() && from != models.StateInterrupted
	}
	if from == models.StateInterrupted {
		// Resume only to the state that was interrupted.
		return s.ResumeState != "" && to == s.ResumeState
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition moves the session to a new state, recording the edge in the
// transition history. An illegal edge leaves the session untouched.
func Transition(s *models.Session, to models.State, reason string) error {
	if !CanTransition(s, to) {
		return &ErrInvalidTransition{From: s.State, To: to}
	}

	now := time.Now().UTC()
	s.Transitions = append(s.Transitions, models.StateTransition{
		From:      s.State,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})

	switch {
	case to == models.StateInterrupted:
		s.ResumeState = s.State
	case s.State == models.StateInterrupted:
		s.ResumeState = ""
	}

	s.State = to
	s.UpdatedAt = now
	return nil
}

// Interrupt suspends the session, remembering where to resume.
func Interrupt(s *models.Session, reason string) error {
	return Transition(s, models.StateInterrupted, reason)
}

// ResumeInterrupted returns the session to the state it left.
func ResumeInterrupted(s *models.Session, reason string) error {
	if s.State != models.StateInterrupted {
		return &ErrInvalidTransition{From: s.State, To: s.ResumeState}
	}
	return Transition(s, s.ResumeState, reason)
}
