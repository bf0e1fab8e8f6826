package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

func TestTransition_HappyPath(t *testing.T) {
	s := models.NewSession("total revenue by region")

	path := []models.State{
		models.StateSchemaLoading,
		models.StateQueryUnderstanding,
		models.StateInferringJoins,
		models.StateGeneratingSQL,
		models.StateExecutingQuery,
		models.StateCompleted,
	}
	for _, next := range path {
		require.NoError(t, Transition(s, next, ""))
	}

	assert.Equal(t, models.StateCompleted, s.State)
	assert.Len(t, s.Transitions, len(path))
	assert.Equal(t, models.StateInitializing, s.Transitions[0].From)
}

func TestTransition_InvalidEdgeLeavesSessionUntouched(t *testing.T) {
	s := models.NewSession("q")
	require.NoError(t, Transition(s, models.StateSchemaLoading, ""))

	err := Transition(s, models.StateExecutingQuery, "")
	require.Error(t, err)

	var invalid *ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.StateSchemaLoading, invalid.From)
	assert.Equal(t, models.StateExecutingQuery, invalid.To)

	assert.Equal(t, models.StateSchemaLoading, s.State)
	assert.Len(t, s.Transitions, 1)
}

func TestTransition_FailedOnlyFromExecution(t *testing.T) {
	for _, from := range []models.State{
		models.StateSchemaLoading,
		models.StateQueryUnderstanding,
		models.StateInferringJoins,
		models.StateGeneratingSQL,
		models.StateAwaitingCorrection,
	} {
		s := models.NewSession("q")
		s.State = from
		assert.False(t, CanTransition(s, models.StateFailed), "failed should not be reachable from %s", from)
	}

	s := models.NewSession("q")
	s.State = models.StateExecutingQuery
	assert.True(t, CanTransition(s, models.StateFailed))
}

func TestTransition_AwaitingCorrectionReturnsToPhase(t *testing.T) {
	s := models.NewSession("q")
	s.State = models.StateAwaitingCorrection

	assert.True(t, CanTransition(s, models.StateQueryUnderstanding))
	assert.True(t, CanTransition(s, models.StateInferringJoins))
	assert.False(t, CanTransition(s, models.StateGeneratingSQL))
	assert.False(t, CanTransition(s, models.StateCompleted))
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []models.State{models.StateCompleted, models.StateFailed} {
		s := models.NewSession("q")
		s.State = terminal
		for _, to := range []models.State{
			models.StateSchemaLoading,
			models.StateGeneratingSQL,
			models.StateInterrupted,
			models.StateAwaitingCorrection,
		} {
			assert.False(t, CanTransition(s, to), "%s -> %s should be illegal", terminal, to)
		}
	}
}

func TestInterrupt_RecordsResumeState(t *testing.T) {
	s := models.NewSession("q")
	s.State = models.StateGeneratingSQL

	require.NoError(t, Interrupt(s, "backend unreachable"))
	assert.Equal(t, models.StateInterrupted, s.State)
	assert.Equal(t, models.StateGeneratingSQL, s.ResumeState)

	// Resume must return to the interrupted state, nothing else.
	assert.False(t, CanTransition(s, models.StateQueryUnderstanding))
	assert.True(t, CanTransition(s, models.StateGeneratingSQL))

	require.NoError(t, ResumeInterrupted(s, "backend recovered"))
	assert.Equal(t, models.StateGeneratingSQL, s.State)
	assert.Empty(t, s.ResumeState)
}

func TestInterrupt_NotFromTerminalOrInterrupted(t *testing.T) {
	s := models.NewSession("q")
	s.State = models.StateCompleted
	assert.Error(t, Interrupt(s, ""))

	s = models.NewSession("q")
	s.State = models.StateQueryUnderstanding
	require.NoError(t, Interrupt(s, ""))
	assert.Error(t, Interrupt(s, ""), "double interrupt should be rejected")
}

func TestResumeInterrupted_RequiresInterruptedState(t *testing.T) {
	s := models.NewSession("q")
	s.State = models.StateGeneratingSQL
	assert.Error(t, ResumeInterrupted(s, ""))
}
