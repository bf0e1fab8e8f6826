package temporal

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/jordanhubbard/queryforge/internal/orchestrator"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

// Activities adapts the orchestrator to Temporal's activity calling
// convention.
type Activities struct {
	orch *orchestrator.Orchestrator
}

// NewActivities wraps an orchestrator.
func NewActivities(orch *orchestrator.Orchestrator) *Activities {
	return &Activities{orch: orch}
}

// SubmitQuery starts a new session for the query.
func (a *Activities) SubmitQuery(ctx context.Context, query string) (*models.Outcome, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Submitting query", "query", query)
	return a.orch.Submit(ctx, query)
}

// ResumeSession continues a parked session with a correction.
func (a *Activities) ResumeSession(ctx context.Context, sessionID string, corr models.Correction) (*models.Outcome, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Resuming session", "sessionID", sessionID, "correction", corr.Type)
	return a.orch.Resume(ctx, sessionID, &corr)
}
