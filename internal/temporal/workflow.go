// Package temporal runs the query pipeline as a Temporal workflow. The
// workflow delegates each phase to the same orchestrator the direct API
// uses; Temporal adds durable scheduling and a signal channel for
// corrections that may arrive hours later.
package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

const (
	// TaskQueue is the queue workers and clients share.
	TaskQueue = "queryforge-pipeline"

	// CorrectionSignal delivers a user correction to a waiting workflow.
	CorrectionSignal = "correction"

	// correctionTimeout bounds how long a workflow waits for a human.
	correctionTimeout = 24 * time.Hour
)

// PipelineInput starts a query pipeline workflow.
type PipelineInput struct {
	Query string `json:"query"`
}

// QueryPipelineWorkflow runs one natural-language query end to end,
// pausing for correction signals whenever the pipeline reports
// ambiguity.
func QueryPipelineWorkflow(ctx workflow.Context, input PipelineInput) (*models.Outcome, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Query pipeline workflow started", "query", input.Query)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			// The orchestrator retries transient failures itself.
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var outcome *models.Outcome
	if err := workflow.ExecuteActivity(ctx, "SubmitQuery", input.Query).Get(ctx, &outcome); err != nil {
		return nil, err
	}

	if err := workflow.SetQueryHandler(ctx, "getOutcome", func() (*models.Outcome, error) {
		return outcome, nil
	}); err != nil {
		return nil, err
	}

	corrections := workflow.GetSignalChannel(ctx, CorrectionSignal)

	for outcome.Kind == models.OutcomeAmbiguous {
		logger.Info("Pipeline awaiting correction",
			"sessionID", outcome.SessionID, "kind", outcome.Ambiguity.Kind)

		var corr models.Correction
		received := false
		selector := workflow.NewSelector(ctx)
		selector.AddReceive(corrections, func(c workflow.ReceiveChannel, more bool) {
			c.Receive(ctx, &corr)
			received = true
		})
		timer := workflow.NewTimer(ctx, correctionTimeout)
		selector.AddFuture(timer, func(f workflow.Future) {
			logger.Warn("Timed out waiting for correction", "sessionID", outcome.SessionID)
		})
		selector.Select(ctx)

		if !received {
			return outcome, nil
		}

		if err := workflow.ExecuteActivity(ctx, "ResumeSession", outcome.SessionID, corr).Get(ctx, &outcome); err != nil {
			return nil, err
		}
	}

	logger.Info("Query pipeline workflow finished",
		"sessionID", outcome.SessionID, "outcome", outcome.Kind)
	return outcome, nil
}
