package temporal

import (
	"fmt"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/jordanhubbard/queryforge/internal/orchestrator"
)

// Worker hosts the pipeline workflow and its activities.
type Worker struct {
	client client.Client
	worker worker.Worker
}

// NewWorker connects to Temporal and registers the pipeline.
func NewWorker(hostPort, namespace string, orch *orchestrator.Orchestrator) (*Worker, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, TaskQueue, worker.Options{})
	w.RegisterWorkflow(QueryPipelineWorkflow)
	w.RegisterActivity(NewActivities(orch))

	log.Printf("[Temporal] Worker registered on task queue %s", TaskQueue)
	return &Worker{client: c, worker: w}, nil
}

// Run blocks serving the task queue until the interrupt channel fires.
func (w *Worker) Run() error {
	return w.worker.Run(worker.InterruptCh())
}

// Stop shuts the worker down and closes the connection.
func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
}

// Client exposes the underlying connection for starting workflows and
// sending correction signals.
func (w *Worker) Client() client.Client {
	return w.client
}
