package worker

import (
	"context"
	"log"
	"time"

	"github.com/shopreel/shopreel/internal/queue"
)

// Worker drains advance tasks from Redis and runs the orchestrator on them.
// Concurrency bounds how many jobs advance simultaneously; within one job
// synthesis calls are still strictly serial.
type Worker struct {
	queue        *queue.Queue
	orchestrator *Orchestrator
}

func New(q *queue.Queue, orch *Orchestrator) *Worker {
	return &Worker{
		queue:        q,
		orchestrator: orch,
	}
}

// Start begins processing advance tasks until the context is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("Worker started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx)
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
}

func (w *Worker) processQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			task, err := w.queue.Dequeue(ctx, 5*time.Second)
			if err != nil {
				log.Printf("Error dequeuing advance task: %v", err)
				continue
			}

			if task == nil {
				continue // No task available, retry
			}

			log.Printf("Advancing job %s (task %s)", task.JobID, task.ID)

			if err := w.orchestrator.Advance(ctx, task.JobID); err != nil {
				// The orchestrator already recorded the error on the job;
				// the next enqueued advance resumes from the checkpoints.
				log.Printf("Job %s advance stopped: %v", task.JobID, err)
			} else {
				log.Printf("Job %s advance finished", task.JobID)
			}
		}
	}
}
