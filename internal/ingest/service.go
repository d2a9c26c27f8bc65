// Package ingest implements the ingestion queue: the single background
// worker which sequences analysis pipeline executions across jobs.
package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mediavault/mediavault/internal/event"
	"github.com/mediavault/mediavault/internal/job"
	"github.com/mediavault/mediavault/pkg/logger"
)

var log = logger.Get("IngestServ")

type (
	// Pipeline runs the full analysis of a single job. An error return
	// indicates a fatal failure; the queue converts it in to a terminal
	// failed status.
	Pipeline interface {
		Process(ctx context.Context, jobID uuid.UUID) error
	}

	// JobStore is the narrow store surface the queue needs to mark a job
	// as failed at its per-job failure boundary.
	JobStore interface {
		SetStatus(id uuid.UUID, status job.Status, progress int) error
	}

	// queueService owns the in-memory FIFO of pending job IDs and the
	// single worker loop draining it. At most one pipeline execution runs
	// at any time; a failure (error or panic) in one job's pipeline never
	// halts processing of subsequently queued jobs.
	//
	// The pending sequence is process-local: IDs which have not started
	// processing when the service stops are lost, and re-submission is
	// the recovery path.
	queueService struct {
		*sync.Mutex
		pending []uuid.UUID
		wakeup  chan struct{}

		pipeline Pipeline
		store    JobStore
		eventBus event.Dispatcher
	}
)

func New(pipeline Pipeline, store JobStore, eventBus event.Dispatcher) *queueService {
	return &queueService{
		Mutex:    &sync.Mutex{},
		pending:  make([]uuid.UUID, 0),
		wakeup:   make(chan struct{}, 1),
		pipeline: pipeline,
		store:    store,
		eventBus: eventBus,
	}
}

// Submit appends the job ID to the pending sequence and returns
// immediately. Submissions are not deduplicated: the same ID submitted
// twice before processing begins will be executed twice (the second run
// observes the terminal status and is a no-op inside the pipeline).
func (service *queueService) Submit(jobID uuid.UUID) {
	service.Lock()
	service.pending = append(service.pending, jobID)
	service.Unlock()

	log.Emit(logger.NEW, "Queued job %s for processing\n", jobID)

	select {
	case service.wakeup <- struct{}{}:
	default:
	}
}

// QueuedCount returns the number of submissions awaiting processing.
func (service *queueService) QueuedCount() int {
	service.Lock()
	defer service.Unlock()
	return len(service.pending)
}

// Run is the main entry point of this service: it drains the pending
// sequence in FIFO order, running each job's pipeline to completion
// before dequeuing the next. The method blocks until the provided
// context is cancelled.
func (service *queueService) Run(ctx context.Context) error {
	for {
		if jobID, ok := service.dequeue(); ok {
			service.runJob(ctx, jobID)
			continue
		}

		select {
		case <-service.wakeup:
		case <-ctx.Done():
			return nil
		}
	}
}

func (service *queueService) dequeue() (uuid.UUID, bool) {
	service.Lock()
	defer service.Unlock()

	if len(service.pending) == 0 {
		return uuid.UUID{}, false
	}

	next := service.pending[0]
	service.pending = service.pending[1:]
	return next, true
}

// runJob executes the pipeline for one job inside an explicit failure
// boundary: fatal pipeline errors AND panics are both converted in to a
// terminal failed status so that a single bad job cannot stop the queue.
func (service *queueService) runJob(ctx context.Context, jobID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			log.Emit(logger.ERROR, "Panic while processing job %s: %v\n", jobID, r)
			service.markFailed(jobID, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	log.Emit(logger.INFO, "Dequeued job %s, beginning analysis\n", jobID)
	if err := service.pipeline.Process(ctx, jobID); err != nil {
		service.markFailed(jobID, err)
	}
}

// markFailed records the terminal failed status (progress reset to zero)
// and then publishes the final progress event for the job. Persistence
// happens first so no observer can see the event ahead of the state.
func (service *queueService) markFailed(jobID uuid.UUID, cause error) {
	log.Emit(logger.ERROR, "Processing of job %s failed: %s\n", jobID, cause.Error())

	if err := service.store.SetStatus(jobID, job.StatusFailed, 0); err != nil {
		log.Emit(logger.ERROR, "Failed to mark job %s as failed: %s\n", jobID, err.Error())
	}

	service.eventBus.Dispatch(event.ProgressEvent{
		JobID:    jobID,
		Progress: 0,
		Message:  "Processing failed",
	})
}
