package pipeline

import (
	"context"
	"errors"
	"log"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull signals the task buffer has no room; the caller decides
	// whether to log, retry or surface it.
	ErrQueueFull = errors.New("pipeline: queue full")
	// ErrQueueClosed signals an enqueue after shutdown began.
	ErrQueueClosed = errors.New("pipeline: queue closed")
)

// Runner executes one pipeline run. Satisfied by *Orchestrator.
type Runner interface {
	Run(ctx context.Context, applicationID string) error
}

// Queue is the explicit dispatch point between submission and the pipeline: a
// buffered channel of application IDs drained by a fixed pool of workers. Each
// task's error is captured and logged here, never propagated to the submitter.
type Queue struct {
	runner Runner
	tasks  chan string
	done   chan struct{}
}

// NewQueue builds a queue with the given buffer size.
func NewQueue(runner Runner, size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		runner: runner,
		tasks:  make(chan string, size),
		done:   make(chan struct{}),
	}
}

// Enqueue hands an application to the workers without blocking.
func (q *Queue) Enqueue(applicationID string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.tasks <- applicationID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs workers until ctx is cancelled. Each worker processes one
// application at a time; a single application is never touched by two workers
// because it is enqueued exactly once, at submission.
func (q *Queue) Start(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id := <-q.tasks:
					if err := q.runner.Run(ctx, id); err != nil {
						// A failed run is already a terminal application
						// state; the worker only logs it and moves on.
						log.Printf("pipeline: run %s: %v", id, err)
					}
				}
			}
		})
	}

	err := g.Wait()
	close(q.done)
	return err
}

// Pending reports how many runs are waiting for a worker.
func (q *Queue) Pending() int {
	return len(q.tasks)
}
