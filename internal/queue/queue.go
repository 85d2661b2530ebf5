package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when a lane has no room left.
	ErrQueueFull = errors.New("queue: lane is full")
	// ErrQueueClosed is returned by Submit and Process after Close.
	ErrQueueClosed = errors.New("queue: closed")
)

// HandlerFunc processes one job. Returning is the completion signal: nil
// marks the job complete, an error marks it failed with that error.
type HandlerFunc func(ctx context.Context, job *Job) error

// Queue accepts jobs into per-type lanes and dispatches them to a single
// worker per type.
type Queue interface {
	// Submit appends a job to the jobType lane and returns without running
	// it. Errors here are submission failures, never job failures.
	Submit(ctx context.Context, jobType string, payload []byte) (*Job, error)
	// Process installs h for jobType. A later call for the same type
	// replaces the handler; it never adds a second worker.
	Process(jobType string, h HandlerFunc) error
	// Close stops the workers once their in-flight job has finished.
	Close(ctx context.Context) error
}

// execute drives one dequeued job through processing to a terminal state.
// A panicking handler fails the job instead of killing the worker.
func execute(ctx context.Context, log *zap.Logger, job *Job, h HandlerFunc) {
	if err := job.transition(StateProcessing, nil); err != nil {
		log.Warn("skipping job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	job.flush()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return h(ctx, job)
	}()

	if err != nil {
		_ = job.transition(StateFailed, err)
	} else {
		_ = job.transition(StateComplete, nil)
	}
	job.flush()
}
