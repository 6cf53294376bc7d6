package dispatcher

import (
	"context"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// TaskProcessor defines how tasks should be processed
type TaskProcessor interface {
	// ProcessTask handles the actual processing of a task
	// It should respect the context's cancellation
	ProcessTask(ctx context.Context, task Task) Result
}

// ProcessorFunc adapts a function to TaskProcessor
type ProcessorFunc func(ctx context.Context, task Task) Result

// ProcessTask implements TaskProcessor
func (f ProcessorFunc) ProcessTask(ctx context.Context, task Task) Result {
	return f(ctx, task)
}

// ResultHandler defines how results should be handled
type ResultHandler interface {
	// HandleResult processes a task result
	// It should return an error if the result cannot be handled
	HandleResult(result Result) error
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(result Result) error

// HandleResult implements ResultHandler
func (f ResultHandlerFunc) HandleResult(result Result) error {
	return f(result)
}

// SumProcessor is the default implementation of TaskProcessor.
// It sleeps for a random duration in [min, max] and returns v1 + v2.
type SumProcessor struct {
	min time.Duration
	max time.Duration
}

// NewSumProcessor creates a new SumProcessor
func NewSumProcessor(min, max time.Duration) *SumProcessor {
	return &SumProcessor{
		min: min,
		max: max,
	}
}

// ProcessTask implements TaskProcessor for SumProcessor
func (p *SumProcessor) ProcessTask(ctx context.Context, task Task) Result {
	timer := time.NewTimer(randomDuration(p.min, p.max))
	defer timer.Stop()

	select {
	case <-timer.C:
		return Result{TaskID: task.ID, Value: task.V1 + task.V2}
	case <-ctx.Done():
		return Result{TaskID: task.ID, Err: ctx.Err()}
	}
}

// randomDuration returns a uniformly distributed duration in [min, max]
func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min+1)))
}

// ChannelResultHandler is an implementation of ResultHandler that sends results to a channel
type ChannelResultHandler struct {
	results chan Result
}

// NewChannelResultHandler creates a new ChannelResultHandler
func NewChannelResultHandler(results chan Result) *ChannelResultHandler {
	return &ChannelResultHandler{
		results: results,
	}
}

// HandleResult implements ResultHandler for ChannelResultHandler
func (h *ChannelResultHandler) HandleResult(result Result) error {
	select {
	case h.results <- result:
		return nil
	default:
		return ErrQueueFull
	}
}

// Results returns the channel for receiving results
func (h *ChannelResultHandler) Results() <-chan Result {
	return h.results
}

// LogResultHandler reports every result through the logger
type LogResultHandler struct{}

// HandleResult implements ResultHandler for LogResultHandler
func (LogResultHandler) HandleResult(result Result) error {
	log.WithField("task", result.TaskID).
		Infof("Result from worker %d: %.2f", result.WorkerID, result.Value)
	return nil
}
