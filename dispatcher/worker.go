package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// WorkerHandle is the dispatcher's view of one spawned worker
type WorkerHandle struct {
	ID        int
	PID       int
	QueueName string

	remaining atomic.Int32
	results   *Queue

	ready chan string   // worker -> dispatcher: result queue name
	start chan struct{} // dispatcher -> worker: notification armed
	done  chan struct{} // closed by the reaper

	// guarded by Dispatcher.mu
	counted bool
	exited  bool
	err     error
}

func newWorkerHandle(id, quota int) *WorkerHandle {
	h := &WorkerHandle{
		ID:    id,
		ready: make(chan string, 1),
		start: make(chan struct{}),
		done:  make(chan struct{}),
	}
	h.remaining.Store(int32(quota))
	return h
}

// Remaining returns how many more tasks the worker will take
func (h *WorkerHandle) Remaining() int {
	return int(h.remaining.Load())
}

/*
runWorker is the body of a spawned worker.
It creates the worker's result queue, hands its name to the dispatcher and
waits until the dispatcher has armed the notification. Then it takes tasks
from the shared queue until its quota is used up. Cancellation of ctx is a
clean exit; any other failure is returned and terminates the whole group.
*/
func (d *Dispatcher) runWorker(ctx context.Context, h *WorkerHandle) error {
	name := d.resultQueueName(h.ID)
	results, err := d.registry.Create(name, d.config.ResultQueueSize, d.config.MaxMessageSize)
	if err != nil {
		return NewWorkerError(h.ID, "create result queue", err)
	}

	select {
	case h.ready <- name:
	case <-ctx.Done():
		return nil
	}
	select {
	case <-h.start:
	case <-ctx.Done():
		return nil
	}

	log.Printf("[WORKER-%d] Ready", h.ID)

	for h.remaining.Load() > 0 {
		msg, err := d.tasks.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debugf("[WORKER-%d] Terminated", h.ID)
				return nil
			}
			return NewWorkerError(h.ID, "receive task", err)
		}

		task, err := DecodeTask(msg)
		if err != nil {
			log.Errorf("[WORKER-%d] Skipping task: %v", h.ID, err)
			continue
		}
		log.Debugf("[WORKER-%d] Received task %d [%.2f, %.2f]", h.ID, task.ID, task.V1, task.V2)

		result := d.processor.ProcessTask(ctx, task)
		if result.Err != nil {
			if ctx.Err() != nil {
				log.Debugf("[WORKER-%d] Terminated while processing task %d", h.ID, task.ID)
				return nil
			}
			return NewWorkerError(h.ID, fmt.Sprintf("process task %d", task.ID), result.Err)
		}
		result.TaskID = task.ID
		log.Debugf("[WORKER-%d] Result [%.2f]", h.ID, result.Value)

		payload, err := EncodeResult(result, d.config.MaxMessageSize)
		if err != nil {
			return NewWorkerError(h.ID, "encode result", err)
		}
		// Result loss is not tolerated, so a full result queue is fatal.
		if err := results.Send(payload); err != nil {
			return NewWorkerError(h.ID, "publish result", err)
		}
		h.remaining.Add(-1)
	}

	log.Printf("[WORKER-%d] Exits", h.ID)
	return nil
}
