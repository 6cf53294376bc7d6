package dispatcher

import (
	"errors"
	"fmt"
)

// Error types for the dispatcher
var (
	// ErrDispatcherClosed is returned when trying to submit to a closed dispatcher
	ErrDispatcherClosed = errors.New("dispatcher is closed")

	// ErrTaskQueueFull is returned when the task queue is at capacity
	ErrTaskQueueFull = errors.New("task queue is full")

	// ErrGroupTerminated is returned when the worker group was killed before an operation completed
	ErrGroupTerminated = errors.New("worker group terminated")

	// ErrDrainTimeout is returned when workers are still alive after the drain timeout
	ErrDrainTimeout = errors.New("timed out waiting for workers to exit")

	// ErrWorkerExited is returned when a worker exits before completing its handshake
	ErrWorkerExited = errors.New("worker exited before handshake")

	// ErrSpawnExhausted is returned when no more workers can be spawned
	ErrSpawnExhausted = errors.New("worker capacity exhausted")

	// ErrMalformedPayload is returned when a message cannot be decoded
	ErrMalformedPayload = errors.New("malformed payload")
)

// Queue errors
var (
	ErrQueueFull         = errors.New("queue is full")
	ErrQueueEmpty        = errors.New("queue is empty")
	ErrQueueClosed       = errors.New("queue is closed")
	ErrQueueExists       = errors.New("queue already exists")
	ErrQueueNotFound     = errors.New("queue not found")
	ErrMessageTooLarge   = errors.New("message too large")
	ErrAlreadyRegistered = errors.New("notification already registered")
)

// WorkerError represents a failure of a single operation on behalf of a worker
type WorkerError struct {
	WorkerID int
	Op       string
	Err      error
}

// Error implements the error interface
func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d: %s: %v", e.WorkerID, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *WorkerError) Unwrap() error {
	return e.Err
}

// NewWorkerError creates a new WorkerError
func NewWorkerError(workerID int, op string, err error) error {
	return &WorkerError{
		WorkerID: workerID,
		Op:       op,
		Err:      err,
	}
}

// IsWorkerError checks if an error is a WorkerError
func IsWorkerError(err error) bool {
	var workerErr *WorkerError
	return errors.As(err, &workerErr)
}

// GetWorkerID returns the worker ID from a WorkerError if the error is a WorkerError
func GetWorkerID(err error) (int, bool) {
	var workerErr *WorkerError
	if errors.As(err, &workerErr) {
		return workerErr.WorkerID, true
	}
	var spawnErr *SpawnError
	if errors.As(err, &spawnErr) {
		return spawnErr.WorkerID, true
	}
	return 0, false
}

// SpawnError is returned when the dispatcher cannot start a worker
type SpawnError struct {
	WorkerID int
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker %d: %v", e.WorkerID, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
