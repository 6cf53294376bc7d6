package dispatcher

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// WorkerFunc is the body of a spawned worker. Its return value is reported
// through the spawner's exit notifications.
type WorkerFunc func(ctx context.Context) error

// Exit tells the dispatcher that a spawned worker has terminated
type Exit struct {
	PID int
	Err error
}

// Spawner starts workers and reports their termination
type Spawner interface {
	// Spawn starts fn and returns its process id. Every successful Spawn
	// produces exactly one Exit on Exits.
	Spawn(ctx context.Context, fn WorkerFunc) (int, error)

	// Exits delivers one Exit per terminated worker
	Exits() <-chan Exit
}

// GoroutineSpawner runs each worker on its own goroutine, at most max at a time
type GoroutineSpawner struct {
	slots   *semaphore.Weighted
	exits   chan Exit
	lastPID atomic.Int64
}

// NewGoroutineSpawner creates a spawner that runs at most max workers at once
func NewGoroutineSpawner(max int) *GoroutineSpawner {
	return &GoroutineSpawner{
		slots: semaphore.NewWeighted(int64(max)),
		// sized to the worker cap; the dispatcher reaper drains it
		exits: make(chan Exit, max),
	}
}

// Spawn implements Spawner. It fails with ErrSpawnExhausted when max workers
// are already running.
func (s *GoroutineSpawner) Spawn(ctx context.Context, fn WorkerFunc) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !s.slots.TryAcquire(1) {
		return 0, ErrSpawnExhausted
	}

	pid := int(s.lastPID.Add(1))
	go func() {
		err := fn(ctx)
		s.exits <- Exit{PID: pid, Err: err}
		s.slots.Release(1)
	}()
	return pid, nil
}

// Exits implements Spawner
func (s *GoroutineSpawner) Exits() <-chan Exit {
	return s.exits
}
