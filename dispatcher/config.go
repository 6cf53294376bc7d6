package dispatcher

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config holds the configuration for the dispatcher and its workers
type Config struct {
	// NumWorkers is the number of workers to spawn
	NumWorkers int

	// QueueSize is the capacity of the shared task queue
	QueueSize int

	// ResultQueueSize is the capacity of each worker's result queue
	ResultQueueSize int

	// Quota is how many tasks a worker processes before it exits
	Quota int

	// TaskBudget is how many tasks Generate produces in total
	TaskBudget int

	// ArrivalMin and ArrivalMax bound the wait between generated tasks
	ArrivalMin time.Duration
	ArrivalMax time.Duration

	// WorkMin and WorkMax bound the simulated work per task
	WorkMin time.Duration
	WorkMax time.Duration

	// OperandMax is the largest integer part of a generated operand
	OperandMax int

	// MaxMessageSize is the largest payload accepted by any queue
	MaxMessageSize int

	// MaxWorkers caps how many workers the default spawner runs at once
	MaxWorkers int

	// DrainTimeout bounds the wait for workers once generation is over.
	// Zero waits forever.
	DrainTimeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		NumWorkers:      3,
		QueueSize:       DefaultQueueSize(),
		ResultQueueSize: DefaultQueueSize(),
		Quota:           5,
		TaskBudget:      3 * 5,
		ArrivalMin:      time.Second,
		ArrivalMax:      5 * time.Second,
		WorkMin:         500 * time.Millisecond,
		WorkMax:         2 * time.Second,
		OperandMax:      100,
		MaxMessageSize:  128,
		MaxWorkers:      20,
	}
}

// DefaultQueueSize returns the default queue size.
func DefaultQueueSize() int {
	return 10 // same as the usual mq_maxmsg default
}

// Validate checks the configuration for values the dispatcher cannot run with
func (c Config) Validate() error {
	switch {
	case c.NumWorkers <= 0:
		return fmt.Errorf("invalid config: NumWorkers must be positive, got %d", c.NumWorkers)
	case c.MaxWorkers > 0 && c.NumWorkers > c.MaxWorkers:
		return fmt.Errorf("invalid config: NumWorkers %d exceeds MaxWorkers %d", c.NumWorkers, c.MaxWorkers)
	case c.QueueSize <= 0:
		return fmt.Errorf("invalid config: QueueSize must be positive, got %d", c.QueueSize)
	case c.ResultQueueSize <= 0:
		return fmt.Errorf("invalid config: ResultQueueSize must be positive, got %d", c.ResultQueueSize)
	case c.Quota <= 0:
		return fmt.Errorf("invalid config: Quota must be positive, got %d", c.Quota)
	case c.TaskBudget < 0:
		return fmt.Errorf("invalid config: TaskBudget must not be negative, got %d", c.TaskBudget)
	case c.ArrivalMin < 0 || c.ArrivalMax < c.ArrivalMin:
		return fmt.Errorf("invalid config: arrival range [%v, %v]", c.ArrivalMin, c.ArrivalMax)
	case c.WorkMin < 0 || c.WorkMax < c.WorkMin:
		return fmt.Errorf("invalid config: work range [%v, %v]", c.WorkMin, c.WorkMax)
	case c.OperandMax < 0:
		return fmt.Errorf("invalid config: OperandMax must not be negative, got %d", c.OperandMax)
	case c.MaxMessageSize < 16:
		return fmt.Errorf("invalid config: MaxMessageSize too small, got %d", c.MaxMessageSize)
	case c.DrainTimeout < 0:
		return fmt.Errorf("invalid config: DrainTimeout must not be negative, got %v", c.DrainTimeout)
	}

	// A budget below NumWorkers*Quota leaves at least one worker short of
	// its quota, and the final wait would never return.
	if c.TaskBudget > 0 && c.TaskBudget < c.NumWorkers*c.Quota {
		return fmt.Errorf("invalid config: TaskBudget %d is less than NumWorkers*Quota (%d)",
			c.TaskBudget, c.NumWorkers*c.Quota)
	}
	if c.TaskBudget > c.NumWorkers*c.Quota {
		log.Warnf("[DISPATCHER] TaskBudget %d exceeds total quota %d, surplus tasks will be left queued",
			c.TaskBudget, c.NumWorkers*c.Quota)
	}
	return nil
}
