package dispatcher

import (
	"fmt"
	"strconv"
	"strings"
)

// Task represents a unit of work to be processed
type Task struct {
	// ID identifies this task in logs and results
	ID int

	// V1 and V2 are the operands to sum
	V1 float64
	V2 float64
}

// Result represents the outcome of processing a Task
type Result struct {
	// TaskID identifies which task this result is for
	TaskID int

	// WorkerID is the worker whose result queue delivered this result.
	// It is filled in by the notification handler, never read from the payload.
	WorkerID int

	// Value is the sum of the task's operands
	Value float64

	// Err is any error that occurred during processing
	Err error
}

// EncodeTask serializes a task as "<id> <v1> <v2>"
func EncodeTask(task Task, maxSize int) ([]byte, error) {
	msg := fmt.Sprintf("%d %s %s", task.ID, formatFloat(task.V1), formatFloat(task.V2))
	if len(msg) > maxSize {
		return nil, fmt.Errorf("encode task %d: %w", task.ID, ErrMessageTooLarge)
	}
	return []byte(msg), nil
}

// DecodeTask parses a payload produced by EncodeTask
func DecodeTask(msg []byte) (Task, error) {
	fields := strings.Fields(string(msg))
	if len(fields) != 3 {
		return Task{}, fmt.Errorf("decode task %q: %w", msg, ErrMalformedPayload)
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return Task{}, fmt.Errorf("decode task id %q: %w", fields[0], ErrMalformedPayload)
	}
	v1, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Task{}, fmt.Errorf("decode task operand %q: %w", fields[1], ErrMalformedPayload)
	}
	v2, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Task{}, fmt.Errorf("decode task operand %q: %w", fields[2], ErrMalformedPayload)
	}
	return Task{ID: id, V1: v1, V2: v2}, nil
}

// EncodeResult serializes a result as "<task id> <value>"
func EncodeResult(result Result, maxSize int) ([]byte, error) {
	msg := fmt.Sprintf("%d %s", result.TaskID, formatFloat(result.Value))
	if len(msg) > maxSize {
		return nil, fmt.Errorf("encode result for task %d: %w", result.TaskID, ErrMessageTooLarge)
	}
	return []byte(msg), nil
}

// DecodeResult parses a payload produced by EncodeResult
func DecodeResult(msg []byte) (Result, error) {
	fields := strings.Fields(string(msg))
	if len(fields) != 2 {
		return Result{}, fmt.Errorf("decode result %q: %w", msg, ErrMalformedPayload)
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return Result{}, fmt.Errorf("decode result task id %q: %w", fields[0], ErrMalformedPayload)
	}
	value, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Result{}, fmt.Errorf("decode result value %q: %w", fields[1], ErrMalformedPayload)
	}
	return Result{TaskID: id, Value: value}, nil
}

// formatFloat prints the shortest representation that parses back exactly
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
