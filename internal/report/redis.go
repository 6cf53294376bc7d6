package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/godispatch/dws/dispatcher"
	"github.com/redis/go-redis/v9"
)

// Record is the JSON document pushed for every result
type Record struct {
	WorkerID   int       `json:"worker_id"`
	TaskID     int       `json:"task_id"`
	Value      float64   `json:"value"`
	ReportedAt time.Time `json:"reported_at"`
}

// RedisHandler appends every reported result to a Redis list
type RedisHandler struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisHandler connects lazily to the Redis server at url
func NewRedisHandler(url, key string) (*RedisHandler, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("could not parse redis url: %w", err)
	}
	return &RedisHandler{
		client:  redis.NewClient(opt),
		key:     key,
		timeout: 2 * time.Second,
	}, nil
}

// Ping checks that the server is reachable
func (h *RedisHandler) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// HandleResult implements dispatcher.ResultHandler
func (h *RedisHandler) HandleResult(result dispatcher.Result) error {
	payload, err := json.Marshal(Record{
		WorkerID:   result.WorkerID,
		TaskID:     result.TaskID,
		Value:      result.Value,
		ReportedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.client.RPush(ctx, h.key, payload).Err(); err != nil {
		return fmt.Errorf("push result for task %d to %s: %w", result.TaskID, h.key, err)
	}
	return nil
}

// Close releases the connection pool
func (h *RedisHandler) Close() error {
	return h.client.Close()
}
