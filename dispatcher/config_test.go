package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, cfg.NumWorkers*cfg.Quota, cfg.TaskBudget)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no workers", func(c *Config) { c.NumWorkers = 0 }},
		{"too many workers", func(c *Config) { c.NumWorkers = c.MaxWorkers + 1 }},
		{"no task queue", func(c *Config) { c.QueueSize = 0 }},
		{"no result queue", func(c *Config) { c.ResultQueueSize = 0 }},
		{"no quota", func(c *Config) { c.Quota = 0 }},
		{"budget below total quota", func(c *Config) { c.TaskBudget = c.NumWorkers*c.Quota - 1 }},
		{"inverted arrival", func(c *Config) { c.ArrivalMin, c.ArrivalMax = time.Second, time.Millisecond }},
		{"inverted work", func(c *Config) { c.WorkMin, c.WorkMax = time.Second, time.Millisecond }},
		{"tiny messages", func(c *Config) { c.MaxMessageSize = 4 }},
		{"negative drain timeout", func(c *Config) { c.DrainTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestConfigBudgetRelationship(t *testing.T) {
	cfg := DefaultConfig()

	// no generator at all
	cfg.TaskBudget = 0
	require.NoError(t, cfg.Validate())

	// surplus tasks are allowed
	cfg.TaskBudget = cfg.NumWorkers*cfg.Quota + 3
	require.NoError(t, cfg.Validate())
}
