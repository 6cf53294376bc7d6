package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/godispatch/dws/dispatcher"
	"github.com/joho/godotenv"
)

// Config holds runtime configuration.
type Config struct {
	Dispatcher dispatcher.Config
	LogLevel   string
	RedisURL   string // optional result sink
	RedisKey   string
}

// Load reads the given .env files (".env" if none) into the environment and
// builds the configuration from DWS_* variables on top of the defaults.
// Missing .env files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	d := dispatcher.DefaultConfig()
	var err error
	set := func(apply func() error) {
		if err == nil {
			err = apply()
		}
	}
	set(func() error { return intEnv("DWS_WORKERS", &d.NumWorkers) })
	set(func() error { return intEnv("DWS_QUEUE_SIZE", &d.QueueSize) })
	set(func() error { return intEnv("DWS_RESULT_QUEUE_SIZE", &d.ResultQueueSize) })
	set(func() error { return intEnv("DWS_QUOTA", &d.Quota) })
	set(func() error { return intEnv("DWS_TASKS", &d.TaskBudget) })
	set(func() error { return intEnv("DWS_OPERAND_MAX", &d.OperandMax) })
	set(func() error { return intEnv("DWS_MAX_WORKERS", &d.MaxWorkers) })
	set(func() error { return durationEnv("DWS_ARRIVAL_MIN", &d.ArrivalMin) })
	set(func() error { return durationEnv("DWS_ARRIVAL_MAX", &d.ArrivalMax) })
	set(func() error { return durationEnv("DWS_WORK_MIN", &d.WorkMin) })
	set(func() error { return durationEnv("DWS_WORK_MAX", &d.WorkMax) })
	set(func() error { return durationEnv("DWS_DRAIN_TIMEOUT", &d.DrainTimeout) })
	if err != nil {
		return nil, err
	}

	// The budget follows the worker count unless it was given explicitly.
	if _, ok := os.LookupEnv("DWS_TASKS"); !ok {
		d.TaskBudget = d.NumWorkers * d.Quota
	}

	return &Config{
		Dispatcher: d,
		LogLevel:   getEnv("DWS_LOG_LEVEL", "info"),
		RedisURL:   os.Getenv("REDIS_URL"),
		RedisKey:   getEnv("DWS_REDIS_KEY", "dws:results"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func durationEnv(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
