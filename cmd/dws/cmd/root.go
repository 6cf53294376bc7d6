package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godispatch/dws/dispatcher"
	"github.com/godispatch/dws/internal/config"
	"github.com/godispatch/dws/internal/report"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	envFile string

	rootCmd = &cobra.Command{
		Use:   "dws",
		Short: "Distribute random sums to a pool of workers and collect their results",
		Long: `dws spawns a fixed pool of workers that share one bounded task queue.
Every worker publishes its results to a private queue, and the coordinator
reports them as they arrive. The program exits once every worker has used up
its quota.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
)

func init() {
	addFlags(rootCmd.Flags())
}

func addFlags(flags *pflag.FlagSet) {
	defaults := dispatcher.DefaultConfig()

	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading DWS_* variables")
	flags.Int("workers", defaults.NumWorkers, "number of workers")
	flags.Int("queue-size", defaults.QueueSize, "task queue capacity")
	flags.Int("result-queue-size", defaults.ResultQueueSize, "capacity of each worker's result queue")
	flags.Int("quota", defaults.Quota, "tasks each worker processes before exiting")
	flags.Int("tasks", defaults.TaskBudget, "total tasks to generate, follows workers*quota unless set")
	flags.Duration("arrival-min", defaults.ArrivalMin, "minimum wait between generated tasks")
	flags.Duration("arrival-max", defaults.ArrivalMax, "maximum wait between generated tasks")
	flags.Duration("work-min", defaults.WorkMin, "minimum simulated work per task")
	flags.Duration("work-max", defaults.WorkMax, "maximum simulated work per task")
	flags.Duration("drain-timeout", defaults.DrainTimeout, "give up on remaining workers this long after generation ends (0 waits forever)")
	flags.String("redis-key", "dws:results", "Redis list receiving results when REDIS_URL is set")
	flags.String("log-level", "info", "log level")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := applyFlags(cmd.Flags(), cfg); err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	var handler dispatcher.ResultHandler = dispatcher.LogResultHandler{}
	if cfg.RedisURL != "" {
		rh, err := report.NewRedisHandler(cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			return err
		}
		defer rh.Close()
		if err := rh.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		handler = report.Multi(handler, rh)
		log.Infof("Reporting results to redis list %s", cfg.RedisKey)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Server is starting...")
	dp := dispatcher.NewDispatcher(cfg.Dispatcher, dispatcher.WithResultHandler(handler))
	runErr := dp.Run(ctx)

	stats := dp.Stats()
	log.WithFields(log.Fields{
		"submitted": stats.Submitted,
		"rejected":  stats.Rejected,
		"reported":  stats.Reported,
	}).Info("Server shutting down")
	return runErr
}

// applyFlags overrides loaded values with the flags given on the command line
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	d := &cfg.Dispatcher
	ints := map[string]*int{
		"workers":           &d.NumWorkers,
		"queue-size":        &d.QueueSize,
		"result-queue-size": &d.ResultQueueSize,
		"quota":             &d.Quota,
		"tasks":             &d.TaskBudget,
	}
	for name, dst := range ints {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	durations := map[string]*time.Duration{
		"arrival-min":   &d.ArrivalMin,
		"arrival-max":   &d.ArrivalMax,
		"work-min":      &d.WorkMin,
		"work-max":      &d.WorkMax,
		"drain-timeout": &d.DrainTimeout,
	}
	for name, dst := range durations {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetDuration(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	// keep the budget in step with the pool unless it was set explicitly
	if !flags.Changed("tasks") && (flags.Changed("workers") || flags.Changed("quota")) {
		if _, ok := os.LookupEnv("DWS_TASKS"); !ok {
			d.TaskBudget = d.NumWorkers * d.Quota
		}
	}

	if flags.Changed("redis-key") {
		cfg.RedisKey, _ = flags.GetString("redis-key")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	return nil
}
