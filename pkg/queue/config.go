package queue

import "time"

// Config holds the task queue settings.
type Config struct {
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"2s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"1m"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"4"`
	MaxRetries         int8          `env:"QUEUE_MAX_RETRIES" envDefault:"8"`
	BackoffInitial     time.Duration `env:"QUEUE_BACKOFF_INITIAL" envDefault:"10s"`
	BackoffMax         time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"30m"`

	// Completed tasks older than CompletedRetention are pruned on PruneSchedule.
	CompletedRetention time.Duration `env:"QUEUE_COMPLETED_RETENTION" envDefault:"168h"`
	PruneSchedule      string        `env:"QUEUE_PRUNE_SCHEDULE" envDefault:"@daily"`
}

// Backoff returns the retry policy described by the config.
func (c Config) Backoff() Backoff {
	return Backoff{InitialInterval: c.BackoffInitial, MaxInterval: c.BackoffMax, Multiplier: 2, JitterFactor: 0.2}
}
