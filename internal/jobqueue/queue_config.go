package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds the tunable parameters of the job queue.
type QueueConfig struct {
	// MaxWorkers is the number of concurrent workers per queue.
	MaxWorkers int

	// JobTimeout bounds a single job run. Host API calls dominate, so this
	// stays short.
	JobTimeout time.Duration
}

// DefaultQueueConfig returns the configuration used unless overridden.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 10,
		JobTimeout: 2 * time.Minute,
	}
}

// RiverQueueConfig converts the config to River's queue table.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
