/*
Package jobqueue configuration - All tunable parameters for the River job queue system.

# River Job Queue Configuration Guide

This file contains all configurable parameters for the comment import job queue.
Modify these values to tune performance, reliability, and behavior according to your needs.

## Quick Configuration Reference:

### Performance Tuning:
- Increase MaxWorkers for higher throughput (more concurrent imports)
- Adjust MaxRetries for different reliability vs. speed tradeoffs
- Modify retry intervals for faster/slower retry cycles

### Reliability Tuning:
- Increase MaxRetries for better reliability on unstable networks
- Adjust RetryPolicy intervals for network conditions
- Configure job timeouts based on provider API response times

### Resource Management:
- Lower MaxWorkers to reduce database connection usage
- Adjust timeouts to prevent resource leaks
- Configure queue priorities if multiple job types are added

## Monitoring and Debugging:
- Job status can be monitored via River's built-in job tracking
- Failed jobs retain error information in the River jobs table
- Import results land in the external_comments table

## Database Requirements:
- PostgreSQL with River schema migrations applied
- Connection pool configured for concurrent workers
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int // Number of concurrent workers processing jobs (default: 4)

	// Retry Configuration
	MaxRetries   int           // Maximum retry attempts per job (default: 10)
	RetryPolicy  RetryPolicy   // Retry timing and backoff configuration
	JobTimeout   time.Duration // Maximum time a single job can run (default: 2 minutes)
	QueueTimeout time.Duration // Maximum time jobs can stay in queue (default: 24 hours)
}

// RetryPolicy defines how failed jobs are retried
type RetryPolicy struct {
	// InitialInterval is the time to wait before the first retry
	InitialInterval time.Duration // default: 1 second

	// MaxInterval is the maximum time to wait between retries
	MaxInterval time.Duration // default: 1 hour

	// Multiplier is the factor by which the interval increases after each retry
	Multiplier float64 // default: 2.0 (exponential backoff)

	// MaxElapsedTime is the total time after which retries stop
	MaxElapsedTime time.Duration // default: 24 hours
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		// Worker settings - tune based on your server capacity and provider API rate limits
		MaxWorkers: 4,

		// Retry settings - imports are cheap to re-request, so give up sooner
		// than River's 25-attempt default
		MaxRetries: 10,
		RetryPolicy: RetryPolicy{
			InitialInterval: 1 * time.Second, // Start retrying quickly
			MaxInterval:     1 * time.Hour,   // Don't wait more than 1 hour between retries
			Multiplier:      2.0,             // Double the wait time each retry
			MaxElapsedTime:  24 * time.Hour,  // Give up after a day
		},

		// Timeout settings
		JobTimeout:   2 * time.Minute, // Each import should complete within 2 minutes
		QueueTimeout: 24 * time.Hour,  // Jobs expire from queue after 24 hours
	}
}

// ProductionQueueConfig returns a configuration optimized for production use
func ProductionQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	// Production optimizations
	config.MaxWorkers = 10                             // More workers for higher throughput
	config.JobTimeout = 5 * time.Minute                // Longer timeout for network issues
	config.RetryPolicy.MaxElapsedTime = 72 * time.Hour // Retry for three days

	return config
}

// DevelopmentQueueConfig returns a configuration optimized for development
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	// Development optimizations
	config.MaxWorkers = 2                             // Fewer workers to reduce resource usage
	config.MaxRetries = 3                             // Fail faster in development
	config.RetryPolicy.MaxElapsedTime = 1 * time.Hour // Give up quickly
	config.JobTimeout = 1 * time.Minute               // Shorter timeout for faster feedback

	return config
}

// GetQueueConfig returns the appropriate configuration based on environment
func GetQueueConfig() *QueueConfig {
	return DefaultQueueConfig()
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
		// Future: Add more queues here for different job types
	}
}
