package jobqueue

import (
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentImportJobKind(t *testing.T) {
	assert.Equal(t, "external_comment_import", CommentImportJobArgs{}.Kind())
}

func TestDefaultQueueConfig(t *testing.T) {
	cfg := DefaultQueueConfig()
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, 10, cfg.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)
}

func TestQueueConfigVariants(t *testing.T) {
	prod := ProductionQueueConfig()
	assert.Greater(t, prod.MaxWorkers, DefaultQueueConfig().MaxWorkers)
	assert.Equal(t, 72*time.Hour, prod.RetryPolicy.MaxElapsedTime)

	dev := DevelopmentQueueConfig()
	assert.Less(t, dev.MaxWorkers, DefaultQueueConfig().MaxWorkers)
	assert.Equal(t, 3, dev.MaxRetries)
}

func TestRiverQueueConfig(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.MaxWorkers = 7

	queues := cfg.RiverQueueConfig()
	require.Contains(t, queues, river.QueueDefault)
	assert.Equal(t, 7, queues[river.QueueDefault].MaxWorkers)
}
