/*
Package jobqueue provides a River-based job queue for importing merge request
comments from the hosting provider into the external comment snapshot.

For configuration options, retry policies, and tuning parameters, see queue_config.go.
All configurable values have been moved there for easier management.
*/
package jobqueue

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/reviewthread/internal/external"
	"github.com/reviewthread/internal/providers/gitlab"
)

// CommentImportJobArgs represents the arguments for an external comment import job
type CommentImportJobArgs struct {
	AttemptID       uuid.UUID `json:"attempt_id"`
	MergeRequestIID int       `json:"merge_request_iid"`
}

// Kind returns the job kind for River
func (CommentImportJobArgs) Kind() string {
	return "external_comment_import"
}

// CommentImportWorker fetches a merge request's line comments and replaces
// the attempt's external comment snapshot with them
type CommentImportWorker struct {
	river.WorkerDefaults[CommentImportJobArgs]
	provider *gitlab.Provider
	storage  *external.Storage
	config   *QueueConfig
}

// Work performs one import
func (w *CommentImportWorker) Work(ctx context.Context, job *river.Job[CommentImportJobArgs]) error {
	args := job.Args
	log.Printf("Importing external comments for attempt %s from MR !%d", args.AttemptID, args.MergeRequestIID)

	ctx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	comments, err := w.provider.FetchMergeRequestComments(ctx, args.MergeRequestIID)
	if err != nil {
		log.Printf("ERROR: Failed to fetch comments for MR !%d: %v", args.MergeRequestIID, err)
		return fmt.Errorf("failed to fetch merge request comments: %w", err)
	}

	stored, err := w.storage.Replace(ctx, args.AttemptID, comments)
	if err != nil {
		log.Printf("ERROR: Failed to store comments for attempt %s: %v", args.AttemptID, err)
		return fmt.Errorf("failed to store external comments: %w", err)
	}

	log.Printf("Imported %d external comments for attempt %s from MR !%d", len(stored), args.AttemptID, args.MergeRequestIID)
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a new job queue instance. A maxWorkers of zero keeps
// the configured default.
func NewJobQueue(databaseURL string, maxWorkers int, provider *gitlab.Provider, storage *external.Storage) (*JobQueue, error) {
	// Get configuration
	config := GetQueueConfig()
	if maxWorkers > 0 {
		config.MaxWorkers = maxWorkers
	}

	// Create a pgx connection pool
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Create River client
	workers := river.NewWorkers()
	river.AddWorker(workers, &CommentImportWorker{provider: provider, storage: storage, config: config})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// Close releases the underlying connection pool
func (jq *JobQueue) Close() {
	jq.pool.Close()
}

// QueueCommentImportJob queues an import of one merge request's comments
func (jq *JobQueue) QueueCommentImportJob(ctx context.Context, attemptID uuid.UUID, mrIID int) error {
	args := CommentImportJobArgs{
		AttemptID:       attemptID,
		MergeRequestIID: mrIID,
	}

	_, err := jq.client.Insert(ctx, args, nil)
	if err != nil {
		return fmt.Errorf("failed to queue comment import job: %w", err)
	}

	return nil
}
