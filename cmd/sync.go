package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/reviewthread/internal/config"
	"github.com/reviewthread/internal/database"
	"github.com/reviewthread/internal/external"
	"github.com/reviewthread/internal/jobqueue"
	"github.com/reviewthread/internal/providers/gitlab"
)

// SyncCommand returns the command that replaces an attempt's external comment
// snapshot with the line comments currently on a merge request.
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Import merge request comments as external comments",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "attempt",
				Aliases:  []string{"a"},
				Usage:    "Attempt UUID the snapshot belongs to",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "queue",
				Usage: "Enqueue a background import instead of importing inline",
			},
		},
		ArgsUsage: "MR_URL_OR_IID",
		Action:    runSync,
	}
}

func runSync(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: merge request URL or IID")
	}

	attemptID, err := uuid.Parse(c.String("attempt"))
	if err != nil {
		return fmt.Errorf("invalid attempt ID: %w", err)
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// A bare IID uses the configured project; a full MR URL names its own.
	projectID := cfg.GitLab.ProjectID
	mrIID, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		urlProject, urlIID, urlErr := gitlab.ParseMergeRequestURL(c.Args().Get(0))
		if urlErr != nil {
			return fmt.Errorf("argument is neither an IID nor a merge request URL: %w", urlErr)
		}
		projectID = urlProject
		mrIID = urlIID
	}
	cfg.GitLab.ProjectID = projectID

	if err := config.ValidateSync(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	provider, err := gitlab.New(gitlab.Config{
		BaseURL:   cfg.GitLab.BaseURL,
		Token:     cfg.GitLab.Token,
		ProjectID: cfg.GitLab.ProjectID,
	})
	if err != nil {
		return fmt.Errorf("failed to create GitLab provider: %w", err)
	}

	db, err := database.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	storage := external.NewStorage(db)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if c.Bool("queue") {
		queue, err := jobqueue.NewJobQueue(cfg.Database.URL, cfg.Queue.MaxWorkers, provider, storage)
		if err != nil {
			return fmt.Errorf("failed to create job queue: %w", err)
		}
		defer queue.Close()

		if err := queue.QueueCommentImportJob(ctx, attemptID, mrIID); err != nil {
			return fmt.Errorf("failed to queue import: %w", err)
		}

		fmt.Printf("Queued external comment import for attempt %s from %s!%d\n", attemptID, projectID, mrIID)
		return nil
	}

	comments, err := provider.FetchMergeRequestComments(ctx, mrIID)
	if err != nil {
		return fmt.Errorf("failed to fetch merge request comments: %w", err)
	}

	stored, err := storage.Replace(ctx, attemptID, comments)
	if err != nil {
		return fmt.Errorf("failed to store external comments: %w", err)
	}

	fmt.Printf("Imported %d external comments for attempt %s from %s!%d\n", len(stored), attemptID, projectID, mrIID)
	return nil
}
