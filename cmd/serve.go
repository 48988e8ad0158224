package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/reviewthread/internal/api"
	"github.com/reviewthread/internal/cache"
	"github.com/reviewthread/internal/config"
	"github.com/reviewthread/internal/conversation"
	"github.com/reviewthread/internal/database"
	"github.com/reviewthread/internal/events"
	"github.com/reviewthread/internal/external"
	"github.com/reviewthread/internal/jobqueue"
	"github.com/reviewthread/internal/providers/gitlab"
)

// ServeCommand returns the CLI command for starting the API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the ReviewThread API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides the configured port)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE` before reading configuration",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	if envFile := c.String("env-file"); envFile != "" {
		if err := LoadEnvFile(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	port := cfg.Server.Port
	if c.Int("port") > 0 {
		port = c.Int("port")
	}

	db, err := database.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := database.ApplyMigrations(ctx, db, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Redis is optional. When it is absent or down, reads go straight to
	// Postgres and the server still comes up.
	var viewCache conversation.ViewCache
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cfg.RedisTTL())
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, serving reads from the database")
		} else {
			defer redisCache.Close()
			viewCache = redisCache
		}
	}

	sink := events.NewDatabaseSink(db)
	service := conversation.NewService(conversation.NewStorage(db), viewCache, sink)
	externalStore := external.NewStorage(db)

	// Import workers only run when a GitLab project is configured; the
	// external comment endpoints serve whatever the snapshot holds either way.
	var queue *jobqueue.JobQueue
	if syncErr := config.ValidateSync(cfg); syncErr == nil {
		provider, err := gitlab.New(gitlab.Config{
			BaseURL:   cfg.GitLab.BaseURL,
			Token:     cfg.GitLab.Token,
			ProjectID: cfg.GitLab.ProjectID,
		})
		if err != nil {
			return fmt.Errorf("failed to create GitLab provider: %w", err)
		}

		queue, err = jobqueue.NewJobQueue(cfg.Database.URL, cfg.Queue.MaxWorkers, provider, externalStore)
		if err != nil {
			return fmt.Errorf("failed to create job queue: %w", err)
		}
		if err := queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer queue.Close()
		defer func() {
			if err := queue.Stop(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Job queue did not stop cleanly")
			}
		}()
	} else {
		log.Info().Err(syncErr).Msg("GitLab not configured, external comment import disabled")
	}

	fmt.Printf("Starting ReviewThread API server on port %d...\n", port)

	server := api.NewServer(port, service, sink.Repo(), externalStore, cfg.Auth.JWTSecret)
	return server.Start()
}
