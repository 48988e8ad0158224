package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/reviewthread/internal/api/auth"
	"github.com/reviewthread/internal/config"
)

// TokenCommand returns the command that mints an access token for a reviewer.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an access token for a reviewer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "subject",
				Aliases:  []string{"s"},
				Usage:    "Reviewer name recorded as the actor on mutations",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "How long the token stays valid",
				Value: 24 * time.Hour,
			},
		},
		Action: runToken,
	}
}

func runToken(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required to mint tokens")
	}

	token, err := auth.SignToken(cfg.Auth.JWTSecret, c.String("subject"), c.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Println(token)
	return nil
}
