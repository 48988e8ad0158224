// Package gitlab imports merge request discussions so they can be laid over a
// review as external comments.
package gitlab

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/rs/zerolog/log"

	"github.com/reviewthread/pkg/models"
)

// Config contains configuration for the GitLab provider
type Config struct {
	BaseURL   string `koanf:"base_url"`
	Token     string `koanf:"token"`
	ProjectID string `koanf:"project_id"`
}

// Provider talks to one GitLab project.
type Provider struct {
	client     *gitlab.Client
	httpClient *HTTPClient
	config     Config
}

// New creates a new GitLab provider
func New(config Config) (*Provider, error) {
	// Create a new client with nil HTTP client (defaults to http.DefaultClient)
	// and the provided token
	client := gitlab.NewClient(nil, config.Token)

	// Set the base URL for the GitLab API
	if config.BaseURL != "" {
		err := client.SetBaseURL(fmt.Sprintf("%s/api/v4", config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to set GitLab API base URL: %w", err)
		}
	}

	// The discussions endpoint misbehaves through the official client, so
	// those calls go through our own HTTP client.
	httpClient := NewHTTPClient(config.BaseURL, config.Token)

	log.Info().Str("url", config.BaseURL).Str("project", config.ProjectID).Msg("Initialized GitLab client")

	return &Provider{
		client:     client,
		httpClient: httpClient,
		config:     config,
	}, nil
}

// FetchMergeRequestDetails retrieves a merge request by IID.
func (p *Provider) FetchMergeRequestDetails(ctx context.Context, mrIID int) (*MergeRequest, error) {
	mr, err := p.httpClient.GetMergeRequest(ctx, p.config.ProjectID, mrIID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch merge request: %w", err)
	}
	return mr, nil
}

// FetchMergeRequestComments retrieves every line-anchored comment on a merge
// request. System notes and notes without a diff position are not included.
func (p *Provider) FetchMergeRequestComments(ctx context.Context, mrIID int) ([]*models.ExternalComment, error) {
	discussions, err := p.httpClient.ListMergeRequestDiscussions(ctx, p.config.ProjectID, mrIID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch merge request discussions: %w", err)
	}
	return ConvertToExternalComments(discussions), nil
}

// FetchMergeRequestDiff retrieves the merge request changes assembled into
// one unified diff.
func (p *Provider) FetchMergeRequestDiff(ctx context.Context, mrIID int) (string, error) {
	changes, err := p.httpClient.GetMergeRequestChanges(ctx, p.config.ProjectID, mrIID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch merge request changes: %w", err)
	}
	return BuildUnifiedDiff(changes), nil
}

var mrURLRe = regexp.MustCompile(`(.+)/-/merge_requests/(\d+)$`)

// ParseMergeRequestURL extracts the project path and MR IID from a GitLab MR
// URL such as https://gitlab.example.com/group/project/-/merge_requests/123.
func ParseMergeRequestURL(mrURL string) (string, int, error) {
	parsedURL, err := url.Parse(mrURL)
	if err != nil {
		return "", 0, fmt.Errorf("invalid URL: %w", err)
	}

	path := parsedURL.Path
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}

	matches := mrURLRe.FindStringSubmatch(path)
	if len(matches) != 3 {
		return "", 0, fmt.Errorf("could not extract project and MR ID from URL: %s", mrURL)
	}

	mrIID, err := strconv.Atoi(matches[2])
	if err != nil {
		return "", 0, fmt.Errorf("invalid MR ID: %w", err)
	}

	return matches[1], mrIID, nil
}
