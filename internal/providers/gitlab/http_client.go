package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// HTTPClient is a custom HTTP client for the GitLab API endpoints the
// official client gets wrong, with rate limiting on every call.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a new GitLab HTTP client
func NewHTTPClient(baseURL, token string) *HTTPClient {
	// Make sure baseURL doesn't end with a slash
	if baseURL != "" && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}

	return &HTTPClient{
		baseURL: fmt.Sprintf("%s/api/v4", baseURL),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(1*time.Second), 5), // 5 requests per second
	}
}

// MergeRequest represents a GitLab merge request
type MergeRequest struct {
	ID           int    `json:"id"`
	IID          int    `json:"iid"`
	ProjectID    int    `json:"project_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	State        string `json:"state"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	WebURL       string `json:"web_url"`
	Author       struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"author"`
}

// MergeRequestChanges represents the changes in a GitLab merge request
type MergeRequestChanges struct {
	ID        int    `json:"id"`
	IID       int    `json:"iid"`
	ProjectID int    `json:"project_id"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Changes   []struct {
		OldPath     string `json:"old_path"`
		NewPath     string `json:"new_path"`
		Diff        string `json:"diff"`
		NewFile     bool   `json:"new_file"`
		RenamedFile bool   `json:"renamed_file"`
		DeletedFile bool   `json:"deleted_file"`
	} `json:"changes"`
}

// GetMergeRequest gets a merge request by project ID and MR IID
func (c *HTTPClient) GetMergeRequest(ctx context.Context, projectID string, mrIID int) (*MergeRequest, error) {
	requestURL := fmt.Sprintf("%s/projects/%s/merge_requests/%d",
		c.baseURL, url.PathEscape(projectID), mrIID)

	var mr MergeRequest
	if _, err := c.getJSON(ctx, requestURL, &mr); err != nil {
		return nil, err
	}

	return &mr, nil
}

// GetMergeRequestChanges gets the changes for a merge request
func (c *HTTPClient) GetMergeRequestChanges(ctx context.Context, projectID string, mrIID int) (*MergeRequestChanges, error) {
	requestURL := fmt.Sprintf("%s/projects/%s/merge_requests/%d/changes",
		c.baseURL, url.PathEscape(projectID), mrIID)

	var changes MergeRequestChanges
	if _, err := c.getJSON(ctx, requestURL, &changes); err != nil {
		return nil, err
	}

	return &changes, nil
}

// ListMergeRequestDiscussions gets every discussion on a merge request,
// following GitLab's X-Next-Page pagination.
func (c *HTTPClient) ListMergeRequestDiscussions(ctx context.Context, projectID string, mrIID int) ([]Discussion, error) {
	all := make([]Discussion, 0)
	page := 1

	for {
		requestURL := fmt.Sprintf("%s/projects/%s/merge_requests/%d/discussions?per_page=100&page=%d",
			c.baseURL, url.PathEscape(projectID), mrIID, page)

		var batch []Discussion
		header, err := c.getJSON(ctx, requestURL, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)

		next := header.Get("X-Next-Page")
		if next == "" {
			break
		}
		n, err := strconv.Atoi(next)
		if err != nil || n <= page {
			break
		}
		page = n
	}

	return all, nil
}

// getJSON performs an authenticated GET and decodes the JSON body into out.
// The response header is returned for pagination.
func (c *HTTPClient) getJSON(ctx context.Context, requestURL string, out interface{}) (http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Add authentication
	req.Header.Add("PRIVATE-TOKEN", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return resp.Header, nil
}
