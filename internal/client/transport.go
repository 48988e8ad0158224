package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reviewthread/internal/conversation"
	"github.com/reviewthread/internal/events"
	"github.com/reviewthread/internal/retry"
	"github.com/reviewthread/pkg/models"
)

// Transport is the HTTP binding to a reviewthread server. It speaks the
// response envelope and converts domain failures back into the
// internal/conversation sentinels, so callers branch with errors.Is exactly
// as they would against the store itself. Anything that is not a domain
// failure (connection trouble, auth rejection, proxy noise) surfaces as a
// plain error and is never confused with a domain kind.
type Transport struct {
	baseURL string
	token   string
	client  *http.Client

	// RetryConfig governs automatic retries for read requests. Mutations
	// are never retried automatically: a timed-out create may still have
	// been applied, and replaying it could double-post.
	RetryConfig retry.RetryConfig
}

// NewTransport creates an API transport for the given server and token.
func NewTransport(baseURL, token string) *Transport {
	return &Transport{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		client:      &http.Client{Timeout: 10 * time.Second},
		RetryConfig: retry.TransportRetryConfig(),
	}
}

// CreateConversationParams carries the caller-supplied fields for opening a
// conversation.
type CreateConversationParams struct {
	FilePath       string          `json:"file_path"`
	LineNumber     int64           `json:"line_number"`
	Side           models.DiffSide `json:"side"`
	CodeLine       *string         `json:"code_line,omitempty"`
	InitialMessage string          `json:"initial_message"`
}

// EventFeed is one page of an attempt's event feed. LastID is the cursor
// for the next poll; it echoes the request cursor when nothing new arrived.
type EventFeed struct {
	Events []*events.Event `json:"events"`
	LastID int64           `json:"last_id"`
	Count  int             `json:"count"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error"`
}

type envelopeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type addMessageRequest struct {
	Content string `json:"content"`
}

type resolveRequest struct {
	Summary string `json:"summary"`
}

type deleteMessageResult struct {
	Deleted      bool                 `json:"deleted"`
	Conversation *models.Conversation `json:"conversation"`
}

// ListConversations fetches every conversation on the attempt.
func (t *Transport) ListConversations(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	err := t.doRead(ctx, fmt.Sprintf("/api/v1/attempts/%s/conversations", attemptID), &conversations)
	return conversations, err
}

// ListUnresolved fetches the attempt's open conversations.
func (t *Transport) ListUnresolved(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	err := t.doRead(ctx, fmt.Sprintf("/api/v1/attempts/%s/conversations/unresolved", attemptID), &conversations)
	return conversations, err
}

// GetConversation fetches one conversation with its messages.
func (t *Transport) GetConversation(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := t.doRead(ctx, fmt.Sprintf("/api/v1/attempts/%s/conversations/%s", attemptID, conversationID), &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateConversation opens a conversation with its first message.
func (t *Transport) CreateConversation(ctx context.Context, attemptID uuid.UUID, params CreateConversationParams) (*models.Conversation, error) {
	var conv models.Conversation
	err := t.doOnce(ctx, http.MethodPost, fmt.Sprintf("/api/v1/attempts/%s/conversations", attemptID), params, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AddMessage appends a message to the conversation.
func (t *Transport) AddMessage(ctx context.Context, attemptID, conversationID uuid.UUID, content string) (*models.Conversation, error) {
	var conv models.Conversation
	path := fmt.Sprintf("/api/v1/attempts/%s/conversations/%s/messages", attemptID, conversationID)
	err := t.doOnce(ctx, http.MethodPost, path, addMessageRequest{Content: content}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteMessage removes one message. The bool is true when the conversation
// went with it; the conversation is nil in that case.
func (t *Transport) DeleteMessage(ctx context.Context, attemptID, conversationID, messageID uuid.UUID) (*models.Conversation, bool, error) {
	var result deleteMessageResult
	path := fmt.Sprintf("/api/v1/attempts/%s/conversations/%s/messages/%s", attemptID, conversationID, messageID)
	err := t.doOnce(ctx, http.MethodDelete, path, nil, &result)
	if err != nil {
		return nil, false, err
	}
	return result.Conversation, result.Deleted, nil
}

// Resolve closes the conversation with a summary.
func (t *Transport) Resolve(ctx context.Context, attemptID, conversationID uuid.UUID, summary string) (*models.Conversation, error) {
	var conv models.Conversation
	path := fmt.Sprintf("/api/v1/attempts/%s/conversations/%s/resolve", attemptID, conversationID)
	err := t.doOnce(ctx, http.MethodPost, path, resolveRequest{Summary: summary}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Unresolve reopens the conversation.
func (t *Transport) Unresolve(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	path := fmt.Sprintf("/api/v1/attempts/%s/conversations/%s/unresolve", attemptID, conversationID)
	err := t.doOnce(ctx, http.MethodPost, path, nil, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation removes the conversation outright.
func (t *Transport) DeleteConversation(ctx context.Context, attemptID, conversationID uuid.UUID) error {
	path := fmt.Sprintf("/api/v1/attempts/%s/conversations/%s", attemptID, conversationID)
	return t.doOnce(ctx, http.MethodDelete, path, nil, nil)
}

// ListEvents fetches the event feed after the given cursor id.
func (t *Transport) ListEvents(ctx context.Context, attemptID uuid.UUID, sinceID int64, limit int) (*EventFeed, error) {
	path := fmt.Sprintf("/api/v1/attempts/%s/conversations/events?since=%d", attemptID, sinceID)
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}

	var feed EventFeed
	if err := t.doRead(ctx, path, &feed); err != nil {
		return nil, err
	}
	return &feed, nil
}

// ListExternalComments fetches imported provider comments, optionally
// scoped to one file.
func (t *Transport) ListExternalComments(ctx context.Context, attemptID uuid.UUID, filePath string) ([]*models.ExternalComment, error) {
	path := fmt.Sprintf("/api/v1/attempts/%s/comments/external", attemptID)
	if filePath != "" {
		path += "?file_path=" + url.QueryEscape(filePath)
	}

	var comments []*models.ExternalComment
	err := t.doRead(ctx, path, &comments)
	return comments, err
}

// doRead runs an idempotent GET with the transport retry budget.
func (t *Transport) doRead(ctx context.Context, path string, out interface{}) error {
	result := retry.RetryWithBackoff(ctx, t.RetryConfig, func() error {
		return t.doOnce(ctx, http.MethodGet, path, nil, out)
	})
	if !result.Success {
		return result.LastError
	}
	return nil
}

// doOnce performs a single request and decodes the envelope.
func (t *Transport) doOnce(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Not an envelope at all: a proxy error page or similar.
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, truncateBody(raw))
	}

	if !env.Success {
		// Envelope-shaped failures without an error block are transport
		// rejections, e.g. the auth middleware's plain 401.
		if env.Error == nil {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, truncateBody(raw))
		}
		return decodeFailure(env.Error)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// decodeFailure turns an envelope error back into the sentinel the server
// mapped it from.
func decodeFailure(envErr *envelopeError) error {
	switch envErr.Type {
	case "validation_error":
		return &conversation.ValidationError{Field: "request", Reason: envErr.Message}
	case "not_found":
		if strings.Contains(envErr.Message, "message") {
			return conversation.ErrMessageNotFound
		}
		return conversation.ErrConversationNotFound
	case "already_resolved":
		return conversation.ErrAlreadyResolved
	default:
		return fmt.Errorf("server error: %s", envErr.Message)
	}
}

func truncateBody(raw []byte) string {
	body := strings.TrimSpace(string(raw))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return body
}
