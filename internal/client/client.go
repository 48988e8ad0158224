// Package client is the Go SDK for a reviewthread server. It layers the
// client tier of the sync contract over the HTTP transport: a write-through
// conversation cache with stale-marked lists, the per-client draft registry,
// a registry of local review comments, and the overlay assembly that merges
// all three comment sources for one file.
package client

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/reviewthread/internal/diffline"
	"github.com/reviewthread/internal/draft"
	"github.com/reviewthread/internal/overlay"
	"github.com/reviewthread/pkg/models"
)

// Client is a stateful handle onto one reviewer's session. It is safe for
// concurrent use; the cache, drafts, and review comments are per-Client and
// never shared across clients.
type Client struct {
	transport *Transport
	cache     *memoryCache
	drafts    *draft.Registry

	mu             sync.Mutex
	lines          *diffline.Index
	reviewComments map[models.Anchor]*models.ReviewComment
}

// NewClient creates a client for the given server and access token.
func NewClient(baseURL, token string) *Client {
	return NewClientWithTransport(NewTransport(baseURL, token))
}

// NewClientWithTransport creates a client over an existing transport.
func NewClientWithTransport(transport *Transport) *Client {
	return &Client{
		transport:      transport,
		cache:          newMemoryCache(),
		drafts:         draft.NewRegistry(),
		reviewComments: make(map[models.Anchor]*models.ReviewComment),
	}
}

// LoadDiff parses a unified diff into the line index used for code_line
// snapshots. Loading a diff drops all drafts: any snapshot taken against
// the previous diff view is stale from here on.
func (c *Client) LoadDiff(diffText string) error {
	index, err := diffline.Parse(diffText)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.lines = index
	c.mu.Unlock()

	c.drafts.ClearAll()
	return nil
}

// ReadLine returns the text at a diff position, when a diff is loaded and
// the position exists in it.
func (c *Client) ReadLine(filePath string, side models.DiffSide, line int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lines == nil {
		return "", false
	}
	return c.lines.ReadLine(filePath, side, line)
}

func (c *Client) codeLineAt(anchor models.Anchor) *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lines == nil {
		return nil
	}
	return c.lines.CodeLineFor(anchor)
}

// Conversations returns the attempt's conversations, cache-first. A list
// marked stale by an earlier mutation is refetched before being served.
func (c *Client) Conversations(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error) {
	return c.listCached(ctx, attemptID, false)
}

// ConversationsFresh bypasses the cache for a guaranteed-fresh list.
func (c *Client) ConversationsFresh(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error) {
	return c.listFresh(ctx, attemptID, false)
}

// Unresolved returns the attempt's open conversations, cache-first.
func (c *Client) Unresolved(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error) {
	return c.listCached(ctx, attemptID, true)
}

// UnresolvedFresh bypasses the cache for a guaranteed-fresh list.
func (c *Client) UnresolvedFresh(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error) {
	return c.listFresh(ctx, attemptID, true)
}

func (c *Client) listCached(ctx context.Context, attemptID uuid.UUID, unresolvedOnly bool) ([]*models.Conversation, error) {
	if conversations, ok := c.cache.getList(attemptID, unresolvedOnly); ok {
		return conversations, nil
	}
	return c.listFresh(ctx, attemptID, unresolvedOnly)
}

func (c *Client) listFresh(ctx context.Context, attemptID uuid.UUID, unresolvedOnly bool) ([]*models.Conversation, error) {
	var (
		conversations []*models.Conversation
		err           error
	)
	if unresolvedOnly {
		conversations, err = c.transport.ListUnresolved(ctx, attemptID)
	} else {
		conversations, err = c.transport.ListConversations(ctx, attemptID)
	}
	if err != nil {
		return nil, err
	}

	c.cache.putList(attemptID, unresolvedOnly, conversations)
	return conversations, nil
}

// Conversation returns one conversation, serving the cached slot when a
// mutation or earlier fetch populated it.
func (c *Client) Conversation(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, error) {
	if conv, ok := c.cache.getSlot(attemptID, conversationID); ok {
		return conv, nil
	}
	return c.ConversationFresh(ctx, attemptID, conversationID)
}

// ConversationFresh bypasses the slot cache.
func (c *Client) ConversationFresh(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, error) {
	conv, err := c.transport.GetConversation(ctx, attemptID, conversationID)
	if err != nil {
		return nil, err
	}
	c.cache.putSlot(conv)
	return conv, nil
}

// FindActiveAt returns the conversation anchored at the given position, or
// nil when the anchor is free. With legacy data holding several, the newest
// wins.
func (c *Client) FindActiveAt(ctx context.Context, attemptID uuid.UUID, anchor models.Anchor) (*models.Conversation, error) {
	conversations, err := c.Conversations(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	var newest *models.Conversation
	for _, conv := range conversations {
		if conv.Anchor() != anchor {
			continue
		}
		if newest == nil || conv.CreatedAt.After(newest.CreatedAt) {
			newest = conv
		}
	}
	return newest, nil
}

// CreateConversation opens a conversation and writes it through the cache.
func (c *Client) CreateConversation(ctx context.Context, attemptID uuid.UUID, params CreateConversationParams) (*models.Conversation, error) {
	conv, err := c.transport.CreateConversation(ctx, attemptID, params)
	if err != nil {
		return nil, err
	}
	c.cacheUpdated(conv)
	return conv, nil
}

// AddMessage appends a message and writes the returned conversation through
// the cache.
func (c *Client) AddMessage(ctx context.Context, attemptID, conversationID uuid.UUID, content string) (*models.Conversation, error) {
	conv, err := c.transport.AddMessage(ctx, attemptID, conversationID, content)
	if err != nil {
		return nil, err
	}
	c.cacheUpdated(conv)
	return conv, nil
}

// DeleteMessage removes one message. When the server reports the whole
// conversation deleted, the slot is removed rather than updated and the
// bool is true.
func (c *Client) DeleteMessage(ctx context.Context, attemptID, conversationID, messageID uuid.UUID) (*models.Conversation, bool, error) {
	conv, deleted, err := c.transport.DeleteMessage(ctx, attemptID, conversationID, messageID)
	if err != nil {
		return nil, false, err
	}

	if deleted {
		c.cacheRemoved(attemptID, conversationID)
		return nil, true, nil
	}

	c.cacheUpdated(conv)
	return conv, false, nil
}

// Resolve closes the conversation with a summary.
func (c *Client) Resolve(ctx context.Context, attemptID, conversationID uuid.UUID, summary string) (*models.Conversation, error) {
	conv, err := c.transport.Resolve(ctx, attemptID, conversationID, summary)
	if err != nil {
		return nil, err
	}
	c.cacheUpdated(conv)
	return conv, nil
}

// Unresolve reopens the conversation.
func (c *Client) Unresolve(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, error) {
	conv, err := c.transport.Unresolve(ctx, attemptID, conversationID)
	if err != nil {
		return nil, err
	}
	c.cacheUpdated(conv)
	return conv, nil
}

// Delete removes the conversation and its cache slot.
func (c *Client) Delete(ctx context.Context, attemptID, conversationID uuid.UUID) error {
	if err := c.transport.DeleteConversation(ctx, attemptID, conversationID); err != nil {
		return err
	}
	c.cacheRemoved(attemptID, conversationID)
	return nil
}

// Events polls the attempt's event feed after the given cursor.
func (c *Client) Events(ctx context.Context, attemptID uuid.UUID, sinceID int64, limit int) (*EventFeed, error) {
	return c.transport.ListEvents(ctx, attemptID, sinceID, limit)
}

// ExternalComments lists imported provider comments, optionally scoped to
// one file. They are read-only; see PromoteExternalComment for the one way
// to act on them.
func (c *Client) ExternalComments(ctx context.Context, attemptID uuid.UUID, filePath string) ([]*models.ExternalComment, error) {
	return c.transport.ListExternalComments(ctx, attemptID, filePath)
}

// PromoteExternalComment copies an imported comment into a real conversation
// at the same anchor. The external source is never written back to.
func (c *Client) PromoteExternalComment(ctx context.Context, ec *models.ExternalComment) (*models.Conversation, error) {
	anchor := models.Anchor{FilePath: ec.FilePath, Side: ec.Side, LineNumber: ec.LineNumber}
	return c.CreateConversation(ctx, ec.AttemptID, CreateConversationParams{
		FilePath:       ec.FilePath,
		LineNumber:     ec.LineNumber,
		Side:           ec.Side,
		CodeLine:       c.codeLineAt(anchor),
		InitialMessage: ec.Body,
	})
}

func (c *Client) cacheUpdated(conv *models.Conversation) {
	c.cache.putSlot(conv)
	c.cache.markListsStale(conv.AttemptID)
}

func (c *Client) cacheRemoved(attemptID, conversationID uuid.UUID) {
	c.cache.removeSlot(attemptID, conversationID)
	c.cache.markListsStale(attemptID)
}

// SetDraft stores draft text at the anchor. The code_line snapshot is taken
// once, when the anchor first gets a draft, and survives text edits; it is
// only dropped with the draft itself.
func (c *Client) SetDraft(anchor models.Anchor, text string) models.Draft {
	d, ok := c.drafts.Get(anchor)
	if !ok {
		d = models.Draft{Anchor: anchor, CodeLine: c.codeLineAt(anchor)}
	}
	d.Text = text
	c.drafts.Set(d)
	return d
}

// Draft returns the draft at the anchor, if one exists.
func (c *Client) Draft(anchor models.Anchor) (models.Draft, bool) {
	return c.drafts.Get(anchor)
}

// ClearDraft drops the draft at the anchor.
func (c *Client) ClearDraft(anchor models.Anchor) {
	c.drafts.Clear(anchor)
}

// ClearDrafts drops every draft.
func (c *Client) ClearDrafts() {
	c.drafts.ClearAll()
}

// SubmitDraft sends the draft at the anchor to the server: it appends to
// the conversation occupying the anchor when one exists, otherwise it opens
// a new conversation. An empty draft is "nothing to save", not an error:
// the draft is dropped and no request is made. The draft survives a failed
// submit so the text is not lost.
func (c *Client) SubmitDraft(ctx context.Context, attemptID uuid.UUID, anchor models.Anchor) (*models.Conversation, error) {
	d, ok := c.drafts.Get(anchor)
	if !ok {
		return nil, nil
	}
	if strings.TrimSpace(d.Text) == "" {
		c.drafts.Clear(anchor)
		return nil, nil
	}

	target, err := c.FindActiveAt(ctx, attemptID, anchor)
	if err != nil {
		return nil, err
	}

	var conv *models.Conversation
	if target != nil {
		conv, err = c.AddMessage(ctx, attemptID, target.ID, d.Text)
	} else {
		conv, err = c.CreateConversation(ctx, attemptID, CreateConversationParams{
			FilePath:       anchor.FilePath,
			LineNumber:     anchor.LineNumber,
			Side:           anchor.Side,
			CodeLine:       d.CodeLine,
			InitialMessage: d.Text,
		})
	}
	if err != nil {
		return nil, err
	}

	c.drafts.Clear(anchor)
	return conv, nil
}

// AddReviewComment stores a client-local review comment at its anchor,
// replacing any comment already there. Review comments never touch the
// server; they exist to fill overlay slots conversations leave empty.
func (c *Client) AddReviewComment(rc models.ReviewComment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reviewComments[rc.Anchor()] = &rc
}

// RemoveReviewComment drops the review comment at the anchor.
func (c *Client) RemoveReviewComment(anchor models.Anchor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reviewComments, anchor)
}

// ReviewCommentsForFile returns this client's review comments on one file,
// ordered by side then line for stable rendering.
func (c *Client) ReviewCommentsForFile(filePath string) []*models.ReviewComment {
	c.mu.Lock()
	defer c.mu.Unlock()

	comments := make([]*models.ReviewComment, 0)
	for anchor, rc := range c.reviewComments {
		if anchor.FilePath == filePath {
			comments = append(comments, rc)
		}
	}

	sort.Slice(comments, func(i, j int) bool {
		if comments[i].Side != comments[j].Side {
			return comments[i].Side < comments[j].Side
		}
		return comments[i].LineNumber < comments[j].LineNumber
	})
	return comments
}

// Overlay assembles the rendering surface for one file: the attempt's
// conversations, this client's review comments, and imported external
// comments, merged by fixed priority.
func (c *Client) Overlay(ctx context.Context, attemptID uuid.UUID, filePath string) (*overlay.FileOverlay, error) {
	conversations, err := c.Conversations(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	fileConversations := make([]*models.Conversation, 0)
	for _, conv := range conversations {
		if conv.FilePath == filePath {
			fileConversations = append(fileConversations, conv)
		}
	}

	external, err := c.ExternalComments(ctx, attemptID, filePath)
	if err != nil {
		return nil, err
	}

	return overlay.Resolve(fileConversations, c.ReviewCommentsForFile(filePath), external), nil
}
