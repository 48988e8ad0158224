package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewthread/internal/conversation"
	"github.com/reviewthread/internal/events"
	"github.com/reviewthread/internal/overlay"
	"github.com/reviewthread/internal/retry"
	"github.com/reviewthread/pkg/models"
)

const clientDiff = `diff --git a/handlers.go b/handlers.go
index 1111111..2222222 100644
--- a/handlers.go
+++ b/handlers.go
@@ -3,4 +3,5 @@ func register(mux *Mux) {
 	mux.Get("/health", health)
-	mux.Get("/status", health)
+	mux.Get("/status", status)
+	mux.Post("/flush", flush)
 	mux.run()
 }
`

// fakeServer speaks the wire protocol against in-memory state. Requests are
// counted by method and path so tests can assert which calls the client
// actually made, and the first N requests can be answered with a 503 to
// exercise the retry path.
type fakeServer struct {
	t *testing.T

	mu            sync.Mutex
	hits          map[string]int
	failures      int
	conversations []*models.Conversation
	external      []*models.ExternalComment
	events        []*events.Event
}

func newTestClient(t *testing.T) (*Client, *fakeServer) {
	t.Helper()

	fake := &fakeServer{t: t, hits: make(map[string]int)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "client-test-token")
	c.transport.RetryConfig = retry.RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
	return c, fake
}

func (f *fakeServer) seed(conv *models.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append(f.conversations, conv)
}

func (f *fakeServer) addExternal(ec *models.ExternalComment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.external = append(f.external, ec)
}

func (f *fakeServer) addEvent(ev *events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeServer) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *fakeServer) hitCount(method string, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[method+" "+path]
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.Method+" "+r.URL.Path]++
	failing := f.failures > 0
	if failing {
		f.failures--
	}
	f.mu.Unlock()

	if failing {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 5 || parts[0] != "api" || parts[1] != "v1" || parts[2] != "attempts" {
		f.writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	attemptID, err := uuid.Parse(parts[3])
	if err != nil {
		f.writeError(w, http.StatusBadRequest, "validation_error", "invalid attempt_id: must be a UUID")
		return
	}

	rest := parts[4:]
	switch {
	case len(rest) == 1 && rest[0] == "conversations" && r.Method == http.MethodGet:
		f.writeData(w, http.StatusOK, f.list(attemptID, false))
	case len(rest) == 1 && rest[0] == "conversations" && r.Method == http.MethodPost:
		f.handleCreate(w, r, attemptID)
	case len(rest) == 2 && rest[0] == "conversations" && rest[1] == "unresolved":
		f.writeData(w, http.StatusOK, f.list(attemptID, true))
	case len(rest) == 2 && rest[0] == "conversations" && rest[1] == "events":
		f.handleEvents(w, r, attemptID)
	case len(rest) == 2 && rest[0] == "comments" && rest[1] == "external":
		f.handleExternal(w, r, attemptID)
	case len(rest) == 2 && rest[0] == "conversations":
		f.handleConversation(w, r, attemptID, rest[1])
	case len(rest) == 3 && rest[0] == "conversations" && rest[2] == "messages":
		f.handleAddMessage(w, r, attemptID, rest[1])
	case len(rest) == 3 && rest[0] == "conversations" && rest[2] == "resolve":
		f.handleResolve(w, r, attemptID, rest[1])
	case len(rest) == 3 && rest[0] == "conversations" && rest[2] == "unresolve":
		f.handleUnresolve(w, attemptID, rest[1])
	case len(rest) == 4 && rest[0] == "conversations" && rest[2] == "messages":
		f.handleDeleteMessage(w, attemptID, rest[1], rest[3])
	default:
		f.writeError(w, http.StatusNotFound, "not_found", "conversation not found")
	}
}

func (f *fakeServer) list(attemptID uuid.UUID, unresolvedOnly bool) []*models.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*models.Conversation, 0)
	for _, conv := range f.conversations {
		if conv.AttemptID != attemptID {
			continue
		}
		if unresolvedOnly && conv.IsResolved {
			continue
		}
		out = append(out, conv)
	}
	return out
}

// find and remove expect f.mu to be held.
func (f *fakeServer) find(attemptID uuid.UUID, id string) (*models.Conversation, bool) {
	conversationID, err := uuid.Parse(id)
	if err != nil {
		return nil, false
	}
	for _, conv := range f.conversations {
		if conv.AttemptID == attemptID && conv.ID == conversationID {
			return conv, true
		}
	}
	return nil, false
}

func (f *fakeServer) remove(conversationID uuid.UUID) {
	kept := f.conversations[:0]
	for _, conv := range f.conversations {
		if conv.ID != conversationID {
			kept = append(kept, conv)
		}
	}
	f.conversations = kept
}

func (f *fakeServer) handleCreate(w http.ResponseWriter, r *http.Request, attemptID uuid.UUID) {
	var params CreateConversationParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		f.writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	anchor := models.Anchor{FilePath: params.FilePath, Side: params.Side, LineNumber: params.LineNumber}
	for _, conv := range f.conversations {
		if conv.AttemptID == attemptID && conv.Anchor() == anchor {
			f.writeError(w, http.StatusBadRequest, "validation_error",
				"invalid line_number: an active conversation already exists at this position")
			return
		}
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:         uuid.New(),
		AttemptID:  attemptID,
		FilePath:   params.FilePath,
		LineNumber: params.LineNumber,
		Side:       params.Side,
		CodeLine:   params.CodeLine,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	conv.Messages = []*models.Message{{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Author:         "tester",
		Content:        params.InitialMessage,
		CreatedAt:      now,
	}}
	f.conversations = append(f.conversations, conv)
	f.writeData(w, http.StatusCreated, conv)
}

func (f *fakeServer) handleConversation(w http.ResponseWriter, r *http.Request, attemptID uuid.UUID, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.find(attemptID, id)
	if !ok {
		f.writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		f.writeData(w, http.StatusOK, conv)
	case http.MethodDelete:
		f.remove(conv.ID)
		f.writeData(w, http.StatusOK, map[string]bool{"deleted": true})
	default:
		f.writeError(w, http.StatusNotFound, "not_found", "conversation not found")
	}
}

func (f *fakeServer) handleAddMessage(w http.ResponseWriter, r *http.Request, attemptID uuid.UUID, id string) {
	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.find(attemptID, id)
	if !ok {
		f.writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}

	now := time.Now().UTC()
	conv.Messages = append(conv.Messages, &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Author:         "tester",
		Content:        req.Content,
		CreatedAt:      now,
	})
	conv.UpdatedAt = now
	f.writeData(w, http.StatusOK, conv)
}

func (f *fakeServer) handleDeleteMessage(w http.ResponseWriter, attemptID uuid.UUID, id, messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.find(attemptID, id)
	if !ok {
		f.writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}

	target, err := uuid.Parse(messageID)
	if err != nil {
		f.writeError(w, http.StatusBadRequest, "validation_error", "invalid message_id: must be a UUID")
		return
	}

	kept := make([]*models.Message, 0, len(conv.Messages))
	found := false
	for _, msg := range conv.Messages {
		if msg.ID == target {
			found = true
			continue
		}
		kept = append(kept, msg)
	}
	if !found {
		f.writeError(w, http.StatusNotFound, "not_found", "message not found")
		return
	}

	if len(kept) == 0 {
		f.remove(conv.ID)
		f.writeData(w, http.StatusOK, deleteMessageResult{Deleted: true})
		return
	}

	conv.Messages = kept
	f.writeData(w, http.StatusOK, deleteMessageResult{Deleted: false, Conversation: conv})
}

func (f *fakeServer) handleResolve(w http.ResponseWriter, r *http.Request, attemptID uuid.UUID, id string) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.find(attemptID, id)
	if !ok {
		f.writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	if conv.IsResolved {
		f.writeError(w, http.StatusConflict, "already_resolved", "conversation already resolved")
		return
	}

	now := time.Now().UTC()
	resolver := "tester"
	conv.IsResolved = true
	conv.ResolvedBy = &resolver
	conv.ResolvedAt = &now
	conv.ResolutionSummary = &req.Summary
	conv.UpdatedAt = now
	f.writeData(w, http.StatusOK, conv)
}

func (f *fakeServer) handleUnresolve(w http.ResponseWriter, attemptID uuid.UUID, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.find(attemptID, id)
	if !ok {
		f.writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}

	conv.IsResolved = false
	conv.ResolvedBy = nil
	conv.ResolvedAt = nil
	conv.ResolutionSummary = nil
	conv.UpdatedAt = time.Now().UTC()
	f.writeData(w, http.StatusOK, conv)
}

func (f *fakeServer) handleEvents(w http.ResponseWriter, r *http.Request, attemptID uuid.UUID) {
	since, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	if err != nil {
		f.writeError(w, http.StatusBadRequest, "validation_error", "invalid since: must be a non-negative integer")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*events.Event, 0)
	lastID := since
	for _, ev := range f.events {
		if ev.AttemptID == attemptID && ev.ID > since {
			out = append(out, ev)
			lastID = ev.ID
		}
	}
	f.writeData(w, http.StatusOK, map[string]interface{}{
		"events":  out,
		"last_id": lastID,
		"count":   len(out),
	})
}

func (f *fakeServer) handleExternal(w http.ResponseWriter, r *http.Request, attemptID uuid.UUID) {
	filePath := r.URL.Query().Get("file_path")

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*models.ExternalComment, 0)
	for _, ec := range f.external {
		if ec.AttemptID != attemptID {
			continue
		}
		if filePath != "" && ec.FilePath != filePath {
			continue
		}
		out = append(out, ec)
	}
	f.writeData(w, http.StatusOK, out)
}

func (f *fakeServer) writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
	if err != nil {
		f.t.Errorf("encode response: %v", err)
	}
}

func (f *fakeServer) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   map[string]string{"type": errType, "message": message},
	})
	if err != nil {
		f.t.Errorf("encode response: %v", err)
	}
}

func anchoredConversation(attemptID uuid.UUID, filePath string, side models.DiffSide, line int64) *models.Conversation {
	now := time.Now().UTC().Truncate(time.Second)
	conv := &models.Conversation{
		ID:         uuid.New(),
		AttemptID:  attemptID,
		FilePath:   filePath,
		LineNumber: line,
		Side:       side,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	conv.Messages = []*models.Message{{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Author:         "alice",
		Content:        "seeded",
		CreatedAt:      now,
	}}
	return conv
}

func listPath(attemptID uuid.UUID) string {
	return fmt.Sprintf("/api/v1/attempts/%s/conversations", attemptID)
}

func conversationPath(attemptID, conversationID uuid.UUID) string {
	return fmt.Sprintf("/api/v1/attempts/%s/conversations/%s", attemptID, conversationID)
}

func TestClientListCache(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()
	fake.seed(anchoredConversation(attemptID, "a.go", models.SideNew, 5))

	first, err := c.Conversations(ctx, attemptID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := c.Conversations(ctx, attemptID)
	require.NoError(t, err)
	assert.Len(t, second, 1)
	assert.Equal(t, 1, fake.hitCount(http.MethodGet, listPath(attemptID)),
		"the second read must be served from cache")

	_, err = c.ConversationsFresh(ctx, attemptID)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.hitCount(http.MethodGet, listPath(attemptID)))
}

func TestClientMutationInvalidatesLists(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()

	initial, err := c.Conversations(ctx, attemptID)
	require.NoError(t, err)
	assert.Empty(t, initial)

	created, err := c.CreateConversation(ctx, attemptID, CreateConversationParams{
		FilePath:       "a.go",
		LineNumber:     5,
		Side:           models.SideNew,
		InitialMessage: "does this handle nil?",
	})
	require.NoError(t, err)

	listed, err := c.Conversations(ctx, attemptID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
	assert.Equal(t, 2, fake.hitCount(http.MethodGet, listPath(attemptID)),
		"the create must force the next list read back to the server")
}

func TestClientSlotWriteThrough(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()

	created, err := c.CreateConversation(ctx, attemptID, CreateConversationParams{
		FilePath:       "a.go",
		LineNumber:     5,
		Side:           models.SideNew,
		InitialMessage: "first",
	})
	require.NoError(t, err)

	got, err := c.Conversation(ctx, attemptID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 0, fake.hitCount(http.MethodGet, conversationPath(attemptID, created.ID)),
		"the create already populated the slot")

	fresh, err := c.ConversationFresh(ctx, attemptID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fresh.ID)
	assert.Equal(t, 1, fake.hitCount(http.MethodGet, conversationPath(attemptID, created.ID)))
}

func TestClientResolveLifecycle(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()
	seeded := anchoredConversation(attemptID, "a.go", models.SideNew, 5)
	fake.seed(seeded)

	resolved, err := c.Resolve(ctx, attemptID, seeded.ID, "fixed in 4e7a21c")
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)
	require.NotNil(t, resolved.ResolutionSummary)
	assert.Equal(t, "fixed in 4e7a21c", *resolved.ResolutionSummary)

	_, err = c.Resolve(ctx, attemptID, seeded.ID, "again")
	assert.ErrorIs(t, err, conversation.ErrAlreadyResolved)

	open, err := c.Unresolved(ctx, attemptID)
	require.NoError(t, err)
	assert.Empty(t, open)

	reopened, err := c.Unresolve(ctx, attemptID, seeded.ID)
	require.NoError(t, err)
	assert.False(t, reopened.IsResolved)
	assert.Nil(t, reopened.ResolutionSummary)

	open, err = c.Unresolved(ctx, attemptID)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestClientDeleteMessage(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()

	conv := anchoredConversation(attemptID, "a.go", models.SideNew, 5)
	first := conv.Messages[0]
	second := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Author:         "bob",
		Content:        "agreed",
		CreatedAt:      conv.CreatedAt,
	}
	conv.Messages = append(conv.Messages, second)
	fake.seed(conv)

	t.Run("KeepsConversationWhileMessagesRemain", func(t *testing.T) {
		updated, deleted, err := c.DeleteMessage(ctx, attemptID, conv.ID, second.ID)
		require.NoError(t, err)
		assert.False(t, deleted)
		require.NotNil(t, updated)
		require.Len(t, updated.Messages, 1)
		assert.Equal(t, first.ID, updated.Messages[0].ID)
	})

	t.Run("LastMessageDeletesConversation", func(t *testing.T) {
		updated, deleted, err := c.DeleteMessage(ctx, attemptID, conv.ID, first.ID)
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.Nil(t, updated)

		_, err = c.Conversation(ctx, attemptID, conv.ID)
		assert.ErrorIs(t, err, conversation.ErrConversationNotFound,
			"the cascade must also evict the cached slot")
	})

	t.Run("MissingMessage", func(t *testing.T) {
		other := anchoredConversation(attemptID, "b.go", models.SideOld, 3)
		fake.seed(other)

		_, _, err := c.DeleteMessage(ctx, attemptID, other.ID, uuid.New())
		assert.ErrorIs(t, err, conversation.ErrMessageNotFound)
	})
}

func TestClientDelete(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()
	seeded := anchoredConversation(attemptID, "a.go", models.SideNew, 5)
	fake.seed(seeded)

	require.NoError(t, c.Delete(ctx, attemptID, seeded.ID))

	_, err := c.Conversation(ctx, attemptID, seeded.ID)
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)

	err = c.Delete(ctx, attemptID, seeded.ID)
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
}

func TestClientErrorMapping(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()

	t.Run("MissingConversation", func(t *testing.T) {
		_, err := c.ConversationFresh(ctx, attemptID, uuid.New())
		assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
	})

	t.Run("OccupiedAnchor", func(t *testing.T) {
		fake.seed(anchoredConversation(attemptID, "a.go", models.SideNew, 5))

		_, err := c.CreateConversation(ctx, attemptID, CreateConversationParams{
			FilePath:       "a.go",
			LineNumber:     5,
			Side:           models.SideNew,
			InitialMessage: "duplicate",
		})
		require.Error(t, err)
		assert.True(t, conversation.IsValidation(err))
		assert.Contains(t, err.Error(), "active conversation")
	})
}

func TestClientReadRetries(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()
	fake.seed(anchoredConversation(attemptID, "a.go", models.SideNew, 5))

	t.Run("ReadsRetryTransientFailures", func(t *testing.T) {
		fake.setFailures(1)

		listed, err := c.Conversations(ctx, attemptID)
		require.NoError(t, err)
		assert.Len(t, listed, 1)
		assert.Equal(t, 2, fake.hitCount(http.MethodGet, listPath(attemptID)))
	})

	t.Run("MutationsNeverRetry", func(t *testing.T) {
		fake.setFailures(1)

		_, err := c.CreateConversation(ctx, attemptID, CreateConversationParams{
			FilePath:       "b.go",
			LineNumber:     1,
			Side:           models.SideNew,
			InitialMessage: "once only",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
		assert.Equal(t, 1, fake.hitCount(http.MethodPost, listPath(attemptID)),
			"a timed-out create may have applied, so it is never resent")
	})
}

func TestClientSubmitDraft(t *testing.T) {
	ctx := context.Background()
	anchor := models.Anchor{FilePath: "handlers.go", Side: models.SideNew, LineNumber: 5}

	t.Run("CreatesConversationAtFreeAnchor", func(t *testing.T) {
		c, _ := newTestClient(t)
		attemptID := uuid.New()
		require.NoError(t, c.LoadDiff(clientDiff))

		c.SetDraft(anchor, "should this be rate limited?")

		conv, err := c.SubmitDraft(ctx, attemptID, anchor)
		require.NoError(t, err)
		require.NotNil(t, conv)
		require.NotNil(t, conv.CodeLine)
		assert.Equal(t, "\tmux.Post(\"/flush\", flush)", *conv.CodeLine)
		require.Len(t, conv.Messages, 1)
		assert.Equal(t, "should this be rate limited?", conv.Messages[0].Content)

		_, ok := c.Draft(anchor)
		assert.False(t, ok, "a successful submit consumes the draft")
	})

	t.Run("AppendsWhenAnchorIsOccupied", func(t *testing.T) {
		c, fake := newTestClient(t)
		attemptID := uuid.New()
		existing := anchoredConversation(attemptID, anchor.FilePath, anchor.Side, anchor.LineNumber)
		fake.seed(existing)

		c.SetDraft(anchor, "following up")

		conv, err := c.SubmitDraft(ctx, attemptID, anchor)
		require.NoError(t, err)
		require.NotNil(t, conv)
		assert.Equal(t, existing.ID, conv.ID)
		require.Len(t, conv.Messages, 2)
		assert.Equal(t, "following up", conv.Messages[1].Content)
		assert.Equal(t, 0, fake.hitCount(http.MethodPost, listPath(attemptID)),
			"an occupied anchor appends instead of opening a second conversation")
	})

	t.Run("EmptyDraftIsNothingToSave", func(t *testing.T) {
		c, fake := newTestClient(t)
		attemptID := uuid.New()

		c.SetDraft(anchor, "   \n\t")

		conv, err := c.SubmitDraft(ctx, attemptID, anchor)
		require.NoError(t, err)
		assert.Nil(t, conv)
		assert.Equal(t, 0, fake.hitCount(http.MethodPost, listPath(attemptID)))

		_, ok := c.Draft(anchor)
		assert.False(t, ok, "a blank draft is dropped, not submitted")
	})

	t.Run("NoDraftIsANoOp", func(t *testing.T) {
		c, _ := newTestClient(t)

		conv, err := c.SubmitDraft(ctx, uuid.New(), anchor)
		require.NoError(t, err)
		assert.Nil(t, conv)
	})

	t.Run("FailedSubmitKeepsDraft", func(t *testing.T) {
		c, fake := newTestClient(t)
		attemptID := uuid.New()

		// Prime the cache while the anchor is free, then let another
		// reviewer take it. The stale view routes the submit to a create,
		// which the server refuses.
		_, err := c.Conversations(ctx, attemptID)
		require.NoError(t, err)
		fake.seed(anchoredConversation(attemptID, anchor.FilePath, anchor.Side, anchor.LineNumber))

		c.SetDraft(anchor, "racing comment")

		_, err = c.SubmitDraft(ctx, attemptID, anchor)
		require.Error(t, err)
		assert.True(t, conversation.IsValidation(err))

		d, ok := c.Draft(anchor)
		require.True(t, ok, "a failed submit must not lose the draft text")
		assert.Equal(t, "racing comment", d.Text)

		// After a fresh read the same submit lands as a reply.
		_, err = c.ConversationsFresh(ctx, attemptID)
		require.NoError(t, err)

		conv, err := c.SubmitDraft(ctx, attemptID, anchor)
		require.NoError(t, err)
		require.NotNil(t, conv)
		assert.Equal(t, "racing comment", conv.Messages[len(conv.Messages)-1].Content)
	})
}

func TestClientDraftSnapshots(t *testing.T) {
	c, _ := newTestClient(t)
	anchor := models.Anchor{FilePath: "handlers.go", Side: models.SideNew, LineNumber: 5}

	t.Run("WithoutDiffThereIsNoSnapshot", func(t *testing.T) {
		d := c.SetDraft(anchor, "note to self")
		assert.Nil(t, d.CodeLine)
		c.ClearDraft(anchor)
	})

	t.Run("SnapshotTakenOnceAndSurvivesEdits", func(t *testing.T) {
		require.NoError(t, c.LoadDiff(clientDiff))

		first := c.SetDraft(anchor, "v1")
		require.NotNil(t, first.CodeLine)
		assert.Equal(t, "\tmux.Post(\"/flush\", flush)", *first.CodeLine)

		edited := c.SetDraft(anchor, "v2 with more context")
		assert.Equal(t, "v2 with more context", edited.Text)
		require.NotNil(t, edited.CodeLine)
		assert.Equal(t, *first.CodeLine, *edited.CodeLine)
	})

	t.Run("LoadDiffDropsDrafts", func(t *testing.T) {
		c.SetDraft(anchor, "draft against the old view")
		require.NoError(t, c.LoadDiff(clientDiff))

		_, ok := c.Draft(anchor)
		assert.False(t, ok)
	})

	t.Run("ReadLine", func(t *testing.T) {
		text, ok := c.ReadLine("handlers.go", models.SideOld, 4)
		require.True(t, ok)
		assert.Equal(t, "\tmux.Get(\"/status\", health)", text)

		_, ok = c.ReadLine("missing.go", models.SideNew, 1)
		assert.False(t, ok)
	})
}

func TestClientReviewComments(t *testing.T) {
	c, _ := newTestClient(t)

	c.AddReviewComment(models.ReviewComment{FilePath: "a.go", Side: models.SideNew, LineNumber: 9, Author: "dana", Body: "nit: rename"})
	c.AddReviewComment(models.ReviewComment{FilePath: "a.go", Side: models.SideOld, LineNumber: 3, Author: "dana", Body: "dead branch"})
	c.AddReviewComment(models.ReviewComment{FilePath: "a.go", Side: models.SideNew, LineNumber: 2, Author: "dana", Body: "typo"})
	c.AddReviewComment(models.ReviewComment{FilePath: "b.go", Side: models.SideNew, LineNumber: 1, Author: "dana", Body: "other file"})

	comments := c.ReviewCommentsForFile("a.go")
	require.Len(t, comments, 3)
	assert.Equal(t, int64(2), comments[0].LineNumber)
	assert.Equal(t, int64(9), comments[1].LineNumber)
	assert.Equal(t, models.SideOld, comments[2].Side)

	// Writing to an occupied anchor replaces the comment.
	c.AddReviewComment(models.ReviewComment{FilePath: "a.go", Side: models.SideNew, LineNumber: 2, Author: "dana", Body: "typo: recieve"})
	comments = c.ReviewCommentsForFile("a.go")
	require.Len(t, comments, 3)
	assert.Equal(t, "typo: recieve", comments[0].Body)

	c.RemoveReviewComment(models.Anchor{FilePath: "a.go", Side: models.SideOld, LineNumber: 3})
	assert.Len(t, c.ReviewCommentsForFile("a.go"), 2)
	assert.Empty(t, c.ReviewCommentsForFile("missing.go"))
}

func TestClientOverlay(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()

	conv := anchoredConversation(attemptID, "a.go", models.SideNew, 5)
	fake.seed(conv)
	fake.seed(anchoredConversation(attemptID, "other.go", models.SideNew, 1))

	c.AddReviewComment(models.ReviewComment{FilePath: "a.go", Side: models.SideNew, LineNumber: 5, Author: "dana", Body: "shadowed by the conversation"})
	c.AddReviewComment(models.ReviewComment{FilePath: "a.go", Side: models.SideOld, LineNumber: 3, Author: "dana", Body: "left pane note"})

	remoteID := "gl-901"
	fake.addExternal(&models.ExternalComment{
		ID:         uuid.New(),
		AttemptID:  attemptID,
		FilePath:   "a.go",
		Side:       models.SideNew,
		LineNumber: 9,
		Author:     "reviewer-bot",
		Body:       "imported",
		RemoteID:   &remoteID,
		ImportedAt: time.Now().UTC(),
	})
	fake.addExternal(&models.ExternalComment{
		ID:         uuid.New(),
		AttemptID:  attemptID,
		FilePath:   "a.go",
		Side:       models.SideNew,
		LineNumber: 5,
		Author:     "reviewer-bot",
		Body:       "also shadowed",
		ImportedAt: time.Now().UTC(),
	})

	ov, err := c.Overlay(ctx, attemptID, "a.go")
	require.NoError(t, err)

	entry, ok := ov.At(models.SideNew, 5)
	require.True(t, ok)
	assert.Equal(t, overlay.KindConversation, entry.Kind)
	require.NotNil(t, entry.Conversation)
	assert.Equal(t, conv.ID, entry.Conversation.ID)

	entry, ok = ov.At(models.SideOld, 3)
	require.True(t, ok)
	assert.Equal(t, overlay.KindReviewComment, entry.Kind)

	entry, ok = ov.At(models.SideNew, 9)
	require.True(t, ok)
	assert.Equal(t, overlay.KindExternalComment, entry.Kind)

	_, ok = ov.At(models.SideNew, 1)
	assert.False(t, ok, "conversations on other files must not leak into the overlay")
}

func TestClientEvents(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()

	fake.addEvent(&events.Event{ID: 4, AttemptID: attemptID, EventType: events.TypeConversationCreated, Timestamp: time.Now().UTC()})
	fake.addEvent(&events.Event{ID: 9, AttemptID: attemptID, EventType: events.TypeConversationResolved, Timestamp: time.Now().UTC()})
	fake.addEvent(&events.Event{ID: 11, AttemptID: uuid.New(), EventType: events.TypeConversationDeleted, Timestamp: time.Now().UTC()})

	feed, err := c.Events(ctx, attemptID, 4, 0)
	require.NoError(t, err)
	require.Len(t, feed.Events, 1)
	assert.Equal(t, events.TypeConversationResolved, feed.Events[0].EventType)
	assert.Equal(t, int64(9), feed.LastID)

	feed, err = c.Events(ctx, attemptID, 9, 0)
	require.NoError(t, err)
	assert.Empty(t, feed.Events)
	assert.Equal(t, int64(9), feed.LastID, "an empty page echoes the request cursor")
}

func TestClientPromoteExternalComment(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()
	require.NoError(t, c.LoadDiff(clientDiff))

	remoteID := "gl-417"
	ec := &models.ExternalComment{
		ID:         uuid.New(),
		AttemptID:  attemptID,
		FilePath:   "handlers.go",
		Side:       models.SideNew,
		LineNumber: 5,
		Author:     "reviewer-bot",
		Body:       "flush endpoint needs auth",
		RemoteID:   &remoteID,
		ImportedAt: time.Now().UTC(),
	}
	fake.addExternal(ec)

	conv, err := c.PromoteExternalComment(ctx, ec)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, ec.FilePath, conv.FilePath)
	assert.Equal(t, ec.LineNumber, conv.LineNumber)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, ec.Body, conv.Messages[0].Content)
	require.NotNil(t, conv.CodeLine)
	assert.Equal(t, "\tmux.Post(\"/flush\", flush)", *conv.CodeLine)

	// Promotion copies; the import row stays where it is.
	remaining, err := c.ExternalComments(ctx, attemptID, "")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestClientFindActiveAt(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	attemptID := uuid.New()
	anchor := models.Anchor{FilePath: "a.go", Side: models.SideNew, LineNumber: 5}

	found, err := c.FindActiveAt(ctx, attemptID, anchor)
	require.NoError(t, err)
	assert.Nil(t, found)

	older := anchoredConversation(attemptID, anchor.FilePath, anchor.Side, anchor.LineNumber)
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := anchoredConversation(attemptID, anchor.FilePath, anchor.Side, anchor.LineNumber)
	fake.seed(older)
	fake.seed(newer)

	// The miss above cached an empty list; refresh before scanning again.
	_, err = c.ConversationsFresh(ctx, attemptID)
	require.NoError(t, err)

	found, err = c.FindActiveAt(ctx, attemptID, anchor)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, newer.ID, found.ID, "with legacy duplicates the newest wins")
}
