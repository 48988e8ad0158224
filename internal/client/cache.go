package client

import (
	"sync"

	"github.com/google/uuid"

	"github.com/reviewthread/pkg/models"
)

type slotKey struct {
	attemptID      uuid.UUID
	conversationID uuid.UUID
}

type listKey struct {
	attemptID      uuid.UUID
	unresolvedOnly bool
}

type cachedList struct {
	conversations []*models.Conversation
	stale         bool
}

// memoryCache is the client tier of the sync layer: one conversation slot
// per (attempt, conversation) and two list entries per attempt, each
// carrying a stale flag. Mutations write the authoritative conversation
// into its slot and mark both lists stale; a stale list misses on read so
// the caller refetches before serving it.
type memoryCache struct {
	mu    sync.Mutex
	slots map[slotKey]*models.Conversation
	lists map[listKey]*cachedList
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		slots: make(map[slotKey]*models.Conversation),
		lists: make(map[listKey]*cachedList),
	}
}

func (c *memoryCache) getSlot(attemptID, conversationID uuid.UUID) (*models.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.slots[slotKey{attemptID, conversationID}]
	return conv, ok
}

func (c *memoryCache) putSlot(conv *models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[slotKey{conv.AttemptID, conv.ID}] = conv
}

func (c *memoryCache) removeSlot(attemptID, conversationID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, slotKey{attemptID, conversationID})
}

// getList misses for absent and for stale entries alike.
func (c *memoryCache) getList(attemptID uuid.UUID, unresolvedOnly bool) ([]*models.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lists[listKey{attemptID, unresolvedOnly}]
	if !ok || entry.stale {
		return nil, false
	}
	return entry.conversations, true
}

func (c *memoryCache) putList(attemptID uuid.UUID, unresolvedOnly bool, conversations []*models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[listKey{attemptID, unresolvedOnly}] = &cachedList{conversations: conversations}
}

func (c *memoryCache) markListsStale(attemptID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, unresolvedOnly := range []bool{false, true} {
		if entry, ok := c.lists[listKey{attemptID, unresolvedOnly}]; ok {
			entry.stale = true
		}
	}
}
