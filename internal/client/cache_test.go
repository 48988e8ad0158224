package client

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewthread/pkg/models"
)

func TestMemoryCacheSlots(t *testing.T) {
	cache := newMemoryCache()
	conv := &models.Conversation{ID: uuid.New(), AttemptID: uuid.New()}

	_, ok := cache.getSlot(conv.AttemptID, conv.ID)
	assert.False(t, ok)

	cache.putSlot(conv)
	got, ok := cache.getSlot(conv.AttemptID, conv.ID)
	require.True(t, ok)
	assert.Equal(t, conv.ID, got.ID)

	// Slots are scoped to the attempt.
	_, ok = cache.getSlot(uuid.New(), conv.ID)
	assert.False(t, ok)

	cache.removeSlot(conv.AttemptID, conv.ID)
	_, ok = cache.getSlot(conv.AttemptID, conv.ID)
	assert.False(t, ok)
}

func TestMemoryCacheLists(t *testing.T) {
	cache := newMemoryCache()
	attemptID := uuid.New()
	other := uuid.New()

	_, ok := cache.getList(attemptID, false)
	assert.False(t, ok)

	conv := &models.Conversation{ID: uuid.New(), AttemptID: attemptID}
	cache.putList(attemptID, false, []*models.Conversation{conv})
	cache.putList(other, false, []*models.Conversation{})

	listed, ok := cache.getList(attemptID, false)
	require.True(t, ok)
	assert.Len(t, listed, 1)

	cache.markListsStale(attemptID)
	_, ok = cache.getList(attemptID, false)
	assert.False(t, ok, "a stale list reads as a miss")
	_, ok = cache.getList(other, false)
	assert.True(t, ok, "staleness is scoped to the attempt")

	cache.putList(attemptID, false, []*models.Conversation{conv})
	_, ok = cache.getList(attemptID, false)
	assert.True(t, ok, "a refetch makes the list fresh again")
}

func TestMemoryCacheListsAreKeyedByFilter(t *testing.T) {
	cache := newMemoryCache()
	attemptID := uuid.New()

	cache.putList(attemptID, false, []*models.Conversation{})
	_, ok := cache.getList(attemptID, true)
	assert.False(t, ok, "the unresolved list has its own entry")

	cache.putList(attemptID, true, []*models.Conversation{})
	cache.markListsStale(attemptID)
	_, ok = cache.getList(attemptID, false)
	assert.False(t, ok)
	_, ok = cache.getList(attemptID, true)
	assert.False(t, ok, "one mutation stales both views of the attempt")
}
