package overlay

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewthread/pkg/models"
)

func conversationAt(side models.DiffSide, line int64) *models.Conversation {
	return &models.Conversation{
		ID:         uuid.New(),
		AttemptID:  uuid.New(),
		FilePath:   "main.go",
		Side:       side,
		LineNumber: line,
		Messages:   []*models.Message{{Content: "thread"}},
	}
}

func reviewCommentAt(side models.DiffSide, line int64) *models.ReviewComment {
	return &models.ReviewComment{FilePath: "main.go", Side: side, LineNumber: line, Author: "bob", Body: "note"}
}

func externalCommentAt(side models.DiffSide, line int64) *models.ExternalComment {
	return &models.ExternalComment{
		ID:         uuid.New(),
		FilePath:   "main.go",
		Side:       side,
		LineNumber: line,
		Author:     "reviewer-bot",
		Body:       "imported",
	}
}

func TestResolvePriority(t *testing.T) {
	conv := conversationAt(models.SideNew, 42)
	rc := reviewCommentAt(models.SideNew, 42)
	ec := externalCommentAt(models.SideNew, 42)

	t.Run("ConversationWinsTheSlot", func(t *testing.T) {
		o := Resolve([]*models.Conversation{conv}, []*models.ReviewComment{rc}, []*models.ExternalComment{ec})

		entry, ok := o.At(models.SideNew, 42)
		require.True(t, ok)
		assert.Equal(t, KindConversation, entry.Kind)
		assert.Equal(t, conv.ID, entry.Conversation.ID)
		assert.Nil(t, entry.ReviewComment)
		assert.Nil(t, entry.ExternalComment)
	})

	t.Run("RemovingConversationPromotesReviewComment", func(t *testing.T) {
		o := Resolve(nil, []*models.ReviewComment{rc}, []*models.ExternalComment{ec})

		entry, ok := o.At(models.SideNew, 42)
		require.True(t, ok)
		assert.Equal(t, KindReviewComment, entry.Kind)
		assert.Equal(t, rc, entry.ReviewComment)
	})

	t.Run("RemovingBothPromotesExternalComment", func(t *testing.T) {
		o := Resolve(nil, nil, []*models.ExternalComment{ec})

		entry, ok := o.At(models.SideNew, 42)
		require.True(t, ok)
		assert.Equal(t, KindExternalComment, entry.Kind)
		assert.Equal(t, ec.ID, entry.ExternalComment.ID)
	})
}

func TestResolveSidesAreIndependent(t *testing.T) {
	oldConv := conversationAt(models.SideOld, 7)
	newComment := reviewCommentAt(models.SideNew, 7)

	o := Resolve([]*models.Conversation{oldConv}, []*models.ReviewComment{newComment}, nil)

	oldEntry, ok := o.At(models.SideOld, 7)
	require.True(t, ok)
	assert.Equal(t, KindConversation, oldEntry.Kind)

	newEntry, ok := o.At(models.SideNew, 7)
	require.True(t, ok)
	assert.Equal(t, KindReviewComment, newEntry.Kind)
}

func TestResolveLowerTiersFillGaps(t *testing.T) {
	conv := conversationAt(models.SideNew, 1)
	rc := reviewCommentAt(models.SideNew, 2)
	ec1 := externalCommentAt(models.SideNew, 3)
	ec2 := externalCommentAt(models.SideNew, 1) // shadowed by the conversation

	o := Resolve([]*models.Conversation{conv}, []*models.ReviewComment{rc}, []*models.ExternalComment{ec1, ec2})

	require.Len(t, o.New, 3)
	assert.Equal(t, KindConversation, o.New[1].Kind)
	assert.Equal(t, KindReviewComment, o.New[2].Kind)
	assert.Equal(t, KindExternalComment, o.New[3].Kind)
	assert.Empty(t, o.Old)
}

func TestResolveOrderIndependentAcrossTiers(t *testing.T) {
	convA := conversationAt(models.SideNew, 1)
	convB := conversationAt(models.SideOld, 9)
	rc := reviewCommentAt(models.SideNew, 2)
	ec := externalCommentAt(models.SideOld, 9) // loses to convB either way

	forward := Resolve([]*models.Conversation{convA, convB}, []*models.ReviewComment{rc}, []*models.ExternalComment{ec})
	reversed := Resolve([]*models.Conversation{convB, convA}, []*models.ReviewComment{rc}, []*models.ExternalComment{ec})

	if diff := cmp.Diff(forward, reversed); diff != "" {
		t.Errorf("overlay differs with conversation order (-forward +reversed):\n%s", diff)
	}
}

func TestResolveResolvedConversationStillOccupiesSlot(t *testing.T) {
	conv := conversationAt(models.SideNew, 5)
	conv.IsResolved = true
	summary := "handled"
	conv.ResolutionSummary = &summary
	rc := reviewCommentAt(models.SideNew, 5)

	o := Resolve([]*models.Conversation{conv}, []*models.ReviewComment{rc}, nil)

	entry, ok := o.At(models.SideNew, 5)
	require.True(t, ok)
	assert.Equal(t, KindConversation, entry.Kind)
	assert.True(t, entry.Conversation.IsResolved)
}

func TestResolveEmptySources(t *testing.T) {
	o := Resolve(nil, nil, nil)

	assert.NotNil(t, o.Old)
	assert.NotNil(t, o.New)
	assert.Empty(t, o.Old)
	assert.Empty(t, o.New)

	_, ok := o.At(models.SideNew, 1)
	assert.False(t, ok)

	// Unknown side is simply absent, not a panic
	_, ok = o.At(models.DiffSide("left"), 1)
	assert.False(t, ok)
}

func TestResolveFirstEntryWinsWithinTier(t *testing.T) {
	first := reviewCommentAt(models.SideNew, 4)
	second := reviewCommentAt(models.SideNew, 4)
	second.Body = "late arrival"

	o := Resolve(nil, []*models.ReviewComment{first, second}, nil)

	entry, ok := o.At(models.SideNew, 4)
	require.True(t, ok)
	assert.Equal(t, "note", entry.ReviewComment.Body)
}
