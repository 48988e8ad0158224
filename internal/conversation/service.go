package conversation

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reviewthread/pkg/models"
)

// Store is the persistence surface the service drives. *Storage is the
// Postgres implementation; tests substitute fakes.
type Store interface {
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error)
	ListUnresolved(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error)
	Get(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, error)
	FindActiveAt(ctx context.Context, attemptID uuid.UUID, filePath string, side models.DiffSide, lineNumber int64) (*models.Conversation, error)
	Create(ctx context.Context, attemptID uuid.UUID, filePath string, lineNumber int64, side models.DiffSide, codeLine *string, initialMessage, author string) (*models.Conversation, error)
	AddMessage(ctx context.Context, attemptID, conversationID uuid.UUID, content, author string) (*models.Conversation, error)
	DeleteMessage(ctx context.Context, attemptID, conversationID, messageID uuid.UUID) (*models.Conversation, bool, error)
	Resolve(ctx context.Context, attemptID, conversationID uuid.UUID, summary, resolver string) (*models.Conversation, error)
	Unresolve(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, error)
	Delete(ctx context.Context, attemptID, conversationID uuid.UUID) error
}

// ViewCache is the read cache the service keeps coherent: every successful
// mutation writes the authoritative conversation into its slot and drops both
// list entries for the attempt; deletions remove the slot instead of updating
// it. Implementations must absorb their own failures: a broken cache
// degrades reads to the store, it never fails an operation.
type ViewCache interface {
	GetConversation(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, bool)
	PutConversation(ctx context.Context, conv *models.Conversation)
	RemoveConversation(ctx context.Context, attemptID, conversationID uuid.UUID)
	GetList(ctx context.Context, attemptID uuid.UUID, unresolvedOnly bool) ([]*models.Conversation, bool)
	PutList(ctx context.Context, attemptID uuid.UUID, unresolvedOnly bool, conversations []*models.Conversation)
	InvalidateLists(ctx context.Context, attemptID uuid.UUID)
}

// EventSink receives a record of every successful mutation so viewers can
// converge by polling the event feed.
type EventSink interface {
	ConversationCreated(ctx context.Context, conv *models.Conversation, actor string) error
	MessageAdded(ctx context.Context, conv *models.Conversation, actor string) error
	MessageDeleted(ctx context.Context, conv *models.Conversation, actor string) error
	ConversationResolved(ctx context.Context, conv *models.Conversation, actor string) error
	ConversationUnresolved(ctx context.Context, conv *models.Conversation, actor string) error
	ConversationDeleted(ctx context.Context, attemptID, conversationID uuid.UUID, actor string) error
	ConversationAutoDeleted(ctx context.Context, attemptID, conversationID uuid.UUID, actor string) error
}

// Service wraps the store with the cache and event-feed plumbing the API
// layer talks to. Cache and sink are both optional; a nil value simply
// disables that concern (the one-shot CLI paths run with neither).
type Service struct {
	store Store
	cache ViewCache
	sink  EventSink
}

// NewService creates a conversation service.
func NewService(store Store, cache ViewCache, sink EventSink) *Service {
	return &Service{store: store, cache: cache, sink: sink}
}

// ListByAttempt returns all conversations for the attempt, cache-first.
func (s *Service) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error) {
	return s.listCached(ctx, attemptID, false)
}

// ListUnresolved returns the attempt's open conversations, cache-first.
func (s *Service) ListUnresolved(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error) {
	return s.listCached(ctx, attemptID, true)
}

func (s *Service) listCached(ctx context.Context, attemptID uuid.UUID, unresolvedOnly bool) ([]*models.Conversation, error) {
	if s.cache != nil {
		if conversations, ok := s.cache.GetList(ctx, attemptID, unresolvedOnly); ok {
			return conversations, nil
		}
	}

	var (
		conversations []*models.Conversation
		err           error
	)
	if unresolvedOnly {
		conversations, err = s.store.ListUnresolved(ctx, attemptID)
	} else {
		conversations, err = s.store.ListByAttempt(ctx, attemptID)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.PutList(ctx, attemptID, unresolvedOnly, conversations)
	}
	return conversations, nil
}

// Get returns one conversation, cache-first.
func (s *Service) Get(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, error) {
	if s.cache != nil {
		if conv, ok := s.cache.GetConversation(ctx, attemptID, conversationID); ok {
			return conv, nil
		}
	}

	conv, err := s.store.Get(ctx, attemptID, conversationID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.PutConversation(ctx, conv)
	}
	return conv, nil
}

// FindActiveAt reports the live conversation at an anchor, or nil.
func (s *Service) FindActiveAt(ctx context.Context, attemptID uuid.UUID, filePath string, side models.DiffSide, lineNumber int64) (*models.Conversation, error) {
	return s.store.FindActiveAt(ctx, attemptID, filePath, side, lineNumber)
}

// Create opens a new conversation with its first message authored by actor.
func (s *Service) Create(ctx context.Context, attemptID uuid.UUID, filePath string, lineNumber int64, side models.DiffSide, codeLine *string, initialMessage, actor string) (*models.Conversation, error) {
	conv, err := s.store.Create(ctx, attemptID, filePath, lineNumber, side, codeLine, initialMessage, actor)
	if err != nil {
		return nil, err
	}

	s.cacheUpdated(ctx, conv)
	if s.sink != nil {
		s.emit(s.sink.ConversationCreated(ctx, conv, actor))
	}
	return conv, nil
}

// AddMessage appends a message authored by actor.
func (s *Service) AddMessage(ctx context.Context, attemptID, conversationID uuid.UUID, content, actor string) (*models.Conversation, error) {
	conv, err := s.store.AddMessage(ctx, attemptID, conversationID, content, actor)
	if err != nil {
		return nil, err
	}

	s.cacheUpdated(ctx, conv)
	if s.sink != nil {
		s.emit(s.sink.MessageAdded(ctx, conv, actor))
	}
	return conv, nil
}

// DeleteMessage removes one message; when the conversation went with it the
// bool is true, the returned conversation is nil, and the cache slot is
// removed rather than updated.
func (s *Service) DeleteMessage(ctx context.Context, attemptID, conversationID, messageID uuid.UUID, actor string) (*models.Conversation, bool, error) {
	conv, deleted, err := s.store.DeleteMessage(ctx, attemptID, conversationID, messageID)
	if err != nil {
		return nil, false, err
	}

	if deleted {
		s.cacheRemoved(ctx, attemptID, conversationID)
		if s.sink != nil {
			s.emit(s.sink.ConversationAutoDeleted(ctx, attemptID, conversationID, actor))
		}
		return nil, true, nil
	}

	s.cacheUpdated(ctx, conv)
	if s.sink != nil {
		s.emit(s.sink.MessageDeleted(ctx, conv, actor))
	}
	return conv, false, nil
}

// Resolve closes a conversation on behalf of actor.
func (s *Service) Resolve(ctx context.Context, attemptID, conversationID uuid.UUID, summary, actor string) (*models.Conversation, error) {
	conv, err := s.store.Resolve(ctx, attemptID, conversationID, summary, actor)
	if err != nil {
		return nil, err
	}

	s.cacheUpdated(ctx, conv)
	if s.sink != nil {
		s.emit(s.sink.ConversationResolved(ctx, conv, actor))
	}
	return conv, nil
}

// Unresolve reopens a conversation.
func (s *Service) Unresolve(ctx context.Context, attemptID, conversationID uuid.UUID, actor string) (*models.Conversation, error) {
	conv, err := s.store.Unresolve(ctx, attemptID, conversationID)
	if err != nil {
		return nil, err
	}

	s.cacheUpdated(ctx, conv)
	if s.sink != nil {
		s.emit(s.sink.ConversationUnresolved(ctx, conv, actor))
	}
	return conv, nil
}

// Delete removes a conversation outright.
func (s *Service) Delete(ctx context.Context, attemptID, conversationID uuid.UUID, actor string) error {
	if err := s.store.Delete(ctx, attemptID, conversationID); err != nil {
		return err
	}

	s.cacheRemoved(ctx, attemptID, conversationID)
	if s.sink != nil {
		s.emit(s.sink.ConversationDeleted(ctx, attemptID, conversationID, actor))
	}
	return nil
}

func (s *Service) cacheUpdated(ctx context.Context, conv *models.Conversation) {
	if s.cache == nil {
		return
	}
	s.cache.PutConversation(ctx, conv)
	s.cache.InvalidateLists(ctx, conv.AttemptID)
}

func (s *Service) cacheRemoved(ctx context.Context, attemptID, conversationID uuid.UUID) {
	if s.cache == nil {
		return
	}
	s.cache.RemoveConversation(ctx, attemptID, conversationID)
	s.cache.InvalidateLists(ctx, attemptID)
}

func (s *Service) emit(err error) {
	if err != nil {
		log.Warn().Err(err).Msg("Failed to record conversation event")
	}
}
