package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/reviewthread/internal/conversation"
	"github.com/reviewthread/pkg/models"
)

// DatabaseSink records conversation mutations into the event feed. It is the
// Postgres-backed implementation of the service's EventSink.
type DatabaseSink struct {
	repo *Repo
}

var _ conversation.EventSink = (*DatabaseSink)(nil)

// NewDatabaseSink creates a new database event sink
func NewDatabaseSink(db *sql.DB) *DatabaseSink {
	return &DatabaseSink{repo: NewRepo(db)}
}

// Repo exposes the underlying repository for feed reads.
func (s *DatabaseSink) Repo() *Repo {
	return s.repo
}

// ConversationCreated records a new conversation with its anchor.
func (s *DatabaseSink) ConversationCreated(ctx context.Context, conv *models.Conversation, actor string) error {
	side := string(conv.Side)
	messageCount := len(conv.Messages)
	return s.record(ctx, conv.AttemptID, &conv.ID, TypeConversationCreated, actor, &EventData{
		FilePath:     &conv.FilePath,
		LineNumber:   &conv.LineNumber,
		Side:         &side,
		MessageCount: &messageCount,
	})
}

// MessageAdded records a message append.
func (s *DatabaseSink) MessageAdded(ctx context.Context, conv *models.Conversation, actor string) error {
	messageCount := len(conv.Messages)
	return s.record(ctx, conv.AttemptID, &conv.ID, TypeMessageAdded, actor, &EventData{
		MessageCount: &messageCount,
	})
}

// MessageDeleted records a message removal that left the conversation alive.
func (s *DatabaseSink) MessageDeleted(ctx context.Context, conv *models.Conversation, actor string) error {
	messageCount := len(conv.Messages)
	return s.record(ctx, conv.AttemptID, &conv.ID, TypeMessageDeleted, actor, &EventData{
		MessageCount: &messageCount,
	})
}

// ConversationResolved records a resolution with its summary.
func (s *DatabaseSink) ConversationResolved(ctx context.Context, conv *models.Conversation, actor string) error {
	resolved := true
	return s.record(ctx, conv.AttemptID, &conv.ID, TypeConversationResolved, actor, &EventData{
		IsResolved:        &resolved,
		ResolutionSummary: conv.ResolutionSummary,
	})
}

// ConversationUnresolved records a conversation being reopened.
func (s *DatabaseSink) ConversationUnresolved(ctx context.Context, conv *models.Conversation, actor string) error {
	resolved := false
	return s.record(ctx, conv.AttemptID, &conv.ID, TypeConversationUnresolved, actor, &EventData{
		IsResolved: &resolved,
	})
}

// ConversationDeleted records an explicit conversation delete.
func (s *DatabaseSink) ConversationDeleted(ctx context.Context, attemptID, conversationID uuid.UUID, actor string) error {
	return s.record(ctx, attemptID, &conversationID, TypeConversationDeleted, actor, nil)
}

// ConversationAutoDeleted records a conversation removed because its last
// message was deleted.
func (s *DatabaseSink) ConversationAutoDeleted(ctx context.Context, attemptID, conversationID uuid.UUID, actor string) error {
	return s.record(ctx, attemptID, &conversationID, TypeConversationAutoDeleted, actor, nil)
}

func (s *DatabaseSink) record(ctx context.Context, attemptID uuid.UUID, conversationID *uuid.UUID, eventType, actor string, data *EventData) error {
	payload := json.RawMessage(`{}`)
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		payload = encoded
	}

	var actorPtr *string
	if actor != "" {
		actorPtr = &actor
	}

	return s.repo.InsertEvent(ctx, &Event{
		AttemptID:      attemptID,
		ConversationID: conversationID,
		EventType:      eventType,
		Actor:          actorPtr,
		Data:           payload,
	})
}
