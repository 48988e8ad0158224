// Package events persists the mutation feed for review conversations. Every
// successful mutation appends one row; viewers poll ListSince with their last
// seen id to converge without holding a connection open.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types appended by the sink.
const (
	TypeConversationCreated     = "conversation_created"
	TypeMessageAdded            = "message_added"
	TypeMessageDeleted          = "message_deleted"
	TypeConversationResolved    = "conversation_resolved"
	TypeConversationUnresolved  = "conversation_unresolved"
	TypeConversationDeleted     = "conversation_deleted"
	TypeConversationAutoDeleted = "conversation_auto_deleted"
)

// Event is one entry in an attempt's mutation feed.
type Event struct {
	ID             int64           `json:"id" db:"id"`
	AttemptID      uuid.UUID       `json:"attemptId" db:"attempt_id"`
	ConversationID *uuid.UUID      `json:"conversationId,omitempty" db:"conversation_id"`
	EventType      string          `json:"type" db:"event_type"`
	Actor          *string         `json:"actor,omitempty" db:"actor"`
	Data           json.RawMessage `json:"data" db:"data"`
	Timestamp      time.Time       `json:"time" db:"created_at"`
}

// EventData is the payload attached to an event. Fields are filled per type.
type EventData struct {
	FilePath          *string `json:"filePath,omitempty"`
	LineNumber        *int64  `json:"lineNumber,omitempty"`
	Side              *string `json:"side,omitempty"`
	MessageCount      *int    `json:"messageCount,omitempty"`
	IsResolved        *bool   `json:"isResolved,omitempty"`
	ResolutionSummary *string `json:"resolutionSummary,omitempty"`
}

// Repo handles database operations for conversation events
type Repo struct {
	db *sql.DB
}

// NewRepo creates a new conversation events repository
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// InsertEvent appends a new event to the feed
func (r *Repo) InsertEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO conversation_events (attempt_id, conversation_id, event_type, actor, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if len(event.Data) == 0 {
		event.Data = json.RawMessage(`{}`)
	}

	err := r.db.QueryRowContext(
		ctx, query,
		event.AttemptID,
		event.ConversationID,
		event.EventType,
		event.Actor,
		event.Data,
		event.Timestamp,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("failed to insert conversation event: %w", err)
	}

	return nil
}

// ListCursor is the pagination cursor for the feed. SinceID is the last event
// id the caller has already seen.
type ListCursor struct {
	SinceID int64 `json:"sinceId"`
	Limit   int   `json:"limit"`
}

// ListSince retrieves an attempt's events after the cursor, oldest first.
func (r *Repo) ListSince(ctx context.Context, attemptID uuid.UUID, cursor *ListCursor) ([]*Event, error) {
	var args []interface{}

	baseQuery := `
		SELECT id, attempt_id, conversation_id, event_type, actor, data, created_at
		FROM conversation_events
		WHERE attempt_id = $1
	`

	args = append(args, attemptID)
	argCount := 1

	if cursor != nil && cursor.SinceID > 0 {
		argCount++
		baseQuery += fmt.Sprintf(" AND id > $%d", argCount)
		args = append(args, cursor.SinceID)
	}

	baseQuery += " ORDER BY id ASC"

	limit := 100 // default
	if cursor != nil && cursor.Limit > 0 {
		limit = cursor.Limit
	}
	if limit > 1000 {
		limit = 1000 // max limit
	}

	argCount++
	query := baseQuery + fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation events: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.AttemptID,
			&event.ConversationID,
			&event.EventType,
			&event.Actor,
			&event.Data,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation event: %w", err)
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation events: %w", err)
	}

	return events, nil
}

// ListByConversation retrieves the events that touched one conversation,
// oldest first.
func (r *Repo) ListByConversation(ctx context.Context, attemptID, conversationID uuid.UUID, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100 // default/max limit
	}

	query := `
		SELECT id, attempt_id, conversation_id, event_type, actor, data, created_at
		FROM conversation_events
		WHERE attempt_id = $1 AND conversation_id = $2
		ORDER BY id ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, attemptID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by conversation: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.AttemptID,
			&event.ConversationID,
			&event.EventType,
			&event.Actor,
			&event.Data,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation event: %w", err)
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation events: %w", err)
	}

	return events, nil
}

// LatestID returns the id of the newest event for an attempt, or 0 when the
// feed is empty. Clients use it to start a polling cursor at the present.
func (r *Repo) LatestID(ctx context.Context, attemptID uuid.UUID) (int64, error) {
	query := `
		SELECT id
		FROM conversation_events
		WHERE attempt_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, attemptID).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil // empty feed
		}
		return 0, fmt.Errorf("failed to get latest event id: %w", err)
	}

	return id, nil
}

// DeleteForAttempt deletes all events recorded for an attempt.
func (r *Repo) DeleteForAttempt(ctx context.Context, attemptID uuid.UUID) error {
	query := `DELETE FROM conversation_events WHERE attempt_id = $1`

	_, err := r.db.ExecContext(ctx, query, attemptID)
	if err != nil {
		return fmt.Errorf("failed to delete events for attempt: %w", err)
	}

	return nil
}
