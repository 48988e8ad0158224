package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reviewthread/pkg/models"
)

const conversationColumns = `id, attempt_id, file_path, line_number, side, code_line,
	is_resolved, resolved_by, resolved_at, resolution_summary, created_at, updated_at`

const messageColumns = `id, conversation_id, author, content, created_at`

// Storage provides durable CRUD over conversations and their messages.
// Every mutation either commits the whole state transition or nothing:
// message-list changes and resolution changes serialize on the conversation
// row, and an empty message list deletes the conversation in the same
// transaction rather than leaving a hollow thread behind.
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new conversation storage instance.
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{Messages: make([]*models.Message, 0)}
	err := row.Scan(
		&conv.ID,
		&conv.AttemptID,
		&conv.FilePath,
		&conv.LineNumber,
		&conv.Side,
		&conv.CodeLine,
		&conv.IsResolved,
		&conv.ResolvedBy,
		&conv.ResolvedAt,
		&conv.ResolutionSummary,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Author, &msg.Content, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func loadMessages(ctx context.Context, q querier, conversationID uuid.UUID) ([]*models.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, messageColumns)

	rows, err := q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// ListByAttempt returns every conversation for the attempt regardless of
// resolution state, ordered by creation time, with messages loaded.
func (s *Storage) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error) {
	return s.list(ctx, attemptID, false)
}

// ListUnresolved returns the subset of the attempt's conversations that are
// still open, ordered by creation time, with messages loaded.
func (s *Storage) ListUnresolved(ctx context.Context, attemptID uuid.UUID) ([]*models.Conversation, error) {
	return s.list(ctx, attemptID, true)
}

func (s *Storage) list(ctx context.Context, attemptID uuid.UUID, unresolvedOnly bool) ([]*models.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM review_conversations
		WHERE attempt_id = $1`, conversationColumns)
	if unresolvedOnly {
		query += ` AND is_resolved = FALSE`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]*models.Conversation, 0)
	byID := make(map[uuid.UUID]*models.Conversation)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
		byID[conv.ID] = conv
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	if len(conversations) == 0 {
		return conversations, nil
	}

	msgQuery := fmt.Sprintf(`
		SELECT %s
		FROM conversation_messages m
		WHERE m.conversation_id IN (
			SELECT id FROM review_conversations WHERE attempt_id = $1
		)
		ORDER BY m.created_at ASC, m.id ASC`, prefixColumns("m", messageColumns))

	msgRows, err := s.db.QueryContext(ctx, msgQuery, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		msg, err := scanMessage(msgRows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if conv, ok := byID[msg.ConversationID]; ok {
			conv.Messages = append(conv.Messages, msg)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return conversations, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// Get returns one conversation scoped to the attempt, with messages loaded.
// Returns ErrConversationNotFound when the id is absent or belongs to a
// different attempt.
func (s *Storage) Get(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM review_conversations
		WHERE id = $1 AND attempt_id = $2`, conversationColumns)

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, conversationID, attemptID))
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	conv.Messages, err = loadMessages(ctx, s.db, conv.ID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// FindActiveAt returns the live conversation occupying the given anchor, or
// nil when the position is free. When legacy data holds more than one row at
// an anchor the newest wins; Create still refuses while any row is present.
func (s *Storage) FindActiveAt(ctx context.Context, attemptID uuid.UUID, filePath string, side models.DiffSide, lineNumber int64) (*models.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM review_conversations
		WHERE attempt_id = $1 AND file_path = $2 AND side = $3 AND line_number = $4
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, conversationColumns)

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, attemptID, filePath, string(side), lineNumber))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation at anchor: %w", err)
	}

	conv.Messages, err = loadMessages(ctx, s.db, conv.ID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Create opens a conversation anchored to a diff position together with its
// first message, refusing when a live conversation already occupies the
// anchor. Occupancy is an API contract, not a storage constraint: there is
// no unique index, and FindActiveAt picks the newest row where older data
// holds duplicates.
func (s *Storage) Create(ctx context.Context, attemptID uuid.UUID, filePath string, lineNumber int64, side models.DiffSide, codeLine *string, initialMessage, author string) (*models.Conversation, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, ErrEmptyPath
	}
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	if lineNumber <= 0 {
		return nil, ErrInvalidLine
	}
	if strings.TrimSpace(initialMessage) == "" {
		return nil, ErrEmptyMessage
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var occupied uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM review_conversations
		WHERE attempt_id = $1 AND file_path = $2 AND side = $3 AND line_number = $4
		LIMIT 1
		FOR UPDATE`,
		attemptID, filePath, string(side), lineNumber).Scan(&occupied)
	if err == nil {
		return nil, ErrAnchorOccupied
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check anchor occupancy: %w", err)
	}

	convQuery := fmt.Sprintf(`
		INSERT INTO review_conversations (id, attempt_id, file_path, line_number, side, code_line)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s`, conversationColumns)

	conv, err := scanConversation(tx.QueryRowContext(ctx, convQuery,
		uuid.New(), attemptID, filePath, lineNumber, string(side), codeLine))
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}

	msgQuery := fmt.Sprintf(`
		INSERT INTO conversation_messages (id, conversation_id, author, content)
		VALUES ($1, $2, $3, $4)
		RETURNING %s`, messageColumns)

	msg, err := scanMessage(tx.QueryRowContext(ctx, msgQuery, uuid.New(), conv.ID, author, initialMessage))
	if err != nil {
		return nil, fmt.Errorf("failed to insert initial message: %w", err)
	}
	conv.Messages = append(conv.Messages, msg)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conversation: %w", err)
	}

	log.Debug().
		Str("conversation_id", conv.ID.String()).
		Str("attempt_id", attemptID.String()).
		Str("file_path", filePath).
		Int64("line_number", lineNumber).
		Str("side", string(side)).
		Msg("Created conversation")

	return conv, nil
}

// AddMessage appends to the end of a conversation's thread. The conversation
// row is locked for the duration, so appends serialize against each other and
// against resolution changes; resolution fields are never touched here.
func (s *Storage) AddMessage(ctx context.Context, attemptID, conversationID uuid.UUID, content, author string) (*models.Conversation, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	conv, err := lockConversation(ctx, tx, attemptID, conversationID)
	if err != nil {
		return nil, err
	}

	msgQuery := fmt.Sprintf(`
		INSERT INTO conversation_messages (id, conversation_id, author, content)
		VALUES ($1, $2, $3, $4)
		RETURNING %s`, messageColumns)

	if _, err := scanMessage(tx.QueryRowContext(ctx, msgQuery, uuid.New(), conv.ID, author, content)); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := touchConversation(ctx, tx, conv); err != nil {
		return nil, err
	}

	conv.Messages, err = loadMessages(ctx, tx, conv.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	log.Debug().
		Str("conversation_id", conv.ID.String()).
		Int("message_count", len(conv.Messages)).
		Msg("Added message to conversation")

	return conv, nil
}

// DeleteMessage removes one message. When the deleted message was the last
// one the conversation itself is deleted in the same transaction and the
// second return is true with a nil conversation; callers must treat that as
// "the thread is gone", not as a failure.
func (s *Storage) DeleteMessage(ctx context.Context, attemptID, conversationID, messageID uuid.UUID) (*models.Conversation, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	conv, err := lockConversation(ctx, tx, attemptID, conversationID)
	if err != nil {
		return nil, false, err
	}

	var deletedID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		DELETE FROM conversation_messages
		WHERE id = $1 AND conversation_id = $2
		RETURNING id`, messageID, conv.ID).Scan(&deletedID)
	if err == sql.ErrNoRows {
		return nil, false, ErrMessageNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to delete message: %w", err)
	}

	var remaining int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = $1`, conv.ID).Scan(&remaining)
	if err != nil {
		return nil, false, fmt.Errorf("failed to count remaining messages: %w", err)
	}

	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM review_conversations WHERE id = $1`, conv.ID); err != nil {
			return nil, false, fmt.Errorf("failed to delete empty conversation: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit message deletion: %w", err)
		}
		log.Debug().
			Str("conversation_id", conv.ID.String()).
			Msg("Deleted last message; conversation removed")
		return nil, true, nil
	}

	if err := touchConversation(ctx, tx, conv); err != nil {
		return nil, false, err
	}

	conv.Messages, err = loadMessages(ctx, tx, conv.ID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit message deletion: %w", err)
	}

	return conv, false, nil
}

// Resolve closes a conversation, stamping who resolved it, when, and why.
// The update is conditional on the conversation still being open: when two
// callers race, exactly one row update wins and the loser gets
// ErrAlreadyResolved instead of silently overwriting the first summary.
func (s *Storage) Resolve(ctx context.Context, attemptID, conversationID uuid.UUID, summary, resolver string) (*models.Conversation, error) {
	if strings.TrimSpace(summary) == "" {
		return nil, ErrEmptySummary
	}

	query := fmt.Sprintf(`
		UPDATE review_conversations
		SET is_resolved = TRUE,
		    resolved_by = $3,
		    resolved_at = NOW(),
		    resolution_summary = $4,
		    updated_at = NOW()
		WHERE id = $1 AND attempt_id = $2 AND is_resolved = FALSE
		RETURNING %s`, conversationColumns)

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, conversationID, attemptID, resolver, summary))
	if err == sql.ErrNoRows {
		// Zero rows means either the conversation is gone or someone
		// else resolved it first; tell those apart for the caller.
		var resolved bool
		checkErr := s.db.QueryRowContext(ctx, `
			SELECT is_resolved FROM review_conversations
			WHERE id = $1 AND attempt_id = $2`, conversationID, attemptID).Scan(&resolved)
		if checkErr == sql.ErrNoRows {
			return nil, ErrConversationNotFound
		}
		if checkErr != nil {
			return nil, fmt.Errorf("failed to check resolution state: %w", checkErr)
		}
		return nil, ErrAlreadyResolved
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	conv.Messages, err = loadMessages(ctx, s.db, conv.ID)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("conversation_id", conv.ID.String()).
		Str("resolved_by", resolver).
		Msg("Resolved conversation")

	return conv, nil
}

// Unresolve reopens a conversation, clearing all four resolution fields in
// one statement. Unlike Resolve it is idempotent: reopening an already-open
// conversation succeeds with no change.
func (s *Storage) Unresolve(ctx context.Context, attemptID, conversationID uuid.UUID) (*models.Conversation, error) {
	query := fmt.Sprintf(`
		UPDATE review_conversations
		SET is_resolved = FALSE,
		    resolved_by = NULL,
		    resolved_at = NULL,
		    resolution_summary = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND attempt_id = $2
		RETURNING %s`, conversationColumns)

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, conversationID, attemptID))
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unresolve conversation: %w", err)
	}

	conv.Messages, err = loadMessages(ctx, s.db, conv.ID)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("conversation_id", conv.ID.String()).
		Msg("Unresolved conversation")

	return conv, nil
}

// Delete removes a conversation and all its messages.
func (s *Storage) Delete(ctx context.Context, attemptID, conversationID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM review_conversations
		WHERE id = $1 AND attempt_id = $2`, conversationID, attemptID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConversationNotFound
	}

	log.Debug().
		Str("conversation_id", conversationID.String()).
		Msg("Deleted conversation")

	return nil
}

func lockConversation(ctx context.Context, tx *sql.Tx, attemptID, conversationID uuid.UUID) (*models.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM review_conversations
		WHERE id = $1 AND attempt_id = $2
		FOR UPDATE`, conversationColumns)

	conv, err := scanConversation(tx.QueryRowContext(ctx, query, conversationID, attemptID))
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock conversation: %w", err)
	}
	return conv, nil
}

func touchConversation(ctx context.Context, tx *sql.Tx, conv *models.Conversation) error {
	err := tx.QueryRowContext(ctx, `
		UPDATE review_conversations SET updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`, conv.ID).Scan(&conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}
