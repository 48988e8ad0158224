// Package external persists comments imported from a hosting provider. They
// are read-only context in the overlay until a viewer promotes one into a
// real conversation.
package external

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reviewthread/pkg/models"
)

const commentColumns = `id, attempt_id, file_path, line_number, side, author, body, remote_id, imported_at`

// Storage handles database operations for external comments.
type Storage struct {
	db *sql.DB
}

// NewStorage creates external comment storage.
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Replace swaps the attempt's imported comments for a fresh snapshot in one
// transaction, so readers never see a half-applied import.
func (s *Storage) Replace(ctx context.Context, attemptID uuid.UUID, comments []*models.ExternalComment) ([]*models.ExternalComment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM external_comments WHERE attempt_id = $1`, attemptID); err != nil {
		return nil, fmt.Errorf("failed to clear external comments: %w", err)
	}

	query := `
		INSERT INTO external_comments (attempt_id, file_path, line_number, side, author, body, remote_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, imported_at
	`

	stored := make([]*models.ExternalComment, 0, len(comments))
	for _, comment := range comments {
		c := *comment
		c.AttemptID = attemptID
		err := tx.QueryRowContext(
			ctx, query,
			attemptID,
			c.FilePath,
			c.LineNumber,
			string(c.Side),
			c.Author,
			c.Body,
			c.RemoteID,
		).Scan(&c.ID, &c.ImportedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert external comment: %w", err)
		}
		stored = append(stored, &c)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Str("attempt_id", attemptID.String()).
		Int("count", len(stored)).
		Msg("Replaced external comments")

	return stored, nil
}

// ListByAttempt returns the attempt's imported comments ordered by position.
func (s *Storage) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]*models.ExternalComment, error) {
	query := `
		SELECT ` + commentColumns + `
		FROM external_comments
		WHERE attempt_id = $1
		ORDER BY file_path ASC, line_number ASC, imported_at ASC, id ASC
	`
	return s.list(ctx, query, attemptID)
}

// ListByFile returns the imported comments on one file.
func (s *Storage) ListByFile(ctx context.Context, attemptID uuid.UUID, filePath string) ([]*models.ExternalComment, error) {
	query := `
		SELECT ` + commentColumns + `
		FROM external_comments
		WHERE attempt_id = $1 AND file_path = $2
		ORDER BY line_number ASC, imported_at ASC, id ASC
	`
	return s.list(ctx, query, attemptID, filePath)
}

// DeleteForAttempt removes every imported comment for an attempt.
func (s *Storage) DeleteForAttempt(ctx context.Context, attemptID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM external_comments WHERE attempt_id = $1`, attemptID); err != nil {
		return fmt.Errorf("failed to delete external comments: %w", err)
	}
	return nil
}

func (s *Storage) list(ctx context.Context, query string, args ...interface{}) ([]*models.ExternalComment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query external comments: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	comments := make([]*models.ExternalComment, 0)
	for rows.Next() {
		c := &models.ExternalComment{}
		err := rows.Scan(
			&c.ID,
			&c.AttemptID,
			&c.FilePath,
			&c.LineNumber,
			&c.Side,
			&c.Author,
			&c.Body,
			&c.RemoteID,
			&c.ImportedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan external comment: %w", err)
		}
		comments = append(comments, c)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating external comments: %w", err)
	}

	return comments, nil
}
