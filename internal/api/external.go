package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/reviewthread/pkg/models"
)

// ExternalCommentSource is the slice of the external comment store the
// read endpoint needs.
type ExternalCommentSource interface {
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]*models.ExternalComment, error)
	ListByFile(ctx context.Context, attemptID uuid.UUID, filePath string) ([]*models.ExternalComment, error)
}

// ExternalCommentsHandler serves imported provider comments. They are
// read-only here; imports happen through the job queue or the sync command.
type ExternalCommentsHandler struct {
	source ExternalCommentSource
}

// NewExternalCommentsHandler creates a new external comments handler
func NewExternalCommentsHandler(source ExternalCommentSource) *ExternalCommentsHandler {
	return &ExternalCommentsHandler{source: source}
}

// List handles GET /api/v1/attempts/:attempt_id/comments/external
func (h *ExternalCommentsHandler) List(c echo.Context) error {
	attemptID, err := pathUUID(c, "attempt_id")
	if err != nil {
		return domainError(c, err)
	}

	var comments []*models.ExternalComment
	if filePath := c.QueryParam("file_path"); filePath != "" {
		comments, err = h.source.ListByFile(c.Request().Context(), attemptID, filePath)
	} else {
		comments, err = h.source.ListByAttempt(c.Request().Context(), attemptID)
	}
	if err != nil {
		return domainError(c, err)
	}

	// Ensure comments is a non-nil slice so JSON encodes to []
	if comments == nil {
		comments = make([]*models.ExternalComment, 0)
	}

	return respondOK(c, http.StatusOK, comments)
}
