package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/reviewthread/internal/api/auth"
	"github.com/reviewthread/internal/conversation"
	"github.com/reviewthread/pkg/models"
)

// ConversationHandler handles the conversation overlay endpoints.
type ConversationHandler struct {
	service *conversation.Service
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(service *conversation.Service) *ConversationHandler {
	return &ConversationHandler{service: service}
}

type createConversationRequest struct {
	FilePath       string  `json:"file_path"`
	LineNumber     int64   `json:"line_number"`
	Side           string  `json:"side"`
	CodeLine       *string `json:"code_line"`
	InitialMessage string  `json:"initial_message"`
}

type addMessageRequest struct {
	Content string `json:"content"`
}

type resolveRequest struct {
	Summary string `json:"summary"`
}

// deleteMessageResponse distinguishes "conversation updated" from
// "conversation is now gone": Conversation is null when removing the last
// message deleted the whole thread, so callers drop their cache slot
// instead of updating it.
type deleteMessageResponse struct {
	Deleted      bool                 `json:"deleted"`
	Conversation *models.Conversation `json:"conversation"`
}

// pathUUID parses a UUID path parameter. Malformed IDs surface as
// validation failures in the envelope, the same as any other bad input.
func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, &conversation.ValidationError{Field: name, Reason: "must be a UUID"}
	}
	return id, nil
}

// List handles GET /api/v1/attempts/:attempt_id/conversations
func (h *ConversationHandler) List(c echo.Context) error {
	attemptID, err := pathUUID(c, "attempt_id")
	if err != nil {
		return domainError(c, err)
	}

	conversations, err := h.service.ListByAttempt(c.Request().Context(), attemptID)
	if err != nil {
		return domainError(c, err)
	}

	return respondOK(c, http.StatusOK, conversations)
}

// ListUnresolved handles GET /api/v1/attempts/:attempt_id/conversations/unresolved
func (h *ConversationHandler) ListUnresolved(c echo.Context) error {
	attemptID, err := pathUUID(c, "attempt_id")
	if err != nil {
		return domainError(c, err)
	}

	conversations, err := h.service.ListUnresolved(c.Request().Context(), attemptID)
	if err != nil {
		return domainError(c, err)
	}

	return respondOK(c, http.StatusOK, conversations)
}

// Get handles GET /api/v1/attempts/:attempt_id/conversations/:conversation_id
func (h *ConversationHandler) Get(c echo.Context) error {
	attemptID, err := pathUUID(c, "attempt_id")
	if err != nil {
		return domainError(c, err)
	}
	conversationID, err := pathUUID(c, "conversation_id")
	if err != nil {
		return domainError(c, err)
	}

	conv, err := h.service.Get(c.Request().Context(), attemptID, conversationID)
	if err != nil {
		return domainError(c, err)
	}

	return respondOK(c, http.StatusOK, conv)
}

// Create handles POST /api/v1/attempts/:attempt_id/conversations
func (h *ConversationHandler) Create(c echo.Context) error {
	attemptID, err := pathUUID(c, "attempt_id")
	if err != nil {
		return domainError(c, err)
	}

	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, ErrorTypeValidation, "invalid request body")
	}

	side, ok := models.ParseDiffSide(req.Side)
	if !ok {
		return domainError(c, conversation.ErrInvalidSide)
	}

	conv, err := h.service.Create(c.Request().Context(), attemptID, req.FilePath, req.LineNumber, side, req.CodeLine, req.InitialMessage, auth.GetActor(c))
	if err != nil {
		return domainError(c, err)
	}

	return respondOK(c, http.StatusCreated, conv)
}

// AddMessage handles POST /api/v1/attempts/:attempt_id/conversations/:conversation_id/messages
func (h *ConversationHandler) AddMessage(c echo.Context) error {
	attemptID, err := pathUUID(c, "attempt_id")
	if err != nil {
		return domainError(c, err)
	}
	conversationID, err := pathUUID(c, "conversation_id")
	if err != nil {
		return domainError(c, err)
	}

	var req addMessageRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, ErrorTypeValidation, "invalid request body")
	}

	conv, err := h.service.AddMessage(c.Request().Context(), attemptID, conversationID, req.Content, auth.GetActor(c))
	if err != nil {
		return domainError(c, err)
	}

	return respondOK(c, http.StatusOK, conv)
}

// DeleteMessage handles DELETE /api/v1/attempts/:attempt_id/conversations/:conversation_id/messages/:message_id
func (h *ConversationHandler) DeleteMessage(c echo.Context) error {
	attemptID, err := pathUUID(c, "attempt_id")
	if err != nil {
		return domainError(c, err)
	}
	conversationID, err := pathUUID(c, "conversation_id")
	if err != nil {
		return domainError(c, err)
	}
	messageID, err := pathUUID(c, "message_id")
	if err != nil {
		return domainError(c, err)
	}

	conv, deleted, err := h.service.DeleteMessage(c.Request().Context(), attemptID, conversationID, messageID, auth.GetActor(c))
	if err != nil {
		return domainError(c, err)
	}

	return respondOK(c, http.StatusOK, deleteMessageResponse{Deleted: deleted, Conversation: conv})
}

// Resolve handles POST /api/v1/attempts/:attempt_id/conversations/:conversation_id/resolve
func (h *ConversationHandler) Resolve(c echo.Context) error {
	attemptID, err := pathUUID(c, "attempt_id")
	if err != nil {
		return domainError(c, err)
	}
	conversationID, err := pathUUID(c, "conversation_id")
	if err != nil {
		return domainError(c, err)
	}

	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, ErrorTypeValidation, "invalid request body")
	}

	conv, err := h.service.Resolve(c.Request().Context(), attemptID, conversationID, req.Summary, auth.GetActor(c))
	if err != nil {
		return domainError(c, err)
	}

	return respondOK(c, http.StatusOK, conv)
}

// Unresolve handles POST /api/v1/attempts/:attempt_id/conversations/:conversation_id/unresolve
func (h *ConversationHandler) Unresolve(c echo.Context) error {
	attemptID, err := pathUUID(c, "attempt_id")
	if err != nil {
		return domainError(c, err)
	}
	conversationID, err := pathUUID(c, "conversation_id")
	if err != nil {
		return domainError(c, err)
	}

	conv, err := h.service.Unresolve(c.Request().Context(), attemptID, conversationID, auth.GetActor(c))
	if err != nil {
		return domainError(c, err)
	}

	return respondOK(c, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/attempts/:attempt_id/conversations/:conversation_id
func (h *ConversationHandler) Delete(c echo.Context) error {
	attemptID, err := pathUUID(c, "attempt_id")
	if err != nil {
		return domainError(c, err)
	}
	conversationID, err := pathUUID(c, "conversation_id")
	if err != nil {
		return domainError(c, err)
	}

	if err := h.service.Delete(c.Request().Context(), attemptID, conversationID, auth.GetActor(c)); err != nil {
		return domainError(c, err)
	}

	return respondOK(c, http.StatusOK, map[string]bool{"deleted": true})
}
