package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/reviewthread/internal/conversation"
)

// Error types carried in failure envelopes. Clients branch on these rather
// than on HTTP status codes. Transport and auth failures stay plain HTTP
// errors and never wear a domain type.
const (
	ErrorTypeValidation      = "validation_error"
	ErrorTypeNotFound        = "not_found"
	ErrorTypeAlreadyResolved = "already_resolved"
	ErrorTypeInternal        = "internal_error"
)

// ResponseError is the failure half of the response envelope.
type ResponseError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Response is the envelope every /api/v1 endpoint returns: either
// {"success":true,"data":...} or {"success":false,"error":{...}}.
type Response struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
}

func respondOK(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Response{Success: true, Data: data})
}

func respondError(c echo.Context, status int, errType, message string) error {
	return c.JSON(status, Response{
		Success: false,
		Error:   &ResponseError{Type: errType, Message: message},
	})
}

// domainError maps conversation-layer failures onto envelope responses.
// Anything unrecognized is an infrastructure failure and comes back as a
// 500 with the detail kept out of the response body.
func domainError(c echo.Context, err error) error {
	switch {
	case conversation.IsValidation(err):
		return respondError(c, http.StatusBadRequest, ErrorTypeValidation, err.Error())
	case errors.Is(err, conversation.ErrConversationNotFound),
		errors.Is(err, conversation.ErrMessageNotFound):
		return respondError(c, http.StatusNotFound, ErrorTypeNotFound, err.Error())
	case errors.Is(err, conversation.ErrAlreadyResolved):
		return respondError(c, http.StatusConflict, ErrorTypeAlreadyResolved, err.Error())
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("Unhandled error in API handler")
		return respondError(c, http.StatusInternalServerError, ErrorTypeInternal, "internal server error")
	}
}
