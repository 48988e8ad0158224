package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/reviewthread/internal/events"
)

// EventFeed is the slice of the event repo the polling endpoint reads.
type EventFeed interface {
	ListSince(ctx context.Context, attemptID uuid.UUID, cursor *events.ListCursor) ([]*events.Event, error)
}

// EventsHandler serves the polling feed clients use to converge on the
// current conversation state without refetching every list.
type EventsHandler struct {
	feed EventFeed
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(feed EventFeed) *EventsHandler {
	return &EventsHandler{feed: feed}
}

type eventFeedResponse struct {
	Events []*events.Event `json:"events"`
	// LastID is the cursor for the next poll. It echoes the request cursor
	// when no new events arrived.
	LastID int64 `json:"last_id"`
	Count  int   `json:"count"`
}

// Feed handles GET /api/v1/attempts/:attempt_id/conversations/events
func (h *EventsHandler) Feed(c echo.Context) error {
	attemptID, err := pathUUID(c, "attempt_id")
	if err != nil {
		return domainError(c, err)
	}

	cursor := &events.ListCursor{}
	if sinceStr := c.QueryParam("since"); sinceStr != "" {
		since, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil || since < 0 {
			return respondError(c, http.StatusBadRequest, ErrorTypeValidation, "invalid since cursor")
		}
		cursor.SinceID = since
	}
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return respondError(c, http.StatusBadRequest, ErrorTypeValidation, "invalid limit")
		}
		cursor.Limit = limit
	}

	feed, err := h.feed.ListSince(c.Request().Context(), attemptID, cursor)
	if err != nil {
		return domainError(c, err)
	}

	// Ensure events is a non-nil slice so JSON encodes to []
	if feed == nil {
		feed = make([]*events.Event, 0)
	}

	lastID := cursor.SinceID
	if len(feed) > 0 {
		lastID = feed[len(feed)-1].ID
	}

	return respondOK(c, http.StatusOK, eventFeedResponse{
		Events: feed,
		LastID: lastID,
		Count:  len(feed),
	})
}
