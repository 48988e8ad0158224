package conversation

import (
	"errors"
	"fmt"
)

// Domain failures surfaced by the store. Callers are expected to branch with
// errors.Is / errors.As; anything else coming out of a store method is an
// infrastructure failure.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrAlreadyResolved      = errors.New("conversation already resolved")
)

// ValidationError reports caller-supplied input that fails a precondition.
// It is always recoverable by correcting the input and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Well-known validation failures. These are returned as-is so callers can
// compare with errors.Is in addition to matching the type with errors.As.
var (
	ErrEmptyMessage = &ValidationError{Field: "content", Reason: "message content must not be empty"}
	ErrEmptySummary = &ValidationError{Field: "resolution_summary", Reason: "resolution summary must not be empty"}
	ErrEmptyPath    = &ValidationError{Field: "file_path", Reason: "file path must not be empty"}
	ErrInvalidSide  = &ValidationError{Field: "side", Reason: `side must be "old" or "new"`}
	ErrInvalidLine  = &ValidationError{Field: "line_number", Reason: "line number must be a positive integer"}

	// ErrAnchorOccupied rejects a second live thread at a position that
	// already has one, keeping the overlay's one-slot-per-line contract.
	ErrAnchorOccupied = &ValidationError{Field: "line_number", Reason: "an active conversation already exists at this position"}
)

// IsValidation reports whether err is a caller-input failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
