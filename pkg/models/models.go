package models

import (
	"time"

	"github.com/google/uuid"
)

// DiffSide identifies which half of a two-column diff a line belongs to.
type DiffSide string

const (
	// SideOld is the pre-change version of the file.
	SideOld DiffSide = "old"
	// SideNew is the post-change version of the file.
	SideNew DiffSide = "new"
)

// ParseDiffSide normalizes a wire value into a DiffSide. The second return
// is false for anything other than "old" or "new".
func ParseDiffSide(s string) (DiffSide, bool) {
	switch DiffSide(s) {
	case SideOld:
		return SideOld, true
	case SideNew:
		return SideNew, true
	}
	return "", false
}

// Valid reports whether the side is one of the two known values.
func (s DiffSide) Valid() bool {
	return s == SideOld || s == SideNew
}

// Anchor is the position a comment attaches to on a diff.
type Anchor struct {
	FilePath   string   `json:"file_path"`
	Side       DiffSide `json:"side"`
	LineNumber int64    `json:"line_number"`
}

// Conversation is a threaded, resolvable comment anchored to one diff line.
// The four resolution fields are always populated or cleared together.
type Conversation struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	AttemptID         uuid.UUID  `json:"attempt_id" db:"attempt_id"`
	FilePath          string     `json:"file_path" db:"file_path"`
	LineNumber        int64      `json:"line_number" db:"line_number"`
	Side              DiffSide   `json:"side" db:"side"`
	CodeLine          *string    `json:"code_line,omitempty" db:"code_line"`
	IsResolved        bool       `json:"is_resolved" db:"is_resolved"`
	ResolvedBy        *string    `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolutionSummary *string    `json:"resolution_summary,omitempty" db:"resolution_summary"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	Messages          []*Message `json:"messages"`
}

// Anchor returns the conversation's position on the diff.
func (c *Conversation) Anchor() Anchor {
	return Anchor{FilePath: c.FilePath, Side: c.Side, LineNumber: c.LineNumber}
}

// Message is a single entry in a conversation thread. Messages are immutable
// once written; the only mutation is deletion.
type Message struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	Author         string    `json:"author" db:"author"`
	Content        string    `json:"content" db:"content"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ReviewComment is a lightweight, client-managed note on a diff line. It has
// no thread and no resolution state, and it is never persisted by this
// service. It lives only in the viewing client.
type ReviewComment struct {
	FilePath   string   `json:"file_path"`
	Side       DiffSide `json:"side"`
	LineNumber int64    `json:"line_number"`
	Author     string   `json:"author"`
	Body       string   `json:"body"`
}

// Anchor returns the review comment's position on the diff.
func (r *ReviewComment) Anchor() Anchor {
	return Anchor{FilePath: r.FilePath, Side: r.Side, LineNumber: r.LineNumber}
}

// ExternalComment is a comment imported read-only from an outside code host,
// anchored the same way as a conversation but without thread or resolution
// semantics. The import job replaces the stored set wholesale.
type ExternalComment struct {
	ID         uuid.UUID `json:"id" db:"id"`
	AttemptID  uuid.UUID `json:"attempt_id" db:"attempt_id"`
	FilePath   string    `json:"file_path" db:"file_path"`
	Side       DiffSide  `json:"side" db:"side"`
	LineNumber int64     `json:"line_number" db:"line_number"`
	Author     string    `json:"author" db:"author"`
	Body       string    `json:"body" db:"body"`
	RemoteID   *string   `json:"remote_id,omitempty" db:"remote_id"`
	ImportedAt time.Time `json:"imported_at" db:"imported_at"`
}

// Anchor returns the external comment's position on the diff.
func (e *ExternalComment) Anchor() Anchor {
	return Anchor{FilePath: e.FilePath, Side: e.Side, LineNumber: e.LineNumber}
}

// Draft is an unsaved comment composition, keyed client-side by its anchor.
// CodeLine is snapshotted once when the draft is opened and never refreshed.
type Draft struct {
	Anchor   Anchor  `json:"anchor"`
	Text     string  `json:"text"`
	CodeLine *string `json:"code_line,omitempty"`
}
