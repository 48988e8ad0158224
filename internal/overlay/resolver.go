// Package overlay merges the three per-file comment sources onto the diff's
// rendering surface. The merge is a pure function over already-fetched
// snapshots: no entry is ever assigned twice, and lower-priority sources can
// only fill slots the higher tiers left empty.
package overlay

import (
	"github.com/reviewthread/pkg/models"
)

// Kind discriminates what occupies an overlay slot.
type Kind string

const (
	KindConversation    Kind = "conversation"
	KindReviewComment   Kind = "review_comment"
	KindExternalComment Kind = "external_comment"
)

// Entry is the tagged variant for one (side, line) slot. Exactly one of the
// payload fields is set, matching Kind.
type Entry struct {
	Kind            Kind                    `json:"kind"`
	Conversation    *models.Conversation    `json:"conversation,omitempty"`
	ReviewComment   *models.ReviewComment   `json:"review_comment,omitempty"`
	ExternalComment *models.ExternalComment `json:"external_comment,omitempty"`
}

// FileOverlay is the per-line slot assignment for one file, one map per diff
// side. At most one entry exists per (side, line).
type FileOverlay struct {
	Old map[int64]Entry `json:"old"`
	New map[int64]Entry `json:"new"`
}

// Resolve merges one file's comment sources into a FileOverlay.
//
// Priority, highest first: conversations, then review comments, then external
// comments. Sources are processed in that fixed order with insert-if-absent
// per (side, line), so a later tier never shadows an earlier one and the
// conversation set always wins regardless of ordering among conversations.
// Resolution state does not matter here: a resolved conversation still owns
// its slot. All inputs must already be scoped to the same file.
func Resolve(conversations []*models.Conversation, reviewComments []*models.ReviewComment, externalComments []*models.ExternalComment) *FileOverlay {
	o := &FileOverlay{
		Old: make(map[int64]Entry),
		New: make(map[int64]Entry),
	}

	for _, conv := range conversations {
		o.insert(conv.Side, conv.LineNumber, Entry{Kind: KindConversation, Conversation: conv})
	}
	for _, rc := range reviewComments {
		o.insert(rc.Side, rc.LineNumber, Entry{Kind: KindReviewComment, ReviewComment: rc})
	}
	for _, ec := range externalComments {
		o.insert(ec.Side, ec.LineNumber, Entry{Kind: KindExternalComment, ExternalComment: ec})
	}

	return o
}

// Side returns the slot map for one diff side, nil for an unknown side.
func (o *FileOverlay) Side(side models.DiffSide) map[int64]Entry {
	switch side {
	case models.SideOld:
		return o.Old
	case models.SideNew:
		return o.New
	}
	return nil
}

// At returns the entry occupying (side, line), if any.
func (o *FileOverlay) At(side models.DiffSide, line int64) (Entry, bool) {
	slots := o.Side(side)
	if slots == nil {
		return Entry{}, false
	}
	entry, ok := slots[line]
	return entry, ok
}

func (o *FileOverlay) insert(side models.DiffSide, line int64, entry Entry) {
	slots := o.Side(side)
	if slots == nil {
		return
	}
	if _, occupied := slots[line]; occupied {
		return
	}
	slots[line] = entry
}
