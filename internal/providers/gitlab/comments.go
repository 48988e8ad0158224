package gitlab

import (
	"fmt"
	"strings"
	"time"

	"github.com/reviewthread/pkg/models"
)

// Discussion represents a GitLab merge request discussion
type Discussion struct {
	ID             string `json:"id"`
	IndividualNote bool   `json:"individual_note"`
	Notes          []Note `json:"notes"`
}

// Note represents one note inside a discussion
type Note struct {
	ID        int           `json:"id"`
	Type      string        `json:"type"`
	Body      string        `json:"body"`
	System    bool          `json:"system"`
	Author    NoteAuthor    `json:"author"`
	CreatedAt time.Time     `json:"created_at"`
	Position  *NotePosition `json:"position,omitempty"`
}

// NoteAuthor identifies who wrote a note
type NoteAuthor struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

// NotePosition is the diff position of a DiffNote. Exactly one of OldLine and
// NewLine is set for single-sided comments; both are set on unchanged lines,
// in which case the new side wins.
type NotePosition struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	OldLine *int64 `json:"old_line"`
	NewLine *int64 `json:"new_line"`
}

// ConvertToExternalComments flattens merge request discussions into external
// comments. System notes and notes without a diff position live on the MR
// itself, not on a line, so they are dropped.
func ConvertToExternalComments(discussions []Discussion) []*models.ExternalComment {
	comments := make([]*models.ExternalComment, 0)

	for _, discussion := range discussions {
		for _, note := range discussion.Notes {
			if note.System || note.Position == nil {
				continue
			}

			filePath, side, line, ok := anchorFromPosition(note.Position)
			if !ok {
				continue
			}

			author := note.Author.Username
			if author == "" {
				author = note.Author.Name
			}

			remoteID := fmt.Sprintf("%s/%d", discussion.ID, note.ID)

			comments = append(comments, &models.ExternalComment{
				FilePath:   filePath,
				Side:       side,
				LineNumber: line,
				Author:     author,
				Body:       note.Body,
				RemoteID:   &remoteID,
			})
		}
	}

	return comments
}

func anchorFromPosition(pos *NotePosition) (string, models.DiffSide, int64, bool) {
	switch {
	case pos.NewLine != nil:
		path := pos.NewPath
		if path == "" {
			path = pos.OldPath
		}
		return path, models.SideNew, *pos.NewLine, path != ""
	case pos.OldLine != nil:
		path := pos.OldPath
		if path == "" {
			path = pos.NewPath
		}
		return path, models.SideOld, *pos.OldLine, path != ""
	}
	return "", "", 0, false
}

// BuildUnifiedDiff assembles per-file change fragments into one unified diff
// with the per-file headers the line indexer expects.
func BuildUnifiedDiff(changes *MergeRequestChanges) string {
	if changes == nil {
		return ""
	}

	var b strings.Builder
	for _, change := range changes.Changes {
		oldPath := change.OldPath
		if oldPath == "" {
			oldPath = change.NewPath
		}
		newPath := change.NewPath
		if newPath == "" {
			newPath = change.OldPath
		}

		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", oldPath, newPath)
		b.WriteString(change.Diff)
		if change.Diff != "" && !strings.HasSuffix(change.Diff, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
