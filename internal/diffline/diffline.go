// Package diffline indexes unified diff text by file and side so callers can
// read the source line an anchor points at. Conversations capture that text
// when they are created; the client uses the same index to place overlay
// entries against the lines a viewer actually sees.
package diffline

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/reviewthread/pkg/models"
)

var (
	filePathRe   = regexp.MustCompile(`diff --git a/(.*) b/(.*)`)
	hunkHeaderRe = regexp.MustCompile(`@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
)

// FileLines holds one file's diff text addressed by side and line number.
type FileLines struct {
	Path string
	Old  map[int64]string
	New  map[int64]string
}

// Index is the parsed form of a unified diff.
type Index struct {
	files map[string]*FileLines
}

// Parse parses unified diff text into a line index.
func Parse(diffText string) (*Index, error) {
	ix := &Index{files: make(map[string]*FileLines)}
	if diffText == "" {
		return ix, nil
	}

	for _, fileDiff := range splitByFile(diffText) {
		fl, err := parseFileDiff(fileDiff)
		if err != nil {
			return nil, err
		}
		if fl != nil {
			ix.files[fl.Path] = fl
		}
	}

	return ix, nil
}

// File returns the line index for one file.
func (ix *Index) File(filePath string) (*FileLines, bool) {
	fl, ok := ix.files[filePath]
	return fl, ok
}

// Files returns the indexed file paths, sorted.
func (ix *Index) Files() []string {
	paths := make([]string, 0, len(ix.files))
	for path := range ix.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// ReadLine returns the text at an anchor position, without the diff marker.
func (ix *Index) ReadLine(filePath string, side models.DiffSide, line int64) (string, bool) {
	fl, ok := ix.files[filePath]
	if !ok {
		return "", false
	}
	switch side {
	case models.SideOld:
		text, ok := fl.Old[line]
		return text, ok
	case models.SideNew:
		text, ok := fl.New[line]
		return text, ok
	}
	return "", false
}

// CodeLineFor returns the text at an anchor, or nil when the diff does not
// cover it. The nil form is what conversation creation stores.
func (ix *Index) CodeLineFor(anchor models.Anchor) *string {
	text, ok := ix.ReadLine(anchor.FilePath, anchor.Side, anchor.LineNumber)
	if !ok {
		return nil
	}
	return &text
}

// splitByFile splits a unified diff into separate file diffs
func splitByFile(diffText string) []string {
	diffFiles := strings.Split(diffText, "diff --git ")

	result := make([]string, 0, len(diffFiles))
	for i, file := range diffFiles {
		if i == 0 && !strings.HasPrefix(file, "diff --git ") {
			continue
		}

		if i > 0 {
			file = "diff --git " + file
		}

		result = append(result, file)
	}

	return result
}

// parseFileDiff indexes a single file diff
func parseFileDiff(diffText string) (*FileLines, error) {
	matches := filePathRe.FindStringSubmatch(diffText)
	if len(matches) < 3 {
		return nil, fmt.Errorf("could not extract file path from diff")
	}

	fl := &FileLines{
		Path: matches[2],
		Old:  make(map[int64]string),
		New:  make(map[int64]string),
	}

	hunkMatches := hunkHeaderRe.FindAllStringSubmatchIndex(diffText, -1)
	for i, match := range hunkMatches {
		oldStart := headerNumber(diffText, match, 1, 1)
		newStart := headerNumber(diffText, match, 3, 1)

		var content string
		if i < len(hunkMatches)-1 {
			content = diffText[match[1]:hunkMatches[i+1][0]]
		} else {
			content = diffText[match[1]:]
		}

		// Skip the rest of the hunk header line
		contentLines := strings.SplitN(content, "\n", 2)
		if len(contentLines) > 1 {
			content = contentLines[1]
		}

		fl.indexHunk(oldStart, newStart, content)
	}

	return fl, nil
}

// headerNumber reads one capture group from a hunk header match, falling back
// when the count form omits it, as in "@@ -1 +1 @@".
func headerNumber(diffText string, match []int, group int, fallback int64) int64 {
	start, end := match[2*group], match[2*group+1]
	if start < 0 {
		return fallback
	}
	n, err := strconv.ParseInt(diffText[start:end], 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// indexHunk walks a hunk body, advancing the old and new counters per marker.
func (fl *FileLines) indexHunk(oldStart, newStart int64, content string) {
	oldLine := oldStart
	newLine := newStart

	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			fl.New[newLine] = line[1:]
			newLine++
		case strings.HasPrefix(line, "-"):
			fl.Old[oldLine] = line[1:]
			oldLine++
		case strings.HasPrefix(line, " "):
			text := line[1:]
			fl.Old[oldLine] = text
			fl.New[newLine] = text
			oldLine++
			newLine++
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file"
		default:
			// Blank line or trailing garbage past the hunk
		}
	}
}
