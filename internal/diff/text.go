// Package diff renders differences between stored revisions.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineKind is the role of a line in a line diff
type LineKind string

const (
	LineContext LineKind = "context"
	LineAdded   LineKind = "added"
	LineRemoved LineKind = "removed"
)

// Line is a single line of a line diff
type Line struct {
	Kind       LineKind `json:"type"`
	OldLineNum int      `json:"old_line_num,omitempty"`
	NewLineNum int      `json:"new_line_num,omitempty"`
	Content    string   `json:"content"`
}

// LineStats summarizes a line diff
type LineStats struct {
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
	LinesChanged int `json:"lines_changed"`
}

// LineDiff is the line-level comparison of two bundle revisions
type LineDiff struct {
	OldLabel    string    `json:"old_label"`
	NewLabel    string    `json:"new_label"`
	UnifiedDiff string    `json:"unified_diff"`
	Lines       []Line    `json:"lines"`
	Stats       LineStats `json:"stats"`
	HasChanges  bool      `json:"has_changes"`
}

// CompareVersions diffs two bundle texts line by line. The labels head
// the unified rendering.
func CompareVersions(oldContent, newContent, oldLabel, newLabel string) *LineDiff {
	result := &LineDiff{OldLabel: oldLabel, NewLabel: newLabel, Lines: []Line{}}
	if oldContent == newContent {
		return result
	}
	result.HasChanges = true

	dmp := diffmatchpatch.New()
	oldChars, newChars, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(oldChars, newChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var unified strings.Builder
	unified.WriteString("--- " + oldLabel + "\n")
	unified.WriteString("+++ " + newLabel + "\n")

	oldNum, newNum := 1, 1
	for _, d := range diffs {
		for _, text := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				unified.WriteString(" " + text + "\n")
				result.Lines = append(result.Lines, Line{Kind: LineContext, OldLineNum: oldNum, NewLineNum: newNum, Content: text})
				oldNum++
				newNum++
			case diffmatchpatch.DiffDelete:
				unified.WriteString("-" + text + "\n")
				result.Lines = append(result.Lines, Line{Kind: LineRemoved, OldLineNum: oldNum, Content: text})
				result.Stats.LinesRemoved++
				oldNum++
			case diffmatchpatch.DiffInsert:
				unified.WriteString("+" + text + "\n")
				result.Lines = append(result.Lines, Line{Kind: LineAdded, NewLineNum: newNum, Content: text})
				result.Stats.LinesAdded++
				newNum++
			}
		}
	}

	// A removal paired with an addition counts as a change.
	result.Stats.LinesChanged = min(result.Stats.LinesAdded, result.Stats.LinesRemoved)
	result.UnifiedDiff = unified.String()
	return result
}

// splitLines splits diff text into lines, dropping the empty element
// after a trailing newline.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
