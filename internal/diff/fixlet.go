package diff

import (
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/fxf-vault/internal/fxf"
)

var escapedCommentRegex = regexp.MustCompile(`&lt;!--.*?--&gt;`)

// Fields holds the rendered relevance, text and actions of one side of a
// fixlet diff. All three lists of both sides have equal length.
type Fields struct {
	Relevance []string `json:"relevance"`
	Text      []string `json:"text"`
	Actions   []string `json:"actions"`
}

// FixletDiff is the HTML-highlighted comparison of two fixlet revisions.
// Removed runs are wrapped in <span class="removed"> on the old side and
// added runs in <span class="added"> on the new side.
type FixletDiff struct {
	Old        Fields `json:"old"`
	New        Fields `json:"new"`
	HasChanges bool   `json:"has_changes"`
}

// CompareFixlets diffs two serialized fixlet contents field by field.
func CompareFixlets(oldContent, newContent string) (*FixletDiff, error) {
	before, err := fxf.DecodeContent(oldContent)
	if err != nil {
		return nil, err
	}
	after, err := fxf.DecodeContent(newContent)
	if err != nil {
		return nil, err
	}

	dmp := diffmatchpatch.New()
	result := &FixletDiff{HasChanges: oldContent != newContent}
	result.Old.Relevance, result.New.Relevance = compareField(dmp, before.Relevance, after.Relevance)
	result.Old.Text, result.New.Text = compareField(dmp, texts(before.Text), texts(after.Text))
	result.Old.Actions, result.New.Actions = compareField(dmp, before.Actions, after.Actions)
	return result, nil
}

// compareField pads both lists to the same length with empty strings and
// renders each aligned pair.
func compareField(dmp *diffmatchpatch.DiffMatchPatch, before, after []string) ([]string, []string) {
	n := max(len(before), len(after))
	oldOut := make([]string, n)
	newOut := make([]string, n)

	for i := 0; i < n; i++ {
		var o, a string
		if i < len(before) {
			o = before[i]
		}
		if i < len(after) {
			a = after[i]
		}
		oldOut[i], newOut[i] = render(dmp, preprocess(o), preprocess(a))
	}
	return oldOut, newOut
}

func render(dmp *diffmatchpatch.DiffMatchPatch, before, after string) (string, string) {
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(before, after, false))

	var oldOut, newOut strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			oldOut.WriteString(d.Text)
			newOut.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			oldOut.WriteString(`<span class="removed">` + d.Text + `</span>`)
		case diffmatchpatch.DiffInsert:
			newOut.WriteString(`<span class="added">` + d.Text + `</span>`)
		}
	}
	return oldOut.String(), newOut.String()
}

// preprocess turns newlines into <br /> and drops escaped HTML comments.
func preprocess(s string) string {
	return escapedCommentRegex.ReplaceAllString(strings.ReplaceAll(s, "\n", "<br />"), "")
}

func texts(ptrs []*string) []string {
	out := make([]string, len(ptrs))
	for i, p := range ptrs {
		if p != nil {
			out[i] = *p
		}
	}
	return out
}
