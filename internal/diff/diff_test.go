package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareVersions(t *testing.T) {
	result := CompareVersions("a\nb\nc\n", "a\nB\nc\n", "52@5", "52@8")

	assert.True(t, result.HasChanges)
	assert.Equal(t, "--- 52@5\n+++ 52@8\n a\n-b\n+B\n c\n", result.UnifiedDiff)
	assert.Equal(t, LineStats{LinesAdded: 1, LinesRemoved: 1, LinesChanged: 1}, result.Stats)
	require.Len(t, result.Lines, 4)
	assert.Equal(t, Line{Kind: LineRemoved, OldLineNum: 2, Content: "b"}, result.Lines[1])
	assert.Equal(t, Line{Kind: LineAdded, NewLineNum: 2, Content: "B"}, result.Lines[2])
	assert.Equal(t, Line{Kind: LineContext, OldLineNum: 3, NewLineNum: 3, Content: "c"}, result.Lines[3])
}

func TestCompareVersions_Identical(t *testing.T) {
	result := CompareVersions("same\n", "same\n", "a", "b")
	assert.False(t, result.HasChanges)
	assert.Empty(t, result.Lines)
	assert.Empty(t, result.UnifiedDiff)
}

func TestCompareFixlets(t *testing.T) {
	before := `{"relevance":["true"],"text":["Install now"],"actions":["run a"]}`
	after := `{"relevance":["true","false"],"text":["Install later"],"actions":["run a"]}`

	result, err := CompareFixlets(before, after)
	require.NoError(t, err)
	assert.True(t, result.HasChanges)

	assert.Equal(t, []string{"true", ""}, result.Old.Relevance)
	assert.Equal(t, []string{"true", `<span class="added">false</span>`}, result.New.Relevance)
	assert.Equal(t, []string{`Install <span class="removed">now</span>`}, result.Old.Text)
	assert.Equal(t, []string{`Install <span class="added">later</span>`}, result.New.Text)
	assert.Equal(t, []string{"run a"}, result.Old.Actions)
	assert.Equal(t, []string{"run a"}, result.New.Actions)
}

func TestCompareFixlets_PreprocessesText(t *testing.T) {
	before := `{"relevance":[],"text":["a&lt;!-- x --&gt;b\nc"],"actions":[]}`
	after := `{"relevance":[],"text":[null],"actions":["x"]}`

	result, err := CompareFixlets(before, after)
	require.NoError(t, err)
	assert.Equal(t, []string{`<span class="removed">ab<br />c</span>`}, result.Old.Text)
	assert.Equal(t, []string{""}, result.New.Text)
	assert.Equal(t, []string{""}, result.Old.Actions)
	assert.Equal(t, []string{`<span class="added">x</span>`}, result.New.Actions)
	assert.Empty(t, result.Old.Relevance)
}

func TestCompareFixlets_InvalidContent(t *testing.T) {
	_, err := CompareFixlets("not json", `{"relevance":[],"text":[],"actions":[]}`)
	assert.Error(t, err)
}
