package fxf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Fixlet is one content unit extracted from a bundle.
type Fixlet struct {
	ID       int
	Title    string
	Modified string
	// Text is the description; nil when the fixlet has none.
	Text    *string
	Actions []string
	// Relevance is the effective clause list, ancestors first.
	Relevance []string
	// RelevanceNode indexes the fixlet's own clause set in the
	// document's RelevanceArena.
	RelevanceNode int
}

// Content is the serialized form of a fixlet as stored with each revision.
type Content struct {
	Relevance []string  `json:"relevance"`
	Text      []*string `json:"text"`
	Actions   []string  `json:"actions"`
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// Escape HTML-escapes s the way stored fixlet content is escaped.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Content serializes the fixlet's relevance, description and actions, each
// string HTML-escaped. Two fixlets are considered equal in content exactly
// when their serializations are equal.
func (f Fixlet) Content() (string, error) {
	c := Content{
		Relevance: make([]string, len(f.Relevance)),
		Text:      []*string{nil},
		Actions:   make([]string, len(f.Actions)),
	}
	for i, r := range f.Relevance {
		c.Relevance[i] = Escape(r)
	}
	if f.Text != nil {
		t := Escape(*f.Text)
		c.Text[0] = &t
	}
	for i, a := range f.Actions {
		c.Actions[i] = Escape(a)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return "", fmt.Errorf("failed to encode fixlet %d: %w", f.ID, err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// DecodeContent parses stored fixlet content.
func DecodeContent(s string) (*Content, error) {
	var c Content
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, fmt.Errorf("failed to decode fixlet content: %w", err)
	}
	return &c, nil
}
