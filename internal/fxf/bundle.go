// Package fxf parses the text formats published by gather sites: the site
// catalog listing, the catalog metadata block and the bundle documents
// ("fxf files") whose nested multipart sections carry the fixlets.
//
// Everything here is pure; nothing performs I/O.
package fxf

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformed reports text that does not follow the expected structure.
var ErrMalformed = errors.New("malformed document")

// Content types recognised inside a fixlet leaf.
const (
	ContentTypeDescription = "text/html; charset=us-ascii"
	ContentTypeAction      = "application/x-Fixlet-Windows-Shell"
	ContentTypeAnalysis    = "application/x-bigfix-analysis-template"
	ContentTypeProperty    = "application/x-bigfix-itclient-property"
	ContentTypeTask        = "application/x-Task-Windows-Shell"
)

// UnknownModified is the modification time of a fixlet without one.
const UnknownModified = "unknown"

const (
	headerRelevance = "X-Relevant-When: "
	headerFixletID  = "X-Fixlet-ID: "
	headerSubject   = "Subject: "
	headerModified  = "X-Fixlet-Modification-Time: "
	headerType      = "Content-Type: "
	multipartPrefix = "Content-Type: multipart/"
	digestPrefix    = "Content-Type: multipart/digest"
	relatedPrefix   = "Content-Type: multipart/related"
)

var commentRegex = regexp.MustCompile(`<!--.*?-->`)

// RejectReason classifies a leaf section that produced no fixlet.
type RejectReason string

const (
	RejectNotAFixlet   RejectReason = "not a fixlet"
	RejectUnrecognized RejectReason = "unrecognized content type"
	RejectMissingID    RejectReason = "missing fixlet id"
	RejectMalformed    RejectReason = "malformed section"
)

// Rejection describes a section dropped from the parse result.
type Rejection struct {
	FixletID    int          `json:"fixlet_id,omitempty"`
	Title       string       `json:"title,omitempty"`
	Reason      RejectReason `json:"reason"`
	ContentType string       `json:"content_type,omitempty"`
	Detail      string       `json:"detail,omitempty"`
}

// Document is the parse result of one bundle.
type Document struct {
	Fixlets   map[int]Fixlet
	Rejected  []Rejection
	Relevance RelevanceArena
	// Leaves counts the multipart/related sections encountered.
	Leaves int
}

// ParseBundle parses a bundle document into its fixlets.
//
// Leaves that cannot be turned into a fixlet are listed in
// Document.Rejected and never abort their siblings. An error is returned
// only when the top level of the document is not a well-formed multipart
// section.
func ParseBundle(text string) (*Document, error) {
	lines := strings.Split(text, "\n")
	p := &parser{
		lines: lines,
		doc:   &Document{Fixlets: make(map[int]Fixlet)},
	}

	if err := p.section(span{start: 0, end: len(lines)}, NoParent); err != nil {
		return nil, err
	}
	return p.doc, nil
}

// span is a half-open range of line indices.
type span struct {
	start, end int
}

// cursor walks the lines of one span.
type cursor struct {
	lines []string
	pos   int
	end   int
}

func (c *cursor) done() bool   { return c.pos >= c.end }
func (c *cursor) line() string { return strings.TrimRight(c.lines[c.pos], "\r") }
func (c *cursor) advance()     { c.pos++ }

// headers are the single-level headers read before a multipart header.
type headers struct {
	relevance []string
	id        int
	hasID     bool
	title     string
	modified  string
}

type parser struct {
	lines []string
	doc   *Document
}

// readHeaders consumes header lines up to and excluding the first
// multipart Content-Type line.
func (p *parser) readHeaders(c *cursor) (headers, error) {
	h := headers{modified: UnknownModified}
	for ; !c.done(); c.advance() {
		line := c.line()
		switch {
		case strings.HasPrefix(line, multipartPrefix):
			return h, nil
		case strings.HasPrefix(line, headerRelevance):
			h.relevance = append(h.relevance, strings.TrimSpace(strings.TrimPrefix(line, headerRelevance)))
		case strings.HasPrefix(line, headerFixletID):
			id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, headerFixletID)))
			if err == nil {
				h.id, h.hasID = id, true
			}
		case strings.HasPrefix(line, headerSubject):
			h.title = strings.TrimSpace(strings.TrimPrefix(line, headerSubject))
		case strings.HasPrefix(line, headerModified):
			h.modified = strings.TrimSpace(strings.TrimPrefix(line, headerModified))
		}
	}
	return h, fmt.Errorf("%w: no multipart header", ErrMalformed)
}

func (p *parser) section(s span, parent int) error {
	c := &cursor{lines: p.lines, pos: s.start, end: s.end}

	h, err := p.readHeaders(c)
	if err != nil {
		return err
	}

	typeLine := c.line()
	m := boundaryRegex.FindStringSubmatch(typeLine)
	if m == nil {
		return fmt.Errorf("%w: multipart header without boundary: %q", ErrMalformed, typeLine)
	}
	c.advance()

	parts, err := splitParts(c, m[1])
	if err != nil {
		return err
	}

	node := p.doc.Relevance.Add(h.relevance, parent)

	switch {
	case strings.HasPrefix(typeLine, digestPrefix):
		for _, part := range parts {
			if err := p.section(part, node); err != nil {
				p.doc.Rejected = append(p.doc.Rejected, Rejection{
					Reason: RejectMalformed,
					Detail: err.Error(),
				})
			}
		}
		return nil

	case strings.HasPrefix(typeLine, relatedPrefix):
		p.doc.Leaves++
		p.leaf(h, node, parts)
		return nil

	default:
		return fmt.Errorf("%w: unsupported multipart type: %q", ErrMalformed, typeLine)
	}
}

type splitState int

const (
	seekingBoundary splitState = iota
	readingPart
	splitDone
)

// splitParts divides the rest of the cursor's span into the parts
// delimited by boundary. The preamble and anything after the closing
// delimiter are discarded.
func splitParts(c *cursor, boundary string) ([]span, error) {
	delimiter := "--" + boundary
	closing := delimiter + "--"

	var parts []span
	state := seekingBoundary
	start := 0

	for ; !c.done() && state != splitDone; c.advance() {
		line := strings.TrimSpace(c.line())
		switch {
		case line == closing:
			if state == readingPart {
				parts = append(parts, span{start: start, end: c.pos})
			}
			state = splitDone
		case line == delimiter:
			if state == readingPart {
				parts = append(parts, span{start: start, end: c.pos})
			}
			start = c.pos + 1
			state = readingPart
		}
	}

	if state != splitDone {
		return nil, fmt.Errorf("%w: missing closing boundary %q", ErrMalformed, closing)
	}
	return parts, nil
}

// leaf turns the parts of a multipart/related section into a fixlet.
func (p *parser) leaf(h headers, node int, parts []span) {
	reject := func(reason RejectReason, contentType string) {
		p.doc.Rejected = append(p.doc.Rejected, Rejection{
			FixletID:    h.id,
			Title:       h.title,
			Reason:      reason,
			ContentType: contentType,
		})
	}

	if !h.hasID {
		reject(RejectMissingID, "")
		return
	}

	var text *string
	actions := []string{}

	for _, part := range parts {
		c := &cursor{lines: p.lines, pos: part.start, end: part.end}
		for !c.done() && !strings.HasPrefix(c.line(), headerType) {
			c.advance()
		}
		if c.done() {
			reject(RejectUnrecognized, "")
			return
		}

		contentType := strings.TrimSpace(strings.TrimPrefix(c.line(), headerType))
		body := strings.Join(p.lines[c.pos+1:part.end], "\n")

		switch contentType {
		case ContentTypeDescription:
			desc := strings.TrimSpace(commentRegex.ReplaceAllString(body, ""))
			text = &desc
		case ContentTypeAction:
			actions = append(actions, strings.TrimSpace(body))
		case ContentTypeAnalysis, ContentTypeProperty, ContentTypeTask:
			reject(RejectNotAFixlet, contentType)
			return
		default:
			reject(RejectUnrecognized, contentType)
			return
		}
	}

	p.doc.Fixlets[h.id] = Fixlet{
		ID:            h.id,
		Title:         h.title,
		Modified:      h.modified,
		Text:          text,
		Actions:       actions,
		Relevance:     p.doc.Relevance.Flatten(node),
		RelevanceNode: node,
	}
}
