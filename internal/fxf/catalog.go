package fxf

import (
	"fmt"
	"regexp"
	"strings"
)

// BundleExt is the file extension of bundle entries in a site catalog.
const BundleExt = ".fxf"

// nonClientMarker marks catalog entries that are not meant for clients.
const nonClientMarker = "NONCLIENT"

var (
	attrRegex     = regexp.MustCompile(`\w+: (.*)`)
	attrLineRegex = regexp.MustCompile(`^\w+: `)
	boundaryRegex = regexp.MustCompile(`.*boundary="(.*)"`)
)

// Entry is one file listed in a site catalog.
type Entry struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Modified string `json:"modified"`
	Size     string `json:"size"`
	Type     string `json:"type"`
	Hash     string `json:"hash"`
	HashInfo string `json:"hashinfo,omitempty"`
}

// fullSchema is the attribute count of an entry carrying hashinfo; some
// sites omit that last attribute.
const (
	fullSchema  = 7
	shortSchema = 6
)

// ParseDirectory parses the file entries of a site catalog.
//
// Whether entries carry the hashinfo attribute is decided once, from the
// first entry, and applies to the whole document. Entries are a fixed
// number of lines apart; parsing stops at the first position that does not
// hold a URL line. A malformed attribute line stops parsing and the entries
// read so far are returned together with the error.
func ParseDirectory(text string) ([]Entry, error) {
	lines := trimmedLines(text)

	pos := 0
	for pos < len(lines) && !strings.HasPrefix(lines[pos], "URL: ") {
		pos++
	}
	if pos >= len(lines) {
		return nil, nil
	}

	schema := shortSchema
	if probe := pos + fullSchema - 1; probe < len(lines) && attrLineRegex.MatchString(lines[probe]) {
		schema = fullSchema
	}

	var entries []Entry
	for pos < len(lines) && strings.HasPrefix(lines[pos], "URL: ") {
		if pos+schema > len(lines) {
			return entries, fmt.Errorf("%w: truncated entry at line %d", ErrMalformed, pos+1)
		}

		values := make([]string, schema)
		for i := 0; i < schema; i++ {
			m := attrRegex.FindStringSubmatch(lines[pos+i])
			if m == nil {
				return entries, fmt.Errorf("%w: bad attribute at line %d: %q", ErrMalformed, pos+i+1, lines[pos+i])
			}
			values[i] = m[1]
		}

		entry := Entry{
			URL:      values[0],
			Name:     values[1],
			Modified: values[2],
			Size:     values[3],
			Type:     values[4],
			Hash:     values[5],
		}
		if schema == fullSchema {
			entry.HashInfo = values[6]
		}
		entries = append(entries, entry)

		pos += schema + 3
	}

	return entries, nil
}

// FilterBundles keeps the client bundle entries of a catalog.
func FilterBundles(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if strings.HasSuffix(e.Name, BundleExt) && !strings.Contains(e.Name, nonClientMarker) {
			out = append(out, e)
		}
	}
	return out
}

// Property is one header of a catalog's metadata block. Keys may repeat.
type Property struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseMetadata extracts the ordered header pairs between a catalog's
// multipart boundary and the first blank line. Truncated input yields the
// pairs collected so far.
func ParseMetadata(text string) []Property {
	lines := trimmedLines(text)

	pos := 0
	for pos < len(lines) && !strings.HasPrefix(lines[pos], "Content-Type:") {
		pos++
	}
	if pos >= len(lines) {
		return nil
	}

	m := boundaryRegex.FindStringSubmatch(lines[pos])
	if m == nil {
		return nil
	}
	boundary := m[1]

	pos++
	for pos < len(lines) && !strings.Contains(lines[pos], boundary) {
		pos++
	}
	pos++

	var props []Property
	for ; pos < len(lines) && lines[pos] != ""; pos++ {
		line := lines[pos]
		sep := strings.Index(line, ":")
		if sep < 0 {
			props = append(props, Property{Key: line})
			continue
		}
		value := ""
		if sep+2 <= len(line) {
			value = line[sep+2:]
		}
		props = append(props, Property{Key: line[:sep], Value: value})
	}

	return props
}

// Lookup returns the value of the first property named key.
func Lookup(props []Property, key string) (string, bool) {
	for _, p := range props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

func trimmedLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return lines
}
