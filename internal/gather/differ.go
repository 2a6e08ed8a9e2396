package gather

import "github.com/fxf-vault/internal/fxf"

// KnownKeys builds the version-independent key set of previously stored
// bundle source URLs.
func KnownKeys(urls []string) map[string]struct{} {
	known := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		known[StripVersion(u)] = struct{}{}
	}
	return known
}

// AddedEntries returns the catalog entries whose version-independent key is
// not in known, in catalog order. These bundles need seeding rather than an
// incremental update.
func AddedEntries(known map[string]struct{}, entries []fxf.Entry) []fxf.Entry {
	var added []fxf.Entry
	for _, e := range entries {
		if _, ok := known[StripVersion(e.URL)]; !ok {
			added = append(added, e)
		}
	}
	return added
}
