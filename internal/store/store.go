package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvariant is returned for a bundle pointer update that would move a
// pointer backwards or leave disk_latest above latest.
var ErrInvariant = errors.New("bundle pointer invariant violated")

// RevisionKind is the kind of a bundle or fixlet revision
type RevisionKind int

const (
	KindNew RevisionKind = iota
	KindChanged
	// KindCurrent and KindRemoved are reserved and never written.
	KindCurrent
	KindRemoved
	KindMissing
)

var kindNames = map[RevisionKind]string{
	KindNew:     "new",
	KindChanged: "changed",
	KindCurrent: "current",
	KindRemoved: "removed",
	KindMissing: "missing",
}

// RevisionKinds lists every kind in id order.
var RevisionKinds = []RevisionKind{KindNew, KindChanged, KindCurrent, KindRemoved, KindMissing}

func (k RevisionKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON responses
func (k RevisionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name
func (k *RevisionKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown revision kind %q", text)
}

// Site is a gather site
type Site struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Bundle is a tracked fxf file
type Bundle struct {
	ID     int64  `json:"id"`
	SiteID int64  `json:"site_id"`
	Name   string `json:"name"`
	// Latest is the highest version examined, including missing ones.
	Latest int `json:"latest"`
	// DiskLatest is the highest version whose content is stored.
	DiskLatest int `json:"disk_latest"`
}

// TrackedBundle is a bundle together with the name of its site
type TrackedBundle struct {
	Bundle
	SiteName string `json:"site_name"`
}

// BundleRevision records one observed version of a bundle
type BundleRevision struct {
	ID         int64        `json:"id"`
	BundleID   int64        `json:"bundle_id"`
	Version    int          `json:"version"`
	Kind       RevisionKind `json:"kind"`
	SourceURL  string       `json:"source_url"`
	CapturedAt time.Time    `json:"captured_at"`
}

// BundleRevisionWithContent extends BundleRevision with the stored text
type BundleRevisionWithContent struct {
	BundleRevision
	Content string `json:"content"`
}

// FixletRevision records one changed state of a fixlet
type FixletRevision struct {
	ID               int64        `json:"id"`
	SiteID           int64        `json:"site_id"`
	FixletID         int          `json:"fixlet_id"`
	Version          int          `json:"version"`
	Kind             RevisionKind `json:"kind"`
	Published        string       `json:"published"`
	Title            string       `json:"title"`
	SourceRevisionID int64        `json:"source_revision_id"`
	Content          string       `json:"content,omitempty"`
}

// FixletSummary is the current (highest version) revision of a fixlet
type FixletSummary struct {
	FixletRevision
	RevisionCount int `json:"revision_count"`
}

// Store defines the interface for the revision store
type Store interface {
	// Atomic runs fn in a single transaction, committing when fn returns
	// nil and rolling back otherwise.
	Atomic(ctx context.Context, fn func(tx *Tx) error) error

	// Site operations
	ListSites(ctx context.Context) ([]Site, error)
	GetSite(ctx context.Context, id int64) (*Site, error)
	SiteSourceURLs(ctx context.Context, siteID int64) ([]string, error)

	// Bundle operations
	ListTrackedBundles(ctx context.Context) ([]TrackedBundle, error)
	ListBundles(ctx context.Context, siteID int64) ([]Bundle, error)
	ListBundleRevisions(ctx context.Context, bundleID int64) ([]BundleRevision, error)
	GetBundleRevision(ctx context.Context, id int64) (*BundleRevisionWithContent, error)

	// Fixlet operations
	ListFixlets(ctx context.Context, siteID int64) ([]FixletSummary, error)
	ListFixletRevisions(ctx context.Context, siteID int64, fixletID int) ([]FixletRevision, error)
	GetFixletRevision(ctx context.Context, id int64) (*FixletRevision, error)

	// Utility
	Close() error
}
