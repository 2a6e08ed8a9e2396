package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tx is the write side of the store, valid for the duration of one
// Atomic call.
type Tx struct {
	tx *sql.Tx
}

// Snapshot is the stored content of a bundle at one version
type Snapshot struct {
	RevisionID int64
	SourceURL  string
	Content    string
}

// SiteByName looks up a site by short name; nil when absent
func (t *Tx) SiteByName(ctx context.Context, name string) (*Site, error) {
	var site Site
	err := t.tx.QueryRowContext(ctx, `SELECT id, name, url FROM sites WHERE name = ?`, name).
		Scan(&site.ID, &site.Name, &site.URL)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site %s: %w", name, err)
	}

	return &site, nil
}

// InsertSite creates a site and sets its ID
func (t *Tx) InsertSite(ctx context.Context, site *Site) error {
	result, err := t.tx.ExecContext(ctx, `INSERT INTO sites (name, url) VALUES (?, ?)`, site.Name, site.URL)
	if err != nil {
		return fmt.Errorf("failed to insert site %s: %w", site.Name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read site id: %w", err)
	}
	site.ID = id
	return nil
}

// BundleByName looks up a bundle of a site; nil when absent
func (t *Tx) BundleByName(ctx context.Context, siteID int64, name string) (*Bundle, error) {
	return scanBundle(t.tx.QueryRowContext(ctx, `
		SELECT id, site_id, name, latest, disk_latest
		FROM bundles WHERE site_id = ? AND name = ?
	`, siteID, name))
}

// BundleByID looks up a bundle by ID; nil when absent
func (t *Tx) BundleByID(ctx context.Context, id int64) (*Bundle, error) {
	return scanBundle(t.tx.QueryRowContext(ctx, `
		SELECT id, site_id, name, latest, disk_latest
		FROM bundles WHERE id = ?
	`, id))
}

func scanBundle(row *sql.Row) (*Bundle, error) {
	var b Bundle
	err := row.Scan(&b.ID, &b.SiteID, &b.Name, &b.Latest, &b.DiskLatest)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle: %w", err)
	}

	return &b, nil
}

// InsertBundle creates a bundle and sets its ID
func (t *Tx) InsertBundle(ctx context.Context, b *Bundle) error {
	if b.DiskLatest > b.Latest {
		return fmt.Errorf("%w: bundle %s disk_latest %d > latest %d", ErrInvariant, b.Name, b.DiskLatest, b.Latest)
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO bundles (site_id, name, latest, disk_latest) VALUES (?, ?, ?, ?)
	`, b.SiteID, b.Name, b.Latest, b.DiskLatest)
	if err != nil {
		return fmt.Errorf("failed to insert bundle %s: %w", b.Name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read bundle id: %w", err)
	}
	b.ID = id
	return nil
}

// AdvanceBundle moves the pointers of b forward and updates b in place.
// Pointers never move backwards and disk_latest never exceeds latest.
func (t *Tx) AdvanceBundle(ctx context.Context, b *Bundle, latest, diskLatest int) error {
	if latest < b.Latest || diskLatest < b.DiskLatest || diskLatest > latest {
		return fmt.Errorf("%w: bundle %d (%d, %d) -> (%d, %d)",
			ErrInvariant, b.ID, b.Latest, b.DiskLatest, latest, diskLatest)
	}

	_, err := t.tx.ExecContext(ctx, `
		UPDATE bundles SET latest = ?, disk_latest = ? WHERE id = ?
	`, latest, diskLatest, b.ID)
	if err != nil {
		return fmt.Errorf("failed to advance bundle %d: %w", b.ID, err)
	}

	b.Latest = latest
	b.DiskLatest = diskLatest
	return nil
}

// InsertBundleRevision records a bundle revision and sets its ID.
// CapturedAt defaults to now.
func (t *Tx) InsertBundleRevision(ctx context.Context, r *BundleRevision) error {
	if r.CapturedAt.IsZero() {
		r.CapturedAt = time.Now().UTC()
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO bundle_revisions (bundle_id, version, kind, source_url, captured_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.BundleID, r.Version, int(r.Kind), r.SourceURL, r.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to insert revision %d of bundle %d: %w", r.Version, r.BundleID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read bundle revision id: %w", err)
	}
	r.ID = id
	return nil
}

// InsertBundleContent stores the text of a bundle revision
func (t *Tx) InsertBundleContent(ctx context.Context, revisionID int64, content string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bundle_contents (revision_id, content) VALUES (?, ?)
	`, revisionID, content)
	if err != nil {
		return fmt.Errorf("failed to insert content of revision %d: %w", revisionID, err)
	}
	return nil
}

// DiskSnapshot returns the stored revision of a bundle at version; nil
// when that version has no content.
func (t *Tx) DiskSnapshot(ctx context.Context, bundleID int64, version int) (*Snapshot, error) {
	var snap Snapshot
	err := t.tx.QueryRowContext(ctx, `
		SELECT r.id, r.source_url, c.content
		FROM bundle_revisions r
		JOIN bundle_contents c ON c.revision_id = r.id
		WHERE r.bundle_id = ? AND r.version = ?
	`, bundleID, version).Scan(&snap.RevisionID, &snap.SourceURL, &snap.Content)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot of bundle %d at %d: %w", bundleID, version, err)
	}

	return &snap, nil
}

// LatestFixletRevision returns the highest version revision of a fixlet
// with its content; nil when the fixlet is unknown.
func (t *Tx) LatestFixletRevision(ctx context.Context, siteID int64, fixletID int) (*FixletRevision, error) {
	return scanFixletRevision(t.tx.QueryRowContext(ctx, `
		SELECT r.id, r.site_id, r.fixlet_id, r.version, r.kind, r.published, r.title, r.source_revision_id, c.content
		FROM fixlet_revisions r
		JOIN fixlet_contents c ON c.revision_id = r.id
		WHERE r.site_id = ? AND r.fixlet_id = ?
		ORDER BY r.version DESC
		LIMIT 1
	`, siteID, fixletID))
}

// InsertFixletRevision records a fixlet revision with its content and
// sets its ID
func (t *Tx) InsertFixletRevision(ctx context.Context, r *FixletRevision) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO fixlet_revisions (site_id, fixlet_id, version, kind, published, title, source_revision_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.SiteID, r.FixletID, r.Version, int(r.Kind), r.Published, r.Title, r.SourceRevisionID)
	if err != nil {
		return fmt.Errorf("failed to insert fixlet %d at %d: %w", r.FixletID, r.Version, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read fixlet revision id: %w", err)
	}
	r.ID = id

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO fixlet_contents (revision_id, content) VALUES (?, ?)
	`, id, r.Content)
	if err != nil {
		return fmt.Errorf("failed to insert content of fixlet %d at %d: %w", r.FixletID, r.Version, err)
	}
	return nil
}
