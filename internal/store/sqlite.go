package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath and migrates the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return newSQLiteStore(db), nil
}

func newSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Atomic runs fn inside a transaction. A panic in fn rolls back and is
// re-raised.
func (s *SQLiteStore) Atomic(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSites returns every site in insertion order
func (s *SQLiteStore) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, url FROM sites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var site Site
		if err := rows.Scan(&site.ID, &site.Name, &site.URL); err != nil {
			return nil, fmt.Errorf("failed to scan site row: %w", err)
		}
		sites = append(sites, site)
	}

	return sites, rows.Err()
}

// GetSite retrieves a site by its ID
func (s *SQLiteStore) GetSite(ctx context.Context, id int64) (*Site, error) {
	var site Site
	err := s.db.QueryRowContext(ctx, `SELECT id, name, url FROM sites WHERE id = ?`, id).
		Scan(&site.ID, &site.Name, &site.URL)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}

	return &site, nil
}

// SiteSourceURLs returns the source URL of the stored (disk_latest)
// revision of every bundle of a site. Catalog differ input.
func (s *SQLiteStore) SiteSourceURLs(ctx context.Context, siteID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.source_url
		FROM bundles b
		JOIN bundle_revisions r ON r.bundle_id = b.id AND r.version = b.disk_latest
		WHERE b.site_id = ?
		ORDER BY b.id
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan source url: %w", err)
		}
		urls = append(urls, url)
	}

	return urls, rows.Err()
}

// ListTrackedBundles returns every bundle with its site name
func (s *SQLiteStore) ListTrackedBundles(ctx context.Context) ([]TrackedBundle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.site_id, b.name, b.latest, b.disk_latest, s.name
		FROM bundles b
		JOIN sites s ON s.id = b.site_id
		ORDER BY b.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	var bundles []TrackedBundle
	for rows.Next() {
		var b TrackedBundle
		if err := rows.Scan(&b.ID, &b.SiteID, &b.Name, &b.Latest, &b.DiskLatest, &b.SiteName); err != nil {
			return nil, fmt.Errorf("failed to scan bundle row: %w", err)
		}
		bundles = append(bundles, b)
	}

	return bundles, rows.Err()
}

// ListBundles returns the bundles of a site ordered by name
func (s *SQLiteStore) ListBundles(ctx context.Context, siteID int64) ([]Bundle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, name, latest, disk_latest
		FROM bundles WHERE site_id = ?
		ORDER BY name
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	var bundles []Bundle
	for rows.Next() {
		var b Bundle
		if err := rows.Scan(&b.ID, &b.SiteID, &b.Name, &b.Latest, &b.DiskLatest); err != nil {
			return nil, fmt.Errorf("failed to scan bundle row: %w", err)
		}
		bundles = append(bundles, b)
	}

	return bundles, rows.Err()
}

// ListBundleRevisions returns the revisions of a bundle, newest first
func (s *SQLiteStore) ListBundleRevisions(ctx context.Context, bundleID int64) ([]BundleRevision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bundle_id, version, kind, source_url, captured_at
		FROM bundle_revisions WHERE bundle_id = ?
		ORDER BY version DESC
	`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundle revisions: %w", err)
	}
	defer rows.Close()

	var revisions []BundleRevision
	for rows.Next() {
		var r BundleRevision
		var capturedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.BundleID, &r.Version, &r.Kind, &r.SourceURL, &capturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bundle revision row: %w", err)
		}
		if capturedAt.Valid {
			r.CapturedAt = parseTime(capturedAt.String)
		}
		revisions = append(revisions, r)
	}

	return revisions, rows.Err()
}

// GetBundleRevision retrieves a bundle revision and its content. Missing
// revisions carry empty content.
func (s *SQLiteStore) GetBundleRevision(ctx context.Context, id int64) (*BundleRevisionWithContent, error) {
	var r BundleRevisionWithContent
	var capturedAt sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.bundle_id, r.version, r.kind, r.source_url, r.captured_at, COALESCE(c.content, '')
		FROM bundle_revisions r
		LEFT JOIN bundle_contents c ON c.revision_id = r.id
		WHERE r.id = ?
	`, id).Scan(&r.ID, &r.BundleID, &r.Version, &r.Kind, &r.SourceURL, &capturedAt, &r.Content)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle revision: %w", err)
	}

	if capturedAt.Valid {
		r.CapturedAt = parseTime(capturedAt.String)
	}

	return &r, nil
}

// ListFixlets returns the current revision of every fixlet of a site
func (s *SQLiteStore) ListFixlets(ctx context.Context, siteID int64) ([]FixletSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.site_id, r.fixlet_id, r.version, r.kind, r.published, r.title, r.source_revision_id, m.revision_count
		FROM fixlet_revisions r
		JOIN (
			SELECT fixlet_id, MAX(version) AS version, COUNT(*) AS revision_count
			FROM fixlet_revisions
			WHERE site_id = ?
			GROUP BY fixlet_id
		) m ON m.fixlet_id = r.fixlet_id AND m.version = r.version
		WHERE r.site_id = ?
		ORDER BY r.fixlet_id
	`, siteID, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fixlets: %w", err)
	}
	defer rows.Close()

	var fixlets []FixletSummary
	for rows.Next() {
		var f FixletSummary
		err := rows.Scan(
			&f.ID, &f.SiteID, &f.FixletID, &f.Version, &f.Kind, &f.Published, &f.Title,
			&f.SourceRevisionID, &f.RevisionCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fixlet row: %w", err)
		}
		fixlets = append(fixlets, f)
	}

	return fixlets, rows.Err()
}

// ListFixletRevisions returns the revisions of one fixlet, newest first
func (s *SQLiteStore) ListFixletRevisions(ctx context.Context, siteID int64, fixletID int) ([]FixletRevision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, fixlet_id, version, kind, published, title, source_revision_id
		FROM fixlet_revisions
		WHERE site_id = ? AND fixlet_id = ?
		ORDER BY version DESC
	`, siteID, fixletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fixlet revisions: %w", err)
	}
	defer rows.Close()

	var revisions []FixletRevision
	for rows.Next() {
		var r FixletRevision
		if err := rows.Scan(&r.ID, &r.SiteID, &r.FixletID, &r.Version, &r.Kind, &r.Published, &r.Title, &r.SourceRevisionID); err != nil {
			return nil, fmt.Errorf("failed to scan fixlet revision row: %w", err)
		}
		revisions = append(revisions, r)
	}

	return revisions, rows.Err()
}

// GetFixletRevision retrieves a fixlet revision with its content
func (s *SQLiteStore) GetFixletRevision(ctx context.Context, id int64) (*FixletRevision, error) {
	return scanFixletRevision(s.db.QueryRowContext(ctx, `
		SELECT r.id, r.site_id, r.fixlet_id, r.version, r.kind, r.published, r.title, r.source_revision_id, c.content
		FROM fixlet_revisions r
		JOIN fixlet_contents c ON c.revision_id = r.id
		WHERE r.id = ?
	`, id))
}

func scanFixletRevision(row *sql.Row) (*FixletRevision, error) {
	var r FixletRevision
	err := row.Scan(&r.ID, &r.SiteID, &r.FixletID, &r.Version, &r.Kind, &r.Published, &r.Title, &r.SourceRevisionID, &r.Content)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fixlet revision: %w", err)
	}

	return &r, nil
}

// parseTime parses a SQLite datetime string into time.Time
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	formats := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}

	return time.Time{}
}
