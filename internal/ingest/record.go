package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fxf-vault/internal/fxf"
	"github.com/fxf-vault/internal/gather"
	"github.com/fxf-vault/internal/store"
)

// upload is bundle content waiting for its transaction to commit before
// it is archived.
type upload struct {
	site    string
	bundle  string
	version int
	content string
}

// batch collects the effects of one transaction. They are applied to the
// run's Stats and archive only after a successful commit.
type batch struct {
	stats   *Stats
	uploads []upload
}

func newBatch() *batch {
	return &batch{stats: newStats()}
}

// commit merges the batch into stats and archives its uploads.
func (e *Engine) commit(ctx context.Context, b *batch, stats *Stats) {
	stats.merge(b.stats)
	if e.archive == nil {
		return
	}
	for _, u := range b.uploads {
		if err := e.archive.Archive(ctx, u.site, u.bundle, u.version, u.content); err != nil {
			slog.Warn("failed to archive bundle",
				slog.String("site", u.site), slog.String("bundle", u.bundle),
				slog.Int("version", u.version), slog.Any("err", err))
		}
	}
}

// insertDiscovered records a bundle found at its origin: the bundle row,
// its `new` revision with content and the fixlets it publishes.
func (e *Engine) insertDiscovered(ctx context.Context, tx *store.Tx, site *store.Site, d discovery, b *batch) error {
	name := gather.BundleName(d.origin.URL)

	existing, err := tx.BundleByName(ctx, site.ID, name)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.Info("bundle already tracked",
			slog.String("site", site.Name), slog.String("bundle", name), slog.Int("latest", existing.Latest))
		return nil
	}

	bundle := &store.Bundle{SiteID: site.ID, Name: name, Latest: d.origin.Version, DiskLatest: d.origin.Version}
	if err := tx.InsertBundle(ctx, bundle); err != nil {
		return err
	}

	rev, err := e.storeRevision(ctx, tx, site, bundle, store.KindNew, d.origin.Version, d.origin.URL, d.content, b)
	if err != nil {
		return err
	}
	b.stats.BundlesSeeded++

	slog.Debug("seeded bundle",
		slog.String("site", site.Name), slog.String("bundle", name), slog.Int("version", rev.Version))
	return nil
}

// storeRevision inserts a bundle revision with content and records the
// fixlets parsed from it.
func (e *Engine) storeRevision(ctx context.Context, tx *store.Tx, site *store.Site, bundle *store.Bundle,
	kind store.RevisionKind, version int, url, content string, b *batch) (*store.BundleRevision, error) {
	rev := &store.BundleRevision{BundleID: bundle.ID, Version: version, Kind: kind, SourceURL: url}
	if err := tx.InsertBundleRevision(ctx, rev); err != nil {
		return nil, err
	}
	if err := tx.InsertBundleContent(ctx, rev.ID, content); err != nil {
		return nil, err
	}
	b.stats.BundleRevisions[kind]++
	b.uploads = append(b.uploads, upload{site: site.Name, bundle: bundle.Name, version: version, content: content})

	doc, err := fxf.ParseBundle(content)
	if err != nil {
		slog.Warn("failed to parse bundle",
			slog.String("site", site.Name), slog.String("bundle", bundle.Name),
			slog.Int("version", version), slog.Any("err", err))
		return rev, nil
	}

	for _, r := range doc.Rejected {
		slog.Info("fixlet rejected",
			slog.String("site", site.Name), slog.String("bundle", bundle.Name), slog.Int("version", version),
			slog.Int("fixlet_id", r.FixletID), slog.String("title", r.Title),
			slog.String("reason", string(r.Reason)), slog.String("content_type", r.ContentType))
	}
	b.stats.Rejected += len(doc.Rejected)

	if err := recordFixlets(ctx, tx, site, rev, doc, b.stats); err != nil {
		return nil, err
	}
	return rev, nil
}

// recordFixlets stores a revision for every fixlet of doc that is new to
// the site or differs from its latest stored revision.
func recordFixlets(ctx context.Context, tx *store.Tx, site *store.Site, rev *store.BundleRevision, doc *fxf.Document, stats *Stats) error {
	ids := make([]int, 0, len(doc.Fixlets))
	for id := range doc.Fixlets {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		fixlet := doc.Fixlets[id]
		content, err := fixlet.Content()
		if err != nil {
			return fmt.Errorf("failed to serialize fixlet %d: %w", id, err)
		}

		last, err := tx.LatestFixletRevision(ctx, site.ID, id)
		if err != nil {
			return err
		}

		kind := store.KindNew
		if last != nil {
			if last.Version >= rev.Version {
				// Published by another bundle of the site at this version.
				slog.Debug("fixlet already recorded",
					slog.String("site", site.Name), slog.Int("fixlet_id", id),
					slog.Int("version", rev.Version), slog.Int("recorded", last.Version))
				continue
			}
			if last.Title == fixlet.Title && last.Published == fixlet.Modified && last.Content == content {
				continue
			}
			kind = store.KindChanged
		}

		err = tx.InsertFixletRevision(ctx, &store.FixletRevision{
			SiteID:           site.ID,
			FixletID:         id,
			Version:          rev.Version,
			Kind:             kind,
			Published:        fixlet.Modified,
			Title:            fixlet.Title,
			SourceRevisionID: rev.ID,
			Content:          content,
		})
		if err != nil {
			return err
		}
		stats.FixletRevisions[kind]++
	}
	return nil
}
