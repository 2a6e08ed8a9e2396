package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fxf-vault/internal/gather"
	"github.com/fxf-vault/internal/store"
)

// Update seeds sites and bundles that appeared since the last run and
// walks every tracked bundle up to the version its site publishes.
func (e *Engine) Update(ctx context.Context) (*Stats, error) {
	stats := newStats()
	slog.Info("starting update", slog.Int("sites", len(e.sites)))

	catalogs := e.fetchCatalogs(ctx)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	sites, err := e.store.ListSites(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list sites: %w", err)
	}
	byName := make(map[string]store.Site, len(sites))
	for _, site := range sites {
		byName[site.Name] = site
	}

	current := make(map[string]catalog, len(catalogs))
	var fresh []catalog
	var added []discovery
	for _, c := range catalogs {
		if c.err != nil {
			stats.SitesSkipped++
			stats.Failures++
			continue
		}
		current[c.name] = c

		site, ok := byName[c.name]
		if !ok {
			fresh = append(fresh, c)
			continue
		}
		stats.Sites++

		urls, err := e.store.SiteSourceURLs(ctx, site.ID)
		if err != nil {
			return stats, fmt.Errorf("failed to list bundles of %s: %w", site.Name, err)
		}
		for _, entry := range gather.AddedEntries(gather.KnownKeys(urls), c.entries) {
			added = append(added, discovery{site: c.name, entry: entry})
		}
	}

	if len(fresh) > 0 {
		slog.Info("seeding new sites", slog.Int("count", len(fresh)))
		if err := e.seedSites(ctx, fresh, stats, false); err != nil {
			return stats, err
		}
	}

	if err := e.addBundles(ctx, added, stats); err != nil {
		return stats, err
	}

	tracked, err := e.store.ListTrackedBundles(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list tracked bundles: %w", err)
	}

	for _, tb := range tracked {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		c, ok := current[tb.SiteName]
		if !ok {
			slog.Debug("no catalog for site", slog.String("site", tb.SiteName), slog.String("bundle", tb.Name))
			continue
		}

		target, err := c.targetVersion()
		if err != nil {
			slog.Warn("cannot update bundle",
				slog.String("site", tb.SiteName), slog.String("bundle", tb.Name), slog.Any("err", err))
			stats.Failures++
			continue
		}

		if err := e.walk(ctx, tb, target, stats); err != nil {
			if fatal(ctx, err) {
				return stats, err
			}
			slog.Error("failed to update bundle",
				slog.String("site", tb.SiteName), slog.String("bundle", tb.Name),
				slog.Int("latest", tb.Latest), slog.Int("target", target), slog.Any("err", err))
			stats.Failures++
		}
	}

	stats.log("update complete")
	return stats, nil
}

// addBundles seeds bundles that appeared in the catalogs of known sites,
// each in its own transaction.
func (e *Engine) addBundles(ctx context.Context, items []discovery, stats *Stats) error {
	if len(items) == 0 {
		return nil
	}
	slog.Info("new bundles found", slog.Int("count", len(items)))

	for _, d := range e.discover(ctx, items, false) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.err != nil {
			stats.Failures++
			continue
		}

		b := newBatch()
		err := e.store.Atomic(ctx, func(tx *store.Tx) error {
			site, err := tx.SiteByName(ctx, d.site)
			if err != nil {
				return err
			}
			if site == nil {
				return fmt.Errorf("site %s is not stored", d.site)
			}
			return e.insertDiscovered(ctx, tx, site, d, b)
		})
		if err != nil {
			if fatal(ctx, err) {
				return err
			}
			slog.Error("failed to add bundle",
				slog.String("site", d.site), slog.String("url", d.origin.URL), slog.Any("err", err))
			stats.Failures++
			continue
		}
		e.commit(ctx, b, stats)
	}
	return nil
}

// walk advances one bundle version by version up to target inside a
// single transaction. The bundle pointers are re-read in the transaction
// so an interrupted run resumes where the last commit left off.
func (e *Engine) walk(ctx context.Context, tb store.TrackedBundle, target int, stats *Stats) error {
	if target <= tb.Latest {
		return nil
	}

	b := newBatch()
	err := e.store.Atomic(ctx, func(tx *store.Tx) error {
		bundle, err := tx.BundleByID(ctx, tb.ID)
		if err != nil {
			return err
		}
		if bundle == nil {
			return fmt.Errorf("bundle %d not found", tb.ID)
		}
		site := &store.Site{ID: bundle.SiteID, Name: tb.SiteName}

		snap, err := tx.DiskSnapshot(ctx, bundle.ID, bundle.DiskLatest)
		if err != nil {
			return err
		}
		if snap == nil {
			return fmt.Errorf("no content stored at disk_latest %d", bundle.DiskLatest)
		}

		start := bundle.Latest
		for v := bundle.Latest + 1; v <= target; v++ {
			url := gather.WithVersion(snap.SourceURL, v)

			text, err := e.fetcher.Fetch(ctx, url)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Info("bundle version missing",
					slog.String("site", site.Name), slog.String("bundle", bundle.Name), slog.Int("version", v))
				if err := tx.AdvanceBundle(ctx, bundle, v, bundle.DiskLatest); err != nil {
					return err
				}
				rev := &store.BundleRevision{BundleID: bundle.ID, Version: v, Kind: store.KindMissing, SourceURL: url}
				if err := tx.InsertBundleRevision(ctx, rev); err != nil {
					return err
				}
				b.stats.BundleRevisions[store.KindMissing]++
				continue
			}

			if text == snap.Content {
				if err := tx.AdvanceBundle(ctx, bundle, v, bundle.DiskLatest); err != nil {
					return err
				}
				continue
			}

			if err := tx.AdvanceBundle(ctx, bundle, v, v); err != nil {
				return err
			}
			rev, err := e.storeRevision(ctx, tx, site, bundle, store.KindChanged, v, url, text, b)
			if err != nil {
				return err
			}
			snap = &store.Snapshot{RevisionID: rev.ID, SourceURL: url, Content: text}
		}

		if bundle.Latest > start {
			b.stats.BundlesUpdated++
		}
		slog.Debug("bundle updated",
			slog.String("site", site.Name), slog.String("bundle", bundle.Name),
			slog.Int("from", start), slog.Int("latest", bundle.Latest), slog.Int("disk_latest", bundle.DiskLatest))
		return nil
	})
	if err != nil {
		return err
	}

	e.commit(ctx, b, stats)
	return nil
}
