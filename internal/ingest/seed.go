package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fxf-vault/internal/store"
)

// Seed records every site of the gather list that is not stored yet,
// with each catalog bundle at its origin version.
func (e *Engine) Seed(ctx context.Context) (*Stats, error) {
	stats := newStats()
	slog.Info("starting seed", slog.Int("sites", len(e.sites)))

	catalogs := e.fetchCatalogs(ctx)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	sites, err := e.store.ListSites(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list sites: %w", err)
	}
	known := make(map[string]bool, len(sites))
	for _, site := range sites {
		known[site.Name] = true
	}

	var pending []catalog
	for _, c := range catalogs {
		switch {
		case c.err != nil:
			stats.SitesSkipped++
			stats.Failures++
		case known[c.name]:
			slog.Info("site already seeded", slog.String("site", c.name))
			stats.SitesSkipped++
		default:
			pending = append(pending, c)
		}
	}

	if err := e.seedSites(ctx, pending, stats, true); err != nil {
		return stats, err
	}

	stats.log("seed complete")
	return stats, nil
}

// seedSites locates the bundles of every catalog in one pool pass and then
// stores each site in its own transaction. useCache is set by Seed only;
// update runs always probe.
func (e *Engine) seedSites(ctx context.Context, catalogs []catalog, stats *Stats, useCache bool) error {
	var items []discovery
	for _, c := range catalogs {
		for _, entry := range c.entries {
			items = append(items, discovery{site: c.name, entry: entry})
		}
	}

	found := e.discover(ctx, items, useCache)
	if err := ctx.Err(); err != nil {
		return err
	}

	bySite := make(map[string][]discovery, len(catalogs))
	for _, d := range found {
		if d.err != nil {
			stats.Failures++
			continue
		}
		bySite[d.site] = append(bySite[d.site], d)
	}

	for _, c := range catalogs {
		b := newBatch()
		err := e.store.Atomic(ctx, func(tx *store.Tx) error {
			site := &store.Site{Name: c.name, URL: c.url}
			if err := tx.InsertSite(ctx, site); err != nil {
				return err
			}
			for _, d := range bySite[c.name] {
				if err := e.insertDiscovered(ctx, tx, site, d, b); err != nil {
					return fmt.Errorf("bundle %s: %w", d.origin.URL, err)
				}
			}
			return nil
		})
		if err != nil {
			if fatal(ctx, err) {
				return err
			}
			slog.Error("failed to seed site", slog.String("site", c.name), slog.Any("err", err))
			stats.Failures++
			continue
		}

		stats.Sites++
		e.commit(ctx, b, stats)
		slog.Info("seeded site", slog.String("site", c.name), slog.Int("bundles", b.stats.BundlesSeeded))
	}
	return nil
}
