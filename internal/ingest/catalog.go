package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fxf-vault/internal/fxf"
	"github.com/fxf-vault/internal/gather"
	"github.com/fxf-vault/internal/pool"
)

// catalog is the current directory of one gather site
type catalog struct {
	url     string
	name    string
	entries []fxf.Entry
	meta    []fxf.Property
	err     error
}

// fetchCatalogs fetches and parses every site catalog on the pool. A site
// whose catalog cannot be fetched carries err and no entries.
func (e *Engine) fetchCatalogs(ctx context.Context) []catalog {
	return pool.Map(ctx, e.pool, e.sites, func(ctx context.Context, url string) catalog {
		c := catalog{url: url, name: gather.ShortName(url)}

		text, err := e.fetcher.Fetch(ctx, url)
		if err != nil {
			c.err = err
			slog.Warn("failed to fetch catalog", slog.String("site", c.name), slog.Any("err", err))
			return c
		}

		entries, err := fxf.ParseDirectory(text)
		if err != nil {
			slog.Warn("catalog listing truncated",
				slog.String("site", c.name), slog.Int("entries", len(entries)), slog.Any("err", err))
		}
		c.entries = fxf.FilterBundles(entries)
		c.meta = fxf.ParseMetadata(text)

		slog.Debug("fetched catalog", slog.String("site", c.name), slog.Int("bundles", len(c.entries)))
		return c
	})
}

// targetVersion returns the site version published in the catalog
// metadata.
func (c catalog) targetVersion() (int, error) {
	raw, ok := fxf.Lookup(c.meta, VersionProperty)
	if !ok {
		return 0, fmt.Errorf("%w: site %s", ErrMetadataMissing, c.name)
	}

	version, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: site %s has Version %q", ErrMetadataMissing, c.name, raw)
	}
	return version, nil
}
