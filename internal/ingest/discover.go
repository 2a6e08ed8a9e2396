package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fxf-vault/internal/fxf"
	"github.com/fxf-vault/internal/gather"
	"github.com/fxf-vault/internal/pool"
)

// discovery is a bundle located at its origin version together with the
// content published there.
type discovery struct {
	site    string
	entry   fxf.Entry
	origin  gather.Origin
	content string
	err     error
}

// discover locates the origin of every entry and fetches its content,
// using at most one pool pass for all sites. The origin cache is consulted
// only when useCache is set.
func (e *Engine) discover(ctx context.Context, items []discovery, useCache bool) []discovery {
	found := pool.Map(ctx, e.pool, items, func(ctx context.Context, d discovery) discovery {
		var cached bool
		d.origin, d.content, cached, d.err = e.locate(ctx, d.entry.URL, useCache)
		if d.err != nil || !cached {
			return d
		}
		d.content, d.err = e.fetcher.Fetch(ctx, d.origin.URL)
		return d
	})

	if useCache && e.cache != nil {
		if err := e.cache.Save(); err != nil {
			slog.Warn("failed to save origin cache", slog.Any("err", err))
		}
	}

	for _, d := range found {
		if d.err == nil {
			continue
		}
		attrs := []any{slog.String("site", d.site), slog.String("url", d.entry.URL), slog.Any("err", d.err)}
		if errors.Is(d.err, gather.ErrOriginNotFound) {
			slog.Warn("no origin version found", attrs...)
		} else {
			slog.Warn("failed to discover bundle", attrs...)
		}
	}
	return found
}

// locate returns the origin of url with its content. A cache hit carries
// no content and reports cached so the caller fetches it.
func (e *Engine) locate(ctx context.Context, url string, useCache bool) (gather.Origin, string, bool, error) {
	cache := e.cache
	if !useCache {
		cache = nil
	}

	if cache != nil {
		if origin, ok, err := cache.Get(url); ok {
			return origin, "", true, err
		}
	}

	origin, content, err := e.locator.Locate(ctx, url)
	if cache != nil && ctx.Err() == nil {
		cache.Put(url, origin, err)
	}
	return origin, content, false, err
}
