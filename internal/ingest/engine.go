// Package ingest discovers bundle history on the gather sites and records
// every observed change in the revision store.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fxf-vault/internal/fetch"
	"github.com/fxf-vault/internal/gather"
	"github.com/fxf-vault/internal/pool"
	"github.com/fxf-vault/internal/store"
)

// ErrMetadataMissing is returned when a site catalog has no usable
// Version property.
var ErrMetadataMissing = errors.New("catalog has no Version property")

// VersionProperty is the catalog metadata key holding the site version.
const VersionProperty = "Version"

// Archiver receives the content of every stored bundle revision.
type Archiver interface {
	Archive(ctx context.Context, site, bundle string, version int, content string) error
}

// Engine runs seed and update passes over a fixed list of gather sites
type Engine struct {
	fetcher fetch.Fetcher
	store   store.Store
	pool    *pool.Pool
	locator *gather.Locator
	sites   []string
	cache   *gather.OriginCache
	archive Archiver
}

// New creates an Engine for the given gather site URLs
func New(fetcher fetch.Fetcher, st store.Store, workers *pool.Pool, sites []string) *Engine {
	return &Engine{
		fetcher: fetcher,
		store:   st,
		pool:    workers,
		locator: gather.NewLocator(fetcher),
		sites:   sites,
	}
}

// WithOriginCache makes seed runs reuse and persist located origins
func (e *Engine) WithOriginCache(c *gather.OriginCache) *Engine {
	e.cache = c
	return e
}

// WithArchiver uploads stored bundle content after each commit
func (e *Engine) WithArchiver(a Archiver) *Engine {
	e.archive = a
	return e
}

// Run performs an update immediately and then on every tick of interval
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	e.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("update loop stopping")
			return
		case <-ticker.C:
			e.runOnce(ctx)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context) {
	if _, err := e.Update(ctx); err != nil && ctx.Err() == nil {
		slog.Error("update failed", slog.Any("err", err))
	}
}

// fatal reports whether err must abort the whole run rather than the
// current site or bundle.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, store.ErrInvariant)
}
