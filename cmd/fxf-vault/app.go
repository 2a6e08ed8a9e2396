package main

import (
	"fmt"
	"log/slog"

	"github.com/fxf-vault/internal/blob"
	"github.com/fxf-vault/internal/config"
	"github.com/fxf-vault/internal/fetch"
	"github.com/fxf-vault/internal/gather"
	"github.com/fxf-vault/internal/ingest"
	"github.com/fxf-vault/internal/logger"
	"github.com/fxf-vault/internal/pool"
	"github.com/fxf-vault/internal/store"
)

type options struct {
	configPath string
	logLevel   string
}

// app holds what every command needs: configuration, logging and the store
type app struct {
	cfg   *config.Config
	store *store.SQLiteStore
}

func newApp(opts *options) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Debug("database initialized", slog.String("path", cfg.Database.Path))

	return &app{cfg: cfg, store: st}, nil
}

// Close releases the store
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("failed to close database", slog.Any("err", err))
	}
}

// sites returns the normalized gather URLs to track
func (a *app) sites() ([]string, error) {
	if a.cfg.Gather.SitesFile != "" {
		return gather.LoadSites(a.cfg.Gather.SitesFile)
	}
	return gather.NormalizeSites(a.cfg.Gather.Sites)
}

// engine wires the fetcher, worker pool, origin cache and archive
func (a *app) engine() (*ingest.Engine, error) {
	fetcher, err := fetch.New(fetch.Config{
		Tries:     a.cfg.Fetch.Tries,
		Timeout:   a.cfg.Fetch.Timeout,
		UserAgent: a.cfg.Fetch.UserAgent,
		Encoding:  a.cfg.Fetch.Encoding,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}

	sites, err := a.sites()
	if err != nil {
		return nil, err
	}
	slog.Info("tracking sites", slog.Int("count", len(sites)), slog.Int("workers", a.cfg.Workers))

	engine := ingest.New(fetcher, a.store, pool.New(a.cfg.Workers), sites)

	if a.cfg.Seed.CachePath != "" {
		cache, err := gather.LoadOriginCache(a.cfg.Seed.CachePath)
		if err != nil {
			return nil, err
		}
		engine.WithOriginCache(cache)
	}

	if a.cfg.Archive.Enabled {
		archive, err := blob.NewArchive(a.cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		slog.Info("bundle archive enabled",
			slog.String("container", a.cfg.Archive.Container),
			slog.String("auth", a.cfg.Archive.GetAuthMethod()))
		engine.WithArchiver(archive)
	}

	return engine, nil
}
