package ingest

import (
	"log/slog"
	"time"

	"github.com/fxf-vault/internal/store"
)

// Stats summarizes one seed or update run
type Stats struct {
	StartTime       time.Time
	Sites           int
	SitesSkipped    int
	BundlesSeeded   int
	BundlesUpdated  int
	BundleRevisions map[store.RevisionKind]int
	FixletRevisions map[store.RevisionKind]int
	Rejected        int
	Failures        int
}

func newStats() *Stats {
	return &Stats{
		StartTime:       time.Now(),
		BundleRevisions: make(map[store.RevisionKind]int),
		FixletRevisions: make(map[store.RevisionKind]int),
	}
}

// Elapsed returns the time since the run started
func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.StartTime)
}

// merge adds the counters of a committed transaction.
func (s *Stats) merge(d *Stats) {
	s.BundlesSeeded += d.BundlesSeeded
	s.BundlesUpdated += d.BundlesUpdated
	s.Rejected += d.Rejected
	for k, n := range d.BundleRevisions {
		s.BundleRevisions[k] += n
	}
	for k, n := range d.FixletRevisions {
		s.FixletRevisions[k] += n
	}
}

func (s *Stats) log(msg string) {
	slog.Info(msg,
		slog.Int("sites", s.Sites),
		slog.Int("sites_skipped", s.SitesSkipped),
		slog.Int("bundles_seeded", s.BundlesSeeded),
		slog.Int("bundles_updated", s.BundlesUpdated),
		slog.Int("bundle_new", s.BundleRevisions[store.KindNew]),
		slog.Int("bundle_changed", s.BundleRevisions[store.KindChanged]),
		slog.Int("bundle_missing", s.BundleRevisions[store.KindMissing]),
		slog.Int("fixlet_new", s.FixletRevisions[store.KindNew]),
		slog.Int("fixlet_changed", s.FixletRevisions[store.KindChanged]),
		slog.Int("rejected", s.Rejected),
		slog.Int("failures", s.Failures),
		slog.Duration("elapsed", s.Elapsed()),
	)
}
