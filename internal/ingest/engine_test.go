package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxf-vault/internal/fetch"
	"github.com/fxf-vault/internal/fxf"
	"github.com/fxf-vault/internal/gather"
	"github.com/fxf-vault/internal/pool"
	"github.com/fxf-vault/internal/store"
)

const (
	securitySite = "http://sync.example.com/cgi-bin/bfgather/bessecurity"
	supportSite  = "http://sync.example.com/cgi-bin/bfgather/bessupport"
)

// fakeFetcher serves a mutable set of pages and records every request.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string]string)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if body, ok := f.pages[url]; ok {
		return body, nil
	}
	return "", fmt.Errorf("%w: %s", fetch.ErrFetchFailed, url)
}

func (f *fakeFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = body
}

func (f *fakeFetcher) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

// fakeArchiver records uploads.
type fakeArchiver struct {
	mu      sync.Mutex
	uploads []string
}

func (a *fakeArchiver) Archive(_ context.Context, site, bundle string, version int, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploads = append(a.uploads, fmt.Sprintf("%s/%s/%d", site, bundle, version))
	return nil
}

// bundleURL returns the url of a bundle of the bessecurity style site at
// version.
func bundleURL(site string, version int, name string) string {
	return fmt.Sprintf("http://sync.example.com/bfsites/%s_%d/%s.fxf", site, version, name)
}

// catalogPage renders a site catalog publishing version with one entry
// per bundle name. A negative version omits the Version property.
func catalogPage(site string, version int, names ...string) string {
	var sb strings.Builder
	sb.WriteString("MIME-Version: 1.0\n")
	sb.WriteString("Content-Type: multipart/mixed; boundary=\"bf_boundary\"\n\n")
	sb.WriteString("--bf_boundary\n")
	sb.WriteString("MIME-Version: 1.0\n")
	if version >= 0 {
		fmt.Fprintf(&sb, "Version: %d\n", version)
	}
	sb.WriteString("X-Relevant-When: true\n\n")
	for i, name := range names {
		sb.WriteString("--bf_boundary\n")
		sb.WriteString("Content-Type: application/x-bigfix-file-entry\n")
		fmt.Fprintf(&sb, "URL: %s\n", bundleURL(site, max(version, 1), name))
		fmt.Fprintf(&sb, "NAME: %s.fxf\n", name)
		sb.WriteString("MODIFIED: Wed, 29 Jan 2014 07:00:37 +0000\n")
		fmt.Fprintf(&sb, "SIZE: %d\n", 1000+i)
		sb.WriteString("TYPE: FILE\n")
		fmt.Fprintf(&sb, "HASH: hash%d\n\n", i)
	}
	sb.WriteString("--bf_boundary--\n")
	return sb.String()
}

type testFixlet struct {
	id     int
	title  string
	action string
}

// bundlePage renders a bundle document holding one digest of fixlets.
func bundlePage(fixlets ...testFixlet) string {
	var sb strings.Builder
	sb.WriteString("MIME-Version: 1.0\n")
	sb.WriteString("X-Relevant-When: windows of operating system\n")
	sb.WriteString("Content-Type: multipart/digest; boundary=\"outer\"\n\n")
	for _, f := range fixlets {
		sb.WriteString("--outer\n")
		fmt.Fprintf(&sb, "X-Fixlet-ID: %d\n", f.id)
		fmt.Fprintf(&sb, "Subject: %s\n", f.title)
		fmt.Fprintf(&sb, "X-Relevant-When: exists file \"fix%d.dll\"\n", f.id)
		sb.WriteString("X-Fixlet-Modification-Time: Tue, 01 Jan 2013 00:00:00 +0000\n")
		fmt.Fprintf(&sb, "Content-Type: multipart/related; boundary=\"leaf%d\"\n\n", f.id)
		fmt.Fprintf(&sb, "--leaf%d\nContent-Type: text/html; charset=us-ascii\n\n<p>%s</p>\n", f.id, f.title)
		fmt.Fprintf(&sb, "--leaf%d\nContent-Type: application/x-Fixlet-Windows-Shell\n\n%s\n", f.id, f.action)
		fmt.Fprintf(&sb, "--leaf%d--\n", f.id)
	}
	sb.WriteString("--outer--\n")
	return sb.String()
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "fxf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(f fetch.Fetcher, s store.Store, sites ...string) *Engine {
	return New(f, s, pool.New(4), sites)
}

func onlyBundle(t *testing.T, s store.Store) store.TrackedBundle {
	t.Helper()
	tracked, err := s.ListTrackedBundles(context.Background())
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	return tracked[0]
}

func revisionKinds(t *testing.T, s store.Store, bundleID int64) map[int]store.RevisionKind {
	t.Helper()
	revs, err := s.ListBundleRevisions(context.Background(), bundleID)
	require.NoError(t, err)
	kinds := make(map[int]store.RevisionKind, len(revs))
	for _, r := range revs {
		kinds[r.Version] = r.Kind
	}
	return kinds
}

var (
	fixA  = testFixlet{id: 101, title: "MS13-001", action: `run "a.exe"`}
	fixB  = testFixlet{id: 102, title: "MS13-002", action: `run "b.exe"`}
	fixA2 = testFixlet{id: 101, title: "MS13-001 (v2)", action: `run "a.exe"`}
	fixC  = testFixlet{id: 103, title: "MS13-003", action: `run "c.exe"`}
)

func TestSeed_RecordsOriginVersion(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	f.set(securitySite, catalogPage("bessecurity", 3, "52"))
	f.set(bundleURL("bessecurity", 2, "52"), bundlePage(fixA, fixB))
	f.set(bundleURL("bessecurity", 3, "52"), bundlePage(fixA2, fixB))

	s := newTestStore(t)
	stats, err := newTestEngine(f, s, securitySite).Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sites)
	assert.Equal(t, 1, stats.BundlesSeeded)
	assert.Equal(t, 1, stats.BundleRevisions[store.KindNew])
	assert.Equal(t, 2, stats.FixletRevisions[store.KindNew])

	sites, err := s.ListSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, store.Site{ID: sites[0].ID, Name: "bessecurity", URL: securitySite}, sites[0])

	b := onlyBundle(t, s)
	assert.Equal(t, "52", b.Name)
	assert.Equal(t, 2, b.Latest)
	assert.Equal(t, 2, b.DiskLatest)
	assert.Equal(t, map[int]store.RevisionKind{2: store.KindNew}, revisionKinds(t, s, b.ID))

	fixlets, err := s.ListFixlets(ctx, sites[0].ID)
	require.NoError(t, err)
	require.Len(t, fixlets, 2)
	assert.Equal(t, "MS13-001", fixlets[0].Title)
	assert.Equal(t, store.KindNew, fixlets[0].Kind)
	assert.Equal(t, "Tue, 01 Jan 2013 00:00:00 +0000", fixlets[0].Published)

	rev, err := s.GetFixletRevision(ctx, fixlets[0].ID)
	require.NoError(t, err)
	assert.Contains(t, rev.Content, `"relevance":["windows of operating system","exists file &quot;fix101.dll&quot;"]`)

	again, err := newTestEngine(f, s, securitySite).Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.SitesSkipped)
	assert.Zero(t, again.BundlesSeeded)
}

// seedAt stores bessecurity/52 at version with the given content.
func seedAt(t *testing.T, f *fakeFetcher, s store.Store, version int, content string) {
	t.Helper()
	f.set(securitySite, catalogPage("bessecurity", version, "52"))
	f.set(bundleURL("bessecurity", version, "52"), content)
	_, err := newTestEngine(f, s, securitySite).Seed(context.Background())
	require.NoError(t, err)
	require.Equal(t, version, onlyBundle(t, s).DiskLatest)
}

func TestUpdate_WalksMissingIdenticalAndChanged(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestStore(t)
	seedAt(t, f, s, 5, bundlePage(fixA, fixB))

	f.set(securitySite, catalogPage("bessecurity", 8, "52"))
	f.set(bundleURL("bessecurity", 7, "52"), bundlePage(fixA, fixB))
	f.set(bundleURL("bessecurity", 8, "52"), bundlePage(fixA2, fixB, fixC))

	stats, err := newTestEngine(f, s, securitySite).Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BundlesUpdated)
	assert.Equal(t, 1, stats.BundleRevisions[store.KindMissing])
	assert.Equal(t, 1, stats.BundleRevisions[store.KindChanged])
	assert.Equal(t, 1, stats.FixletRevisions[store.KindNew])
	assert.Equal(t, 1, stats.FixletRevisions[store.KindChanged])
	assert.Zero(t, stats.Failures)

	b := onlyBundle(t, s)
	assert.Equal(t, 8, b.Latest)
	assert.Equal(t, 8, b.DiskLatest)
	assert.Equal(t, map[int]store.RevisionKind{
		5: store.KindNew,
		6: store.KindMissing,
		8: store.KindChanged,
	}, revisionKinds(t, s, b.ID))

	revs, err := s.ListFixletRevisions(ctx, b.SiteID, 101)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, 8, revs[0].Version)
	assert.Equal(t, store.KindChanged, revs[0].Kind)
	assert.Equal(t, "MS13-001 (v2)", revs[0].Title)

	revs, err = s.ListFixletRevisions(ctx, b.SiteID, 102)
	require.NoError(t, err)
	assert.Len(t, revs, 1)

	revs, err = s.ListFixletRevisions(ctx, b.SiteID, 103)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, store.KindNew, revs[0].Kind)

	bundleRevs, err := s.ListBundleRevisions(ctx, b.ID)
	require.NoError(t, err)
	changed, err := s.GetBundleRevision(ctx, bundleRevs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, bundleURL("bessecurity", 8, "52"), changed.SourceURL)
	assert.Equal(t, bundlePage(fixA2, fixB, fixC), changed.Content)
}

func TestUpdate_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestStore(t)
	seedAt(t, f, s, 5, bundlePage(fixA, fixB))

	f.set(securitySite, catalogPage("bessecurity", 8, "52"))
	f.set(bundleURL("bessecurity", 8, "52"), bundlePage(fixA2, fixB))

	_, err := newTestEngine(f, s, securitySite).Update(ctx)
	require.NoError(t, err)
	before := revisionKinds(t, s, onlyBundle(t, s).ID)

	stats, err := newTestEngine(f, s, securitySite).Update(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.BundlesUpdated)
	assert.Empty(t, stats.BundleRevisions)
	assert.Empty(t, stats.FixletRevisions)
	assert.Equal(t, before, revisionKinds(t, s, onlyBundle(t, s).ID))

	revs, err := s.ListFixletRevisions(ctx, onlyBundle(t, s).SiteID, 101)
	require.NoError(t, err)
	assert.Len(t, revs, 2)
}

func TestUpdate_SeedsNewBundlesAndSites(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestStore(t)
	seedAt(t, f, s, 5, bundlePage(fixA))

	f.set(securitySite, catalogPage("bessecurity", 6, "52", "53"))
	f.set(bundleURL("bessecurity", 6, "53"), bundlePage(fixC))
	f.set(supportSite, catalogPage("bessupport", 2, "1Common"))
	f.set(bundleURL("bessupport", 1, "1Common"), bundlePage(fixB))

	archive := &fakeArchiver{}
	stats, err := newTestEngine(f, s, securitySite, supportSite).WithArchiver(archive).Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.BundlesSeeded)

	tracked, err := s.ListTrackedBundles(ctx)
	require.NoError(t, err)
	require.Len(t, tracked, 3)

	byName := map[string]store.TrackedBundle{}
	for _, b := range tracked {
		byName[b.SiteName+"/"+b.Name] = b
	}
	assert.Equal(t, 6, byName["bessecurity/52"].Latest, "v6 of 52 is missing")
	assert.Equal(t, 5, byName["bessecurity/52"].DiskLatest)
	assert.Equal(t, 6, byName["bessecurity/53"].DiskLatest)
	assert.Equal(t, 2, byName["bessupport/1Common"].Latest)
	assert.Equal(t, 1, byName["bessupport/1Common"].DiskLatest)

	assert.ElementsMatch(t, []string{"bessecurity/53/6", "bessupport/1Common/1"}, archive.uploads)
}

func TestUpdate_MissingVersionPropertySkipsSite(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestStore(t)
	seedAt(t, f, s, 5, bundlePage(fixA))

	f.set(securitySite, catalogPage("bessecurity", -1, "52"))

	stats, err := newTestEngine(f, s, securitySite).Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 5, onlyBundle(t, s).Latest)
}

func TestUpdate_CatalogFailureKeepsOtherSites(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestStore(t)
	seedAt(t, f, s, 5, bundlePage(fixA))

	f.set(securitySite, catalogPage("bessecurity", 6, "52"))
	f.set(bundleURL("bessecurity", 6, "52"), bundlePage(fixA2))

	stats, err := newTestEngine(f, s, securitySite, supportSite).Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SitesSkipped)
	assert.Equal(t, 6, onlyBundle(t, s).DiskLatest)
}

func TestCatalog_TargetVersion(t *testing.T) {
	c := catalog{name: "bessecurity", meta: []fxf.Property{{Key: "Version", Value: " 2045 "}}}
	v, err := c.targetVersion()
	require.NoError(t, err)
	assert.Equal(t, 2045, v)

	c.meta = []fxf.Property{{Key: "Version", Value: "latest"}}
	_, err = c.targetVersion()
	assert.ErrorIs(t, err, ErrMetadataMissing)

	c.meta = nil
	_, err = c.targetVersion()
	assert.ErrorIs(t, err, ErrMetadataMissing)
}

func TestSeed_UsesOriginCache(t *testing.T) {
	ctx := context.Background()
	cachePath := filepath.Join(t.TempDir(), "origins.json")

	f := newFakeFetcher()
	f.set(securitySite, catalogPage("bessecurity", 4, "52"))
	f.set(bundleURL("bessecurity", 3, "52"), bundlePage(fixA))

	cache, err := gather.LoadOriginCache(cachePath)
	require.NoError(t, err)
	_, err = newTestEngine(f, newTestStore(t), securitySite).WithOriginCache(cache).Seed(ctx)
	require.NoError(t, err)

	reloaded, err := gather.LoadOriginCache(cachePath)
	require.NoError(t, err)
	origin, ok, err := reloaded.Get(bundleURL("bessecurity", 4, "52"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, origin.Version)

	second := newFakeFetcher()
	second.set(securitySite, catalogPage("bessecurity", 4, "52"))
	second.set(bundleURL("bessecurity", 3, "52"), bundlePage(fixA))

	s := newTestStore(t)
	_, err = newTestEngine(second, s, securitySite).WithOriginCache(reloaded).Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{securitySite, bundleURL("bessecurity", 3, "52")}, second.requests())
	assert.Equal(t, 3, onlyBundle(t, s).DiskLatest)
}

func TestUpdate_ProbesAgainAfterOriginNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher()
	s := newTestStore(t)
	seedAt(t, f, s, 5, bundlePage(fixA))

	cache, err := gather.LoadOriginCache(filepath.Join(t.TempDir(), "origins.json"))
	require.NoError(t, err)
	engine := newTestEngine(f, s, securitySite).WithOriginCache(cache)

	f.set(securitySite, catalogPage("bessecurity", 6, "52", "53"))
	stats, err := engine.Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.BundlesSeeded)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 0, cache.Len())

	f.set(bundleURL("bessecurity", 6, "53"), bundlePage(fixC))
	stats, err = engine.Update(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BundlesSeeded)

	tracked, err := s.ListTrackedBundles(ctx)
	require.NoError(t, err)
	require.Len(t, tracked, 2)
	assert.Equal(t, "53", tracked[1].Name)
	assert.Equal(t, 6, tracked[1].DiskLatest)
}

func TestSeed_FetchesOriginOnce(t *testing.T) {
	f := newFakeFetcher()
	f.set(securitySite, catalogPage("bessecurity", 3, "52"))
	f.set(bundleURL("bessecurity", 2, "52"), bundlePage(fixA))

	s := newTestStore(t)
	_, err := newTestEngine(f, s, securitySite).Seed(context.Background())
	require.NoError(t, err)

	origin := 0
	for _, url := range f.requests() {
		if url == bundleURL("bessecurity", 2, "52") {
			origin++
		}
	}
	assert.Equal(t, 1, origin)
	assert.Equal(t, 2, onlyBundle(t, s).DiskLatest)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFakeFetcher()
	s := newTestStore(t)
	seedAt(t, f, s, 2, bundlePage(fixA))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		newTestEngine(f, s, securitySite).Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done
}

func TestUpdate_PointerInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("walk ends at target with disk_latest <= latest", prop.ForAll(
		func(steps []int) bool {
			ctx := context.Background()
			f := newFakeFetcher()
			s := newTestStore(t)
			seedAt(t, f, s, 1, "content v1")

			current := "content v1"
			missing, changed := 0, 0
			for i, step := range steps {
				v := i + 2
				switch step {
				case 0:
					missing++
				case 1:
					f.set(bundleURL("bessecurity", v, "52"), current)
				default:
					current = fmt.Sprintf("content v%d", v)
					f.set(bundleURL("bessecurity", v, "52"), current)
					changed++
				}
			}
			target := len(steps) + 1
			f.set(securitySite, catalogPage("bessecurity", target, "52"))

			if _, err := newTestEngine(f, s, securitySite).Update(ctx); err != nil {
				return false
			}

			b := onlyBundle(t, s)
			kinds := revisionKinds(t, s, b.ID)
			gotMissing, gotChanged := 0, 0
			for _, k := range kinds {
				switch k {
				case store.KindMissing:
					gotMissing++
				case store.KindChanged:
					gotChanged++
				}
			}
			return b.Latest == target && b.DiskLatest <= b.Latest &&
				gotMissing == missing && gotChanged == changed
		},
		gen.SliceOfN(6, gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
