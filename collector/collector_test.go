package collector

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-dropbox-links/config"
	"github.com/aluiziolira/go-dropbox-links/models"
	"github.com/aluiziolira/go-dropbox-links/pipeline"
	"github.com/aluiziolira/go-dropbox-links/provider"
	"github.com/aluiziolira/go-dropbox-links/report"
)

type captureWriter struct {
	mu   sync.Mutex
	rows []*models.ExportRow
}

func (cw *captureWriter) Write(rows []*models.ExportRow) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.rows = append(cw.rows, rows...)
	return nil
}

func (cw *captureWriter) Close() error    { return nil }
func (cw *captureWriter) Validate() error { return nil }

type recordingProgress struct {
	mu       sync.Mutex
	events   []report.Event
	outcomes []models.Outcome
}

func (rp *recordingProgress) Advance(e report.Event) {
	rp.mu.Lock()
	rp.events = append(rp.events, e)
	rp.mu.Unlock()
}

func (rp *recordingProgress) Done(o models.Outcome) {
	rp.mu.Lock()
	rp.outcomes = append(rp.outcomes, o)
	rp.mu.Unlock()
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Parallelism = 1
	return cfg
}

func newCollector(t *testing.T, cfg *config.Config, p provider.Provider) *Collector {
	t.Helper()
	c, err := New(cfg, p)
	require.NoError(t, err)
	return c
}

func runPipeline(t *testing.T, c *Collector, pairs []models.InputPair) (*models.RunResult, []*models.ExportRow, error) {
	t.Helper()
	writer := &captureWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, c.cfg)
	p.Start()
	result, runErr := c.Run(context.Background(), pairs, p, report.Nop{})
	require.NoError(t, p.Close())
	return result, writer.rows, runErr
}

// names returns the file names of links produced by the memory provider.
func names(links []string) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = path.Base(strings.TrimSuffix(l, "?dl=0"))
	}
	return out
}

const (
	folderLink1 = "https://www.dropbox.com/scl/fo/abc123/SKU1?rlkey=k1&dl=0"
	folderLink2 = "https://www.dropbox.com/scl/fo/def456/SKU2?rlkey=k2&dl=0"
	badLink     = "https://www.dropbox.com/scl/fo/missing/nothing?rlkey=k3&dl=0"
)

func TestRunEndToEnd(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFile("/Catalog/SKU1/img2.webp")
	mem.AddFile("/Catalog/SKU1/img1.webp")
	mem.Share(folderLink1, "/Catalog/SKU1")

	c := newCollector(t, testConfig(), mem)
	pairs := []models.InputPair{
		{Line: 1, SKU: "SKU1", Link: folderLink1},
		{Line: 2, SKU: "SKU2", Link: badLink},
	}

	result, rows, err := runPipeline(t, c, pairs)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	require.Equal(t, "SKU1", rows[0].SKU)
	require.Equal(t, models.ImageCommandReplace, rows[0].Command)

	links := strings.Split(rows[0].ImageLinks, " ; ")
	require.Len(t, links, 2)
	require.Equal(t, []string{"img1.webp", "img2.webp"}, names(links))
	for _, l := range links {
		require.True(t, strings.HasPrefix(l, "https://dl.dropboxusercontent.com/"), l)
	}

	require.Len(t, result.Outcomes, 2)
	require.Equal(t, models.OutcomeImages, result.Outcomes[0].Status)
	require.Equal(t, 2, result.Outcomes[0].Count)
	require.Equal(t, models.OutcomeUnresolved, result.Outcomes[1].Status)
	require.Equal(t, "SKU2 — link could not be resolved", result.Outcomes[1].Summary())

	require.Len(t, result.Errors, 1)
	require.Equal(t, "SKU2", result.Errors[0].Context)
	require.Contains(t, result.Errors[0].Message, "Failed to resolve link '"+badLink+"'")

	require.Equal(t, 1, result.Resolved)
	require.Equal(t, 1, result.Rows)
	require.Equal(t, 2, result.Images)
	require.Equal(t, 2, result.Links.Created)
}

func TestRunEmptyFolderKeepsOutcome(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFile("/Catalog/SKU1/a.webp")
	mem.AddFile("/Catalog/SKU2/layers.psd")
	mem.Share(folderLink1, "/Catalog/SKU1")
	mem.Share(folderLink2, "/Catalog/SKU2")

	c := newCollector(t, testConfig(), mem)
	progress := &recordingProgress{}
	writer := &captureWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, c.cfg)
	p.Start()

	result, err := c.Run(context.Background(), []models.InputPair{
		{Line: 1, SKU: "SKU1", Link: folderLink1},
		{Line: 2, SKU: "SKU2", Link: folderLink2},
	}, p, progress)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	require.Len(t, writer.rows, 1)
	require.Len(t, result.Outcomes, 2)
	require.Equal(t, models.OutcomeEmpty, result.Outcomes[1].Status)
	require.Equal(t, "SKU2 — no valid images found", result.Outcomes[1].Summary())
	require.Empty(t, result.Errors)

	// Two resolve events then two collect events, in input order.
	require.Len(t, progress.events, 4)
	require.Equal(t, report.StageResolve, progress.events[0].Stage)
	require.Equal(t, report.StageCollect, progress.events[2].Stage)
	require.Equal(t, "SKU2", progress.events[3].SKU)
	require.Equal(t, 2, progress.events[3].Index)
	require.Len(t, progress.outcomes, 2)
}

func TestRunDuplicateSKUsAreIndependentRows(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFile("/Catalog/SKU1/a.webp")
	mem.Share(folderLink1, "/Catalog/SKU1")

	c := newCollector(t, testConfig(), mem)
	_, rows, err := runPipeline(t, c, []models.InputPair{
		{Line: 1, SKU: "SKU1", Link: folderLink1},
		{Line: 2, SKU: "SKU1", Link: folderLink1},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, rows[0].ImageLinks, rows[1].ImageLinks)
	require.Equal(t, 1, mem.Calls("create"))
}

func TestRunValidationBlocksBeforeNetwork(t *testing.T) {
	mem := provider.NewMemory()
	c := newCollector(t, testConfig(), mem)

	_, rows, err := runPipeline(t, c, []models.InputPair{
		{Line: 1, SKU: "SKU1", Link: folderLink1},
		{Line: 2, SKU: "SKU2", Link: "https://example.com/folder"},
		{Line: 3, SKU: "SKU3", Link: "not a link"},
	})

	var batchErr *models.BatchValidationError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Errors, 2)
	require.Equal(t, 2, batchErr.Errors[0].Line)
	require.Equal(t, 3, batchErr.Errors[1].Line)
	require.Empty(t, rows)
	require.Zero(t, mem.Calls("resolve"))
}

func TestRunNoFoldersAborts(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFile("/Catalog/loose.webp")
	mem.Share(folderLink1, "/Catalog/loose.webp")

	c := newCollector(t, testConfig(), mem)
	result, rows, err := runPipeline(t, c, []models.InputPair{
		{Line: 1, SKU: "SKU1", Link: folderLink1},
		{Line: 2, SKU: "SKU2", Link: badLink},
	})

	require.ErrorIs(t, err, models.ErrNoFolders)
	require.Empty(t, rows)
	require.Len(t, result.Errors, 2)
	require.Contains(t, result.Errors[0].Message, "not a folder")
	require.Zero(t, mem.Calls("list"))
}

func TestRunCancelled(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFile("/Catalog/SKU1/a.webp")
	mem.Share(folderLink1, "/Catalog/SKU1")

	c := newCollector(t, testConfig(), mem)
	writer := &captureWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, c.cfg)
	p.Start()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Run(ctx, []models.InputPair{{Line: 1, SKU: "SKU1", Link: folderLink1}}, p, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, p.Close())
	require.Empty(t, writer.rows)
}

func TestResolvePreservesOrder(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFolder("/Catalog/SKU1")
	mem.AddFile("/Catalog/readme.txt")
	mem.AddFolder("/Catalog/SKU3")
	mem.Share(folderLink1, "/Catalog/SKU1")
	mem.Share(folderLink2, "/Catalog/readme.txt")
	link3 := "https://www.dropbox.com/sh/xyz/SKU3?dl=0"
	mem.Share(link3, "/Catalog/SKU3")

	c := newCollector(t, testConfig(), mem)
	errs := &models.ErrorLog{}
	resolved := c.Resolve(context.Background(), []models.InputPair{
		{SKU: "SKU1", Link: folderLink1},
		{SKU: "SKU2", Link: folderLink2},
		{SKU: "SKU3", Link: link3},
	}, errs, nil)

	require.Len(t, resolved, 3)
	require.True(t, resolved[0].OK())
	require.Equal(t, "/Catalog/SKU1", resolved[0].Path)
	require.False(t, resolved[1].OK())
	var rerr *models.ResolutionError
	require.ErrorAs(t, resolved[1].Err, &rerr)
	require.Equal(t, folderLink2, rerr.Link)
	require.Equal(t, "SKU3", resolved[2].Pair.SKU)
	require.Equal(t, "/Catalog/SKU3", resolved[2].Path)
	require.Equal(t, 1, errs.Len())
}

func TestCollectOrderWithParallelFetch(t *testing.T) {
	mem := provider.NewMemory()
	for _, name := range []string{"img10", "img3", "img1", "img12", "img2", "img11", "img4", "img9", "img5", "img8", "img6", "img7"} {
		mem.AddFile("/Root/" + name + ".webp")
	}
	mem.AddFile("/Root/b/x2.webp")
	mem.AddFile("/Root/b/x1.webp")
	mem.AddFile("/Root/a/y1.webp")

	cfg := testConfig()
	cfg.Parallelism = 4
	c := newCollector(t, cfg, mem)

	errs := &models.ErrorLog{}
	rec := c.Collect(context.Background(), "/Root", errs)

	require.Zero(t, errs.Len())
	require.Equal(t, 15, rec.Count)
	require.Equal(t, []string{
		"img1.webp", "img2.webp", "img3.webp", "img4.webp", "img5.webp", "img6.webp",
		"img7.webp", "img8.webp", "img9.webp", "img10.webp", "img11.webp", "img12.webp",
		"x1.webp", "x2.webp", "y1.webp",
	}, names(rec.Links))
}

func TestCollectPartialFailureIsolation(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFile("/A/a1.webp")
	mem.AddFile("/A/B/b1.webp")
	mem.AddFile("/A/C/c1.webp")
	mem.Fail("list", "/A/B", errors.New("permission denied"))

	c := newCollector(t, testConfig(), mem)
	errs := &models.ErrorLog{}
	rec := c.Collect(context.Background(), "/A", errs)

	require.Equal(t, []string{"a1.webp", "c1.webp"}, names(rec.Links))
	require.Equal(t, 2, rec.Count)

	entries := errs.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "/A/B", entries[0].Context)
	require.Equal(t, "Failed to read folder '/A/B': permission denied", entries[0].Message)
}

func TestCollectRootListingFailure(t *testing.T) {
	mem := provider.NewMemory()
	c := newCollector(t, testConfig(), mem)

	errs := &models.ErrorLog{}
	rec := c.Collect(context.Background(), "/Missing", errs)
	require.Zero(t, rec.Count)
	require.Empty(t, rec.Links)
	require.Equal(t, 1, errs.Len())
}

func TestCollectExcludesConfiguredExtensions(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFile("/S/cover.PSD")
	mem.AddFile("/S/render.Png")
	mem.AddFile("/S/shot.JPG")
	mem.AddFile("/S/keep.tif")
	mem.AddFile("/S/deep/inner.psd")

	c := newCollector(t, testConfig(), mem)
	rec := c.Collect(context.Background(), "/S", &models.ErrorLog{})
	require.Equal(t, []string{"keep.tif"}, names(rec.Links))

	cfg := testConfig()
	cfg.ExcludedExtensions = []string{".psd", ".png"}
	c = newCollector(t, cfg, mem)
	rec = c.Collect(context.Background(), "/S", &models.ErrorLog{})
	require.Equal(t, []string{"keep.tif", "shot.JPG"}, names(rec.Links))
}

func TestCollectSkipsFilesWithoutLink(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFile("/S/a.webp")
	mem.AddFile("/S/b.webp")
	mem.Fail("create", "/S/a.webp", provider.ErrRateLimited{Err: errors.New("too_many_requests")})

	c := newCollector(t, testConfig(), mem)
	errs := &models.ErrorLog{}
	rec := c.Collect(context.Background(), "/S", errs)

	require.Equal(t, []string{"b.webp"}, names(rec.Links))
	require.Equal(t, 1, rec.Count)
	require.Zero(t, errs.Len())
	require.Equal(t, 1, c.links.Stats().Failed)
}

func TestLinkFetcherIdempotent(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFile("/S/a.webp")

	f, err := newLinkFetcher(mem, 0, nil)
	require.NoError(t, err)

	first, ok := f.Get(context.Background(), "/S/a.webp")
	require.True(t, ok)
	second, ok := f.Get(context.Background(), "/S/a.webp")
	require.True(t, ok)

	require.Equal(t, first, second)
	require.Equal(t, 1, mem.Calls("create"))
	require.Equal(t, models.LinkStats{Created: 1, Reused: 1}, f.Stats())
}

func TestLinkFetcherPrefersExistingLink(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFile("/S/a.webp")
	existing := "https://www.dropbox.com/scl/fi/existing/a.webp?dl=0"
	mem.AddSharedLink("/S/a.webp", existing)

	metrics := NewMetrics(prometheus.NewRegistry())
	f, err := newLinkFetcher(mem, 16, metrics)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		url, ok := f.Get(context.Background(), "/S/a.webp")
		require.True(t, ok)
		require.Equal(t, existing, url)
	}

	require.Zero(t, mem.Calls("create"))
	require.Equal(t, 1, mem.Calls("links"))
	require.Equal(t, models.LinkStats{Reused: 1, Cached: 2}, f.Stats())
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.LinksTotal.WithLabelValues("cached")))
}

func TestRunMetrics(t *testing.T) {
	mem := provider.NewMemory()
	mem.AddFile("/Catalog/SKU1/a.webp")
	mem.AddFile("/Catalog/SKU1/b.webp")
	mem.Share(folderLink1, "/Catalog/SKU1")

	metrics := NewMetrics(prometheus.NewRegistry())
	c, err := New(testConfig(), mem, WithMetrics(metrics))
	require.NoError(t, err)

	_, _, err = runPipeline(t, c, []models.InputPair{
		{Line: 1, SKU: "SKU1", Link: folderLink1},
		{Line: 2, SKU: "SKU2", Link: badLink},
	})
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.SKUsTotal.WithLabelValues("images")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.SKUsTotal.WithLabelValues("unresolved")))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.ImagesTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ResolveErrors))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.LinksTotal.WithLabelValues("created")))
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(testConfig(), nil)
	require.Error(t, err)
}
