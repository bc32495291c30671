// Package collector resolves shared folder links and walks the folder trees
// behind them, turning each SKU's images into an export row.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-dropbox-links/config"
	"github.com/aluiziolira/go-dropbox-links/models"
	"github.com/aluiziolira/go-dropbox-links/parser"
	"github.com/aluiziolira/go-dropbox-links/pipeline"
	"github.com/aluiziolira/go-dropbox-links/provider"
	"github.com/aluiziolira/go-dropbox-links/report"
)

// Collector drives a run against one storage provider.
type Collector struct {
	cfg       *config.Config
	provider  provider.Provider
	validator *parser.LinkValidator
	links     *linkFetcher
	rowOpts   parser.RowOptions
	Metrics   *Metrics
}

// Option customises a Collector.
type Option func(*Collector)

// WithMetrics records run metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Collector) {
		c.Metrics = m
	}
}

// New builds a collector configured from cfg.
func New(cfg *config.Config, p provider.Provider, opts ...Option) (*Collector, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if p == nil {
		return nil, fmt.Errorf("provider is required")
	}

	validator, err := parser.NewLinkValidator(cfg.SharedLinkPattern)
	if err != nil {
		return nil, err
	}

	c := &Collector{
		cfg:       cfg,
		provider:  p,
		validator: validator,
		rowOpts: parser.RowOptions{
			Delimiter:   cfg.LinkDelimiter,
			SharingHost: cfg.SharingHost,
			DirectHost:  cfg.DirectHost,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.links, err = newLinkFetcher(p, cfg.LinkCacheSize, c.Metrics)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every link of the batch without touching the network.
func (c *Collector) Validate(pairs []models.InputPair) error {
	return c.validator.ValidateAll(pairs)
}

// Resolve converts every pair to a folder path. The result has one entry
// per pair in input order; failures are recorded in errs and carried as
// *models.ResolutionError.
func (c *Collector) Resolve(ctx context.Context, pairs []models.InputPair, errs *models.ErrorLog, progress report.Progress) []models.ResolvedFolder {
	if progress == nil {
		progress = report.Nop{}
	}

	out := make([]models.ResolvedFolder, len(pairs))
	for i, pair := range pairs {
		out[i].Pair = pair
		if err := ctx.Err(); err != nil {
			out[i].Err = &models.ResolutionError{Link: pair.Link, Err: err}
			continue
		}

		progress.Advance(report.Event{Stage: report.StageResolve, Index: i + 1, Total: len(pairs), SKU: pair.SKU})
		path, err := c.resolveOne(ctx, pair.Link)
		if err != nil {
			rerr := &models.ResolutionError{Link: pair.Link, Err: err}
			out[i].Err = rerr
			if ctx.Err() == nil {
				errs.AddError(pair.SKU, rerr)
				c.Metrics.incResolveError()
				slog.Warn("link did not resolve",
					slog.String("sku", pair.SKU),
					slog.String("error_type", provider.ErrorTypeLabel(err)),
					slog.Any("error", err),
				)
			}
			continue
		}
		out[i].Path = path
	}
	return out
}

func (c *Collector) resolveOne(ctx context.Context, link string) (string, error) {
	target, err := c.provider.ResolveSharedLink(ctx, link)
	if err != nil {
		return "", err
	}
	if target.Type != models.EntryFolder {
		return "", fmt.Errorf("link points to a %s, not a folder", target.Type)
	}
	if target.Path == "" {
		return "", fmt.Errorf("provider returned no path for folder")
	}
	return target.Path, nil
}

// Collect walks the tree under path depth first. Eligible files of a
// folder come first in natural order, then each subfolder's links in
// listing order. A folder that cannot be listed adds one entry to errs and
// contributes nothing.
func (c *Collector) Collect(ctx context.Context, path string, errs *models.ErrorLog) models.LinkRecord {
	var rec models.LinkRecord
	if ctx.Err() != nil {
		return rec
	}

	entries, err := c.provider.ListFolder(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return rec
		}
		terr := &models.TraversalError{Path: path, Err: err}
		errs.AddError(path, terr)
		c.Metrics.incFolderError()
		slog.Warn("folder listing failed",
			slog.String("path", path),
			slog.String("error_type", provider.ErrorTypeLabel(err)),
			slog.Any("error", err),
		)
		return rec
	}

	files := parser.EligibleFiles(entries, c.cfg.ExcludedExtensions)
	for _, link := range c.fetchLinks(ctx, files) {
		if link != "" {
			rec.Append(link)
		}
	}

	for _, sub := range parser.Subfolders(entries) {
		rec.Merge(c.Collect(ctx, sub.Path, errs))
	}
	return rec
}

// fetchLinks returns one slot per file; slots stay empty when no link was
// available.
func (c *Collector) fetchLinks(ctx context.Context, files []models.FileEntry) []string {
	links := make([]string, len(files))
	workers := c.cfg.Parallelism
	if workers > len(files) {
		workers = len(files)
	}

	if workers <= 1 {
		for i, f := range files {
			if ctx.Err() != nil {
				break
			}
			if url, ok := c.links.Get(ctx, f.Path); ok {
				links[i] = url
			}
		}
		return links
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if url, ok := c.links.Get(ctx, files[i].Path); ok {
					links[i] = url
				}
			}
		}()
	}

feed:
	for i := range files {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return links
}

// Run validates the batch, resolves every link, collects each SKU's
// images and submits one row per SKU with at least one link to p.
// Validation failures return *models.BatchValidationError before any
// provider call. When no link resolves the run stops with
// models.ErrNoFolders.
func (c *Collector) Run(ctx context.Context, pairs []models.InputPair, p *pipeline.Pipeline, progress report.Progress) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if progress == nil {
		progress = report.Nop{}
	}

	result := &models.RunResult{StartTime: time.Now()}
	if err := c.Validate(pairs); err != nil {
		result.EndTime = time.Now()
		return result, err
	}

	c.links.resetStats()
	errs := &models.ErrorLog{}
	finish := func() {
		result.Errors = errs.Entries()
		result.Links = c.links.Stats()
		result.EndTime = time.Now()
	}

	resolved := c.Resolve(ctx, pairs, errs, progress)
	if err := ctx.Err(); err != nil {
		finish()
		return result, err
	}
	for _, rf := range resolved {
		if rf.OK() {
			result.Resolved++
		}
	}
	if result.Resolved == 0 {
		finish()
		return result, models.ErrNoFolders
	}

	slog.Info("links resolved",
		slog.Int("resolved", result.Resolved),
		slog.Int("total", len(pairs)),
	)

	for i, rf := range resolved {
		progress.Advance(report.Event{Stage: report.StageCollect, Index: i + 1, Total: len(resolved), SKU: rf.Pair.SKU})

		outcome := models.Outcome{Pair: rf.Pair, Path: rf.Path}
		if !rf.OK() {
			outcome.Status = models.OutcomeUnresolved
			outcome.Err = rf.Err
		} else {
			rec := c.Collect(ctx, rf.Path, errs)
			if err := ctx.Err(); err != nil {
				finish()
				return result, err
			}
			outcome.Count = rec.Count
			outcome.Status = models.OutcomeEmpty

			if row := parser.BuildRow(rf.Pair.SKU, rec.Links, c.rowOpts); row != nil {
				if err := p.Process(row); err != nil {
					finish()
					return result, fmt.Errorf("submit row for %s: %w", rf.Pair.SKU, err)
				}
				outcome.Status = models.OutcomeImages
				result.Rows++
				result.Images += rec.Count
			}
		}

		c.Metrics.observeOutcome(string(outcome.Status), outcome.Count)
		result.Outcomes = append(result.Outcomes, outcome)
		progress.Done(outcome)
	}

	finish()
	return result, nil
}
