package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-dropbox-links/models"
	"github.com/aluiziolira/go-dropbox-links/provider"
)

// linkFetcher returns a public link for a file, reusing an existing
// file-type link before creating one. Results are memoised per path.
type linkFetcher struct {
	provider provider.Provider
	cache    *lru.Cache[string, string]
	metrics  *Metrics

	mu    sync.Mutex
	stats models.LinkStats
}

func newLinkFetcher(p provider.Provider, cacheSize int, metrics *Metrics) (*linkFetcher, error) {
	f := &linkFetcher{provider: p, metrics: metrics}
	if cacheSize > 0 {
		cache, err := lru.New[string, string](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("init link cache: %w", err)
		}
		f.cache = cache
	}
	return f, nil
}

// Get returns the link for path and false when none could be obtained.
// Failures are logged at debug level and never returned.
func (f *linkFetcher) Get(ctx context.Context, path string) (string, bool) {
	if f.cache != nil {
		if url, ok := f.cache.Get(path); ok {
			f.record("cached")
			return url, true
		}
	}

	existing, err := f.provider.ListSharedLinks(ctx, path)
	if err != nil {
		f.fail(path, "list shared links", err)
		return "", false
	}
	for _, link := range existing {
		if link.Type == models.EntryFile && link.URL != "" {
			f.remember(path, link.URL)
			f.record("reused")
			return link.URL, true
		}
	}

	created, err := f.provider.CreateSharedLink(ctx, path)
	if err != nil {
		f.fail(path, "create shared link", err)
		return "", false
	}
	if created.URL == "" {
		f.fail(path, "create shared link", fmt.Errorf("provider returned an empty url"))
		return "", false
	}
	f.remember(path, created.URL)
	f.record("created")
	return created.URL, true
}

// Stats returns the counters accumulated since the last reset.
func (f *linkFetcher) Stats() models.LinkStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *linkFetcher) resetStats() {
	f.mu.Lock()
	f.stats = models.LinkStats{}
	f.mu.Unlock()
}

func (f *linkFetcher) remember(path, url string) {
	if f.cache != nil {
		f.cache.Add(path, url)
	}
}

func (f *linkFetcher) fail(path, op string, err error) {
	f.record("failed")
	slog.Debug("no link available for file",
		slog.String("path", path),
		slog.String("op", op),
		slog.String("error_type", provider.ErrorTypeLabel(err)),
		slog.Any("error", err),
	)
}

func (f *linkFetcher) record(source string) {
	f.mu.Lock()
	switch source {
	case "cached":
		f.stats.Cached++
	case "reused":
		f.stats.Reused++
	case "created":
		f.stats.Created++
	case "failed":
		f.stats.Failed++
	}
	f.mu.Unlock()
	f.metrics.incLink(source)
}
