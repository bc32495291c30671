package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a collection run.
type Metrics struct {
	LinksTotal        *prometheus.CounterVec
	FolderErrorsTotal prometheus.Counter
	ResolveErrors     prometheus.Counter
	SKUsTotal         *prometheus.CounterVec
	ImagesTotal       prometheus.Counter
}

// NewMetrics constructs the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	links := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skulinks_file_links_total",
			Help: "File links obtained, by source (reused, created, cached, failed).",
		},
		[]string{"source"},
	)
	folderErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skulinks_folder_errors_total",
			Help: "Folder listings that failed during traversal.",
		},
	)
	resolveErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skulinks_resolve_errors_total",
			Help: "Shared links that did not resolve to a folder.",
		},
	)
	skus := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skulinks_skus_total",
			Help: "Processed SKUs by outcome.",
		},
		[]string{"status"},
	)
	images := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skulinks_images_total",
			Help: "Image links written to export rows.",
		},
	)

	if reg != nil {
		reg.MustRegister(links, folderErrors, resolveErrors, skus, images)
	}

	return &Metrics{
		LinksTotal:        links,
		FolderErrorsTotal: folderErrors,
		ResolveErrors:     resolveErrors,
		SKUsTotal:         skus,
		ImagesTotal:       images,
	}
}

func (m *Metrics) incLink(source string) {
	if m == nil {
		return
	}
	m.LinksTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) incFolderError() {
	if m == nil {
		return
	}
	m.FolderErrorsTotal.Inc()
}

func (m *Metrics) incResolveError() {
	if m == nil {
		return
	}
	m.ResolveErrors.Inc()
}

func (m *Metrics) observeOutcome(status string, images int) {
	if m == nil {
		return
	}
	m.SKUsTotal.WithLabelValues(status).Inc()
	m.ImagesTotal.Add(float64(images))
}
