package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-dropbox-links/models"
)

// IsExcluded reports whether name ends with one of exts, ignoring case.
func IsExcluded(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if ext != "" && strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// EligibleFiles returns the non-folder entries that are not excluded,
// naturally sorted.
func EligibleFiles(entries []models.FileEntry, exts []string) []models.FileEntry {
	files := make([]models.FileEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsFolder || IsExcluded(e.Name, exts) {
			continue
		}
		files = append(files, e)
	}
	SortEntries(files)
	return files
}

// Subfolders returns the folder entries in listing order.
func Subfolders(entries []models.FileEntry) []models.FileEntry {
	var folders []models.FileEntry
	for _, e := range entries {
		if e.IsFolder {
			folders = append(folders, e)
		}
	}
	return folders
}

// RewriteHost swaps the sharing host of link for the direct-content host.
// Only the host segment changes.
func RewriteHost(link, sharingHost, directHost string) string {
	return strings.Replace(link, "://"+sharingHost+"/", "://"+directHost+"/", 1)
}

// RowOptions controls how collected links become an export row.
type RowOptions struct {
	Delimiter   string
	SharingHost string
	DirectHost  string
}

// BuildRow joins links into one export row. It returns nil when links is
// empty.
func BuildRow(sku string, links []string, opts RowOptions) *models.ExportRow {
	if len(links) == 0 {
		return nil
	}

	rewritten := make([]string, len(links))
	for i, link := range links {
		rewritten[i] = RewriteHost(link, opts.SharingHost, opts.DirectHost)
	}

	return &models.ExportRow{
		SKU:        sku,
		ImageLinks: strings.Join(rewritten, opts.Delimiter),
		Command:    models.ImageCommandReplace,
	}
}

// ValidateRow ensures a row is complete before it is written.
func ValidateRow(r *models.ExportRow) error {
	if r == nil {
		return fmt.Errorf("row is nil")
	}
	if strings.TrimSpace(r.SKU) == "" {
		return fmt.Errorf("row missing SKU")
	}
	if strings.TrimSpace(r.ImageLinks) == "" {
		return fmt.Errorf("row missing image links for %s", r.SKU)
	}
	if r.Command != models.ImageCommandReplace {
		return fmt.Errorf("row for %s has command %q, want %q", r.SKU, r.Command, models.ImageCommandReplace)
	}
	return nil
}
