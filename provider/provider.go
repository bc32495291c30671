// Package provider talks to the remote file storage that hosts the shared
// folders.
package provider

import (
	"context"

	"github.com/aluiziolira/go-dropbox-links/models"
)

// Provider is the storage API the collector needs.
type Provider interface {
	// ResolveSharedLink returns the target type and canonical path of a
	// shared link.
	ResolveSharedLink(ctx context.Context, url string) (models.SharedTarget, error)
	// ListFolder returns the direct entries of path in provider order.
	ListFolder(ctx context.Context, path string) ([]models.FileEntry, error)
	// ListSharedLinks returns the existing public links of path.
	ListSharedLinks(ctx context.Context, path string) ([]models.SharedLink, error)
	// CreateSharedLink creates a public link for path with default settings.
	CreateSharedLink(ctx context.Context, path string) (models.SharedLink, error)
}
