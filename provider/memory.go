package provider

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/aluiziolira/go-dropbox-links/models"
)

// Memory is an in-process Provider. Folders and files are created
// implicitly from the paths passed to AddFile and AddFolder, and listings
// return entries in insertion order.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]models.FileEntry
	files   map[string]bool
	shares  map[string]models.SharedTarget
	links   map[string][]models.SharedLink
	fails   map[string]error
	calls   map[string]int
	nextID  int
}

// NewMemory returns an empty tree rooted at "/".
func NewMemory() *Memory {
	return &Memory{
		entries: map[string][]models.FileEntry{"/": nil},
		files:   make(map[string]bool),
		shares:  make(map[string]models.SharedTarget),
		links:   make(map[string][]models.SharedLink),
		fails:   make(map[string]error),
		calls:   make(map[string]int),
	}
}

// AddFolder creates p and any missing parents.
func (m *Memory) AddFolder(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureFolderLocked(path.Clean(p))
}

// AddFile creates a file at p and any missing parent folders.
func (m *Memory) AddFile(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = path.Clean(p)
	if m.files[p] {
		return
	}
	parent := path.Dir(p)
	m.ensureFolderLocked(parent)
	m.files[p] = true
	m.entries[parent] = append(m.entries[parent], models.FileEntry{Name: path.Base(p), Path: p})
}

func (m *Memory) ensureFolderLocked(p string) {
	if _, ok := m.entries[p]; ok {
		return
	}
	parent := path.Dir(p)
	m.ensureFolderLocked(parent)
	m.entries[p] = nil
	m.entries[parent] = append(m.entries[parent], models.FileEntry{Name: path.Base(p), Path: p, IsFolder: true})
}

// Share maps a shared link URL to an existing path.
func (m *Memory) Share(url, p string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = path.Clean(p)
	target := models.SharedTarget{Type: models.EntryOther, Path: p}
	if _, ok := m.entries[p]; ok {
		target.Type = models.EntryFolder
	} else if m.files[p] {
		target.Type = models.EntryFile
	}
	m.shares[url] = target
}

// AddSharedLink registers an existing public link for a file.
func (m *Memory) AddSharedLink(p, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	m.links[p] = append(m.links[p], models.SharedLink{Type: models.EntryFile, URL: url})
}

// Fail makes every call of method for key return err. Methods are
// "resolve", "list", "links" and "create"; key is a URL or a path.
func (m *Memory) Fail(method, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails[method+" "+key] = err
}

// Calls returns how many times method was invoked.
func (m *Memory) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Memory) begin(ctx context.Context, method, key string) error {
	m.mu.Lock()
	m.calls[method]++
	err := m.fails[method+" "+key]
	m.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func notFound(route, key string) error {
	return ErrNotFound{Err: &APIError{Route: route, StatusCode: http.StatusConflict, Summary: "path/not_found/" + key}}
}

// ResolveSharedLink implements Provider.
func (m *Memory) ResolveSharedLink(ctx context.Context, url string) (models.SharedTarget, error) {
	if err := m.begin(ctx, "resolve", url); err != nil {
		return models.SharedTarget{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.shares[url]
	if !ok {
		return models.SharedTarget{}, ErrNotFound{Err: &APIError{
			Route:      "sharing/get_shared_link_metadata",
			StatusCode: http.StatusConflict,
			Summary:    "shared_link_not_found/",
		}}
	}
	return target, nil
}

// ListFolder implements Provider.
func (m *Memory) ListFolder(ctx context.Context, p string) ([]models.FileEntry, error) {
	if err := m.begin(ctx, "list", p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.entries[path.Clean(p)]
	if !ok {
		return nil, notFound("files/list_folder", p)
	}
	out := make([]models.FileEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// ListSharedLinks implements Provider.
func (m *Memory) ListSharedLinks(ctx context.Context, p string) ([]models.SharedLink, error) {
	if err := m.begin(ctx, "links", p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if !m.files[p] {
		return nil, notFound("sharing/list_shared_links", p)
	}
	out := make([]models.SharedLink, len(m.links[p]))
	copy(out, m.links[p])
	return out, nil
}

// CreateSharedLink implements Provider.
func (m *Memory) CreateSharedLink(ctx context.Context, p string) (models.SharedLink, error) {
	if err := m.begin(ctx, "create", p); err != nil {
		return models.SharedLink{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if !m.files[p] {
		return models.SharedLink{}, notFound("sharing/create_shared_link_with_settings", p)
	}
	if len(m.links[p]) > 0 {
		return models.SharedLink{}, &APIError{
			Route:      "sharing/create_shared_link_with_settings",
			StatusCode: http.StatusConflict,
			Summary:    "shared_link_already_exists/",
		}
	}

	m.nextID++
	link := models.SharedLink{
		Type: models.EntryFile,
		URL:  fmt.Sprintf("https://www.dropbox.com/scl/fi/%04d/%s?dl=0", m.nextID, strings.ReplaceAll(path.Base(p), " ", "%20")),
	}
	m.links[p] = append(m.links[p], link)
	return link, nil
}
