package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"github.com/aluiziolira/go-dropbox-links/config"
	"github.com/aluiziolira/go-dropbox-links/models"
)

const maxResponseBytes = 8 << 20

// Dropbox implements Provider against the Dropbox HTTP API v2.
type Dropbox struct {
	cfg        *config.Config
	baseURL    string
	httpClient *http.Client
	Metrics    *Metrics
}

// Option customises a Dropbox client.
type Option func(*Dropbox)

// WithMetrics records request metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(d *Dropbox) {
		d.Metrics = m
	}
}

// NewDropbox builds a client that authenticates with cfg.AccessToken. An
// *http.Client stored in ctx under oauth2.HTTPClient is used as the base
// transport.
func NewDropbox(ctx context.Context, cfg *config.Config, opts ...Option) (*Dropbox, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = cfg.Timeout

	d := &Dropbox{
		cfg:        cfg,
		baseURL:    strings.TrimSuffix(cfg.APIBaseURL, "/"),
		httpClient: client,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

type entryMetadata struct {
	Tag         string `json:".tag"`
	Name        string `json:"name"`
	PathLower   string `json:"path_lower"`
	PathDisplay string `json:"path_display"`
	URL         string `json:"url"`
}

func (m entryMetadata) path() string {
	if m.PathDisplay != "" {
		return m.PathDisplay
	}
	return m.PathLower
}

func (m entryMetadata) entryType() models.EntryType {
	switch m.Tag {
	case "file":
		return models.EntryFile
	case "folder":
		return models.EntryFolder
	default:
		return models.EntryOther
	}
}

type listFolderResult struct {
	Entries []entryMetadata `json:"entries"`
	Cursor  string          `json:"cursor"`
	HasMore bool            `json:"has_more"`
}

type listSharedLinksResult struct {
	Links   []entryMetadata `json:"links"`
	Cursor  string          `json:"cursor"`
	HasMore bool            `json:"has_more"`
}

type errorEnvelope struct {
	ErrorSummary string          `json:"error_summary"`
	Error        json.RawMessage `json:"error"`
}

type linkExistsDetail struct {
	SharedLinkAlreadyExists *struct {
		Metadata *entryMetadata `json:"metadata"`
	} `json:"shared_link_already_exists"`
}

// ResolveSharedLink looks up the shared link and, for folders, the
// case-correct path of its target.
func (d *Dropbox) ResolveSharedLink(ctx context.Context, url string) (models.SharedTarget, error) {
	var meta entryMetadata
	if err := d.call(ctx, "sharing/get_shared_link_metadata", map[string]any{"url": url}, &meta); err != nil {
		return models.SharedTarget{}, err
	}

	target := models.SharedTarget{Type: meta.entryType(), Path: meta.PathLower}
	if target.Type != models.EntryFolder {
		return target, nil
	}
	if meta.PathLower == "" {
		return target, fmt.Errorf("shared folder %q is not mounted in this account", meta.Name)
	}

	var canonical entryMetadata
	if err := d.call(ctx, "files/get_metadata", map[string]any{"path": meta.PathLower}, &canonical); err != nil {
		return target, err
	}
	target.Path = canonical.path()
	return target, nil
}

// ListFolder returns the direct entries of path, following cursors.
func (d *Dropbox) ListFolder(ctx context.Context, path string) ([]models.FileEntry, error) {
	var page listFolderResult
	if err := d.call(ctx, "files/list_folder", map[string]any{"path": path}, &page); err != nil {
		return nil, err
	}

	var entries []models.FileEntry
	for {
		for _, e := range page.Entries {
			switch e.entryType() {
			case models.EntryFile:
				entries = append(entries, models.FileEntry{Name: e.Name, Path: e.path()})
			case models.EntryFolder:
				entries = append(entries, models.FileEntry{Name: e.Name, Path: e.path(), IsFolder: true})
			}
		}
		if !page.HasMore || page.Cursor == "" {
			return entries, nil
		}

		cursor := page.Cursor
		page = listFolderResult{}
		if err := d.call(ctx, "files/list_folder/continue", map[string]any{"cursor": cursor}, &page); err != nil {
			return nil, err
		}
	}
}

// ListSharedLinks returns the direct links of path.
func (d *Dropbox) ListSharedLinks(ctx context.Context, path string) ([]models.SharedLink, error) {
	body := map[string]any{"path": path, "direct_only": true}
	var links []models.SharedLink
	for {
		var page listSharedLinksResult
		if err := d.call(ctx, "sharing/list_shared_links", body, &page); err != nil {
			return nil, err
		}
		for _, l := range page.Links {
			links = append(links, models.SharedLink{Type: l.entryType(), URL: l.URL})
		}
		if !page.HasMore || page.Cursor == "" {
			return links, nil
		}
		body = map[string]any{"path": path, "direct_only": true, "cursor": page.Cursor}
	}
}

// CreateSharedLink creates a public link. When the API reports the link
// already exists, the existing link is returned.
func (d *Dropbox) CreateSharedLink(ctx context.Context, path string) (models.SharedLink, error) {
	var meta entryMetadata
	err := d.call(ctx, "sharing/create_shared_link_with_settings", map[string]any{"path": path}, &meta)
	if err == nil {
		return models.SharedLink{Type: meta.entryType(), URL: meta.URL}, nil
	}

	var api *APIError
	if errors.As(err, &api) && strings.HasPrefix(api.Summary, "shared_link_already_exists") {
		var detail linkExistsDetail
		if jsonErr := json.Unmarshal(api.Detail, &detail); jsonErr == nil &&
			detail.SharedLinkAlreadyExists != nil &&
			detail.SharedLinkAlreadyExists.Metadata != nil &&
			detail.SharedLinkAlreadyExists.Metadata.URL != "" {
			existing := detail.SharedLinkAlreadyExists.Metadata
			return models.SharedLink{Type: existing.entryType(), URL: existing.URL}, nil
		}
	}
	return models.SharedLink{}, err
}

func (d *Dropbox) call(ctx context.Context, route string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", route, err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			d.Metrics.IncRetries()
		}
		err := d.do(ctx, route, payload, out)
		if err == nil {
			return nil
		}
		d.Metrics.IncError(route, ErrorTypeLabel(err))
		if IsTransient(err) && ctx.Err() == nil {
			slog.Debug("provider request failed, retrying",
				slog.String("route", route),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(d.cfg.MaxRetries)), ctx)
	return backoff.Retry(operation, policy)
}

func (d *Dropbox) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryBackoff
	if d.cfg.RetryBackoffMax > 0 {
		b.MaxInterval = d.cfg.RetryBackoffMax
	}
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.1
	b.Reset()
	return b
}

func (d *Dropbox) do(ctx context.Context, route string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/"+route, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", route, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	d.Metrics.IncRequest(route)
	resp, err := d.httpClient.Do(req)
	d.Metrics.ObserveDuration(route, time.Since(start))
	if err != nil {
		return classifyError(fmt.Errorf("%s: %w", route, err), 0)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyError(fmt.Errorf("read %s response: %w", route, err), 0)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return classifyError(decodeAPIError(route, resp.StatusCode, data), resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", route, err)
	}
	return nil
}

func decodeAPIError(route string, status int, data []byte) *APIError {
	apiErr := &APIError{Route: route, StatusCode: status}

	var envelope errorEnvelope
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.ErrorSummary != "" {
		apiErr.Summary = envelope.ErrorSummary
		apiErr.Detail = envelope.Error
		return apiErr
	}

	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	apiErr.Summary = text
	return apiErr
}
