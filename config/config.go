package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultSharedLinkPattern matches Dropbox shared folder links, both the
// legacy /sh/ form and the /scl/fo/ form.
const DefaultSharedLinkPattern = `^https://(www\.)?dropbox\.com/(sh|scl/fo)/\S+$`

// Config holds run configuration.
type Config struct {
	APIBaseURL         string        `yaml:"api_base_url"`
	AccessToken        string        `yaml:"access_token"`
	SharedLinkPattern  string        `yaml:"shared_link_pattern"`
	ExcludedExtensions []string      `yaml:"excluded_extensions"`
	SharingHost        string        `yaml:"sharing_host"`
	DirectHost         string        `yaml:"direct_host"`
	LinkDelimiter      string        `yaml:"link_delimiter"`
	Parallelism        int           `yaml:"parallelism"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax    time.Duration `yaml:"retry_backoff_max"`
	LinkCacheSize      int           `yaml:"link_cache_size"`
	PipelineBufferSize int           `yaml:"pipeline_buffer_size"`
	BatchSize          int           `yaml:"batch_size"`
	OutputFile         string        `yaml:"output_file"`
	OutputFormat       string        `yaml:"output_format"` // xlsx, csv, json, or dual
	UploadS3           string        `yaml:"upload_s3"`     // bucket or bucket/prefix
	S3Region           string        `yaml:"s3_region"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	Verbose            bool          `yaml:"verbose"`
}

// DefaultConfig returns defaults for the public Dropbox API.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:         "https://api.dropboxapi.com/2",
		SharedLinkPattern:  DefaultSharedLinkPattern,
		ExcludedExtensions: []string{".psd", ".png", ".jpg"},
		SharingHost:        "www.dropbox.com",
		DirectHost:         "dl.dropboxusercontent.com",
		LinkDelimiter:      " ; ",
		Parallelism:        4,
		Timeout:            30 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       500 * time.Millisecond,
		RetryBackoffMax:    5 * time.Second,
		LinkCacheSize:      4096,
		PipelineBufferSize: 256,
		BatchSize:          32,
		OutputFile:         "output/dropbox_links_with_skus.xlsx",
		OutputFormat:       "xlsx",
		Verbose:            false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return fmt.Errorf("invalid API base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("API base URL must include a host")
	}

	if c.SharedLinkPattern == "" {
		return fmt.Errorf("shared link pattern cannot be empty")
	}
	if _, err := regexp.Compile(c.SharedLinkPattern); err != nil {
		return fmt.Errorf("invalid shared link pattern: %w", err)
	}
	for _, ext := range c.ExcludedExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("excluded extension %q must start with a dot", ext)
		}
	}
	if c.SharingHost == "" || c.DirectHost == "" {
		return fmt.Errorf("sharing host and direct host cannot be empty")
	}
	if c.LinkDelimiter == "" {
		return fmt.Errorf("link delimiter cannot be empty")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.LinkCacheSize < 0 {
		return fmt.Errorf("link cache size cannot be negative")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "xlsx", "csv", "json", "dual":
	default:
		return fmt.Errorf("output format must be xlsx, csv, json, or dual")
	}
	if strings.HasPrefix(c.UploadS3, "/") {
		return fmt.Errorf("upload target must be bucket or bucket/prefix")
	}

	return nil
}

// ValidateCredentials reports whether the config can reach the provider.
func (c *Config) ValidateCredentials() error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("access token cannot be empty (set DROPBOX_TOKEN or --token)")
	}
	return nil
}
