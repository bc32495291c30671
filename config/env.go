package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a Go duration when it is set.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, true, nil
}

// Load reads a YAML config file over the defaults. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays SKULINKS_* variables and DROPBOX_TOKEN onto cfg.
func (c *Config) ApplyEnv() error {
	if value, ok := EnvString("DROPBOX_TOKEN"); ok {
		c.AccessToken = value
	}
	if value, ok := EnvString("SKULINKS_API_URL"); ok {
		c.APIBaseURL = value
	}
	if value, ok := EnvString("SKULINKS_OUTPUT"); ok {
		c.OutputFile = value
	}
	if value, ok := EnvString("SKULINKS_FORMAT"); ok {
		c.OutputFormat = strings.ToLower(value)
	}
	if value, ok := EnvString("SKULINKS_EXCLUDE"); ok {
		c.ExcludedExtensions = SplitExtensions(value)
	}
	if value, ok := EnvString("SKULINKS_METRICS_ADDR"); ok {
		c.MetricsAddr = value
	}
	if value, ok := EnvString("SKULINKS_UPLOAD_S3"); ok {
		c.UploadS3 = value
	}
	if value, ok, err := EnvInt("SKULINKS_PARALLEL"); err != nil {
		return err
	} else if ok {
		c.Parallelism = value
	}
	if value, ok, err := EnvInt("SKULINKS_MAX_RETRIES"); err != nil {
		return err
	} else if ok {
		c.MaxRetries = value
	}
	if value, ok, err := EnvDuration("SKULINKS_TIMEOUT"); err != nil {
		return err
	} else if ok {
		c.Timeout = value
	}
	return nil
}

// SplitExtensions parses a comma separated extension list, adding the
// leading dot and lower-casing each entry.
func SplitExtensions(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		ext := strings.ToLower(strings.TrimSpace(part))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}
