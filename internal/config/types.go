// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/melonloader/unitydeps/internal/archive"
	"github.com/melonloader/unitydeps/internal/artifact"
	"github.com/melonloader/unitydeps/internal/catalog"
	"github.com/melonloader/unitydeps/internal/github"
	"github.com/melonloader/unitydeps/internal/lock"
)

// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid config")

type (
	// Config is the full generator configuration.
	Config struct {
		GitHub   GitHubConfig   `json:"github" mapstructure:"github"`
		Catalog  CatalogConfig  `json:"catalog" mapstructure:"catalog"`
		Download DownloadConfig `json:"download" mapstructure:"download"`
		Lock     LockConfig     `json:"lock" mapstructure:"lock"`
		// WorkDir is the root under which per-version temp dirs are created.
		// Empty uses the system temp dir.
		WorkDir string `json:"work_dir" mapstructure:"work_dir"`
		// MetricsFile receives the Prometheus textfile at the end of a run.
		MetricsFile string `json:"metrics_file" mapstructure:"metrics_file"`
		// ReportFile receives the YAML run report.
		ReportFile string `json:"report_file" mapstructure:"report_file"`
		DryRun     bool   `json:"dry_run" mapstructure:"dry_run"`
		Verbose    bool   `json:"verbose" mapstructure:"verbose"`
	}

	// GitHubConfig points the release client at an API.
	GitHubConfig struct {
		APIURL    string `json:"api_url" mapstructure:"api_url"`
		UploadURL string `json:"upload_url" mapstructure:"upload_url"`
		UserAgent string `json:"user_agent" mapstructure:"user_agent"`
	}

	// CatalogConfig controls the Unity release catalog query.
	CatalogConfig struct {
		Endpoint   string `json:"endpoint" mapstructure:"endpoint"`
		UserAgent  string `json:"user_agent" mapstructure:"user_agent"`
		Families   []int  `json:"families" mapstructure:"families"`
		PageSize   int    `json:"page_size" mapstructure:"page_size"`
		StableOnly bool   `json:"stable_only" mapstructure:"stable_only"`
		LatestOnly bool   `json:"latest_only" mapstructure:"latest_only"`
	}

	// DownloadConfig controls installer downloads and extraction limits.
	DownloadConfig struct {
		URLTemplate    string        `json:"url_template" mapstructure:"url_template"`
		UserAgent      string        `json:"user_agent" mapstructure:"user_agent"`
		MaxRetries     int           `json:"max_retries" mapstructure:"max_retries"`
		RetryInterval  time.Duration `json:"retry_interval" mapstructure:"retry_interval"`
		Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
		MaxMemberBytes int64         `json:"max_member_bytes" mapstructure:"max_member_bytes"`
	}

	// LockConfig enables the Redis run lock when RedisURL is set.
	LockConfig struct {
		RedisURL string        `json:"redis_url" mapstructure:"redis_url"`
		TTL      time.Duration `json:"ttl" mapstructure:"ttl"`
	}

	// InvalidConfigError lists every field that failed validation.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		GitHub: GitHubConfig{
			APIURL:    github.DefaultBaseURL,
			UploadURL: github.DefaultUploadURL,
			UserAgent: github.DefaultUserAgent,
		},
		Catalog: CatalogConfig{
			Endpoint:   catalog.DefaultEndpoint,
			UserAgent:  catalog.DefaultUserAgent,
			Families:   append([]int(nil), catalog.DefaultFamilies...),
			PageSize:   catalog.DefaultPageSize,
			StableOnly: true,
			LatestOnly: true,
		},
		Download: DownloadConfig{
			URLTemplate:    artifact.DefaultURLTemplate,
			UserAgent:      artifact.DefaultUserAgent,
			MaxRetries:     artifact.DefaultMaxRetries,
			RetryInterval:  2 * time.Second,
			Timeout:        30 * time.Minute,
			MaxMemberBytes: archive.DefaultMaxMemberBytes,
		},
		Lock: LockConfig{
			TTL: lock.DefaultTTL,
		},
	}
}

// IsValid checks the constraints that environment overrides can violate
// after the CUE schema has been applied to the file.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	for _, u := range []struct{ name, raw string }{
		{"github.api_url", c.GitHub.APIURL},
		{"github.upload_url", c.GitHub.UploadURL},
		{"catalog.endpoint", c.Catalog.Endpoint},
	} {
		if err := checkHTTPURL(u.raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.name, err))
		}
	}
	if len(c.Catalog.Families) == 0 {
		errs = append(errs, errors.New("catalog.families: at least one family is required"))
	}
	for i, f := range c.Catalog.Families {
		if f <= 0 {
			errs = append(errs, fmt.Errorf("catalog.families[%d]: %d is not a version family", i, f))
		}
	}
	if c.Catalog.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("catalog.page_size: must be positive, got %d", c.Catalog.PageSize))
	}
	if !strings.Contains(c.Download.URLTemplate, "{id}") {
		errs = append(errs, errors.New("download.url_template: must contain {id}"))
	}
	if c.Download.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("download.max_retries: must not be negative, got %d", c.Download.MaxRetries))
	}
	if c.Download.MaxMemberBytes <= 0 {
		errs = append(errs, errors.New("download.max_member_bytes: must be positive"))
	}
	if c.Lock.RedisURL != "" {
		switch {
		case c.Lock.TTL <= 0:
			errs = append(errs, errors.New("lock.ttl: must be positive when lock.redis_url is set"))
		case c.Lock.TTL <= c.Download.Timeout:
			errs = append(errs, fmt.Errorf("lock.ttl: %s must exceed download.timeout %s", c.Lock.TTL, c.Download.Timeout))
		}
	}

	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}
