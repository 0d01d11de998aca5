// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/melonloader/unitydeps/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "unitydeps"
	// EnvPrefix prefixes every environment override, e.g. UNITYDEPS_CATALOG_ENDPOINT.
	EnvPrefix = "UNITYDEPS"
	// LocalConfigFile is looked up in the working directory.
	LocalConfigFile = "unitydeps.cue"
	// UserConfigFile is looked up in the user config dir.
	UserConfigFile = "config.cue"
)

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific file. A missing file is
	// an error.
	ConfigFilePath string
	// ConfigDirPath overrides the user config directory.
	ConfigDirPath string
}

// ConfigDir returns $XDG_CONFIG_HOME/unitydeps or its platform equivalent.
//
//nolint:revive // config.ConfigDir reads better at call sites than config.Dir
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// Load resolves the configuration: built-in defaults, then the first config
// file found (explicit path, ./unitydeps.cue, user config dir), then
// UNITYDEPS_* environment variables. It returns the file that was used, or
// "" when none was found.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolveConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Compare the field names with the schema in the README").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("parse configuration").
			WithSuggestion("Check the types of UNITYDEPS_* environment variables").
			Wrap(err).
			BuildError()
	}

	if err := Validate(&cfg, path); err != nil {
		return nil, "", err
	}
	return &cfg, path, nil
}

// Validate runs IsValid and wraps a failure in an actionable error naming
// source, the config file path or "" for defaults and environment only.
// Callers that change cfg after Load must validate it again.
func Validate(cfg *Config, source string) error {
	ok, errs := cfg.IsValid()
	if ok {
		return nil
	}
	return issue.NewErrorContext().
		WithOperation("validate configuration").
		WithResource(source).
		WithSuggestion("Fix the listed fields in the flags, config file or environment").
		Wrap(errs[0]).
		BuildError()
}

func resolveConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Omit --config to run with the built-in defaults").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	if fileExists(LocalConfigFile) {
		return LocalConfigFile, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		d, err := ConfigDir()
		if err != nil {
			// No home directory means no user config; defaults still apply.
			return "", nil
		}
		dir = d
	}
	if p := filepath.Join(dir, UserConfigFile); fileExists(p) {
		return p, nil
	}
	return "", nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("github.api_url", d.GitHub.APIURL)
	v.SetDefault("github.upload_url", d.GitHub.UploadURL)
	v.SetDefault("github.user_agent", d.GitHub.UserAgent)

	v.SetDefault("catalog.endpoint", d.Catalog.Endpoint)
	v.SetDefault("catalog.user_agent", d.Catalog.UserAgent)
	v.SetDefault("catalog.families", d.Catalog.Families)
	v.SetDefault("catalog.page_size", d.Catalog.PageSize)
	v.SetDefault("catalog.stable_only", d.Catalog.StableOnly)
	v.SetDefault("catalog.latest_only", d.Catalog.LatestOnly)

	v.SetDefault("download.url_template", d.Download.URLTemplate)
	v.SetDefault("download.user_agent", d.Download.UserAgent)
	v.SetDefault("download.max_retries", d.Download.MaxRetries)
	v.SetDefault("download.retry_interval", d.Download.RetryInterval)
	v.SetDefault("download.timeout", d.Download.Timeout)
	v.SetDefault("download.max_member_bytes", d.Download.MaxMemberBytes)

	v.SetDefault("lock.redis_url", d.Lock.RedisURL)
	v.SetDefault("lock.ttl", d.Lock.TTL)

	v.SetDefault("work_dir", d.WorkDir)
	v.SetDefault("metrics_file", d.MetricsFile)
	v.SetDefault("report_file", d.ReportFile)
	v.SetDefault("dry_run", d.DryRun)
	v.SetDefault("verbose", d.Verbose)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
