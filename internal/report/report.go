// SPDX-License-Identifier: MPL-2.0

// Package report builds the YAML summary of one generator run.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Outcome values of an entry.
const (
	OutcomePublished Outcome = "published"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
)

type (
	// Outcome is what happened to one version.
	Outcome string

	// Asset is one uploaded (or, in a dry run, planned) release asset.
	Asset struct {
		Name   string `yaml:"name"`
		SHA256 string `yaml:"sha256,omitempty"`
		Size   int64  `yaml:"size"`
	}

	// Entry describes one catalog version handled by the run.
	Entry struct {
		Version string  `yaml:"version"`
		Outcome Outcome `yaml:"outcome"`
		Reason  string  `yaml:"reason,omitempty"`
		URL     string  `yaml:"url,omitempty"`
		Assets  []Asset `yaml:"assets,omitempty"`
	}

	// Report is the run summary.
	Report struct {
		RunID       string    `yaml:"run_id"`
		Repository  string    `yaml:"repository"`
		DryRun      bool      `yaml:"dry_run,omitempty"`
		StartedAt   time.Time `yaml:"started_at"`
		FinishedAt  time.Time `yaml:"finished_at"`
		CatalogSize int       `yaml:"catalog_size"`
		Entries     []Entry   `yaml:"entries"`
	}
)

// New starts a report with a random run id.
func New(repository string, now time.Time) *Report {
	return &Report{
		RunID:      uuid.NewString(),
		Repository: repository,
		StartedAt:  now.UTC(),
		Entries:    []Entry{},
	}
}

// Add appends an entry.
func (r *Report) Add(e Entry) {
	r.Entries = append(r.Entries, e)
}

// Finish stamps the end time.
func (r *Report) Finish(now time.Time) {
	r.FinishedAt = now.UTC()
}

// Count returns the number of entries with outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

// Marshal encodes the report as YAML.
func (r *Report) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return data, nil
}

// WriteFile writes the report to path, creating parent directories.
func (r *Report) WriteFile(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Load reads a report written by WriteFile.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}
