// SPDX-License-Identifier: MPL-2.0

// Package metrics holds the run counters of the generator. Counters live in a
// private registry so tests and repeated runs never collide on the global
// Prometheus registerer.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "unitydeps"

// Skip reasons used as the "reason" label of the skipped counter.
const (
	ReasonPublished   = "already_published"
	ReasonBelow       = "below_threshold"
	ReasonNotFound    = "not_available"
	ReasonLocked      = "locked"
	ReasonTagConflict = "tag_exists"
	ReasonDryRun      = "dry_run"
)

// Recorder receives generator events.
type Recorder interface {
	VersionDiscovered()
	VersionSkipped(reason string)
	ReleasePublished()
	AssetUploaded()
	DownloadBytes(n int64)
}

// Noop discards every event.
type Noop struct{}

// VersionDiscovered does nothing.
func (Noop) VersionDiscovered() {}

// VersionSkipped does nothing.
func (Noop) VersionSkipped(string) {}

// ReleasePublished does nothing.
func (Noop) ReleasePublished() {}

// AssetUploaded does nothing.
func (Noop) AssetUploaded() {}

// DownloadBytes does nothing.
func (Noop) DownloadBytes(int64) {}

// Prom implements Recorder with Prometheus counters.
type Prom struct {
	registry      *prometheus.Registry
	discovered    prometheus.Counter
	skipped       *prometheus.CounterVec
	published     prometheus.Counter
	assets        prometheus.Counter
	downloadBytes prometheus.Counter
}

// NewProm creates the counters and registers them in a fresh registry.
func NewProm() *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_discovered_total",
			Help:      "Unity versions returned by the release catalog",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_skipped_total",
			Help:      "Versions not published, by reason",
		}, []string{"reason"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_published_total",
			Help:      "Releases created and undrafted",
		}),
		assets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_uploaded_total",
			Help:      "Release assets uploaded",
		}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Installer bytes downloaded from the CDN",
		}),
	}
	p.registry.MustRegister(p.discovered, p.skipped, p.published, p.assets, p.downloadBytes)
	return p
}

// VersionDiscovered counts one catalog version.
func (p *Prom) VersionDiscovered() { p.discovered.Inc() }

// VersionSkipped counts one version left unpublished, labelled by reason.
func (p *Prom) VersionSkipped(reason string) { p.skipped.WithLabelValues(reason).Inc() }

// ReleasePublished counts one undrafted release.
func (p *Prom) ReleasePublished() { p.published.Inc() }

// AssetUploaded counts one uploaded release asset.
func (p *Prom) AssetUploaded() { p.assets.Inc() }

// DownloadBytes adds n installer bytes. Non-positive values are ignored.
func (p *Prom) DownloadBytes(n int64) {
	if n > 0 {
		p.downloadBytes.Add(float64(n))
	}
}

// WriteTextfile writes all counters to path in the node-exporter textfile
// format. The file is replaced atomically.
func (p *Prom) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
