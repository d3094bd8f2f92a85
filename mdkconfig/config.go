// Package mdkconfig holds the tunables the spec leaves to host
// configuration: snapshot retention, event timestamp bounds, and media
// scheme policy. Loaded via go-toml/v2 since the tunable surface here is
// wider than a single flat table.
package mdkconfig

import (
	"fmt"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds every runtime tunable named in the spec's Concurrency &
// Resource Model and Design Notes sections.
type Config struct {
	// SnapshotRetention bounds the number of epoch snapshots retained per
	// group; the oldest are pruned first. Default 5.
	SnapshotRetention int `toml:"snapshot_retention"`

	// MaxEventAge and MaxFutureSkew bound accepted event created_at
	// relative to wall-clock time.
	MaxEventAge   time.Duration `toml:"max_event_age"`
	MaxFutureSkew time.Duration `toml:"max_future_skew"`

	// ExporterSecretRetention is the number of historical epochs whose
	// exporter secrets a host keeps for media decryption; 0 means
	// unbounded. The core does not read it: exporter secrets are pruned
	// only when the host calls Storage.PruneExporterSecrets.
	ExporterSecretRetention int `toml:"exporter_secret_retention"`

	// MediaSchemeVersion and AcceptedMediaSchemes record the media scheme
	// policy for the host; IsAcceptedScheme checks a version against
	// AcceptedMediaSchemes. Package media does not read them: it emits
	// and accepts only media.SchemeVersion.
	MediaSchemeVersion    string   `toml:"media_scheme_version"`
	AcceptedMediaSchemes  []string `toml:"accepted_media_schemes"`
}

// DefaultConfig returns the spec's suggested defaults (45 day / 5 minute
// timestamp bounds, 5 retained snapshots).
func DefaultConfig() Config {
	return Config{
		SnapshotRetention:       5,
		MaxEventAge:             45 * 24 * time.Hour,
		MaxFutureSkew:           5 * time.Minute,
		ExporterSecretRetention: 0,
		MediaSchemeVersion:      "mip04-v2",
		AcceptedMediaSchemes:    []string{"mip04-v2"},
	}
}

// IsAcceptedScheme reports whether version may still be decrypted.
// Rejected legacy schemes (e.g. "mip04-v1", which lacks per-message
// nonces) must fail outright rather than fall back, to prevent nonce
// reuse.
func (c Config) IsAcceptedScheme(version string) bool {
	for _, v := range c.AcceptedMediaSchemes {
		if v == version {
			return true
		}
	}
	return false
}

// Load parses a Config from TOML text, filling unset fields from
// DefaultConfig.
func Load(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config TOML: %w", err)
	}
	return cfg, nil
}

// Marshal serializes a Config back to TOML.
func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
