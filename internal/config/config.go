// Package config loads the YAML configuration file and applies it to the
// package database: repository list with pinning tags, architectures,
// paths.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keelpm/keel/internal/db"
)

// Repository is one configured package source. An empty Tag places the
// repository under the default (untagged) pin.
type Repository struct {
	URL string `yaml:"url"`
	Tag string `yaml:"tag,omitempty"`
}

// Config is the on-disk configuration.
type Config struct {
	// DatabasePath is the SQLite installed-state database.
	DatabasePath string `yaml:"database"`

	// HookDir holds the pre-commit/post-commit hook executables.
	HookDir string `yaml:"hook_dir,omitempty"`

	// Arches are the installable package architectures. Packages with an
	// empty architecture are always installable.
	Arches []string `yaml:"arches,omitempty"`

	Repositories []Repository `yaml:"repositories,omitempty"`

	// NoNetwork restricts package availability to the local cache.
	NoNetwork bool `yaml:"no_network,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DatabasePath: "/var/lib/keel/state.db",
		HookDir:      "/etc/keel/commit-hooks.d",
	}
}

// Load reads the configuration at path. A missing file yields Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// Apply configures the database's repository masks, pinning tags and
// architecture list from the configuration. Repository index 0 stays
// reserved for the local cache; configured repositories take indices 1..n
// in file order, which keeps persisted masks meaningful as long as the
// repository list order is stable.
func (c Config) Apply(d *db.Database) {
	d.Arches = append([]string(nil), c.Arches...)
	for i, repo := range c.Repositories {
		mask := db.Bit(i + 1)
		if !c.NoNetwork {
			d.AvailableRepos |= mask
		}
		tag := d.TagIndex(repo.Tag)
		d.RepoTags[tag].AllowedRepos |= mask
	}
	d.AvailableRepos |= d.LocalRepos
	d.RepoTags[0].AllowedRepos |= d.LocalRepos
}

// RepoMaskFor returns the bitmask of the repository at the given list
// index, matching the masks Apply assigned.
func RepoMaskFor(index int) db.RepoMask {
	return db.Bit(index + 1)
}
