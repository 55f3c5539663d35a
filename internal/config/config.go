// Package config handles Docent configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/docent/config.yaml, /etc/docent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "docent", "config.yaml"))
	}

	paths = append(paths, "/etc/docent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Docent configuration.
type Config struct {
	Chat      ChatConfig    `yaml:"chat"`
	Model     ModelConfig   `yaml:"model"`
	Search    SearchConfig  `yaml:"search"`
	Sources   SourcesConfig `yaml:"sources"`
	DataDir   string        `yaml:"data_dir"`
	RunLogDB  string        `yaml:"runlog_db"`
	LogLevel  string        `yaml:"log_level"`
	Persona   string        `yaml:"persona_file"`
}

// ChatConfig defines the chat-platform connection.
type ChatConfig struct {
	URL     string `yaml:"url"`   // platform gateway base URL
	Token   string `yaml:"token"` // bot token
	Channel string `yaml:"channel,omitempty"`
}

// ModelConfig defines the generative-model provider settings.
type ModelConfig struct {
	APIKey    string `yaml:"api_key"`
	Name      string `yaml:"name"`       // model identifier
	MaxTokens int    `yaml:"max_tokens"` // per-turn output cap (default 4096)
}

// SearchConfig defines the external web-search provider.
type SearchConfig struct {
	Endpoint string `yaml:"endpoint"` // search API base URL
	APIKey   string `yaml:"api_key"`
	// SiteScope is the required scope token appended to every outbound
	// query that does not already carry it (e.g. "site:example.org").
	SiteScope string `yaml:"site_scope"`
}

// SourcesConfig defines the raw knowledge sources behind the indices.
type SourcesConfig struct {
	CatalogDir    string `yaml:"catalog_dir"`     // directory of JSON record files
	TablesDir     string `yaml:"tables_dir"`      // directory of CSV files
	FAQFile       string `yaml:"faq_file"`        // line-delimited Q/A file
	DriveFolderID string `yaml:"drive_folder_id"` // external image folder
	DriveAPIKey   string `yaml:"drive_api_key"`
	DriveBaseURL  string `yaml:"drive_base_url,omitempty"` // override for tests
	// SnapshotDir overrides where persisted index snapshots live.
	// Defaults to <data_dir>/snapshots.
	SnapshotDir string `yaml:"snapshot_dir,omitempty"`
}

// SnapshotDir resolves the snapshot directory for the given data dir.
func (s SourcesConfig) ResolveSnapshotDir(dataDir string) string {
	if s.SnapshotDir != "" {
		return s.SnapshotDir
	}
	return filepath.Join(dataDir, "snapshots")
}

// Load reads configuration from a YAML file. Environment variables in
// the file ($VAR or ${VAR}) are expanded before parsing so secrets can
// stay out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Name:      "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		DataDir: "data",
	}
}
