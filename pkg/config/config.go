// Package config loads engine settings from a YAML file and compiles the
// origin allowlist that gates backend synthesis calls.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Settings holds the user-tunable knobs of the resolution engine.
type Settings struct {
	// Model is the synthesis model name.
	Model string `yaml:"model"`

	// BaseURL overrides the backend endpoint for OpenAI-compatible servers.
	BaseURL string `yaml:"base_url"`

	// CachePath is the persistent locator store file. Empty uses the
	// store's default location.
	CachePath string `yaml:"cache_path"`

	// MaxRetries is the number of additional backend attempts after the
	// first one fails verification.
	MaxRetries int `yaml:"max_retries"`

	// Headless controls the browser launch mode.
	Headless bool `yaml:"headless"`

	// AllowedOrigins are glob patterns of origins permitted to spend
	// backend calls. Origins outside the list resolve from cache only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// SnapshotTokenBudget caps the token count of document snapshots sent
	// to the backend.
	SnapshotTokenBudget int `yaml:"snapshot_token_budget"`
}

// Default returns the settings used when no config file exists.
func Default() Settings {
	return Settings{
		Model:               "gpt-4o",
		MaxRetries:          2,
		Headless:            true,
		AllowedOrigins:      []string{"*"},
		SnapshotTokenBudget: 8000,
	}
}

// DefaultPath returns ~/.locus/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".locus", "config.yaml"), nil
}

// Load reads settings from path, or from the default location when path is
// empty. A missing file yields Default(); a malformed file is an error.
func Load(path string) (Settings, error) {
	settings := Default()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return settings, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Default(), fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}
	if len(settings.AllowedOrigins) == 0 {
		settings.AllowedOrigins = []string{"*"}
	}
	return settings, nil
}

// OriginFilter compiles the allowlist into a matcher usable by the resolver.
func (s Settings) OriginFilter() (func(string) bool, error) {
	matchers := make([]glob.Glob, 0, len(s.AllowedOrigins))
	for _, pattern := range s.AllowedOrigins {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid origin pattern %q: %w", pattern, err)
		}
		matchers = append(matchers, g)
	}
	return func(origin string) bool {
		for _, g := range matchers {
			if g.Match(origin) {
				return true
			}
		}
		return false
	}, nil
}
