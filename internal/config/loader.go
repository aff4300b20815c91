package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed files return an error. Files ending
// in .yaml or .yml are parsed as YAML, everything else as JSON.
func Load(globalPath, projectPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ProjectDir holds the project config, relative to the working directory.
const ProjectDir = ".taskgraph"

var projectFiles = []string{"config.json", "config.yaml", "config.yml"}

// ProjectPath returns the project config file LoadDefault reads: the first
// of config.json, config.yaml and config.yml in ProjectDir that exists, or
// the JSON path when none does.
func ProjectPath() string {
	for _, name := range projectFiles {
		p := filepath.Join(ProjectDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(ProjectDir, projectFiles[0])
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskgraph/config.json
// Project: ProjectPath() (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".taskgraph", "config.json")

	return Load(globalPath, ProjectPath())
}

// mergeConfigFile decodes a config file on top of base. Keys absent from the
// file keep their current value. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, base); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, base); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	return nil
}
