package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Targets TargetsConfig `yaml:"targets"`
	Tools   ToolsConfig   `yaml:"tools"`
	Backup  BackupConfig  `yaml:"backup"`
	History HistoryConfig `yaml:"history"`
}

// TargetsConfig holds the files behind the file-backed targets
type TargetsConfig struct {
	AptConf     string `yaml:"apt_conf"`
	Environment string `yaml:"environment"`
	BashRc      string `yaml:"bashrc"`
}

// ToolsConfig names the external binaries for snap and git
type ToolsConfig struct {
	Snap string `yaml:"snap"`
	Git  string `yaml:"git"`
}

// BackupConfig holds the snapshot directory
type BackupConfig struct {
	Dir string `yaml:"dir"`
}

// HistoryConfig controls the operation history database
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// DefaultConfig returns a config with the stock Debian/Ubuntu locations
func DefaultConfig() *Config {
	return &Config{
		Targets: TargetsConfig{
			AptConf:     "/etc/apt/apt.conf",
			Environment: "/etc/environment",
			BashRc:      "/etc/bash.bashrc",
		},
		Tools: ToolsConfig{
			Snap: "snap",
			Git:  "git",
		},
		Backup: BackupConfig{
			Dir: "/var/lib/proxysync/backup",
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  "/var/lib/proxysync/history.db",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that every required path is set
func (c *Config) Validate() error {
	var missing []string
	if c.Targets.AptConf == "" {
		missing = append(missing, "targets.apt_conf")
	}
	if c.Targets.Environment == "" {
		missing = append(missing, "targets.environment")
	}
	if c.Targets.BashRc == "" {
		missing = append(missing, "targets.bashrc")
	}
	if c.Backup.Dir == "" {
		missing = append(missing, "backup.dir")
	}
	if c.History.Enabled && c.History.DBPath == "" {
		missing = append(missing, "history.db_path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"proxysync.yaml",
		"/etc/proxysync/proxysync.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "proxysync", "proxysync.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Save writes cfg as YAML to path, creating parent directories
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
