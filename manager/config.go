package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/macforge/pluginkit"
	"github.com/macforge/pluginkit/audit"
	"github.com/macforge/pluginkit/boundary"
	"github.com/macforge/pluginkit/install"
	"github.com/macforge/pluginkit/registry"
)

// Config is the operator-facing configuration, usually loaded from a
// YAML file by the CLI. Zero fields take defaults.
type Config struct {
	// InstallDir is the root for installed plugin descriptors.
	InstallDir string `yaml:"installDir"`

	// RegistryPath persists the lifecycle registry. Empty keeps the
	// registry in memory only.
	RegistryPath string `yaml:"registryPath"`

	// AuditLogPath appends audit entries as JSON lines. Empty keeps
	// the audit trail in memory only.
	AuditLogPath string `yaml:"auditLogPath"`

	// StepTimeout bounds each install plan step.
	StepTimeout time.Duration `yaml:"stepTimeout"`

	// Boundary limits and allow-lists.
	MaxScriptBytes      int      `yaml:"maxScriptBytes"`
	MaxParameters       int      `yaml:"maxParameters"`
	MaxDepth            int      `yaml:"maxDepth"`
	AllowedCommands     []string `yaml:"allowedCommands"`
	AllowedPathPrefixes []string `yaml:"allowedPathPrefixes"`
	ReservedNames       []string `yaml:"reservedNames"`
}

// DefaultConfig returns the configuration used when no file is given:
// everything under ~/.macforge.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".macforge")
	return Config{
		InstallDir:   filepath.Join(base, "plugins"),
		RegistryPath: filepath.Join(base, "registry.yaml"),
		AuditLogPath: filepath.Join(base, "audit.jsonl"),
	}
}

// LoadConfig reads a YAML config file. Missing fields fall back to the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) // nolint:gosec // Path is operator-supplied
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.InstallDir == "" {
		return Config{}, fmt.Errorf("config: installDir must not be empty")
	}
	return cfg, nil
}

// Build opens the configured registry and audit sink and assembles
// manager options.
func (c Config) Build(logger pluginkit.Logger) (Options, error) {
	opts := Options{
		InstallDir: c.InstallDir,
		Logger:     logger,
		Boundary: boundary.Config{
			MaxScriptBytes:      c.MaxScriptBytes,
			MaxParameters:       c.MaxParameters,
			MaxDepth:            c.MaxDepth,
			AllowedCommands:     c.AllowedCommands,
			AllowedPathPrefixes: c.AllowedPathPrefixes,
			ReservedNames:       c.ReservedNames,
		},
		Orchestrator: install.Options{StepTimeout: c.StepTimeout},
	}

	if c.RegistryPath != "" {
		reg, err := registry.Open(c.RegistryPath)
		if err != nil {
			return Options{}, err
		}
		opts.Registry = reg
	}
	if c.AuditLogPath != "" {
		sink, err := audit.NewFile(c.AuditLogPath, logger)
		if err != nil {
			return Options{}, err
		}
		opts.Audit = sink
	}
	return opts, nil
}
