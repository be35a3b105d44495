// Package config loads the YAML configuration shared by the analyzer
// CLI and the daemon. File values sit between built-in defaults and
// command-line flags: flags win, the file fills in, defaults back
// everything.
package config

import (
	"fmt"
	"os"

	semver "github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/gdennie/nomicon/internal/irload"
)

// DefaultPath is the file name both binaries try when no -config flag
// is given.
const DefaultPath = "nomicon.yaml"

// Config is the root document of nomicon.yaml.
type Config struct {
	// Workers bounds per-function analysis parallelism; 0 means one
	// worker per CPU.
	Workers int    `yaml:"workers"`
	Format  string `yaml:"format"` // text, json or table
	Color   string `yaml:"color"`  // auto, always or never
	IR      IR     `yaml:"ir"`
	Limits  Limits `yaml:"limits"`
	Server  Server `yaml:"server"`
}

// IR configures document loading.
type IR struct {
	// FormatVersions overrides the accepted format_version range.
	FormatVersions string `yaml:"format_versions"`
}

// Limits bounds analysis output and iteration.
type Limits struct {
	// MaxReports caps findings kept per function; 0 keeps everything.
	MaxReports int `yaml:"max_reports"`
	// VariancePasses overrides the variance fixed-point pass budget;
	// 0 keeps the automatic bound.
	VariancePasses int `yaml:"variance_passes"`
}

// Server configures the analysis daemon.
type Server struct {
	Addr     string `yaml:"addr"`
	HTTP3    bool   `yaml:"http3"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Format: "text",
		Color:  "auto",
		IR:     IR{FormatVersions: irload.DefaultConstraint},
		Server: Server{Addr: ":7311"},
	}
}

// Load reads the file at path over the defaults and validates the
// result. Callers that treat the file as optional stat it first.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values; it does not touch the filesystem, so
// cert paths are verified only at server startup.
func (c *Config) Validate() error {
	switch c.Format {
	case "text", "json", "table":
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("unknown color mode %q", c.Color)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Limits.MaxReports < 0 {
		return fmt.Errorf("limits.max_reports must not be negative, got %d", c.Limits.MaxReports)
	}
	if c.Limits.VariancePasses < 0 {
		return fmt.Errorf("limits.variance_passes must not be negative, got %d", c.Limits.VariancePasses)
	}
	if c.IR.FormatVersions != "" {
		if _, err := semver.NewConstraint(c.IR.FormatVersions); err != nil {
			return fmt.Errorf("ir.format_versions %q: %w", c.IR.FormatVersions, err)
		}
	}
	if c.Server.HTTP3 && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("server.http3 requires cert_file and key_file")
	}
	return nil
}
