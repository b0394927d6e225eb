// Package config loads CXDB's daemon configuration (spec §6.4): a YAML
// file decoded with unknown-field rejection.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// LogLevel is one of the four levels spec §6.4 enumerates.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Config is the full configuration surface: spec.md's enumerated keys
// plus a SUPPLEMENTED type_id allow-list (glob patterns matched with
// doublestar, not part of spec.md's enumerated surface but a natural
// operational control alongside it).
type Config struct {
	DataDir    string `json:"data_dir" yaml:"data_dir"`
	BindBinary string `json:"bind_binary" yaml:"bind_binary"`
	BindHTTP   string `json:"bind_http" yaml:"bind_http"`

	LogLevel     LogLevel `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	EnableMetrics bool    `json:"enable_metrics,omitempty" yaml:"enable_metrics,omitempty"`

	CompressionThresholdBytes int     `json:"compression_threshold_bytes,omitempty" yaml:"compression_threshold_bytes,omitempty"`
	CompressionRatioThreshold float64 `json:"compression_ratio_threshold,omitempty" yaml:"compression_ratio_threshold,omitempty"`
	ZstdLevel                 int     `json:"zstd_level,omitempty" yaml:"zstd_level,omitempty"`

	// AllowedTypeIDGlobs lists doublestar glob patterns (e.g.
	// "com.example.**"); TypeIDAllowed reports whether a type id matches
	// at least one of them (empty means every id matches). Load rejects
	// malformed patterns. The store, the append paths and get_turns do
	// not consult this list.
	AllowedTypeIDGlobs []string `json:"allowed_type_id_globs,omitempty" yaml:"allowed_type_id_globs,omitempty"`
}

// Default returns the configuration with every spec.md-mandated
// default filled in; callers overlay a loaded file on top of it.
func Default() Config {
	return Config{
		LogLevel:                  LogInfo,
		CompressionThresholdBytes: 512,
		CompressionRatioThreshold: 0.88,
		ZstdLevel:                 3,
	}
}

// Load reads and strictly decodes a YAML config file at path, then
// applies defaults for any field the file left at its zero value.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := decodeYAMLStrict(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if cfg.BindBinary == "" {
		return fmt.Errorf("bind_binary is required")
	}
	if cfg.BindHTTP == "" {
		return fmt.Errorf("bind_http is required")
	}
	switch cfg.LogLevel {
	case LogDebug, LogInfo, LogWarn, LogError:
	default:
		return fmt.Errorf("log_level %q is not one of debug|info|warn|error", cfg.LogLevel)
	}
	if cfg.CompressionRatioThreshold <= 0 || cfg.CompressionRatioThreshold > 1 {
		return fmt.Errorf("compression_ratio_threshold must be in (0, 1]")
	}
	for _, pattern := range cfg.AllowedTypeIDGlobs {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("allowed_type_id_globs: invalid pattern %q", pattern)
		}
	}
	return nil
}

// TypeIDAllowed reports whether typeID matches the allow-list, or true
// unconditionally if no allow-list was configured.
func (c Config) TypeIDAllowed(typeID string) bool {
	if len(c.AllowedTypeIDGlobs) == 0 {
		return true
	}
	for _, pattern := range c.AllowedTypeIDGlobs {
		if ok, err := doublestar.Match(pattern, typeID); err == nil && ok {
			return true
		}
	}
	return false
}
