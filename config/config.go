// Package config loads bridgectl settings from defaults, an optional TOML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"golang.org/x/text/language"

	"github.com/tomyedwab/enginebridge/bridge/types"
)

const (
	EngineSQLite = "sqlite"
	EngineWasm   = "wasm"
)

// Config holds the settings for one bridge session.
type Config struct {
	Engine         string   `toml:"engine" env:"BRIDGE_ENGINE"`
	WasmPath       string   `toml:"wasm_path" env:"BRIDGE_WASM_PATH"`
	Languages      []string `toml:"languages" env:"BRIDGE_LANGUAGES" envSeparator:","`
	CollectionPath string   `toml:"collection_path" env:"BRIDGE_COLLECTION"`
	MediaFolder    string   `toml:"media_folder" env:"BRIDGE_MEDIA_FOLDER"`
	MediaDB        string   `toml:"media_db" env:"BRIDGE_MEDIA_DB"`
	LegacySchema   bool     `toml:"legacy_schema" env:"BRIDGE_LEGACY_SCHEMA"`
	PageSize       int      `toml:"page_size" env:"BRIDGE_PAGE_SIZE"`
	LogLevel       string   `toml:"log_level" env:"BRIDGE_LOG_LEVEL"`
	LogFormat      string   `toml:"log_format" env:"BRIDGE_LOG_FORMAT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Engine:         EngineSQLite,
		Languages:      []string{"en"},
		CollectionPath: ":memory:",
		PageSize:       types.DefaultPageSize,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("parse config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Normalize validates the configuration and canonicalizes language tags.
func (c *Config) Normalize() error {
	var errs []error
	switch c.Engine {
	case EngineSQLite:
	case EngineWasm:
		if c.WasmPath == "" {
			errs = append(errs, errors.New("wasm_path is required for the wasm engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q", c.Engine))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	langs, err := CanonicalLanguages(c.Languages)
	if err != nil {
		errs = append(errs, err)
	} else {
		c.Languages = langs
	}
	return errors.Join(errs...)
}

// CanonicalLanguages parses BCP 47 tags and returns their canonical forms,
// preserving order.
func CanonicalLanguages(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		tag, err := language.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid language tag %q: %w", raw, err)
		}
		out = append(out, tag.String())
	}
	return out, nil
}

// ParseLevel maps a level name onto slog.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// NewLogger builds the logger described by the configuration.
func (c Config) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
