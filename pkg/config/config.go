// Package config loads refgraph model and frame settings from YAML or TOML
// files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rawbytedev/refgraph"
	"github.com/rawbytedev/refgraph/pkg/frame"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid setting")

// Config maps a refgraph.yaml or refgraph.toml file.
type Config struct {
	References  string `yaml:"references" toml:"references"`
	Seekable    bool   `yaml:"seekable" toml:"seekable"`
	Strategy    string `yaml:"strategy" toml:"strategy"`
	MaxDepth    int    `yaml:"max_depth" toml:"max_depth"`
	Compression string `yaml:"compression" toml:"compression"`
	SchemaCheck bool   `yaml:"schema_check" toml:"schema_check"`
	LogLevel    string `yaml:"log_level" toml:"log_level"`
}

func Default() Config {
	return Config{
		References:  refgraph.InlineReferences.String(),
		Strategy:    refgraph.DataDriven.String(),
		MaxDepth:    refgraph.DefaultMaxDepth,
		Compression: frame.None.String(),
		SchemaCheck: true,
		LogLevel:    "info",
	}
}

// Load reads path over the defaults. The format follows the extension:
// .yaml, .yml or .toml.
func Load(path string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: unknown config format %q", ErrInvalid, filepath.Ext(path))
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.References = strings.ToLower(strings.TrimSpace(c.References))
	c.Strategy = strings.ToLower(strings.TrimSpace(c.Strategy))
	c.Compression = strings.ToLower(strings.TrimSpace(c.Compression))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

func (c Config) Validate() error {
	if _, err := c.referenceFormat(); err != nil {
		return err
	}
	if _, err := c.strategy(); err != nil {
		return err
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must not be negative, got %d", ErrInvalid, c.MaxDepth)
	}
	if c.Seekable && c.References != refgraph.LateReferences.String() {
		return fmt.Errorf("%w: seekable needs late references", ErrInvalid)
	}
	if _, err := c.FrameCompression(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c Config) referenceFormat() (refgraph.ReferenceFormat, error) {
	switch c.References {
	case "", refgraph.InlineReferences.String():
		return refgraph.InlineReferences, nil
	case refgraph.LateReferences.String():
		return refgraph.LateReferences, nil
	}
	return 0, fmt.Errorf("%w: references must be inline or late, got %q", ErrInvalid, c.References)
}

func (c Config) strategy() (refgraph.Strategy, error) {
	switch c.Strategy {
	case "", refgraph.DataDriven.String():
		return refgraph.DataDriven, nil
	case refgraph.Compiled.String():
		return refgraph.Compiled, nil
	}
	return 0, fmt.Errorf("%w: strategy must be data-driven or compiled, got %q", ErrInvalid, c.Strategy)
}

func (c Config) FrameCompression() (frame.Compression, error) {
	if c.Compression == "" {
		return frame.None, nil
	}
	comp, err := frame.ParseCompression(c.Compression)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return comp, nil
}

func (c Config) Level() (zapcore.Level, error) {
	if c.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return lvl, nil
}

// ModelOptions converts the model settings. log may be nil.
func (c Config) ModelOptions(log *zap.Logger) ([]refgraph.Option, error) {
	refs, err := c.referenceFormat()
	if err != nil {
		return nil, err
	}
	strat, err := c.strategy()
	if err != nil {
		return nil, err
	}
	opts := []refgraph.Option{
		refgraph.WithReferences(refs),
		refgraph.WithSeekableReferences(c.Seekable),
		refgraph.WithStrategy(strat),
	}
	if c.MaxDepth > 0 {
		opts = append(opts, refgraph.WithMaxDepth(c.MaxDepth))
	}
	if log != nil {
		opts = append(opts, refgraph.WithLogger(log))
	}
	return opts, nil
}
