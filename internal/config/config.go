// Package config holds the server configuration, built once at startup and
// read-only afterwards.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/cgiserve/internal/logger"
	"github.com/Brownie44l1/cgiserve/internal/request"
	"github.com/Brownie44l1/cgiserve/internal/resolve"
)

// ScriptsDirName is the directory below the root whose files are executed.
const ScriptsDirName = "scripts"

type Config struct {
	Port uint16 `yaml:"port"`
	Root string `yaml:"root"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ScriptTimeout   time.Duration `yaml:"script_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MaxHeaderBytes int   `yaml:"max_header_bytes"`
	MaxBodyBytes   int64 `yaml:"max_body_bytes"`
	MaxConnections int64 `yaml:"max_connections"`
	CacheMaxBytes  int64 `yaml:"cache_max_bytes"`

	// InheritEnv lists server environment variables passed on to scripts.
	InheritEnv []string `yaml:"inherit_env"`
	LogLevel   string   `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		Port:            8080,
		Root:            ".",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ScriptTimeout:   30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxHeaderBytes:  64 << 10,
		MaxBodyBytes:    10 << 20,
		MaxConnections:  256,
		CacheMaxBytes:   64 << 20,
		InheritEnv:      []string{"PATH"},
		LogLevel:        "info",
	}
}

// LoadFile reads a YAML file over the defaults. Unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and replaces Root with its canonical form.
func (c *Config) Validate() error {
	root, err := resolve.Canonicalize(c.Root)
	if err != nil {
		return fmt.Errorf("root %q: %w", c.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root %q: %w", c.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %q is not a directory", c.Root)
	}
	c.Root = root

	switch {
	case c.ReadTimeout <= 0:
		return errors.New("read_timeout must be positive")
	case c.WriteTimeout <= 0:
		return errors.New("write_timeout must be positive")
	case c.ScriptTimeout <= 0:
		return errors.New("script_timeout must be positive")
	case c.ShutdownTimeout < 0:
		return errors.New("shutdown_timeout must not be negative")
	case c.MaxHeaderBytes <= 0:
		return errors.New("max_header_bytes must be positive")
	case c.MaxBodyBytes <= 0:
		return errors.New("max_body_bytes must be positive")
	case c.MaxConnections <= 0:
		return errors.New("max_connections must be positive")
	case c.CacheMaxBytes < 0:
		return errors.New("cache_max_bytes must not be negative")
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ScriptsDir is the scripts directory below Root.
func (c *Config) ScriptsDir() string {
	return filepath.Join(c.Root, ScriptsDirName)
}

func (c *Config) RequestLimits() request.Limits {
	return request.Limits{
		MaxHeaderBytes: c.MaxHeaderBytes,
		MaxBodyBytes:   c.MaxBodyBytes,
	}
}
