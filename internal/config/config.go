package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultSourcesURL = "https://raw.githubusercontent.com/cinmou/singbox-rules/refs/heads/main/source.yml"
	defaultUserAgent  = "singbox-rules-builder/1.0"
)

type Config struct {
	Root          string        `toml:"root"`
	Sources       Sources       `toml:"sources"`
	Fetch         Fetch         `toml:"fetch"`
	Compile       Compile       `toml:"compile"`
	Watch         Watch         `toml:"watch"`
	History       History       `toml:"history"`
	Observability Observability `toml:"observability"`
}

type Sources struct {
	URL   string `toml:"url"`
	Local string `toml:"local"` // fallback file, relative to root
}

type Fetch struct {
	Timeout     time.Duration `toml:"timeout"`
	UserAgent   string        `toml:"user_agent"`
	MaxAttempts int           `toml:"max_attempts"`
	Rate        float64       `toml:"rate"`
	Burst       int           `toml:"burst"`
}

type Compile struct {
	Command string        `toml:"command"`
	Timeout time.Duration `toml:"timeout"` // 0 disables the timeout
}

type Watch struct {
	Debounce     time.Duration `toml:"debounce"`
	ExcludeFiles []string      `toml:"exclude_files"`
}

type History struct {
	Path string `toml:"path"` // empty disables history
}

type Observability struct {
	Addr string `toml:"addr"` // empty disables the metrics server
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no config file exists. It is
// equivalent to loading an empty file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Sources.URL == "" {
		c.Sources.URL = defaultSourcesURL
	}
	if c.Sources.Local == "" {
		c.Sources.Local = "source.yml"
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = defaultUserAgent
	}
	if c.Fetch.MaxAttempts == 0 {
		c.Fetch.MaxAttempts = 3
	}
	if c.Fetch.Rate == 0 {
		c.Fetch.Rate = 4.0
	}
	if c.Fetch.Burst == 0 {
		c.Fetch.Burst = 2
	}
	if c.Compile.Command == "" {
		c.Compile.Command = "sing-box"
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 500 * time.Millisecond
	}
}

// ResolveRoot determines the install root. An explicit root from the config
// wins; otherwise it is the directory containing the running executable,
// falling back to the current working directory.
func (c *Config) ResolveRoot() (string, error) {
	if c.Root != "" {
		return filepath.Abs(c.Root)
	}
	exe, err := os.Executable()
	if err == nil {
		if resolved, evalErr := filepath.EvalSymlinks(exe); evalErr == nil {
			exe = resolved
		}
		return filepath.Dir(exe), nil
	}
	return os.Getwd()
}

// Derived paths, all anchored at the install root.

func (c *Config) JSONDir(root string) string {
	return filepath.Join(root, "output", "json")
}

func (c *Config) SRSDir(root string) string {
	return filepath.Join(root, "output", "srs")
}

func (c *Config) IndexPath(root string) string {
	return filepath.Join(root, "output", "index.json")
}

func (c *Config) LocalSourcesPath(root string) string {
	if filepath.IsAbs(c.Sources.Local) {
		return c.Sources.Local
	}
	return filepath.Join(root, c.Sources.Local)
}
