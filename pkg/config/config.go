package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdxmph/archdedup/pkg/duplicate"
	"github.com/pdxmph/archdedup/pkg/hasher"
)

// Environment overrides, applied after the config file is read
const (
	EnvConfig        = "ARCHDEDUP_CONFIG"
	EnvDB            = "ARCHDEDUP_DB"
	EnvDistance      = "ARCHDEDUP_DISTANCE"
	EnvHashAlgorithm = "ARCHDEDUP_HASH_ALGORITHM"
	EnvQuarantineDir = "ARCHDEDUP_QUARANTINE_DIR"
	EnvRemoteURL     = "ARCHDEDUP_REMOTE_URL"
	EnvLogLevel      = "ARCHDEDUP_LOG_LEVEL"
)

// Config holds the application configuration
type Config struct {
	Index     IndexConfig       `json:"index"`
	Hash      HashConfig        `json:"hash"`
	Check     CheckConfig       `json:"check"`
	Retire    RetireConfig      `json:"retire"`
	Remote    RemoteConfig      `json:"remote"`
	Log       LogConfig         `json:"log"`
	Templates map[string]string `json:"templates,omitempty"`
}

// IndexConfig locates the local hash index
type IndexConfig struct {
	Path string `json:"path,omitempty"`
}

// HashConfig selects the exact digest
type HashConfig struct {
	Algorithm string `json:"algorithm,omitempty"`
}

// CheckConfig holds check defaults
type CheckConfig struct {
	Mode     string   `json:"mode,omitempty"`
	Distance *int     `json:"distance,omitempty"` // nil means duplicate.DefaultDistance
	Filters  []string `json:"filters,omitempty"`
	Jobs     int      `json:"jobs,omitempty"`
	Format   string   `json:"format,omitempty"`
}

// RetireConfig holds retire defaults
type RetireConfig struct {
	QuarantineDir string `json:"quarantine_dir,omitempty"`
}

// RemoteConfig points at an index server. An empty URL means local.
type RemoteConfig struct {
	URL            string `json:"url,omitempty"`
	ConsumerKey    string `json:"consumer_key,omitempty"`
	ConsumerSecret string `json:"consumer_secret,omitempty"`
	AccessToken    string `json:"access_token,omitempty"`
	AccessSecret   string `json:"access_secret,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
}

// LogConfig controls the logger
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // console or json
}

// Load loads configuration from the default location
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom loads configuration from path and applies environment overrides
// and defaults. A missing file yields defaults.
func LoadFrom(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ReadFile reads path as is, without overrides or defaults, so it can be
// edited and saved back. A missing file yields an empty config.
func ReadFile(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDB); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv(EnvDistance); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDistance, err)
		}
		c.Check.Distance = &d
	}
	if v := os.Getenv(EnvHashAlgorithm); v != "" {
		c.Hash.Algorithm = v
	}
	if v := os.Getenv(EnvQuarantineDir); v != "" {
		c.Retire.QuarantineDir = v
	}
	if v := os.Getenv(EnvRemoteURL); v != "" {
		c.Remote.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Index.Path == "" {
		c.Index.Path = DefaultIndexPath()
	}
	if c.Hash.Algorithm == "" {
		c.Hash.Algorithm = string(hasher.MD5)
	}
	if c.Check.Mode == "" {
		c.Check.Mode = string(duplicate.ModeBinary)
	}
	if c.Check.Jobs == 0 {
		c.Check.Jobs = 1
	}
	if c.Check.Format == "" {
		c.Check.Format = "text"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Distance returns the configured perceptual distance
func (c *Config) Distance() int {
	if c.Check.Distance == nil {
		return duplicate.DefaultDistance
	}
	return *c.Check.Distance
}

// RemoteTimeout parses the remote timeout; zero means none
func (c *Config) RemoteTimeout() (time.Duration, error) {
	if c.Remote.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Remote.Timeout)
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if _, err := duplicate.ParseMode(c.Check.Mode); err != nil {
		return fmt.Errorf("check.mode: %w", err)
	}
	if d := c.Distance(); d < 0 || d > 64 {
		return fmt.Errorf("check.distance: %d is outside 0..64", d)
	}
	if c.Check.Jobs < 1 {
		return fmt.Errorf("check.jobs: must be at least 1")
	}
	if _, err := hasher.ParseAlgorithm(c.Hash.Algorithm); err != nil {
		return fmt.Errorf("hash.algorithm: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format: %q is not console or json", c.Log.Format)
	}
	if _, err := c.RemoteTimeout(); err != nil {
		return fmt.Errorf("remote.timeout: %w", err)
	}
	if c.Remote.URL == "" && c.Index.Path == "" {
		return fmt.Errorf("index.path: required without remote.url")
	}
	return nil
}

// setters maps dotted keys to string setters for `config set`
var setters = map[string]func(c *Config, v string) error{
	"index.path":     func(c *Config, v string) error { c.Index.Path = v; return nil },
	"hash.algorithm": func(c *Config, v string) error { c.Hash.Algorithm = v; return nil },
	"check.mode":     func(c *Config, v string) error { c.Check.Mode = v; return nil },
	"check.distance": func(c *Config, v string) error {
		d, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Check.Distance = &d
		return nil
	},
	"check.filters": func(c *Config, v string) error {
		c.Check.Filters = nil
		// PATH style list; commas are legal in library paths
		for _, f := range filepath.SplitList(v) {
			if f = strings.TrimSpace(f); f != "" {
				c.Check.Filters = append(c.Check.Filters, f)
			}
		}
		return nil
	},
	"check.jobs": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Check.Jobs = n
		return nil
	},
	"check.format":          func(c *Config, v string) error { c.Check.Format = v; return nil },
	"retire.quarantine_dir": func(c *Config, v string) error { c.Retire.QuarantineDir = v; return nil },
	"remote.url":            func(c *Config, v string) error { c.Remote.URL = v; return nil },
	"remote.consumer_key":   func(c *Config, v string) error { c.Remote.ConsumerKey = v; return nil },
	"remote.consumer_secret": func(c *Config, v string) error {
		c.Remote.ConsumerSecret = v
		return nil
	},
	"remote.access_token":  func(c *Config, v string) error { c.Remote.AccessToken = v; return nil },
	"remote.access_secret": func(c *Config, v string) error { c.Remote.AccessSecret = v; return nil },
	"remote.timeout":       func(c *Config, v string) error { c.Remote.Timeout = v; return nil },
	"log.level":            func(c *Config, v string) error { c.Log.Level = v; return nil },
	"log.format":           func(c *Config, v string) error { c.Log.Format = v; return nil },
}

// Keys lists the settable keys
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns a dotted key, e.g. "check.mode". templates.<name> sets a
// custom output template.
func (c *Config) Set(key, value string) error {
	if name, ok := strings.CutPrefix(key, "templates."); ok && name != "" {
		if c.Templates == nil {
			c.Templates = map[string]string{}
		}
		c.Templates[name] = value
		return nil
	}

	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	if err := set(c, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Save saves the configuration to the default location
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo writes the configuration to path
func (c *Config) SaveTo(path string) error {
	// Create directory if needed
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Path returns the configuration file path
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.json")
}

// Dir is the directory holding config and the default index
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "archdedup")
}

// DefaultIndexPath returns where the local index lives by default
func DefaultIndexPath() string {
	return filepath.Join(Dir(), "index.db")
}
