// Package config provides YAML-based configuration loading for studio.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/esnunes/studio/internal/paths"
)

// KillSwitchEnv forces the safety gate on at boot when set to a truthy value.
const KillSwitchEnv = "STUDIO_KILL_SWITCH"

// Config is the top-level studio configuration, loaded from config.yaml.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Listen  string        `yaml:"listen"`
	Log     LogConfig     `yaml:"log"`
	Gate    GateConfig    `yaml:"gate"`
	GitHub  GitHubConfig  `yaml:"github"`
	Policy  PolicyConfig  `yaml:"policy"`
	Storage StorageConfig `yaml:"storage"`
	Admin   AdminConfig   `yaml:"admin"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GateConfig sets the kill-switch position used when no toggle has been
// persisted yet.
type GateConfig struct {
	Enabled bool `yaml:"enabled"`
}

type GitHubConfig struct {
	TokenEnv string `yaml:"token_env"`
	BaseURL  string `yaml:"base_url"`
}

// PolicyConfig extends the built-in repository path rules with extra
// doublestar patterns.
type PolicyConfig struct {
	Forbidden []string `yaml:"forbidden"`
	Allowed   []string `yaml:"allowed"`
}

type StorageConfig struct {
	Protected []string `yaml:"protected"`
}

// AdminConfig lists the user ids allowed to toggle the safety gate and read
// the audit log. An empty list locks those routes.
type AdminConfig struct {
	Users []string `yaml:"users"`
}

// DefaultPath returns the config file location under the XDG config dir.
func DefaultPath() (string, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads a YAML config file from path and returns a validated Config.
// A missing file is not an error: defaults are returned instead.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SessionsFile is the JSON file backing the session store.
func (c *Config) SessionsFile() string {
	return filepath.Join(c.DataDir, "sessions.json")
}

// GitHubToken reads the API token from the configured environment variable.
func (c *Config) GitHubToken() string {
	return os.Getenv(c.GitHub.TokenEnv)
}

func (c *Config) applyDefaults() error {
	if c.DataDir == "" {
		dir, err := paths.DataDir()
		if err != nil {
			return fmt.Errorf("config: resolve data dir: %w", err)
		}
		c.DataDir = dir
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.GitHub.TokenEnv == "" {
		c.GitHub.TokenEnv = "GITHUB_TOKEN"
	}
	return nil
}

func (c *Config) applyEnv() {
	switch strings.ToLower(os.Getenv(KillSwitchEnv)) {
	case "1", "true", "on", "yes":
		c.Gate.Enabled = true
	}
}

func (c *Config) validate() error {
	var errs []string
	if !filepath.IsAbs(c.DataDir) {
		errs = append(errs, fmt.Sprintf("data_dir must be absolute, got %q", c.DataDir))
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("listen %q is not host:port", c.Listen))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	for i, p := range c.Policy.Forbidden {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Sprintf("policy.forbidden[%d] is empty", i))
		}
	}
	for i, p := range c.Policy.Allowed {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Sprintf("policy.allowed[%d] is empty", i))
		}
	}
	for i, u := range c.Admin.Users {
		if strings.TrimSpace(u) == "" {
			errs = append(errs, fmt.Sprintf("admin.users[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
