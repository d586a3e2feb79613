package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath  = "~/.tweetstream/config.yaml"
	DefaultStatePath   = "~/.humbug_twitterrc"
	DefaultHumbugRC    = "~/.humbugrc"
	DefaultJournalPath = "~/.tweetstream/journal.db"
	DefaultSite        = "https://humbughq.com"
	DefaultLimit       = 15
	DefaultRetainDays  = 90
)

// Config holds defaults for the relay flags. Every field is optional;
// command-line flags take precedence.
type Config struct {
	Humbug  HumbugConfig  `yaml:"humbug"`
	Twitter TwitterConfig `yaml:"twitter"`
	Journal JournalConfig `yaml:"journal"`
	Privacy PrivacyConfig `yaml:"privacy"`
}

type HumbugConfig struct {
	Site      string `yaml:"site"`
	Email     string `yaml:"email"`
	APIKeyEnv string `yaml:"api_key_env"`
	Stream    string `yaml:"stream"`
	RCFile    string `yaml:"rc_file"`

	// Resolved from env var at load time.
	APIKey string `yaml:"-"`
}

type TwitterConfig struct {
	ID        string `yaml:"id"`
	Limit     int    `yaml:"limit"`
	StateFile string `yaml:"state_file"`
}

type JournalConfig struct {
	Enabled    *bool  `yaml:"enabled"`
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

// On reports whether the journal is enabled; it is unless switched off.
func (j JournalConfig) On() bool {
	return j.Enabled == nil || *j.Enabled
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// Default returns the configuration used when no settings file exists.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads the YAML settings at path, applies defaults, resolves env
// vars, and validates. A missing file yields an error wrapping
// os.ErrNotExist.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}

	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// ExpandPath expands a leading "~" to the current user's home directory.
func ExpandPath(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	return expanded, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Humbug.RCFile == "" {
		cfg.Humbug.RCFile = DefaultHumbugRC
	}
	if cfg.Twitter.Limit == 0 {
		cfg.Twitter.Limit = DefaultLimit
	}
	if cfg.Twitter.StateFile == "" {
		cfg.Twitter.StateFile = DefaultStatePath
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = DefaultJournalPath
	}
	if cfg.Journal.RetainDays == 0 {
		cfg.Journal.RetainDays = DefaultRetainDays
	}
}

func resolveEnv(cfg *Config) {
	if cfg.Humbug.APIKeyEnv != "" {
		cfg.Humbug.APIKey = os.Getenv(cfg.Humbug.APIKeyEnv)
	}
}

func validate(cfg *Config) error {
	if cfg.Twitter.Limit < 0 {
		return fmt.Errorf("twitter.limit: must be positive, got %d", cfg.Twitter.Limit)
	}
	if cfg.Journal.RetainDays < 0 {
		return fmt.Errorf("journal.retain_days: must not be negative, got %d", cfg.Journal.RetainDays)
	}
	if site := strings.TrimSpace(cfg.Humbug.Site); site != "" &&
		!strings.HasPrefix(site, "https://") && !strings.HasPrefix(site, "http://") {
		return fmt.Errorf("humbug.site: %q must be an http(s) URL", site)
	}
	if cfg.Privacy.Redact.Enabled && len(cfg.Privacy.Redact.Patterns) == 0 {
		return errors.New("privacy.redact: enabled without patterns")
	}
	return nil
}
