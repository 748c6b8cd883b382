package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level daemon configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used when a query supplies none.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path" json:"db_path"`

	// LogLevel is one of debug/info/error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// FeedRefresh is a cron-style schedule (e.g. "*/15 * * * *") for
	// rewriting the public feed snapshot.
	FeedRefresh string `yaml:"feed_refresh" json:"feed_refresh"`

	// FeedPath is where the snapshot .ics file is written.
	FeedPath string `yaml:"feed_path" json:"feed_path"`

	// FeedName labels the exported calendar.
	FeedName string `yaml:"feed_name" json:"feed_name"`

	// FeedHorizonDays is how far ahead the public feed reaches.
	FeedHorizonDays int `yaml:"feed_horizon_days" json:"feed_horizon_days"`

	// MaxOccurrencesPerEvent caps recurrence expansion per event.
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and /feed.ics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 "127.0.0.1:8080",
		Timezone:               "UTC",
		DBPath:                 "/var/lib/calevents/events.db",
		LogLevel:               "info",
		FeedRefresh:            "*/15 * * * *",
		FeedPath:               "/var/lib/calevents/public.ics",
		FeedName:               "Public events",
		FeedHorizonDays:        90,
		MaxOccurrencesPerEvent: 5000,
	}
}

// Normalize fills in missing/zero values so partially-filled configs from
// older versions still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.FeedRefresh == "" {
		c.FeedRefresh = def.FeedRefresh
	}
	if c.FeedPath == "" {
		c.FeedPath = def.FeedPath
	}
	if c.FeedName == "" {
		c.FeedName = def.FeedName
	}
	if c.FeedHorizonDays <= 0 {
		c.FeedHorizonDays = def.FeedHorizonDays
	}
	if c.MaxOccurrencesPerEvent <= 0 {
		c.MaxOccurrencesPerEvent = def.MaxOccurrencesPerEvent
	}
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (creating
// the parent directory) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory as needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calevents-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
