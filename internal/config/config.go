// ABOUTME: Configuration loading and parsing for warelay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete warelay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Storage   StorageConfig   `yaml:"storage"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Relay     RelayConfig     `yaml:"relay"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// StorageConfig holds the on-disk layout of gateway state
type StorageConfig struct {
	// CredentialDir is the root under which each tenant gets a
	// credential subdirectory.
	CredentialDir string `yaml:"credential_dir"`
	// MediaDBPath is the SQLite descriptor index of the media cache.
	MediaDBPath string `yaml:"media_db_path"`
	// MediaBlobDir holds the cached media bytes.
	MediaBlobDir string `yaml:"media_blob_dir"`
}

// SessionsConfig holds session and enrichment tuning
type SessionsConfig struct {
	EnrichmentBatchSize int `yaml:"enrichment_batch_size"`

	PictureTimeout time.Duration `yaml:"-"`
	LogoutTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PictureTimeoutRaw string `yaml:"picture_timeout"`
	LogoutTimeoutRaw  string `yaml:"logout_timeout"`
}

// RelayConfig holds the optional broker egress of relayed events
type RelayConfig struct {
	AMQPEnabled bool   `yaml:"amqp_enabled"`
	AMQPURL     string `yaml:"amqp_url"`
	Exchange    string `yaml:"exchange"`
}

// AuthConfig holds authentication configuration. An empty secret disables
// bearer-token auth on the HTTP API.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// A listen address is required unless Tailscale carries the traffic
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Storage.CredentialDir == "" {
		return fmt.Errorf("storage.credential_dir is required")
	}
	if c.Storage.MediaDBPath == "" {
		return fmt.Errorf("storage.media_db_path is required")
	}
	if c.Storage.MediaBlobDir == "" {
		return fmt.Errorf("storage.media_blob_dir is required")
	}

	if c.Relay.AMQPEnabled {
		if c.Relay.AMQPURL == "" {
			return fmt.Errorf("relay.amqp_url is required when relay.amqp_enabled is set")
		}
		if c.Relay.Exchange == "" {
			return fmt.Errorf("relay.exchange is required when relay.amqp_enabled is set")
		}
	}

	if c.Sessions.EnrichmentBatchSize < 0 {
		return fmt.Errorf("sessions.enrichment_batch_size must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sessions.PictureTimeoutRaw != "" {
		cfg.Sessions.PictureTimeout, err = time.ParseDuration(cfg.Sessions.PictureTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing picture_timeout %q: %w", cfg.Sessions.PictureTimeoutRaw, err)
		}
	}

	if cfg.Sessions.LogoutTimeoutRaw != "" {
		cfg.Sessions.LogoutTimeout, err = time.ParseDuration(cfg.Sessions.LogoutTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing logout_timeout %q: %w", cfg.Sessions.LogoutTimeoutRaw, err)
		}
	}

	return nil
}
