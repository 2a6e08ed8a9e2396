package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Gather   GatherConfig   `yaml:"gather"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Workers  int            `yaml:"workers"`
	Seed     SeedConfig     `yaml:"seed"`
	Sync     SyncConfig     `yaml:"sync"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GatherConfig lists the gather sites to track. SitesFile takes
// precedence over Sites.
type GatherConfig struct {
	SitesFile string   `yaml:"sites_file"`
	Sites     []string `yaml:"sites"`
}

// FetchConfig contains HTTP fetch settings
type FetchConfig struct {
	Tries     int           `yaml:"tries"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	Encoding  string        `yaml:"encoding"`
}

// SeedConfig contains seed run settings
type SeedConfig struct {
	// CachePath is where located origins are kept between seed attempts.
	// Empty disables the cache.
	CachePath string `yaml:"cache_path"`
}

// SyncConfig contains settings of the periodic update run by serve
type SyncConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// ArchiveConfig contains Azure Blob Storage settings for the bundle archive
type ArchiveConfig struct {
	Enabled        bool   `yaml:"enabled"`
	StorageAccount string `yaml:"storage_account"`
	Container      string `yaml:"container"`
	Prefix         string `yaml:"prefix"`
	// Endpoint overrides the service URL, e.g. for Azurite
	Endpoint         string `yaml:"endpoint"`
	ConnectionString string `yaml:"connection_string"`
	SASToken         string `yaml:"sas_token"`
	// For service principal auth
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// Use managed identity
	UseManagedIdentity bool `yaml:"use_managed_identity"`
}

// LoggingConfig contains log settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML, expanding environment variables
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified config options
func (c *Config) applyDefaults() {
	if c.Fetch.Tries == 0 {
		c.Fetch.Tries = 5
	}

	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 60 * time.Second
	}

	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "fxf-vault/1.0"
	}

	if c.Fetch.Encoding == "" {
		c.Fetch.Encoding = "windows-1252"
	}

	if c.Workers == 0 {
		c.Workers = 32
	}

	if c.Sync.Interval == 0 {
		c.Sync.Interval = 6 * time.Hour
	}

	if c.Database.Path == "" {
		c.Database.Path = "./fxf-vault.db"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// validate checks that the configuration is valid
func (c *Config) validate() error {
	if c.Gather.SitesFile == "" && len(c.Gather.Sites) == 0 {
		return fmt.Errorf("gather.sites_file or gather.sites is required")
	}

	if c.Fetch.Tries < 1 {
		return fmt.Errorf("fetch.tries must be at least 1")
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if !c.Archive.Enabled {
		return nil
	}

	if c.Archive.StorageAccount == "" && c.Archive.ConnectionString == "" {
		return fmt.Errorf("archive.storage_account is required")
	}

	if c.Archive.Container == "" {
		return fmt.Errorf("archive.container is required")
	}

	if c.Archive.GetAuthMethod() == "none" {
		return fmt.Errorf("no Azure authentication method configured (connection_string, sas_token, managed_identity, or service principal)")
	}

	return nil
}

// UnmarshalYAML implements custom unmarshaling for FetchConfig to handle duration
func (f *FetchConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawFetchConfig struct {
		Tries     int    `yaml:"tries"`
		Timeout   string `yaml:"timeout"`
		UserAgent string `yaml:"user_agent"`
		Encoding  string `yaml:"encoding"`
	}

	var raw rawFetchConfig
	if err := unmarshal(&raw); err != nil {
		return err
	}

	if raw.Timeout != "" {
		duration, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid fetch timeout: %w", err)
		}
		f.Timeout = duration
	}

	f.Tries = raw.Tries
	f.UserAgent = raw.UserAgent
	f.Encoding = raw.Encoding
	return nil
}

// UnmarshalYAML implements custom unmarshaling for SyncConfig to handle duration
func (s *SyncConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawSyncConfig struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
	}

	var raw rawSyncConfig
	if err := unmarshal(&raw); err != nil {
		return err
	}

	if raw.Interval != "" {
		duration, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("invalid sync interval: %w", err)
		}
		s.Interval = duration
	}

	s.Enabled = raw.Enabled
	return nil
}

// GetAuthMethod returns a string describing the configured auth method
func (c *ArchiveConfig) GetAuthMethod() string {
	if c.ConnectionString != "" {
		return "connection_string"
	}
	if c.SASToken != "" {
		return "sas_token"
	}
	if c.UseManagedIdentity {
		return "managed_identity"
	}
	if c.TenantID != "" && c.ClientID != "" && c.ClientSecret != "" {
		return "service_principal"
	}
	return "none"
}

// GetServiceURL returns the Azure Blob service URL
func (c *ArchiveConfig) GetServiceURL() string {
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/") + "/"
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", c.StorageAccount)
}

// Address returns the listen address of the HTTP server
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
