package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"cassette/internal/naming"
	"cassette/internal/queue"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Downloader DownloaderConfig `toml:"downloader"`
	Database   DatabaseConfig   `toml:"database"`
	Logging    LoggingConfig    `toml:"logging"`
}

// ServerConfig contains HTTP API configuration
type ServerConfig struct {
	Port           string `toml:"port"`
	Host           string `toml:"host"`
	EnableCORS     bool   `toml:"enable_cors"`
	ReadTimeout    int    `toml:"read_timeout_seconds"`
	RequestLogging bool   `toml:"request_logging"`
}

// CatalogConfig contains the remote catalog connection settings.
// Token and SignSecret are normally supplied through the environment.
type CatalogConfig struct {
	BaseURL           string  `toml:"base_url"`
	Token             string  `toml:"token"`
	SignSecret        string  `toml:"sign_secret"`
	UserAgent         string  `toml:"user_agent"`
	Timeout           int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	CacheTTL          int     `toml:"cache_ttl_seconds"`
}

// DownloaderConfig contains download queue configuration
type DownloaderConfig struct {
	DownloadDir       string `toml:"download_dir"`
	ThreadCount       int    `toml:"thread_count"`
	TrackNameMask     string `toml:"track_name_mask"`
	NumberLists       bool   `toml:"number_lists"`
	DownloadCovers    bool   `toml:"download_covers"`
	CoverSize         string `toml:"cover_size"`
	EmbedTags         bool   `toml:"embed_tags"`
	TransferTimeout   int    `toml:"transfer_timeout_seconds"`
	HoldSlotOnSuccess bool   `toml:"hold_slot_on_success"`
}

// DatabaseConfig contains history journal configuration
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	q := queue.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Host:           "127.0.0.1",
			EnableCORS:     true,
			ReadTimeout:    30,
			RequestLogging: true,
		},
		Catalog: CatalogConfig{
			BaseURL:           "https://api.music.yandex.net",
			UserAgent:         "cassette/1.0",
			Timeout:           20,
			RequestsPerSecond: 5,
			CacheTTL:          600,
		},
		Downloader: DownloaderConfig{
			DownloadDir:     "./downloads",
			ThreadCount:     q.Limit,
			TrackNameMask:   q.TrackNameMask,
			NumberLists:     q.NumberLists,
			DownloadCovers:  q.DownloadCovers,
			CoverSize:       q.CoverSize,
			EmbedTags:       true,
			TransferTimeout: 300,
		},
		Database: DatabaseConfig{
			Path: "./cassette.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating it with defaults
// when it does not exist. Secrets from the environment override the file.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# Cassette Downloader Configuration
# Catalog credentials are read from CASSETTE_API_TOKEN and CASSETTE_SIGN_SECRET
# (or a .env file next to the binary). Changes to [downloader] apply without restart.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	// Keep secrets out of the file
	out := *c
	out.Catalog.Token = ""
	out.Catalog.SignSecret = ""

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog base url cannot be empty")
	}
	if c.Catalog.Timeout < 0 || c.Catalog.CacheTTL < 0 || c.Catalog.RequestsPerSecond < 0 {
		return fmt.Errorf("catalog timeouts and limits cannot be negative")
	}

	if err := c.Downloader.Validate(); err != nil {
		return err
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// Validate checks the downloader section on its own, as it is also checked on hot reload.
func (d DownloaderConfig) Validate() error {
	if d.DownloadDir == "" {
		return fmt.Errorf("download directory cannot be empty")
	}
	if d.ThreadCount < 1 {
		return fmt.Errorf("thread count must be at least 1")
	}
	if d.TransferTimeout < 0 {
		return fmt.Errorf("transfer timeout cannot be negative")
	}
	if d.DownloadCovers && d.CoverSize == "" {
		return fmt.Errorf("cover size cannot be empty when covers are downloaded")
	}
	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// QueueOptions maps the downloader section onto queue options
func (d DownloaderConfig) QueueOptions() queue.Options {
	mask := d.TrackNameMask
	if mask == "" {
		mask = naming.DefaultMask
	}
	return queue.Options{
		Limit:             d.ThreadCount,
		TrackNameMask:     mask,
		NumberLists:       d.NumberLists,
		DownloadCovers:    d.DownloadCovers,
		CoverSize:         d.CoverSize,
		HoldSlotOnSuccess: d.HoldSlotOnSuccess,
	}
}

// RequestTimeout returns the catalog request timeout
func (c CatalogConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// TTL returns how long catalog responses are cached
func (c CatalogConfig) TTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}
