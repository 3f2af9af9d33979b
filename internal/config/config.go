package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	BLS      BLSConfig      `mapstructure:"bls"`
	Catalog  []SeriesEntry  `mapstructure:"catalog"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BLSConfig holds BLS public data API configuration
type BLSConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	Series         []string      `mapstructure:"series"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	APIKeyFile     string        `mapstructure:"api_key_file"`
	APIKeyEnv      string        `mapstructure:"api_key_env"`
	EnvFile        string        `mapstructure:"env_file"`
}

// SeriesEntry overrides or extends the built-in series catalog
type SeriesEntry struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Expected string `mapstructure:"expected"`
}

// NotifierConfig selects the notification channel
type NotifierConfig struct {
	Type string `mapstructure:"type"` // discord, telegram or none
}

// DiscordConfig holds Discord webhook configuration
type DiscordConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds event store configuration
type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // sqlite or postgres
	DBPath      string `mapstructure:"db_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// ServerConfig holds the status API configuration
type ServerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultSeries are the indicator series monitored when none are configured:
// unemployment rate, total nonfarm payroll, CPI-U all items, PPI all commodities.
var DefaultSeries = []string{
	"LNS14000000",
	"CES0000000001",
	"CUUR0000SA0",
	"WPUID000000",
}

// Load reads configuration from file and environment variables.
// A missing config file is not an error: defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. ECONWATCH_DISCORD_WEBHOOK_URL
	v.SetEnvPrefix("ECONWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// BLS defaults
	v.SetDefault("bls.api_url", "https://api.bls.gov/publicAPI/v2/timeseries/data/")
	v.SetDefault("bls.series", DefaultSeries)
	v.SetDefault("bls.poll_interval", "60s")
	v.SetDefault("bls.timeout", "30s")
	v.SetDefault("bls.max_retries", 3)
	v.SetDefault("bls.retry_delay_base", "2s")
	v.SetDefault("bls.api_key_file", "api_key.txt")
	v.SetDefault("bls.api_key_env", "BLS_API_KEY")
	v.SetDefault("bls.env_file", ".env")

	// Notifier defaults
	v.SetDefault("notifier.type", "discord")
	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("discord.timeout", "10s")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", "economic_events.db")
	v.SetDefault("storage.postgres_url", "")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen_address", ":9108")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if err := c.ValidateFetch(); err != nil {
		return err
	}

	// Validate notifier config
	switch c.Notifier.Type {
	case "discord":
		if c.Discord.WebhookURL == "" {
			return fmt.Errorf("discord.webhook_url is required when notifier.type is discord")
		}
	case "telegram":
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when notifier.type is telegram")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when notifier.type is telegram")
		}
	case "none":
	default:
		return fmt.Errorf("notifier.type must be one of: discord, telegram, none")
	}

	// Validate Server config
	if c.Server.Enabled && c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required when server is enabled")
	}

	return nil
}

// ValidateFetch checks the sections needed to fetch and compare against the
// store: bls, catalog, storage and logging. Notifier and server are not checked.
func (c *Config) ValidateFetch() error {
	// Validate BLS config
	if c.BLS.APIURL == "" {
		return fmt.Errorf("bls.api_url is required")
	}
	if len(c.BLS.Series) == 0 {
		return fmt.Errorf("bls.series must contain at least one series ID")
	}
	for _, id := range c.BLS.Series {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("bls.series must not contain empty IDs")
		}
	}
	if c.BLS.PollInterval < 10*time.Second {
		return fmt.Errorf("bls.poll_interval must be at least 10 seconds")
	}
	if c.BLS.Timeout <= 0 {
		return fmt.Errorf("bls.timeout must be positive")
	}
	if c.BLS.MaxRetries < 0 {
		return fmt.Errorf("bls.max_retries must not be negative")
	}
	if c.BLS.APIKeyFile == "" && c.BLS.APIKeyEnv == "" {
		return fmt.Errorf("one of bls.api_key_file or bls.api_key_env is required")
	}

	// Validate catalog overrides
	for _, entry := range c.Catalog {
		if entry.ID == "" {
			return fmt.Errorf("catalog entries must have an id")
		}
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
