// Package config loads watchpost configuration from a YAML file with
// environment overrides via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig         `yaml:"server" mapstructure:"server"`
	Logging       LoggingConfig        `yaml:"logging" mapstructure:"logging"`
	Monitoring    MonitoringConfig     `yaml:"monitoring" mapstructure:"monitoring"`
	Storage       StorageConfig        `yaml:"storage" mapstructure:"storage"`
	Notifications []NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
}

// ServerConfig contains management API server configuration
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port string `yaml:"port" mapstructure:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string            `yaml:"level" mapstructure:"level"`
	Format string            `yaml:"format" mapstructure:"format"`
	Output string            `yaml:"output" mapstructure:"output"`
	Fields map[string]string `yaml:"fields" mapstructure:"fields"`
}

// MonitoringConfig contains scheduler and check defaults
type MonitoringConfig struct {
	ScanTick              time.Duration `yaml:"scanTick" mapstructure:"scanTick"`
	ScanErrorBackoff      time.Duration `yaml:"scanErrorBackoff" mapstructure:"scanErrorBackoff"`
	StopTimeout           time.Duration `yaml:"stopTimeout" mapstructure:"stopTimeout"`
	Workers               int           `yaml:"workers" mapstructure:"workers"`
	DefaultCheckInterval  int           `yaml:"defaultCheckInterval" mapstructure:"defaultCheckInterval"` // seconds
	DefaultAlertThreshold int           `yaml:"defaultAlertThreshold" mapstructure:"defaultAlertThreshold"`
	DefaultCheckTimeout   time.Duration `yaml:"defaultCheckTimeout" mapstructure:"defaultCheckTimeout"`
}

// StorageConfig contains persistence configuration
type StorageConfig struct {
	DataDir         string        `yaml:"dataDir" mapstructure:"dataDir"`
	BackupRetention int           `yaml:"backupRetention" mapstructure:"backupRetention"`
	History         HistoryConfig `yaml:"history" mapstructure:"history"`
}

// HistoryConfig configures the embedded check-result history store
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	Path          string `yaml:"path" mapstructure:"path"`
	RetentionDays int    `yaml:"retentionDays" mapstructure:"retentionDays"`
}

// NotificationConfig configures one notification channel
type NotificationConfig struct {
	Type       string `yaml:"type" mapstructure:"type"` // telegram, slack, webhook
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Token      string `yaml:"token" mapstructure:"token"`
	ChatID     string `yaml:"chatId" mapstructure:"chatId"`
	WebhookURL string `yaml:"webhookUrl" mapstructure:"webhookUrl"`
}

// LoadConfig loads configuration from file
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8787")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("monitoring.scanTick", "1s")
	v.SetDefault("monitoring.scanErrorBackoff", "5s")
	v.SetDefault("monitoring.stopTimeout", "10s")
	v.SetDefault("monitoring.workers", 10)
	v.SetDefault("monitoring.defaultCheckInterval", 60)
	v.SetDefault("monitoring.defaultAlertThreshold", 3)
	v.SetDefault("monitoring.defaultCheckTimeout", "10s")
	v.SetDefault("storage.dataDir", "data/watchpost")
	v.SetDefault("storage.backupRetention", 20)
	v.SetDefault("storage.history.enabled", true)
	v.SetDefault("storage.history.path", "data/watchpost/history")
	v.SetDefault("storage.history.retentionDays", 30)

	// Enable environment variable substitution
	v.SetEnvPrefix("WATCHPOST")
	v.AutomaticEnv()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/watchpost")
	}

	// Read config; a missing file falls back to defaults
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	if c.Monitoring.ScanTick < 100*time.Millisecond {
		return fmt.Errorf("monitoring.scanTick too short (min 100ms): %v", c.Monitoring.ScanTick)
	}
	if c.Monitoring.Workers <= 0 {
		return fmt.Errorf("monitoring.workers must be positive: %d", c.Monitoring.Workers)
	}
	if c.Monitoring.DefaultCheckInterval < 1 {
		return fmt.Errorf("monitoring.defaultCheckInterval must be at least 1 second: %d", c.Monitoring.DefaultCheckInterval)
	}
	if c.Monitoring.DefaultAlertThreshold < 1 {
		return fmt.Errorf("monitoring.defaultAlertThreshold must be at least 1: %d", c.Monitoring.DefaultAlertThreshold)
	}
	if c.Monitoring.DefaultCheckTimeout <= 0 {
		return fmt.Errorf("monitoring.defaultCheckTimeout must be positive: %v", c.Monitoring.DefaultCheckTimeout)
	}
	if c.Monitoring.DefaultCheckTimeout > 5*time.Minute {
		return fmt.Errorf("monitoring.defaultCheckTimeout too long (max 5 minutes): %v", c.Monitoring.DefaultCheckTimeout)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.dataDir is required")
	}
	if c.Storage.BackupRetention < 0 {
		return fmt.Errorf("storage.backupRetention cannot be negative: %d", c.Storage.BackupRetention)
	}
	if c.Storage.History.Enabled && c.Storage.History.Path == "" {
		return fmt.Errorf("storage.history.path is required when history is enabled")
	}

	for i, n := range c.Notifications {
		switch n.Type {
		case "telegram":
			if n.Enabled && (n.Token == "" || n.ChatID == "") {
				return fmt.Errorf("notifications[%d]: telegram requires token and chatId", i)
			}
		case "slack", "webhook":
			if n.Enabled && n.WebhookURL == "" {
				return fmt.Errorf("notifications[%d]: %s requires webhookUrl", i, n.Type)
			}
		default:
			return fmt.Errorf("notifications[%d]: unsupported type %q", i, n.Type)
		}
	}

	return nil
}
