// Package config provides configuration management for the signage agent.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the agent.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Remote    RemoteConfig
	Download  DownloadConfig
	Retry     RetryConfig
	Poll      PollConfig
	Device    DeviceConfig
	Telemetry TelemetryConfig
	Logging   LoggingConfig
}

// ServerConfig contains the local HTTP API configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ServerConfig struct {
	Port            int
	APIKey          string
	ShutdownTimeout time.Duration
}

// StoreConfig selects and configures the durable key-value store.
type StoreConfig struct {
	Driver   string
	Dir      string
	Postgres PostgresConfig
}

// PostgresConfig contains database connection configuration for the
// postgres store driver.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type PostgresConfig struct {
	Host           string
	Name           string
	User           string
	Password       string
	Port           int
	MaxConnections int
	MinConnections int
	MaxIdleTime    time.Duration
	MaxLifetime    time.Duration
}

// RemoteConfig contains the campaign backend endpoints.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type RemoteConfig struct {
	BaseURL       string
	ManifestPath  string
	ChangelogPath string
	DevicePath    string
	Token         string
	Timeout       time.Duration
}

// DownloadConfig contains media download configuration.
type DownloadConfig struct {
	MediaDir     string
	MaxParallel  int
	FetchTimeout time.Duration
}

// RetryConfig is the backoff policy shared by manifest and media fetches.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	JitterFraction float64
}

// PollConfig contains change poller configuration.
type PollConfig struct {
	Interval time.Duration
}

// DeviceConfig identifies this device against the backend.
type DeviceConfig struct {
	ID string
}

// TelemetryConfig contains the optional AMQP telemetry settings.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type TelemetryConfig struct {
	Enabled    bool
	Host       string
	User       string
	Password   string
	Exchange   string
	Queue      string
	BindingKey string
	Port       int
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string
	File  string
}

// Load loads configuration from .env, config file and environment variables.
func Load() (*Config, error) {
	// Best-effort .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	setDefaults()

	// Read environment variables
	viper.AutomaticEnv()
	viper.SetEnvPrefix("APP")

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.apikey", "")
	viper.SetDefault("server.shutdowntimeout", 30*time.Second)

	// Store
	viper.SetDefault("store.driver", "file")
	viper.SetDefault("store.dir", "./data/state")
	viper.SetDefault("store.postgres.host", "localhost")
	viper.SetDefault("store.postgres.port", 5432)
	viper.SetDefault("store.postgres.name", "signage")
	viper.SetDefault("store.postgres.user", "postgres")
	viper.SetDefault("store.postgres.password", "postgres")
	viper.SetDefault("store.postgres.maxconnections", 10)
	viper.SetDefault("store.postgres.minconnections", 5)
	viper.SetDefault("store.postgres.maxidletime", 10*time.Minute)
	viper.SetDefault("store.postgres.maxlifetime", 1*time.Hour)

	// Remote backend
	viper.SetDefault("remote.baseurl", "")
	viper.SetDefault("remote.manifestpath", "/items/campaigns")
	viper.SetDefault("remote.changelogpath", "/items/changelog")
	viper.SetDefault("remote.devicepath", "/items/devices")
	viper.SetDefault("remote.token", "")
	viper.SetDefault("remote.timeout", 30*time.Second)

	// Downloads
	viper.SetDefault("download.mediadir", "./data/media")
	viper.SetDefault("download.maxparallel", 3)
	viper.SetDefault("download.fetchtimeout", 10*time.Minute)

	// Retry policy
	viper.SetDefault("retry.maxretries", 3)
	viper.SetDefault("retry.initialbackoff", 1*time.Second)
	viper.SetDefault("retry.maxbackoff", 30*time.Second)
	viper.SetDefault("retry.multiplier", 2.0)
	viper.SetDefault("retry.jitterfraction", 0.2)

	// Poller
	viper.SetDefault("poll.interval", time.Minute)

	// Device
	viper.SetDefault("device.id", "")

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.host", "localhost")
	viper.SetDefault("telemetry.port", 5672)
	viper.SetDefault("telemetry.user", "guest")
	viper.SetDefault("telemetry.password", "guest")
	viper.SetDefault("telemetry.exchange", "signage.telemetry")
	viper.SetDefault("telemetry.queue", "signage.sync")
	viper.SetDefault("telemetry.bindingkey", "sync.*")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.file", "")
}
