package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type StorageConfig struct {
	BadgerPath string `mapstructure:"badger_path"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RemoteConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TokenSecret    string        `mapstructure:"token_secret"`
}

type PollingConfig struct {
	JobTimeout             time.Duration `mapstructure:"job_timeout"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
}

type MigrationConfig struct {
	BackupDir          string        `mapstructure:"backup_dir"`
	SampleSize         int           `mapstructure:"sample_size"`
	DriftCheckInterval time.Duration `mapstructure:"drift_check_interval"`
	AutoStart          bool          `mapstructure:"auto_start"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	ServerPort string          `mapstructure:"server_port"`
	Storage    StorageConfig   `mapstructure:"storage"`
	Remote     RemoteConfig    `mapstructure:"remote"`
	Polling    PollingConfig   `mapstructure:"polling"`
	Migration  MigrationConfig `mapstructure:"migration"`
	Events     EventsConfig    `mapstructure:"events"`
}

// Load reads the configuration from a YAML file and returns a Config
// instance. A missing config file is tolerated; defaults apply.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Error reading config file: %v", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.Storage.BadgerPath == "" {
		config.Storage.BadgerPath = "data/badger"
	}
	if config.Storage.SQLitePath == "" {
		config.Storage.SQLitePath = "data/tickerlens.db"
	}
	if config.Remote.BaseURL == "" {
		config.Remote.BaseURL = "http://localhost:9090"
	}
	if config.Remote.RequestTimeout == 0 {
		config.Remote.RequestTimeout = 30 * time.Second
	}
	if config.Polling.JobTimeout == 0 {
		config.Polling.JobTimeout = time.Hour
	}
	if config.Polling.MaxConsecutiveFailures == 0 {
		config.Polling.MaxConsecutiveFailures = 10
	}
	if config.Migration.BackupDir == "" {
		config.Migration.BackupDir = "data/backups"
	}
	if config.Migration.SampleSize == 0 {
		config.Migration.SampleSize = 10
	}
	if config.Migration.DriftCheckInterval == 0 {
		config.Migration.DriftCheckInterval = 5 * time.Minute
	}
	if config.Events.BufferSize == 0 {
		config.Events.BufferSize = 64
	}

	return &config
}
