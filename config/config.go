package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"immotech/server/internal/geocoding"
	"immotech/server/internal/telegram"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address" env:"SERVER_ADDRESS"`
		CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`

	Database struct {
		// Driver is "sqlite" or "mongo"
		Driver        string        `yaml:"driver" env:"DB_DRIVER"`
		SQLitePath    string        `yaml:"sqlite_path" env:"DB_SQLITE_PATH"`
		MongoURI      string        `yaml:"mongo_uri" env:"DB_MONGO_URI"`
		MongoDatabase string        `yaml:"mongo_database" env:"DB_MONGO_DATABASE"`
		Timeout       time.Duration `yaml:"timeout" env:"DB_TIMEOUT"`
	} `yaml:"database"`

	Logging struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"logging"`

	Contracts struct {
		Dir string `yaml:"dir" env:"CONTRACTS_DIR"`
	} `yaml:"contracts"`

	Scheduler struct {
		Enabled  bool          `yaml:"enabled" env:"SCHEDULER_ENABLED"`
		Interval time.Duration `yaml:"interval" env:"SCHEDULER_INTERVAL"`
	} `yaml:"scheduler"`

	// BatchProcessing configures bulk listing imports
	BatchProcessing struct {
		// Maximum number of properties per batch
		MaxBatchSize int `yaml:"max_batch_size" env:"BATCH_MAX_SIZE"`

		// Number of concurrent batch processors
		ProcessorCount int `yaml:"processor_count" env:"BATCH_PROCESSOR_COUNT"`

		// Maximum number of retries for failed batches
		MaxRetries int `yaml:"max_retries" env:"BATCH_MAX_RETRIES"`

		// Delay between retries
		RetryDelay time.Duration `yaml:"retry_delay" env:"BATCH_RETRY_DELAY"`
	} `yaml:"batch_processing"`

	Geocoder geocoding.Config `yaml:"geocoder"`
	Telegram telegram.Config  `yaml:"telegram"`

	Cities []City `yaml:"cities"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Address = ":8080"
	cfg.Server.CORSOrigins = []string{"http://localhost:3000"}
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = "data/immotech.db"
	cfg.Database.MongoURI = "mongodb://localhost:27017"
	cfg.Database.MongoDatabase = "immotech"
	cfg.Database.Timeout = 10 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Contracts.Dir = "data/contracts"

	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Interval = 5 * time.Minute

	cfg.BatchProcessing.MaxBatchSize = 100
	cfg.BatchProcessing.ProcessorCount = 2
	cfg.BatchProcessing.MaxRetries = 3
	cfg.BatchProcessing.RetryDelay = 5 * time.Second

	cfg.Geocoder.BaseURL = geocoding.DefaultBaseURL
	cfg.Geocoder.CountryCode = "fr"
	cfg.Geocoder.CacheDir = "data/geocode_cache"
	cfg.Geocoder.Timeout = 10 * time.Second
	cfg.Geocoder.MinInterval = time.Second

	cfg.Cities = append([]City(nil), DefaultCities...)
	return cfg
}

// LoadConfig layers an optional YAML file and then the environment over
// DefaultConfig. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path is required for the sqlite driver"))
		}
	case "mongo":
		if c.Database.MongoURI == "" || c.Database.MongoDatabase == "" {
			errs = append(errs, errors.New("database.mongo_uri and database.mongo_database are required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Contracts.Dir == "" {
		errs = append(errs, errors.New("contracts.dir is required"))
	}
	if c.BatchProcessing.MaxBatchSize <= 0 || c.BatchProcessing.ProcessorCount <= 0 {
		errs = append(errs, errors.New("batch_processing sizes must be positive"))
	}
	if c.Telegram.Enabled && c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required when telegram is enabled"))
	}
	return errors.Join(errs...)
}
