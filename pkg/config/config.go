package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the upload gateway and its pipeline
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Registry RegistryConfig `yaml:"registry"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	MaxUploadSize int64         `yaml:"max_upload_size"`
}

// StorageConfig selects and configures the object storage backend
type StorageConfig struct {
	Type         string        `yaml:"type"` // local, s3, gcs, http
	Folder       string        `yaml:"folder"`
	Bucket       string        `yaml:"bucket"`
	Region       string        `yaml:"region"`
	Endpoint     string        `yaml:"endpoint"`
	AccessKey    string        `yaml:"access_key"`
	SecretKey    string        `yaml:"secret_key"`
	PublicURL    string        `yaml:"public_url"`
	LocalPath    string        `yaml:"local_path"`
	CloudName    string        `yaml:"cloud_name"`
	UploadPreset string        `yaml:"upload_preset"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RegistryConfig points at the backend of record
type RegistryConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig tunes the upload scheduler and registration batcher
type PipelineConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	BatchSize          int           `yaml:"batch_size"`
	FlushWaitTimeout   time.Duration `yaml:"flush_wait_timeout"`
	FinalRetryAttempts int           `yaml:"final_retry_attempts"`
}

// RedisConfig holds Redis connection settings for the progress mirror
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

// DatabaseConfig holds the transition journal connection settings
type DatabaseConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Driver     string `yaml:"driver"` // postgres, sqlite
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	DBName     string `yaml:"dbname"`
	SSLMode    string `yaml:"sslmode"`
	SQLitePath string `yaml:"sqlite_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// Defaults returns the configuration used when nothing is overridden
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8090,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			IdleTimeout:   120 * time.Second,
			MaxUploadSize: 512 << 20,
		},
		Storage: StorageConfig{
			Type:      "local",
			Folder:    "rapidphotoflow",
			Region:    "us-east-1",
			Endpoint:  "https://api.cloudinary.com/v1_1",
			LocalPath: "./uploads",
			Timeout:   2 * time.Minute,
		},
		Registry: RegistryConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Concurrency:        5,
			BatchSize:          10,
			FlushWaitTimeout:   10 * time.Second,
			FinalRetryAttempts: 1,
		},
		Redis: RedisConfig{
			Host:        "localhost",
			Port:        6379,
			SnapshotTTL: time.Hour,
		},
		Database: DatabaseConfig{
			Driver:     "postgres",
			Host:       "localhost",
			Port:       5432,
			User:       "photoflow",
			Password:   "password",
			DBName:     "photoflow",
			SSLMode:    "disable",
			SQLitePath: "./photoflow-journal.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromEnv loads configuration from environment variables on top of the defaults
func LoadFromEnv() *Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFromFile reads a YAML file over the defaults, then lets environment
// variables override individual values
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// Load picks LoadFromFile when PHOTOFLOW_CONFIG is set and LoadFromEnv otherwise
func Load() (*Config, error) {
	if path := os.Getenv("PHOTOFLOW_CONFIG"); path != "" {
		return LoadFromFile(path)
	}
	return LoadFromEnv(), nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.MaxUploadSize = int64(getEnvInt("SERVER_MAX_UPLOAD_SIZE", int(c.Server.MaxUploadSize)))

	c.Storage.Type = getEnv("STORAGE_TYPE", c.Storage.Type)
	c.Storage.Folder = getEnv("STORAGE_FOLDER", c.Storage.Folder)
	c.Storage.Bucket = getEnv("STORAGE_BUCKET", c.Storage.Bucket)
	c.Storage.Region = getEnv("STORAGE_REGION", c.Storage.Region)
	c.Storage.Endpoint = getEnv("STORAGE_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKey = getEnv("STORAGE_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = getEnv("STORAGE_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.PublicURL = getEnv("STORAGE_PUBLIC_URL", c.Storage.PublicURL)
	c.Storage.LocalPath = getEnv("STORAGE_LOCAL_PATH", c.Storage.LocalPath)
	c.Storage.CloudName = getEnv("STORAGE_CLOUD_NAME", c.Storage.CloudName)
	c.Storage.UploadPreset = getEnv("STORAGE_UPLOAD_PRESET", c.Storage.UploadPreset)
	c.Storage.APIKey = getEnv("STORAGE_API_KEY", c.Storage.APIKey)
	c.Storage.Timeout = getEnvDuration("STORAGE_TIMEOUT", c.Storage.Timeout)

	c.Registry.BaseURL = getEnv("REGISTRY_BASE_URL", c.Registry.BaseURL)
	c.Registry.Timeout = getEnvDuration("REGISTRY_TIMEOUT", c.Registry.Timeout)

	c.Pipeline.Concurrency = getEnvInt("PIPELINE_CONCURRENCY", c.Pipeline.Concurrency)
	c.Pipeline.BatchSize = getEnvInt("PIPELINE_BATCH_SIZE", c.Pipeline.BatchSize)
	c.Pipeline.FlushWaitTimeout = getEnvDuration("PIPELINE_FLUSH_WAIT_TIMEOUT", c.Pipeline.FlushWaitTimeout)
	c.Pipeline.FinalRetryAttempts = getEnvInt("PIPELINE_FINAL_RETRY_ATTEMPTS", c.Pipeline.FinalRetryAttempts)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.SnapshotTTL = getEnvDuration("REDIS_SNAPSHOT_TTL", c.Redis.SnapshotTTL)

	c.Database.Enabled = getEnvBool("DB_ENABLED", c.Database.Enabled)
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.SQLitePath = getEnv("DB_SQLITE_PATH", c.Database.SQLitePath)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline concurrency must be at least 1, got %d", c.Pipeline.Concurrency)
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline batch size must be at least 1, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.FinalRetryAttempts < 0 {
		return fmt.Errorf("pipeline final retry attempts cannot be negative")
	}
	if c.Registry.BaseURL == "" {
		return fmt.Errorf("registry base url must be set")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Addr returns the listen address of the HTTP server
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SetupLogging configures the global zerolog logger
func (l *LoggingConfig) SetupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || l.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if l.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
