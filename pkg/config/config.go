// Package config loads process-wide configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the configuration for the registry process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Federated FederatedConfig `yaml:"federated"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds API-token authentication settings.
type AuthConfig struct {
	BCryptCost int `yaml:"bcrypt_cost"`
}

// FederatedConfig holds federated-identity (OIDC) verification settings.
type FederatedConfig struct {
	// IssuerURL is the OIDC issuer this registry trusts for federated publishes.
	IssuerURL string `yaml:"issuer_url"`
	// Audience is the expected `aud` claim value for tokens presented to this registry.
	Audience string `yaml:"audience"`
	// SigningKeyCacheTTL is loaded from FEDERATED_KEY_CACHE_TTL but is not
	// read by the identity service; provider signing keys are cached by the
	// go-oidc verifier's own key set.
	SigningKeyCacheTTL time.Duration `yaml:"signing_key_cache_ttl"`
	// NegativeCacheTTL controls how long a failed key-set fetch is remembered
	// before retrying, so a flapping provider doesn't block every publish.
	NegativeCacheTTL time.Duration `yaml:"negative_cache_ttl"`
}

// FetchConfig holds Artifact Fetcher policy.
type FetchConfig struct {
	MaxSizeBytes  int64         `yaml:"max_size_bytes"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRedirects  int           `yaml:"max_redirects"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// StorageConfig holds the settings storage.StorageFactory builds a scratch
// backend from. The Artifact Fetcher does not read it: each source-archive
// inspection stages its file in a fresh os.MkdirTemp directory.
type StorageConfig struct {
	Type      string `yaml:"type"`
	LocalPath string `yaml:"local_path"`
}

// RateLimitConfig holds token-bucket admission settings.
type RateLimitConfig struct {
	ReadRatePerSec    float64 `yaml:"read_rate_per_sec"`
	ReadBurst         int     `yaml:"read_burst"`
	PublishRatePerSec float64 `yaml:"publish_rate_per_sec"`
	PublishBurst      int     `yaml:"publish_burst"`
	PublishCost       int     `yaml:"publish_cost"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "worldcache"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "worldcache"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			BCryptCost: getEnvInt("BCRYPT_COST", 12),
		},
		Federated: FederatedConfig{
			IssuerURL:          getEnv("FEDERATED_ISSUER_URL", ""),
			Audience:           getEnv("FEDERATED_AUDIENCE", "worldcache-registry"),
			SigningKeyCacheTTL: getEnvDuration("FEDERATED_KEY_CACHE_TTL", 1*time.Hour),
			NegativeCacheTTL:   getEnvDuration("FEDERATED_KEY_NEGATIVE_CACHE_TTL", 30*time.Second),
		},
		Fetch: FetchConfig{
			MaxSizeBytes:  getEnvInt64("FETCH_MAX_SIZE_BYTES", 256*1024*1024),
			Timeout:       getEnvDuration("FETCH_TIMEOUT", 5*time.Minute),
			MaxRedirects:  getEnvInt("FETCH_MAX_REDIRECTS", 5),
			MaxConcurrent: getEnvInt("FETCH_MAX_CONCURRENT", 8),
		},
		Storage: StorageConfig{
			Type:      getEnv("STORAGE_TYPE", "local"),
			LocalPath: getEnv("STORAGE_LOCAL_PATH", filepath.Join(os.TempDir(), "worldcache-fetch-scratch")),
		},
		RateLimit: RateLimitConfig{
			ReadRatePerSec:    getEnvFloat("RATE_LIMIT_READ_PER_SEC", 10),
			ReadBurst:         getEnvInt("RATE_LIMIT_READ_BURST", 30),
			PublishRatePerSec: getEnvFloat("RATE_LIMIT_PUBLISH_PER_SEC", 1),
			PublishBurst:      getEnvInt("RATE_LIMIT_PUBLISH_BURST", 5),
			PublishCost:       getEnvInt("RATE_LIMIT_PUBLISH_COST", 5),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// DatabaseURL returns a PostgreSQL connection string.
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisAddr returns the Redis address.
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
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
