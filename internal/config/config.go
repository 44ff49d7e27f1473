package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Registry RegistryConfig `yaml:"registry"`
	Model    ModelConfig    `yaml:"model"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	LogLevel       string        `yaml:"log_level"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // predict requests per second
	RateBurst      int           `yaml:"rate_burst"`
	AdminSecret    string        `yaml:"admin_secret"` // HMAC secret for admin JWTs; empty disables the auth check
}

type StorageConfig struct {
	Mode        string      `yaml:"mode"` // local | s3 | minio
	Bucket      string      `yaml:"bucket"`
	LocalPath   string      `yaml:"local_path"`
	Compression bool        `yaml:"compression"`
	S3          S3Config    `yaml:"s3"`
	Minio       MinioConfig `yaml:"minio"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type RegistryConfig struct {
	Mode     string         `yaml:"mode"` // none | memory | postgres
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

type ModelConfig struct {
	Name          string        `yaml:"name"`
	FallbackPath  string        `yaml:"fallback_path"`
	TierTimeout   time.Duration `yaml:"tier_timeout"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
	WatchFallback bool          `yaml:"watch_fallback"`
}

// Default returns the configuration used when nothing else is specified
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8000,
			LogLevel:       "info",
			RequestTimeout: 30 * time.Second,
			RateLimit:      50,
			RateBurst:      100,
		},
		Storage: StorageConfig{
			Mode:      "local",
			Bucket:    "models",
			LocalPath: "/tmp/leafserve-data",
		},
		Registry: RegistryConfig{
			Mode: "memory",
		},
		Model: ModelConfig{
			Name:         "plant_classifier",
			TierTimeout:  10 * time.Second,
			MaxBatchSize: 10,
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
