package config

import (
	"os"
	"strconv"
)

// ApplyEnv overlays environment variables on a config. Env wins over file
// values so deployments can keep secrets out of the config file.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("ADMIN_SECRET"); v != "" {
		cfg.Server.AdminSecret = v
	}

	if v := os.Getenv("STORAGE_MODE"); v != "" {
		cfg.Storage.Mode = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("LOCAL_STORAGE_PATH"); v != "" {
		cfg.Storage.LocalPath = v
	}

	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		cfg.Storage.S3.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		cfg.Storage.S3.SecretKey = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}

	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Storage.Minio.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.Minio.SecretKey = v
	}

	if v := os.Getenv("REGISTRY_MODE"); v != "" {
		cfg.Registry.Mode = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Registry.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Registry.Postgres.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Registry.Postgres.Database = v
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Registry.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Registry.Postgres.Password = v
	}

	if v := os.Getenv("MODEL_NAME"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("MODEL_FALLBACK_PATH"); v != "" {
		cfg.Model.FallbackPath = v
	}
}
