package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// Postgres is a Registry backed by PostgreSQL, for deployments where
// promotion must survive restarts and be shared across replicas.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection and ensures the promotions table exists
func NewPostgres(cfg Config) (*Postgres, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS model_promotions (
			model_name  TEXT PRIMARY KEY,
			version     TEXT NOT NULL,
			promoted_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create promotions table: %w", err)
	}
	return nil
}

// GetPromoted returns the promoted version for a model
func (p *Postgres) GetPromoted(ctx context.Context, modelName string) (string, error) {
	var version string
	err := p.db.QueryRowContext(ctx,
		`SELECT version FROM model_promotions WHERE model_name = $1`,
		modelName).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotPromoted
	}
	if err != nil {
		return "", fmt.Errorf("query promotion for %s: %w", modelName, err)
	}
	return version, nil
}

// Promote pins a version as active, replacing any prior pin
func (p *Postgres) Promote(ctx context.Context, modelName, version string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO model_promotions (model_name, version, promoted_at)
		VALUES ($1, $2, now())
		ON CONFLICT (model_name)
		DO UPDATE SET version = EXCLUDED.version, promoted_at = now()`,
		modelName, version)
	if err != nil {
		return fmt.Errorf("promote %s/%s: %w", modelName, version, err)
	}
	return nil
}

// Demote clears the pin
func (p *Postgres) Demote(ctx context.Context, modelName string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM model_promotions WHERE model_name = $1`, modelName)
	if err != nil {
		return fmt.Errorf("demote %s: %w", modelName, err)
	}
	return nil
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}
