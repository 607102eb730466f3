// Package database wires the orchestrator's Postgres connection: a
// sqlx-backed *sql.DB for repository CRUD and a pgxpool.Pool for advisory
// locks and SKIP LOCKED leasing, both built from the same Config.
package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
)

// Config describes how to reach the orchestrator's Postgres database.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the orchestrator's default database configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "orchestrator",
		Database:        "deployment_orchestrator",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// LoadFromEnv overlays DB_* environment variables onto config, leaving
// defaults in place for anything unset or malformed.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.SSLMode = v
	}
}

// Validate checks that config describes a connectable database.
func (c *Config) Validate() error {
	if c.Host == "" {
		return apperrors.NewValidationError("database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return apperrors.NewValidationError("database port must be between 1 and 65535")
	}
	if c.User == "" {
		return apperrors.NewValidationError("database user is required")
	}
	if c.Database == "" {
		return apperrors.NewValidationError("database name is required")
	}
	if c.MaxOpenConns <= 0 {
		return apperrors.NewValidationError("max open connections must be greater than 0")
	}
	if c.MaxIdleConns < 0 {
		return apperrors.NewValidationError("max idle connections must be non-negative")
	}
	return nil
}

// ConnectionString renders config as a libpq keyword/value connection
// string, omitting the password entirely when it is empty rather than
// emitting password=.
func (c *Config) ConnectionString() string {
	s := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s", c.Host, c.Port, c.User, c.Database, c.SSLMode)
	if c.Password != "" {
		s += fmt.Sprintf(" password=%s", c.Password)
	}
	return s
}

// Connect opens both the sqlx handle (repository CRUD) and the pgxpool
// handle (advisory locks, SKIP LOCKED leasing) against the same database.
type Handles struct {
	SQL  *sqlx.DB
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, config *Config, logger *logrus.Logger) (*Handles, error) {
	if err := config.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid database configuration")
	}

	sqlDB, err := sqlx.Connect("postgres", config.ConnectionString())
	if err != nil {
		return nil, apperrors.NewDatabaseError("connect (sqlx)", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString())
	if err != nil {
		sqlDB.Close()
		return nil, apperrors.NewDatabaseError("parse pgxpool config", err)
	}
	poolConfig.MaxConns = int32(config.MaxOpenConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		sqlDB.Close()
		return nil, apperrors.NewDatabaseError("connect (pgxpool)", err)
	}

	logger.WithFields(logrus.Fields{"host": config.Host, "database": config.Database}).Info("connected to orchestrator database")
	return &Handles{SQL: sqlDB, Pool: pool}, nil
}

func (h *Handles) Close() {
	if h.SQL != nil {
		h.SQL.Close()
	}
	if h.Pool != nil {
		h.Pool.Close()
	}
}
