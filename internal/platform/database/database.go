package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"stencil/internal/platform/config"
	"stencil/internal/platform/models"
)

// Connect opens a GORM connection to PostgreSQL and configures the
// underlying pool. The configured statement timeout is injected as a
// connection-level runtime parameter so a held row lock can never block a
// request past the deadline; the statement fails and the lock is released.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn, err := withStatementTimeout(cfg.URL, cfg.StatementTimeout)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// Ping verifies connectivity with a bounded round trip. Used at startup and
// by the readiness probe.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates or updates the schema for all persisted models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.APIKey{}, &models.Item{})
}

// withStatementTimeout appends statement_timeout to the DSN. pgx forwards
// unrecognized URL parameters to the server as runtime settings.
func withStatementTimeout(dsn string, timeout time.Duration) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	if q.Get("statement_timeout") == "" {
		q.Set("statement_timeout", fmt.Sprintf("%d", timeout.Milliseconds()))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
