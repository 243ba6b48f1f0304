package database

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var db *sql.DB

// Initialize connects to Postgres, verifies the connection and applies pending migrations.
func Initialize(databaseURL string) error {
	if databaseURL == "" {
		return fmt.Errorf("database URL is empty")
	}
	dsn := withDisablePreparedStatements(databaseURL)
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err = conn.Ping(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Use a single connection to avoid prepared statement issues with PgBouncer/Neon.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := migrate(conn); err != nil {
		_ = conn.Close()
		return err
	}

	db = conn
	return nil
}

func migrate(conn *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// withDisablePreparedStatements appends disable_prepared_statements=true and binary_parameters=yes to the DSN if not present.
// This nudges lib/pq to avoid server-side prepared statements and binary mode, which can break with PgBouncer transaction pooling.
func withDisablePreparedStatements(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.Contains(lower, "disable_prepared_statements=") || strings.Contains(lower, "prefer_simple_protocol=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	extras := []string{"disable_prepared_statements=true"}
	if !strings.Contains(lower, "binary_parameters=") {
		extras = append(extras, "binary_parameters=yes")
	}
	return dsn + sep + strings.Join(extras, "&")
}

// GetDB returns the database connection, or nil when Initialize has not run.
func GetDB() *sql.DB {
	return db
}

// Close releases the connection pool.
func Close() error {
	if db == nil {
		return nil
	}
	err := db.Close()
	db = nil
	return err
}
