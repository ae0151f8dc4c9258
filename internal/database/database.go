package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens a pooled connection through the pgx stdlib driver and pings it.
func Open(dsn string, development bool) (*sql.DB, error) {
	db, err := sql.Open("pgx", PrepareDSN(dsn, development))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// PrepareDSN adjusts a connection string for the target environment.
// Local Supabase runs without TLS. Hosted Supabase sits behind a transaction
// pooler, which cannot use server-side prepared statements, so the simple
// query protocol is forced there.
func PrepareDSN(dsn string, development bool) string {
	if development && !strings.Contains(dsn, "sslmode") {
		dsn += paramSeparator(dsn) + "sslmode=disable"
	}
	if !development && !strings.Contains(dsn, "default_query_exec_mode") {
		dsn += paramSeparator(dsn) + "default_query_exec_mode=simple_protocol"
	}
	return dsn
}

func paramSeparator(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return "&"
		}
		return "?"
	}
	return " "
}

// NewMigrator returns a migrate instance over the embedded schema.
// Closing it closes db as well.
func NewMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return nil, fmt.Errorf("init migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, nil
}

// MigrateUp applies all pending migrations. An up-to-date schema is not an error.
func MigrateUp(db *sql.DB, logger zerolog.Logger) error {
	m, err := NewMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info().Msg("Database schema is up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, _, _ := m.Version()
	logger.Info().Uint("version", version).Msg("Database migrations applied")
	return nil
}
