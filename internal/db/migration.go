package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// RunMigrations applies the embedded migrations to cfg.Schema, creating the
// schema first when needed.
func RunMigrations(ctx context.Context, cfg Config) error {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	slog.Info("Running database migrations", "schema", schema)

	db, err := sql.Open("pgx", cfg.Url)
	if err != nil {
		return err
	}
	defer db.Close()
	// search_path is a session setting; pin migrations to one connection.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := ensureSchemaExists(ctx, db, schema); err != nil {
		return err
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database migrations completed successfully")
	return nil
}

func ensureSchemaExists(ctx context.Context, db *sql.DB, schema string) error {
	ident := pgx.Identifier{schema}.Sanitize()
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+ident); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	if _, err := db.ExecContext(ctx, "SET search_path TO "+ident); err != nil {
		return fmt.Errorf("failed to set search_path: %w", err)
	}
	return nil
}
