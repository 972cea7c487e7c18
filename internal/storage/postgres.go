package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	pq "github.com/lib/pq"

	"rpscrape/internal/config"
)

// Postgres error codes the writer reacts to.
const (
	codeInvalidCatalog  pq.ErrorCode = "3D000"
	codeUndefinedTable  pq.ErrorCode = "42P01"
	codeDuplicateSchema pq.ErrorCode = "42P04"
)

// connect opens and pings cfg.DSN. When the database is missing and
// CreateIfMissing is set, it is created through the maintenance database
// and the connection is retried once.
func connect(ctx context.Context, cfg config.SQLConfig) (*sql.DB, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := open(ctx, cfg.Driver, cfg.DSN)
	if err != nil && cfg.CreateIfMissing && missingDatabase(cfg.Driver, err) {
		if err := createDatabase(ctx, cfg.Driver, cfg.DSN); err != nil {
			return nil, err
		}
		db, err = open(ctx, cfg.Driver, cfg.DSN)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if d := cfg.ConnMaxLifetime.Duration; d > 0 {
		db.SetConnMaxLifetime(d)
	}
	return db, nil
}

func open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sql connection: %w", err)
	}
	return db, nil
}

func createDatabase(ctx context.Context, driver, dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	name := strings.TrimPrefix(u.Path, "/")
	switch {
	case name == "":
		return errors.New("dsn missing database name")
	case strings.EqualFold(name, "postgres"):
		return fmt.Errorf("refusing to create maintenance database %q", name)
	}

	u.Path = "/postgres"
	admin, err := open(ctx, driver, u.String())
	if err != nil {
		return fmt.Errorf("maintenance database: %w", err)
	}
	defer admin.Close()

	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name))
	if err != nil && !hasCode(err, codeDuplicateSchema) {
		return fmt.Errorf("create database %q: %w", name, err)
	}
	return nil
}

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

func missingDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	return hasCode(err, codeInvalidCatalog) || strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func missingTable(err error) bool {
	if hasCode(err, codeUndefinedTable) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")
}
