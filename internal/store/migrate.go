package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"ClaimSync/sql/migrations"
)

const migrationsTable = "claimsync_schema_migrations"

// Migrate brings the schema at dsn up to date. The database may still be
// starting, so connecting is retried a few times.
func Migrate(dsn string, log logger.Logger) error {
	var db *sql.DB
	operation := func() error {
		var err error
		if db, err = sql.Open("postgres", dsn); err != nil {
			return backoff.Permanent(err)
		}
		if err = db.Ping(); err != nil {
			_ = db.Close()
			return err
		}
		return nil
	}
	backoffWithMaxRetry := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 5)
	err := backoff.RetryNotify(operation, backoffWithMaxRetry, func(err error, t time.Duration) {
		log.Warnf("database not ready, retrying in %s: %v", t, err)
	})
	if err != nil {
		return fmt.Errorf("connect for migration: %w", err)
	}

	src, err := iofs.New(migrations.FS, "claimsync")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("read migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warnf("close migrator: %v %v", srcErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	log.Infof("schema at version %d (dirty=%v)", version, dirty)
	return nil
}
