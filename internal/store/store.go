// Package store is the Postgres persistence layer: import jobs, loaded rows,
// reconciliation write-back and per-file advisory locks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"ClaimSync/internal/config"
)

// Store reads and writes through a pgx pool. The database/sql handle backs
// advisory locks, which need a dedicated session per lock.
type Store struct {
	pool *pgxpool.Pool
	db   *sql.DB
	log  logger.Logger
}

// Open connects both handles and checks that the database answers.
func Open(ctx context.Context, conf config.Database, log logger.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, conf.URL())
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	db, err := sql.Open("postgres", conf.DSN())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := New(pool, db, log)
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, err
	}
	log.Infof("connected to postgres %s:%d/%s", conf.Host, conf.Port, conf.Name)
	return s, nil
}

func New(pool *pgxpool.Pool, db *sql.DB, log logger.Logger) *Store {
	return &Store{pool: pool, db: db, log: log}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping pool: %w", err)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// DB is the database/sql handle, for callers that need a plain connection.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() {
	s.pool.Close()
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		s.log.Warnf("close database: %v", err)
	}
}
