package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/allisson/go-pglock/v3"
	"github.com/spaolacci/murmur3"

	"ClaimSync/internal/tracker"
)

const lockNamespace = "claimsync:import:"

// PgLocker takes session-level advisory locks, one per key. Each lock holds
// its own connection until released.
type PgLocker struct {
	db *sql.DB
}

func NewPgLocker(db *sql.DB) *PgLocker {
	return &PgLocker{db: db}
}

// Locker returns an advisory locker on the store's database.
func (s *Store) Locker() *PgLocker {
	return NewPgLocker(s.db)
}

func lockID(key string) int64 {
	return int64(murmur3.Sum64([]byte(lockNamespace + key)))
}

func (l *PgLocker) TryLock(ctx context.Context, key string) (tracker.Lock, bool, error) {
	lock, err := pglock.NewLock(ctx, lockID(key), l.db)
	if err != nil {
		return nil, false, fmt.Errorf("creating lock: %w", err)
	}
	ok, err := lock.Lock(ctx)
	if err != nil || !ok {
		_ = lock.Close()
		return nil, false, err
	}
	return &pgLock{lock: lock}, true, nil
}

func (l *PgLocker) Lock(ctx context.Context, key string) (tracker.Lock, error) {
	lock, err := pglock.NewLock(ctx, lockID(key), l.db)
	if err != nil {
		return nil, fmt.Errorf("creating lock: %w", err)
	}
	if err := lock.WaitAndLock(ctx); err != nil {
		_ = lock.Close()
		return nil, err
	}
	return &pgLock{lock: lock}, nil
}

type pgLock struct {
	lock pglock.Lock
}

func (p *pgLock) Unlock(ctx context.Context) error {
	return errors.Join(p.lock.Unlock(ctx), p.lock.Close())
}
