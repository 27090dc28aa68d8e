package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/fedround/pkg/lock"
	"github.com/google/uuid"
)

// DefaultLockTTL bounds how long a crashed holder keeps a lease.
const DefaultLockTTL = 5 * time.Minute

type lockRegistry struct {
	db    *Database
	owner string
	ttl   time.Duration
}

// NewLockRegistry returns a registry backed by lease rows in collector_locks,
// shared by every process using the same database. owner prefixes the lease
// owner tokens for diagnostics.
func NewLockRegistry(db *Database, owner string, ttl time.Duration) lock.Registry {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	return &lockRegistry{db: db, owner: owner, ttl: ttl}
}

func (r *lockRegistry) Obtain(name string) lock.Lock {
	return &lease{
		registry: r,
		name:     name,
		token:    r.owner + "/" + uuid.NewString(),
	}
}

type lease struct {
	registry *lockRegistry
	name     string
	token    string
}

// TryLock inserts the lease row, or takes it over when it has expired.
func (l *lease) TryLock(ctx context.Context) (bool, error) {
	db := l.registry.db
	now := db.now()

	query := db.Rebind(`INSERT INTO collector_locks (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE collector_locks.expires_at < ? OR collector_locks.owner = excluded.owner`)

	res, err := db.ExecContext(ctx, query, l.name, l.token, now.Add(l.registry.ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("%w: lock %s: %w", ErrUpdate, l.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: lock %s: %w", ErrUpdate, l.name, err)
	}

	return n == 1, nil
}

func (l *lease) Unlock(ctx context.Context) error {
	db := l.registry.db
	query := db.Rebind(`DELETE FROM collector_locks WHERE name = ? AND owner = ?`)
	if _, err := db.ExecContext(ctx, query, l.name, l.token); err != nil {
		return fmt.Errorf("%w: unlock %s: %w", ErrUpdate, l.name, err)
	}

	return nil
}
