// Package distlock elects a single runner for jobs that must not run on
// two hosts at once, such as the janitor sweep that requeues stuck
// sends. Redis backs the lock when available; a PostgreSQL advisory
// lock covers deployments without Redis.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is a try-lock: Acquire never blocks waiting for the holder.
// A lock instance belongs to one goroutine.
type DistLock interface {
	// Acquire reports whether this instance now holds the lock.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this instance still holds it.
	Release(ctx context.Context) error
}

// NewLock picks the backend: Redis when a client is supplied, otherwise
// a PostgreSQL advisory lock on db. Both release on process death, Redis
// through the TTL and Postgres when the session drops.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// PGAdvisoryLock maps the lock key onto a pg_try_advisory_lock id. The
// lock is session-scoped, so it must be released on the same *sql.DB.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock derives a stable 64-bit advisory lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire attempts the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release unlocks the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
