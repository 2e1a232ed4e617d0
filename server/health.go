package server

import (
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ReadyState tracks initialization state for health checks. Database and
// Redis may be nil in development mode; the ready check skips their pings.
type ReadyState struct {
	db  *pgxpool.Pool
	rdb *redis.Client

	keysReady     atomic.Bool
	databaseReady atomic.Bool
	redisReady    atomic.Bool
	mailerReady   atomic.Bool
}

// NewReadyState creates a ReadyState for the given backing stores.
func NewReadyState(db *pgxpool.Pool, rdb *redis.Client) *ReadyState {
	return &ReadyState{db: db, rdb: rdb}
}

// MarkKeysReady marks key material loading as complete.
func (r *ReadyState) MarkKeysReady() { r.keysReady.Store(true) }

// MarkDatabaseReady marks database setup as complete.
func (r *ReadyState) MarkDatabaseReady() { r.databaseReady.Store(true) }

// MarkRedisReady marks the Redis connection as established.
func (r *ReadyState) MarkRedisReady() { r.redisReady.Store(true) }

// MarkMailerReady marks the mailer as configured.
func (r *ReadyState) MarkMailerReady() { r.mailerReady.Store(true) }

// IsKeysReady returns true once key material is loaded.
func (r *ReadyState) IsKeysReady() bool { return r.keysReady.Load() }

// IsDatabaseReady returns true once the database is set up.
func (r *ReadyState) IsDatabaseReady() bool { return r.databaseReady.Load() }

// IsRedisReady returns true once Redis is connected.
func (r *ReadyState) IsRedisReady() bool { return r.redisReady.Load() }

// IsMailerReady returns true once the mailer is configured.
func (r *ReadyState) IsMailerReady() bool { return r.mailerReady.Load() }

// IsFullyReady returns true if all initialization steps are complete.
func (r *ReadyState) IsFullyReady() bool {
	return r.keysReady.Load() &&
		r.databaseReady.Load() &&
		r.redisReady.Load() &&
		r.mailerReady.Load()
}

// GetDB returns the database connection pool (may be nil).
func (r *ReadyState) GetDB() *pgxpool.Pool { return r.db }

// GetRedis returns the Redis client (may be nil).
func (r *ReadyState) GetRedis() *redis.Client { return r.rdb }
