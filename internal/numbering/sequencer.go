package numbering

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// PostgresSequencer keeps counters in the document_sequences table. The upsert takes the row
// lock, so concurrent callers are serialized by Postgres.
type PostgresSequencer struct {
	pool *pgxpool.Pool
}

// NewPostgresSequencer constructs PostgresSequencer.
func NewPostgresSequencer(pool *pgxpool.Pool) *PostgresSequencer {
	return &PostgresSequencer{pool: pool}
}

// Next implements Sequencer.
func (s *PostgresSequencer) Next(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx, `INSERT INTO document_sequences (key, value) VALUES ($1, 1)
ON CONFLICT (key) DO UPDATE SET value = document_sequences.value + 1
RETURNING value`, key).Scan(&value)
	return value, err
}

// RedisSequencer uses INCR. Keys carry the day, so they expire after ttl.
type RedisSequencer struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisSequencer constructs RedisSequencer.
func NewRedisSequencer(rdb redis.UniversalClient, ttl time.Duration) *RedisSequencer {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisSequencer{rdb: rdb, ttl: ttl}
}

// Next implements Sequencer.
func (s *RedisSequencer) Next(ctx context.Context, key string) (int64, error) {
	redisKey := "backoffice:seq:" + key
	value, err := s.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, err
	}
	if value == 1 {
		if err := s.rdb.Expire(ctx, redisKey, s.ttl).Err(); err != nil {
			return 0, err
		}
	}
	return value, nil
}

// MemorySequencer keeps counters in process memory.
type MemorySequencer struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemorySequencer constructs MemorySequencer.
func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{counts: make(map[string]int64)}
}

// Next implements Sequencer.
func (s *MemorySequencer) Next(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}
