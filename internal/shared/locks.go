package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// SaleLockKey builds the lock key guarding a sale document.
func SaleLockKey(saleID int64) string {
	return fmt.Sprintf("backoffice:sale:%d:lock", saleID)
}

// PurchaseLockKey builds the lock key guarding a purchase document.
func PurchaseLockKey(purchaseID int64) string {
	return fmt.Sprintf("backoffice:purchase:%d:lock", purchaseID)
}

// SaleItemLockKey guards store-credit conversion of a single sale line.
func SaleItemLockKey(itemID int64) string {
	return fmt.Sprintf("backoffice:sale_item:%d:lock", itemID)
}

// SettlementLockKey guards settlements of one partner in one direction.
func SettlementLockKey(partnerType string, partnerID int64) string {
	return fmt.Sprintf("backoffice:settlement:%s:%d:lock", partnerType, partnerID)
}

// Locker serializes orchestrations over the same document.
type Locker interface {
	Obtain(ctx context.Context, key string) (release func(), err error)
}

// RedisLocker obtains locks through bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker wraps a redis client. ttl bounds how long a crashed holder keeps the lock.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, wait: 2 * time.Second}
}

// Obtain acquires the lock, retrying briefly before giving up with ErrLockNotObtained.
func (l *RedisLocker) Obtain(ctx context.Context, key string) (func(), error) {
	retries := int(l.wait / (100 * time.Millisecond))
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", key, ErrLockNotObtained)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}

// LocalLocker is an in-process keyed mutex used when Redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker constructs a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

// Obtain blocks until the key is free or ctx is done.
func (l *LocalLocker) Obtain(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		ch, held := l.locks[key]
		if !held {
			ch = make(chan struct{})
			l.locks[key] = ch
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.locks, key)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", key, ErrLockNotObtained)
		}
	}
}
