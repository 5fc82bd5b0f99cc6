package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when another owner holds the lock
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing or extending a lock that expired or changed owner
	ErrLockNotHeld = errors.New("lock not held")
)

// Both scripts act only when the caller still owns the key
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Lock is one owner's hold on a key
type Lock struct {
	client *Client
	key    string
	token  string
}

// Locker hands out per-key locks so the consumer, the scheduler and manual triggers on
// any router instance never route the same notification at once
type Locker struct {
	client    *Client
	namespace string
}

// NewLocker creates a Locker whose keys live under namespace (default "lock")
func NewLocker(client *Client, namespace string) *Locker {
	if namespace == "" {
		namespace = "lock"
	}
	return &Locker{
		client:    client,
		namespace: namespace,
	}
}

// Acquire takes the lock for key without waiting
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{
		client: l.client,
		key:    l.client.Key(l.namespace, key),
		token:  uuid.NewString(),
	}

	ok, err := l.client.rdb.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", lock.key)
	return lock, nil
}

// Release gives the lock up if this owner still holds it
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the lock's expiry to ttl
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// WithLock runs fn while holding the lock for key, renewing it every ttl/3 so long
// routing runs keep it. If a renewal finds the lock gone, fn's context is cancelled.
// ErrLockNotAcquired is returned when another owner holds the lock.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		l.renew(runCtx, cancel, lock, ttl)
	}()

	err = fn(runCtx)
	cancel()
	<-renewed

	// Release on the caller's context; runCtx is already cancelled
	if rErr := lock.Release(context.WithoutCancel(ctx)); rErr != nil {
		l.client.logger.WithContext(ctx).WithError(rErr).Warnf("Failed to release lock: %s", lock.key)
	}
	return err
}

func (l *Locker) renew(ctx context.Context, lost context.CancelFunc, lock *Lock, ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lock.Extend(ctx, ttl)
			if errors.Is(err, ErrLockNotHeld) {
				l.client.logger.WithContext(ctx).Warnf("Lost lock while running: %s", lock.key)
				lost()
				return
			}
			if err != nil && ctx.Err() == nil {
				l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to renew lock: %s", lock.key)
			}
		}
	}
}
