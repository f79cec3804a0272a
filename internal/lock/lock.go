package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

var ErrNotObtained = errors.New("lock not obtained")

// Locker serializes read-check-write sequences on one entity, such as a
// purchase-order status change or a sale reversal.
type Locker interface {
	Obtain(ctx context.Context, key string) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}

// Redis is a Locker shared by every API instance behind the same Redis.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client: redislock.New(client),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 40),
	}
}

func (r *Redis) Obtain(ctx context.Context, key string) (Lock, error) {
	l, err := r.client.Obtain(ctx, "lock:"+key, r.ttl, &redislock.Options{RetryStrategy: r.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return redisLock{l}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

func (l redisLock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// Local is a process-wide Locker for single-instance deployments.
type Local struct {
	mu      sync.Mutex
	held    map[string]chan struct{}
	timeout time.Duration
}

func NewLocal(timeout time.Duration) *Local {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Local{held: make(map[string]chan struct{}), timeout: timeout}
}

func (l *Local) Obtain(ctx context.Context, key string) (Lock, error) {
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	for {
		l.mu.Lock()
		waitOn, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return &localLock{owner: l, key: key, done: done}, nil
		}
		l.mu.Unlock()

		select {
		case <-waitOn:
		case <-timer.C:
			return nil, ErrNotObtained
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type localLock struct {
	owner *Local
	key   string
	done  chan struct{}
	once  sync.Once
}

func (l *localLock) Release(_ context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		if l.owner.held[l.key] == l.done {
			delete(l.owner.held, l.key)
		}
		l.owner.mu.Unlock()
		close(l.done)
	})
	return nil
}
