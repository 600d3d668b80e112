package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSweepInProgress is returned when another sweep holds the lock.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Locker keeps two sweeps from overlapping. TryLock never waits.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// LocalLocker guards sweeps within one process.
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) TryLock(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker guards sweeps across processes sharing one database. The TTL
// bounds how long a crashed holder blocks others.
type RedisLocker struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

func NewRedisLocker(addr, password string, db int, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = "caseline:sweep"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{
		Client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		Key:    key,
		TTL:    ttl,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, l.Key, token, l.TTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.Client, []string{l.Key}, token).Err()
	}
	return release, true, nil
}

func (l *RedisLocker) Close() error {
	return l.Client.Close()
}
