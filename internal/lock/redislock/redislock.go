package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/lock"
)

var _ lock.Locker = (*Locker)(nil)

const keyPrefix = "reelforge:lock:"

// releaseScript deletes the key only while it still holds the acquisition's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements lock.Locker with SET NX PX. Keys expire after ttl so a crashed
// holder cannot block dispatch forever. Every acquisition writes a fresh token.
type Locker struct {
	client *redis.Client
	ttl    time.Duration

	mu   sync.Mutex
	held map[string]string
}

// Dial connects to redis and verifies the connection.
func Dial(ctx context.Context, cfg config.RedisSettings, ttl time.Duration) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, ttl), nil
}

func New(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{client: client, ttl: ttl, held: map[string]string{}}
}

// TryAcquire fails while this Locker still holds name, even if the key expired.
func (l *Locker) TryAcquire(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return false, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+name, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if ok {
		l.held[name] = token
	}
	return ok, nil
}

func (l *Locker) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	token, ok := l.held[name]
	delete(l.held, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	err := releaseScript.Run(ctx, l.client, []string{keyPrefix + name}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

func (l *Locker) Close() error {
	return l.client.Close()
}
