package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when it is still held by the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// JobLock implements ports.JobLock using Redis SET NX with a TTL.
// A lock left behind by a crashed instance expires on its own.
type JobLock struct {
	client *goredis.Client
	prefix string

	mu     sync.Mutex
	tokens map[string]string
}

// NewJobLock creates a new Redis-backed job lock.
func NewJobLock(client *goredis.Client) *JobLock {
	return &JobLock{
		client: client,
		prefix: "joblock:",
		tokens: make(map[string]string),
	}
}

// Acquire returns true if this instance now holds the named lock for ttl.
func (l *JobLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	result, err := l.client.SetArgs(ctx, l.prefix+name, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis job lock acquire: %w", err)
	}
	if result != "OK" {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[name] = token
	l.mu.Unlock()
	return true, nil
}

// Release drops the named lock if this instance still holds it.
func (l *JobLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	token, ok := l.tokens[name]
	delete(l.tokens, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + name}, token).Err(); err != nil {
		return fmt.Errorf("redis job lock release: %w", err)
	}
	return nil
}
