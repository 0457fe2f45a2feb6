package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSweepLock is a lease shared by every keeper replica so that one sweep
// of a kind runs at a time across the fleet.
type RedisSweepLock struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSweepLock returns a lock whose keys live under prefix.
func NewRedisSweepLock(client redis.UniversalClient, prefix string) *RedisSweepLock {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "cronia"
	}
	return &RedisSweepLock{client: client, prefix: trimmed + ":sweep_lock"}
}

// Acquire takes the named lease for ttl. ok is false when another holder has it.
// The returned release only deletes the lease while this holder still owns it.
func (l *RedisSweepLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := fmt.Sprintf("%s:%s", l.prefix, name)
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseLockScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
