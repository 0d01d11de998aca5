// SPDX-License-Identifier: MPL-2.0

package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed run can block a version. It must
	// outlast download, extraction and upload of one version.
	DefaultTTL = 2 * time.Hour

	keyPrefix = "unitydeps"
)

// releaseScript deletes the key only while it still holds our owner token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// ErrUnavailable is returned when a lock backend cannot be used.
var ErrUnavailable = errors.New("lock store unavailable")

type (
	// Locker serializes work on a key across concurrent runs. Acquire returns
	// ok=false without error when another owner holds the key. The release
	// func is always non-nil and safe to call more than once.
	Locker interface {
		Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
	}

	// Noop grants every lock. It is used when no Redis URL is configured.
	Noop struct{}

	// RedisLocker holds locks as Redis keys set with NX and a TTL.
	RedisLocker struct {
		client *redis.Client
		owner  string
		ttl    time.Duration
	}

	// RedisOption configures a RedisLocker.
	RedisOption func(*RedisLocker)
)

// Acquire always succeeds.
func (Noop) Acquire(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}

// Key builds the lock key for one version of one repository.
func Key(repo, version string) string {
	return keyPrefix + ":" + repo + ":" + version
}

// WithTTL overrides the lock expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithOwner overrides the owner token. It defaults to a random UUID per locker.
func WithOwner(owner string) RedisOption {
	return func(l *RedisLocker) {
		if o := strings.TrimSpace(owner); o != "" {
			l.owner = o
		}
	}
}

// NewRedisLocker connects to the Redis server at url and verifies it answers.
func NewRedisLocker(ctx context.Context, url string, opts ...RedisOption) (*RedisLocker, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: connect redis: %w", ErrUnavailable, err)
	}

	l := &RedisLocker{
		client: client,
		owner:  uuid.NewString(),
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Owner returns the token written into held keys.
func (l *RedisLocker) Owner() string {
	return l.owner
}

// Close shuts down the Redis client.
func (l *RedisLocker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

// Acquire sets key to the owner token if it is not set yet.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), bool, error) {
	noop := func() {}
	if l == nil || l.client == nil {
		return noop, false, ErrUnavailable
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return noop, false, fmt.Errorf("lock key required")
	}

	ok, err := l.client.SetNX(ctx, key, l.owner, l.ttl).Result()
	if err != nil {
		return noop, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return noop, false, nil
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		// Use a fresh context so a cancelled run still frees its key.
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.client.Eval(relCtx, releaseScript, []string{key}, l.owner).Err() // TTL reclaims the key on failure
	}
	return release, true, nil
}
