// Copyright (c) 2026 - The Event Machine authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jpillora/backoff"

	"github.com/looplab/eventmachine/uuid"
)

// DefaultLockTTL is how long a Redis lock is held if it is never unlocked,
// for example when the process holding it dies.
const DefaultLockTTL = 30 * time.Second

// Deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// RedisLock is a Lock shared by processes using the same Redis server and
// prefix. Locks expire after a TTL, which must be longer than the handling
// of any command.
type RedisLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	tokens map[string]string
	mu     sync.Mutex
}

// NewRedisLock creates a RedisLock with a client. Keys are prefixed with the
// prefix, for example the app ID.
func NewRedisLock(client *redis.Client, prefix string, options ...RedisOption) (*RedisLock, error) {
	if client == nil {
		return nil, fmt.Errorf("missing Redis client")
	}

	l := &RedisLock{
		client: client,
		prefix: prefix,
		ttl:    DefaultLockTTL,
		tokens: map[string]string{},
	}

	for _, option := range options {
		if err := option(l); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if res, err := l.client.Ping(context.Background()).Result(); err != nil || res != "PONG" {
		return nil, fmt.Errorf("could not check Redis server: %w", err)
	}

	return l, nil
}

// RedisOption is an option setter used to configure creation.
type RedisOption func(*RedisLock) error

// WithTTL sets the expiration of locks.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLock) error {
		if ttl <= 0 {
			return fmt.Errorf("invalid TTL: %s", ttl)
		}

		l.ttl = ttl

		return nil
	}
}

func (l *RedisLock) key(id string) string {
	return l.prefix + ":lock:" + id
}

// Lock implements the Lock method of the Lock interface.
func (l *RedisLock) Lock(ctx context.Context, id string) error {
	b := &backoff.Backoff{
		Min:    5 * time.Millisecond,
		Max:    200 * time.Millisecond,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := l.TryLock(ctx, id)
		if !errors.Is(err, ErrLockExists) {
			return err
		}

		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryLock implements the TryLock method of the Lock interface.
func (l *RedisLock) TryLock(ctx context.Context, id string) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key(id), token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("could not set lock: %w", err)
	}

	if !ok {
		return ErrLockExists
	}

	l.mu.Lock()
	l.tokens[id] = token
	l.mu.Unlock()

	return nil
}

// Unlock implements the Unlock method of the Lock interface.
func (l *RedisLock) Unlock(ctx context.Context, id string) error {
	l.mu.Lock()
	token, ok := l.tokens[id]
	delete(l.tokens, id)
	l.mu.Unlock()

	if !ok {
		return ErrNoLockExists
	}

	n, err := unlockScript.Run(ctx, l.client, []string{l.key(id)}, token).Int()
	if err != nil {
		return fmt.Errorf("could not delete lock: %w", err)
	}

	// Expired, and maybe taken by someone else.
	if n == 0 {
		return ErrNoLockExists
	}

	return nil
}
