// SPDX-License-Identifier: AGPL-3.0-only
package phone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const importBatchSize = 1000

// RedisIndex keeps a phone file in a Redis hash, for files too large to hold
// in memory.
type RedisIndex struct {
	client *redis.Client
	key    string
}

// NewRedisClient connects to addr, which is either a redis:// URL or a
// host:port pair.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL %q: %w", addr, err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisIndex(client *redis.Client, key string) *RedisIndex {
	if key == "" {
		key = "fbtracker:phones"
	}
	return &RedisIndex{client: client, key: key}
}

// Import replaces the stored index with the contents of r. Entries are
// written to a staging key of their own and swapped in only after the whole
// file parsed, so concurrent imports never share a batch.
func (ri *RedisIndex) Import(ctx context.Context, r io.Reader) (int, error) {
	staging := ri.key + ":import:" + uuid.NewString()

	pipe := ri.client.Pipeline()
	pending, total := 0, 0

	flush := func() error {
		if pending == 0 {
			return nil
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("write phone batch: %w", err)
		}
		pending = 0
		return nil
	}

	err := decodeEntries(r, func(userID, phone string) error {
		pipe.HSet(ctx, staging, userID, phone)
		pending++
		total++
		if pending >= importBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		pipe.Discard()
		_ = ri.client.Del(ctx, staging).Err()
		return 0, err
	}

	if total == 0 {
		if err := ri.client.Del(ctx, ri.key).Err(); err != nil {
			return 0, fmt.Errorf("clear phone index: %w", err)
		}
		return 0, nil
	}
	if err := ri.client.Rename(ctx, staging, ri.key).Err(); err != nil {
		return 0, fmt.Errorf("swap phone index: %w", err)
	}

	log.WithFields(log.Fields{"key": ri.key, "entries": total}).Info("Phone: Imported index into Redis")
	return total, nil
}

func (ri *RedisIndex) Lookup(ctx context.Context, userID string) (string, bool, error) {
	phone, err := ri.client.HGet(ctx, ri.key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("phone lookup: %w", err)
	}
	return phone, true, nil
}

// Len returns the number of stored entries.
func (ri *RedisIndex) Len(ctx context.Context) (int64, error) {
	return ri.client.HLen(ctx, ri.key).Result()
}

func (ri *RedisIndex) Backend() string {
	return "redis"
}
