package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	apns "github.com/mdigger/pushgate"
)

// DefaultSuppressTTL is how long a reported token stays suppressed when the
// Redis store is created without a TTL.
const DefaultSuppressTTL = 30 * 24 * time.Hour

const suppressedPrefix = "apns:token:suppressed:"

// Redis marks the tokens reported by the feedback service as suppressed for a
// limited time. The key holds the Unix time of the feedback record.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a store using client. A ttl of zero selects
// DefaultSuppressTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultSuppressTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// NewRedisURL connects to the server described by a redis:// URL.
func NewRedisURL(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedis(client, ttl), nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Save suppresses the tokens of the records.
func (r *Redis) Save(ctx context.Context, records []apns.FeedbackRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, record := range records {
			pipe.SetEX(ctx, suppressedPrefix+record.Token,
				strconv.FormatInt(record.Timestamp.Unix(), 10), r.ttl)
		}
		return nil
	})
	return err
}

// Suppress marks one token, for example after the gateway answered
// Unregistered.
func (r *Redis) Suppress(ctx context.Context, token string) error {
	key := suppressedPrefix + strings.ToLower(token)
	return r.client.SetEX(ctx, key, strconv.FormatInt(time.Now().Unix(), 10), r.ttl).Err()
}

// IsSuppressed returns true if the token is currently suppressed.
func (r *Redis) IsSuppressed(ctx context.Context, token string) (bool, error) {
	exists, err := r.client.Exists(ctx, suppressedPrefix+strings.ToLower(token)).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}
