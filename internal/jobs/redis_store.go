package jobs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the latest job status in a Redis hash and appends every
// status change to a stream for downstream consumers.
type RedisStore struct {
	client    RedisPipelineClient
	stream    string
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// RedisPipelineClient is the minimal client surface used by RedisStore.
type RedisPipelineClient interface {
	Pipeline() RedisPipeliner
}

// RedisPipeliner is the subset of commands used within a pipeline.
type RedisPipeliner interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// NewRedisStore constructs a Redis-backed job status store.
func NewRedisStore(client RedisPipelineClient, stream string, ttl time.Duration, maxLen int64) *RedisStore {
	if stream == "" {
		stream = "scan_events"
	}
	return &RedisStore{
		client:    client,
		stream:    stream,
		keyPrefix: "job:",
		ttl:       ttl,
		maxLen:    maxLen,
	}
}

// Save writes the latest status and appends to the stream.
func (r *RedisStore) Save(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := r.keyPrefix + job.ID
	fields := map[string]any{
		"job_id":     job.ID,
		"state":      string(job.State),
		"avatar_url": job.AvatarURL,
		"message":    job.Message,
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"job_id": job.ID,
			"state":  string(job.State),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	_, err := pipe.Exec(ctx)
	return err
}
