package main

import (
	"context"
	"time"

	"fitroom/cmd/server/config"
	"fitroom/internal/jobs"

	"github.com/redis/go-redis/v9"
)

// buildJobStore assembles the job status store. Jobs always land in memory
// so GET /jobs works without infrastructure; when REDIS_URL is set the
// latest status is mirrored into Redis and appended to a stream.
func buildJobStore(ctx context.Context, memory *jobs.MemoryStore) (jobs.Store, func(), error) {
	cfg, enabled, err := config.LoadRedis()
	if err != nil {
		return nil, nil, err
	}
	if !enabled {
		return memory, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)

	pingCtx := ctx
	if pingCtx == nil {
		pingCtx = context.Background()
	}
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(pingCtx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	redisStore := jobs.NewRedisStore(redisClientAdapter{client: client}, cfg.Stream, cfg.JobTTL, cfg.StreamMaxLen)
	store := jobs.NewMultiStore(memory, redisStore)
	cleanup := func() {
		_ = client.Close()
	}
	return store, cleanup, nil
}

type redisClientAdapter struct {
	client *redis.Client
}

func (a redisClientAdapter) Pipeline() jobs.RedisPipeliner {
	return redisPipelineAdapter{pipe: a.client.Pipeline()}
}

type redisPipelineAdapter struct {
	pipe redis.Pipeliner
}

func (p redisPipelineAdapter) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	return p.pipe.HSet(ctx, key, values...)
}

func (p redisPipelineAdapter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return p.pipe.Expire(ctx, key, expiration)
}

func (p redisPipelineAdapter) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	return p.pipe.XAdd(ctx, a)
}

func (p redisPipelineAdapter) Exec(ctx context.Context) ([]redis.Cmder, error) {
	return p.pipe.Exec(ctx)
}
