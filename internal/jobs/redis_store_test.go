package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisStore_WritesHashAndStream(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	client := &stubRedisClient{pipe: pipe}
	store := NewRedisStore(client, "scan_events", 0, 0)

	job := Job{
		ID:        "job-1",
		State:     StateRunning,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	if err := store.Save(context.Background(), job); err != nil {
		t.Fatalf("save: %v", err)
	}

	if len(pipe.hsets) != 1 {
		t.Fatalf("expected 1 HSET, got %d", len(pipe.hsets))
	}
	if pipe.hsets[0].key != "job:job-1" {
		t.Fatalf("unexpected hash key %q", pipe.hsets[0].key)
	}

	hash := toMap(pipe.hsets[0].values)
	if hash["job_id"] != "job-1" || hash["state"] != "running" {
		t.Fatalf("unexpected hash values: %+v", hash)
	}

	if len(pipe.xadds) != 1 {
		t.Fatalf("expected 1 XADD, got %d", len(pipe.xadds))
	}
	if pipe.xadds[0].Stream != "scan_events" {
		t.Fatalf("unexpected stream %q", pipe.xadds[0].Stream)
	}

	if !pipe.execCalled {
		t.Fatalf("expected Exec to be called")
	}
}

func TestRedisStore_TTLMaxLenAndDefaultStream(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	client := &stubRedisClient{pipe: pipe}
	store := NewRedisStore(client, "", time.Minute, 100)

	job := Job{ID: "job-ttl", State: StateQueued, CreatedAt: time.Now()}
	if err := store.Save(context.Background(), job); err != nil {
		t.Fatalf("save: %v", err)
	}

	if pipe.expirations["job:job-ttl"] != time.Minute {
		t.Fatalf("unexpected ttl: %v", pipe.expirations["job:job-ttl"])
	}
	if pipe.xadds[0].Stream != "scan_events" {
		t.Fatalf("expected default stream, got %q", pipe.xadds[0].Stream)
	}
	if pipe.xadds[0].MaxLen != 100 || !pipe.xadds[0].Approx {
		t.Fatalf("expected maxlen settings applied, got %+v", pipe.xadds[0])
	}
}

func TestRedisStore_RespectsCanceledContext(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	client := &stubRedisClient{pipe: pipe}
	store := NewRedisStore(client, "scan_events", 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Save(ctx, Job{ID: "job-cancel"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if pipe.execCalled || len(pipe.hsets) > 0 {
		t.Fatalf("expected no writes when context canceled")
	}
}

func TestRedisStore_AgainstRealCommands(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(liveRedisClient{client: client}, "scan_events", time.Minute, 100)
	job := Job{
		ID:        "job-live",
		State:     StateSucceeded,
		AvatarURL: "https://cdn.example.com/job-live.glb",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	if err := store.Save(context.Background(), job); err != nil {
		t.Fatalf("save: %v", err)
	}

	if got := mr.HGet("job:job-live", "state"); got != "succeeded" {
		t.Fatalf("state in hash = %q", got)
	}
	if got := mr.HGet("job:job-live", "avatar_url"); got != job.AvatarURL {
		t.Fatalf("avatar_url in hash = %q", got)
	}
	if ttl := mr.TTL("job:job-live"); ttl != time.Minute {
		t.Fatalf("ttl = %v, want 1m", ttl)
	}

	entries, err := client.XRange(context.Background(), "scan_events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(entries))
	}
	if entries[0].Values["job_id"] != "job-live" {
		t.Fatalf("unexpected stream entry: %+v", entries[0].Values)
	}
}

type liveRedisClient struct {
	client *redis.Client
}

func (c liveRedisClient) Pipeline() RedisPipeliner { return livePipeline{pipe: c.client.Pipeline()} }

type livePipeline struct {
	pipe redis.Pipeliner
}

func (p livePipeline) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	return p.pipe.HSet(ctx, key, values...)
}

func (p livePipeline) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	return p.pipe.Expire(ctx, key, ttl)
}

func (p livePipeline) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	return p.pipe.XAdd(ctx, a)
}

func (p livePipeline) Exec(ctx context.Context) ([]redis.Cmder, error) {
	return p.pipe.Exec(ctx)
}

type stubRedisClient struct {
	pipe *stubPipeline
}

func (s *stubRedisClient) Pipeline() RedisPipeliner { return s.pipe }

type stubPipeline struct {
	hsets []struct {
		key    string
		values []any
	}
	expirations map[string]time.Duration
	xadds       []redis.XAddArgs
	execCalled  bool
	execErr     error
}

func (s *stubPipeline) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	s.hsets = append(s.hsets, struct {
		key    string
		values []any
	}{key: key, values: values})
	return redis.NewIntCmd(context.Background())
}

func (s *stubPipeline) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	if s.expirations == nil {
		s.expirations = map[string]time.Duration{}
	}
	s.expirations[key] = ttl
	return redis.NewBoolCmd(context.Background())
}

func (s *stubPipeline) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	s.xadds = append(s.xadds, *a)
	return redis.NewStringCmd(context.Background())
}

func (s *stubPipeline) Exec(_ context.Context) ([]redis.Cmder, error) {
	s.execCalled = true
	return nil, s.execErr
}

func toMap(args []any) map[string]any {
	if len(args) == 0 {
		return map[string]any{}
	}
	if m, ok := args[0].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
