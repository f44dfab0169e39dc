package config

import (
	"testing"
	"time"
)

func clearRedisEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"REDIS_URL", "REDIS_STREAM",
		"REDIS_DIAL_TIMEOUT", "REDIS_READ_TIMEOUT", "REDIS_WRITE_TIMEOUT",
		"REDIS_POOL_SIZE", "REDIS_MIN_IDLE_CONNS", "REDIS_MAX_RETRIES",
		"REDIS_HEALTHCHECK_TIMEOUT", "REDIS_JOB_TTL", "REDIS_STREAM_MAXLEN",
		"REDIS_TLS_CA_FILE", "REDIS_TLS_CERT_FILE", "REDIS_TLS_KEY_FILE",
		"REDIS_TLS_SERVER_NAME", "REDIS_TLS_INSECURE_SKIP_VERIFY",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadRedis_DisabledWithoutURL(t *testing.T) {
	clearRedisEnv(t)

	_, enabled, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enabled {
		t.Fatalf("expected redis disabled without REDIS_URL")
	}
}

func TestLoadRedis_RequiredFields(t *testing.T) {
	clearRedisEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	if _, _, err := LoadRedis(); err == nil {
		t.Fatalf("expected error for missing required fields")
	}

	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "2s")
	t.Setenv("REDIS_JOB_TTL", "1h")
	t.Setenv("REDIS_STREAM_MAXLEN", "1000")
	t.Setenv("REDIS_STREAM", "scan_events")

	cfg, enabled, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !enabled {
		t.Fatalf("expected redis enabled")
	}
	if cfg.HealthcheckTimeout != 2*time.Second {
		t.Fatalf("HealthcheckTimeout = %v", cfg.HealthcheckTimeout)
	}
	if cfg.JobTTL != time.Hour {
		t.Fatalf("JobTTL = %v", cfg.JobTTL)
	}
	if cfg.StreamMaxLen != 1000 {
		t.Fatalf("StreamMaxLen = %d", cfg.StreamMaxLen)
	}
	if cfg.Stream != "scan_events" {
		t.Fatalf("Stream = %q", cfg.Stream)
	}
}

func TestLoadRedis_OptionalTuning(t *testing.T) {
	clearRedisEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "2s")
	t.Setenv("REDIS_JOB_TTL", "1h")
	t.Setenv("REDIS_STREAM_MAXLEN", "1000")
	t.Setenv("REDIS_POOL_SIZE", "20")
	t.Setenv("REDIS_DIAL_TIMEOUT", "500ms")

	cfg, _, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PoolSize == nil || *cfg.PoolSize != 20 {
		t.Fatalf("PoolSize = %v", cfg.PoolSize)
	}
	if cfg.DialTimeout == nil || *cfg.DialTimeout != 500*time.Millisecond {
		t.Fatalf("DialTimeout = %v", cfg.DialTimeout)
	}
	if cfg.MaxRetries != nil {
		t.Fatalf("unset optional should stay nil")
	}
}

func TestLoadRedis_TLSCertWithoutKeyFails(t *testing.T) {
	clearRedisEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "2s")
	t.Setenv("REDIS_JOB_TTL", "1h")
	t.Setenv("REDIS_STREAM_MAXLEN", "1000")
	t.Setenv("REDIS_TLS_CERT_FILE", "/tmp/cert.pem")

	if _, _, err := LoadRedis(); err == nil {
		t.Fatalf("expected error for cert without key")
	}
}

func TestLoadHTTP(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("HTTP_RATE_LIMIT_PER_SECOND", "50")
	t.Setenv("HTTP_RATE_LIMIT_BURST", "25")

	cfg, err := LoadHTTP()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.RateLimitPerSecond != 50 {
		t.Fatalf("RateLimitPerSecond = %v", cfg.RateLimitPerSecond)
	}
	if cfg.RateLimitBurst != 25 {
		t.Fatalf("RateLimitBurst = %d", cfg.RateLimitBurst)
	}
}

func TestLoadHTTP_MissingAddr(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")

	if _, err := LoadHTTP(); err == nil {
		t.Fatalf("expected error for missing HTTP_ADDR")
	}
}

func TestLoadJobs(t *testing.T) {
	t.Setenv("JOBS_JOURNAL_PATH", "/var/lib/fitroom/outcomes.jsonl")
	t.Setenv("JOBS_STUB_RUN_DELAY", "250ms")

	cfg, err := LoadJobs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.JournalPath != "/var/lib/fitroom/outcomes.jsonl" {
		t.Fatalf("JournalPath = %q", cfg.JournalPath)
	}
	if cfg.StubRunDelay != 250*time.Millisecond {
		t.Fatalf("StubRunDelay = %v", cfg.StubRunDelay)
	}
}

func TestLoadJobs_Defaults(t *testing.T) {
	t.Setenv("JOBS_JOURNAL_PATH", "")
	t.Setenv("JOBS_STUB_RUN_DELAY", "")

	cfg, err := LoadJobs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.JournalPath != "" || cfg.StubRunDelay != 0 {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}
