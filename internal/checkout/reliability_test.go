package checkout

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubOrderClient struct {
	errs  []error
	calls int
}

func (s *stubOrderClient) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return Order{}, s.errs[s.calls-1]
	}
	return Order{ID: "order-1", Total: req.Total, Status: "confirmed"}, nil
}

func TestRetryPolicy_RetriesWithBackoff(t *testing.T) {
	attempts := 0
	var delays []time.Duration

	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
		ShouldRetry: func(error) bool { return true },
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 || delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Fatalf("unexpected delays: %v", delays)
	}
}

func TestRetryPolicy_DefaultRetriesOnlyNetworkFailures(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		return ErrCardDeclined
	})
	if !errors.Is(err, ErrCardDeclined) {
		t.Fatalf("expected ErrCardDeclined, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("payment rejection must not be retried, got %d attempts", attempts)
	}

	attempts = 0
	err = policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return ErrPaymentNetwork
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected network failure retried, got %d attempts", attempts)
	}
}

func TestCircuitBreaker_OpensAndResets(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0

	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Second,
		Now:          func() time.Time { return now },
	})

	fail := func() error {
		calls++
		return errors.New("fail")
	}

	if err := breaker.Execute(fail); err == nil {
		t.Fatalf("expected failure")
	}
	if err := breaker.Execute(fail); err == nil {
		t.Fatalf("expected failure")
	}

	if err := breaker.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}

	now = now.Add(2 * time.Second)

	if err := breaker.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected breaker to allow trial, got %v", err)
	}
	if err := breaker.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected breaker to close, got %v", err)
	}

	if calls != 2 {
		t.Fatalf("expected 2 failed calls, got %d", calls)
	}
}

func TestReliableOrderClient_Retries(t *testing.T) {
	base := &stubOrderClient{errs: []error{ErrPaymentNetwork, nil}}
	policy := RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   1 * time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}

	client := NewReliableOrderClient(base, nil, nil, policy)
	order, err := client.CreateOrder(context.Background(), OrderRequest{Total: 9.99})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", base.calls)
	}
	if order.Total != 9.99 {
		t.Fatalf("order total = %v, want 9.99", order.Total)
	}
}

func TestReliableOrderClient_CircuitOpen(t *testing.T) {
	base := &stubOrderClient{errs: []error{errors.New("fail"), nil}}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          func() time.Time { return now },
	})
	policy := RetryPolicy{
		MaxAttempts: 1,
		ShouldRetry: func(error) bool { return false },
	}

	client := NewReliableOrderClient(base, nil, breaker, policy)
	if _, err := client.CreateOrder(context.Background(), OrderRequest{}); err == nil {
		t.Fatalf("expected failure")
	}
	if _, err := client.CreateOrder(context.Background(), OrderRequest{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("expected 1 call, got %d", base.calls)
	}
}
