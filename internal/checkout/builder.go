package checkout

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	checkoutdb "fitroom/internal/checkout/db"

	"golang.org/x/time/rate"
)

// BuildOrderClient wires an OrderClient from config (Postgres DSN and
// logger). If the DSN is empty or initialization fails, it falls back to
// in-memory orders. When the ORDER_RETRY_* env vars are set the client is
// wrapped with retry, breaker and rate limit controls. The returned
// cleanup closes any external resources.
func BuildOrderClient(ctx context.Context, dsn string, logf func(format string, args ...any)) (OrderClient, func()) {
	if logf == nil {
		logf = log.Printf
	}

	cleanup := func() {}
	var client OrderClient = NewInMemoryOrderClient()

	if dsn != "" {
		sqlDB, err := sql.Open("pgx", dsn)
		if err != nil {
			logf("postgres open failed, falling back to in-memory orders: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			store, err := checkoutdb.NewOrderStoreWithSchema(setupCtx, sqlDB)
			if err != nil {
				logf("postgres init failed, falling back to in-memory orders: %v", err)
				_ = sqlDB.Close()
			} else {
				logf("postgres orders enabled")
				client = &storeOrderClient{store: store}
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logf("close postgres: %v", err)
					}
				}
			}
		}
	}

	if strings.TrimSpace(os.Getenv("ORDER_RETRY_MAX_ATTEMPTS")) != "" {
		cfg, err := loadReliabilityConfigFromEnv()
		if err != nil {
			logf("reliability config invalid, using unwrapped order client: %v", err)
			return client, cleanup
		}
		client = NewReliableOrderClient(
			client,
			rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
			NewCircuitBreaker(CircuitBreakerConfig{
				MaxFailures:  cfg.BreakerMaxFailures,
				ResetTimeout: cfg.BreakerResetTimeout,
			}),
			RetryPolicy{
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseDelay:   cfg.RetryBaseDelay,
				MaxDelay:    cfg.RetryMaxDelay,
			},
		)
	}

	return client, cleanup
}

// storeOrderClient adapts the Postgres order store to the OrderClient
// interface.
type storeOrderClient struct {
	store *checkoutdb.OrderStore
}

func (c *storeOrderClient) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	rec, err := c.store.Create(ctx, checkoutdb.OrderRecord{
		IdempotencyKey: req.IdempotencyKey,
		PaymentMethod:  req.PaymentMethod,
		DiscountCode:   req.DiscountCode,
		Subtotal:       req.Subtotal,
		DiscountAmount: req.DiscountAmount,
		Total:          req.Total,
		ItemCount:      len(req.Items),
	})
	if err != nil {
		return Order{}, err
	}
	return Order{ID: rec.OrderID, Total: rec.Total, Status: rec.Status}, nil
}
