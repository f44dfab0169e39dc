package checkoutdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrIdempotencyConflict signals an idempotency key reused with a
// different payload.
var ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")

// OrderRecord is a stored order row.
type OrderRecord struct {
	OrderID        string
	IdempotencyKey string
	PaymentMethod  string
	DiscountCode   string
	Subtotal       float64
	DiscountAmount float64
	Total          float64
	ItemCount      int
	Status         string
}

// OrderStore persists confirmed orders in Postgres.
type OrderStore struct {
	db    *sql.DB
	newID func() string
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{
		db:    db,
		newID: func() string { return "order-" + uuid.NewString() },
	}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the orders table if it does not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			idempotency_key TEXT UNIQUE NOT NULL,
			payment_method TEXT NOT NULL,
			discount_code TEXT,
			subtotal DOUBLE PRECISION NOT NULL,
			discount_amount DOUBLE PRECISION NOT NULL,
			total DOUBLE PRECISION NOT NULL,
			item_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Create inserts a new order or returns the existing one for the
// idempotency key. A reused key with a different total is rejected.
func (s *OrderStore) Create(ctx context.Context, rec OrderRecord) (OrderRecord, error) {
	if rec.IdempotencyKey == "" {
		return OrderRecord{}, fmt.Errorf("idempotency key required")
	}
	if rec.OrderID == "" {
		rec.OrderID = s.newID()
	}
	if rec.Status == "" {
		rec.Status = "confirmed"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, idempotency_key, payment_method, discount_code, subtotal, discount_amount, total, item_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		rec.OrderID, rec.IdempotencyKey, rec.PaymentMethod, rec.DiscountCode,
		rec.Subtotal, rec.DiscountAmount, rec.Total, rec.ItemCount, rec.Status,
	)
	if err != nil {
		return OrderRecord{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, payment_method, discount_code, subtotal, discount_amount, total, item_count, status
		FROM orders
		WHERE idempotency_key = $1`,
		rec.IdempotencyKey,
	)

	var stored OrderRecord
	stored.IdempotencyKey = rec.IdempotencyKey
	var discountCode sql.NullString
	if err := row.Scan(&stored.OrderID, &stored.PaymentMethod, &discountCode,
		&stored.Subtotal, &stored.DiscountAmount, &stored.Total, &stored.ItemCount, &stored.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OrderRecord{}, fmt.Errorf("order not found after insert")
		}
		return OrderRecord{}, err
	}
	stored.DiscountCode = discountCode.String

	if stored.Total != rec.Total {
		return OrderRecord{}, ErrIdempotencyConflict
	}

	return stored, nil
}

// Get returns a stored order by id.
func (s *OrderStore) Get(ctx context.Context, orderID string) (OrderRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, idempotency_key, payment_method, discount_code, subtotal, discount_amount, total, item_count, status
		FROM orders
		WHERE order_id = $1`,
		orderID,
	)

	var rec OrderRecord
	var discountCode sql.NullString
	if err := row.Scan(&rec.OrderID, &rec.IdempotencyKey, &rec.PaymentMethod, &discountCode,
		&rec.Subtotal, &rec.DiscountAmount, &rec.Total, &rec.ItemCount, &rec.Status); err != nil {
		return OrderRecord{}, err
	}
	rec.DiscountCode = discountCode.String
	return rec, nil
}
