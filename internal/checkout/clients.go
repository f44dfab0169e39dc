package checkout

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Known payment failure categories reported by order collaborators.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCardDeclined      = errors.New("card declined")
	ErrPaymentNetwork    = errors.New("payment network unavailable")
)

// OrderRequest carries everything the order collaborator needs to create
// an order from a completed checkout.
type OrderRequest struct {
	IdempotencyKey string
	Items          []Item
	Address        Address
	PaymentMethod  string
	DiscountCode   string
	Subtotal       float64
	DiscountAmount float64
	Total          float64
}

// OrderClient creates an order and collects payment for it.
type OrderClient interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
}

// NewInMemoryOrderClient constructs an in-memory order client.
func NewInMemoryOrderClient() *InMemoryOrderClient {
	return &InMemoryOrderClient{
		orders: make(map[string]Order),
		byKey:  make(map[string]string),
		newID:  func() string { return "order-" + uuid.NewString() },
	}
}

// InMemoryOrderClient records orders in memory. Requests reusing an
// idempotency key return the previously created order.
type InMemoryOrderClient struct {
	mu     sync.Mutex
	orders map[string]Order
	byKey  map[string]string
	newID  func() string
	err    error
}

// FailWith makes subsequent CreateOrder calls return err. Passing nil
// restores normal behavior.
func (c *InMemoryOrderClient) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *InMemoryOrderClient) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return Order{}, c.err
	}

	if id, ok := c.byKey[req.IdempotencyKey]; ok {
		return c.orders[id], nil
	}

	order := Order{
		ID:     c.newID(),
		Total:  req.Total,
		Status: "confirmed",
	}
	c.orders[order.ID] = order
	if req.IdempotencyKey != "" {
		c.byKey[req.IdempotencyKey] = order.ID
	}
	return order, nil
}

// Order returns a recorded order by id (for testing/inspection).
func (c *InMemoryOrderClient) Order(id string) (Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[id]
	return order, ok
}

// NoopOrderClient is a stub OrderClient that always succeeds with an empty
// order.
type NoopOrderClient struct{}

func (NoopOrderClient) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	return Order{ID: "noop", Total: req.Total, Status: "confirmed"}, nil
}
