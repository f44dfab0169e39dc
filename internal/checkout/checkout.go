package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Step identifies a phase of the checkout flow.
type Step int

const (
	StepReview Step = iota
	StepAddress
	StepPaymentMethod
	StepReviewOrder
	StepProcessingPayment
	StepSuccess
	StepFailed
	StepCancelled
)

// navigableSteps counts the steps reachable via NextStep/PreviousStep.
// The remaining steps are outcome states.
const navigableSteps = 4

func (s Step) String() string {
	switch s {
	case StepReview:
		return "review"
	case StepAddress:
		return "address"
	case StepPaymentMethod:
		return "payment_method"
	case StepReviewOrder:
		return "review_order"
	case StepProcessingPayment:
		return "processing_payment"
	case StepSuccess:
		return "success"
	case StepFailed:
		return "failed"
	case StepCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Terminal reports whether no user intent can move the flow forward
// except an explicit retry.
func (s Step) Terminal() bool {
	return s == StepSuccess || s == StepFailed || s == StepCancelled
}

// Item is a cart line: a product reference plus quantity.
type Item struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

// Address is a shipping destination.
type Address struct {
	Name    string `json:"name"`
	Line1   string `json:"line1"`
	City    string `json:"city"`
	Pincode string `json:"pincode"`
}

// Discount is a resolved promotional code.
type Discount struct {
	Code       string  `json:"code"`
	Percentage float64 `json:"percentage"`
}

// Order is the record produced by the order collaborator on success.
type Order struct {
	ID     string  `json:"id"`
	Total  float64 `json:"total"`
	Status string  `json:"status"`
}

var (
	// ErrEmptyCart signals NextStep from review with no items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrAddressRequired signals NextStep from address without a selection.
	ErrAddressRequired = errors.New("address required")
	// ErrPaymentMethodRequired signals NextStep without a payment method.
	ErrPaymentMethodRequired = errors.New("payment method required")
	// ErrNoNextStep signals NextStep from a step with no forward transition.
	ErrNoNextStep = errors.New("no next step from current step")
	// ErrInvalidCoupon signals an unknown discount code.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrRetryNotAllowed signals RetryPayment outside failed/cancelled.
	ErrRetryNotAllowed = errors.New("retry only allowed after failure or cancellation")
	// ErrOrderAlreadyPlaced signals PlaceOrder after the flow has left
	// review_order.
	ErrOrderAlreadyPlaced = errors.New("order already placed or checkout closed")
	// ErrCheckoutCancelled signals the flow was cancelled while a payment
	// attempt was in flight; the attempt's outcome is discarded.
	ErrCheckoutCancelled = errors.New("checkout cancelled")
)

// Machine drives a single checkout session through its linear steps.
// Step-entry preconditions are enforced on NextStep; validation failures
// are recorded on the machine and never advance the step. All methods are
// safe for concurrent use.
type Machine struct {
	mu sync.Mutex

	items    []Item
	address  *Address
	payment  string
	resolver DiscountResolver
	advice   RecommendationTable

	discount *Discount
	step     Step
	err      error
	recs     []string
	order    *Order

	client         OrderClient
	idempotencyKey string
}

// NewMachine constructs a Machine over a fixed cart. The default payment
// method is preselected, so the payment step's precondition holds as soon
// as the step is reached.
func NewMachine(items []Item, client OrderClient, resolver DiscountResolver, advice RecommendationTable) *Machine {
	if resolver == nil {
		resolver = DefaultDiscounts()
	}
	if advice == nil {
		advice = DefaultRecommendations()
	}
	return &Machine{
		items:          append([]Item(nil), items...),
		payment:        "card",
		resolver:       resolver,
		advice:         advice,
		client:         client,
		idempotencyKey: uuid.NewString(),
	}
}

// NextStep validates the current step's precondition and advances on
// success. On failure the step is unchanged and Err reports the reason.
func (m *Machine) NextStep() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.step {
	case StepReview:
		if len(m.items) == 0 {
			m.err = ErrEmptyCart
			return false
		}
	case StepAddress:
		if m.address == nil {
			m.err = ErrAddressRequired
			return false
		}
	case StepPaymentMethod:
		if m.payment == "" {
			m.err = ErrPaymentMethodRequired
			return false
		}
	default:
		// From review_order the forward action is PlaceOrder.
		m.err = ErrNoNextStep
		return false
	}

	m.step++
	m.err = nil
	return true
}

// PreviousStep moves one step back along the navigable index. No-op at
// review and outside the navigable steps.
func (m *Machine) PreviousStep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.step > StepReview && int(m.step) < navigableSteps {
		m.step--
		m.err = nil
	}
}

// SetAddress records the shipping address selected during the address step.
func (m *Machine) SetAddress(addr Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.address = &addr
}

// SelectPaymentMethod records the chosen payment method.
func (m *Machine) SelectPaymentMethod(method string) error {
	if method == "" {
		return ErrPaymentMethodRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payment = method
	return nil
}

// ApplyDiscount resolves the code against the injected table. A valid code
// replaces any current discount; reapplying the same code recomputes and
// does not stack. An invalid code clears the current discount and records
// ErrInvalidCoupon.
func (m *Machine) ApplyDiscount(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pct, ok := m.resolver.Resolve(code)
	if !ok {
		m.discount = nil
		m.err = ErrInvalidCoupon
		return false
	}

	m.discount = &Discount{Code: code, Percentage: pct}
	m.err = nil
	return true
}

// RemoveDiscount clears any applied discount. Always succeeds.
func (m *Machine) RemoveDiscount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discount = nil
}

// PlaceOrder submits the order from review_order and blocks until the
// collaborator reports an outcome. Success moves the flow to success with
// the created order; failure moves it to failed with recommendations.
// Calling PlaceOrder at any other step is a caller contract violation and
// panics.
func (m *Machine) PlaceOrder(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.step == StepReviewOrder:
	case m.step < StepReviewOrder:
		// Submitting before the flow reaches review_order is a caller
		// bug, not a runtime condition.
		step := m.step
		m.mu.Unlock()
		panic(fmt.Sprintf("checkout: PlaceOrder called at step %q", step))
	default:
		m.mu.Unlock()
		return ErrOrderAlreadyPlaced
	}
	m.step = StepProcessingPayment
	m.err = nil
	req := m.orderRequestLocked()
	m.mu.Unlock()

	return m.submit(ctx, req)
}

// RetryPayment re-enters processing_payment from failed or cancelled and
// resubmits under the same idempotency key.
func (m *Machine) RetryPayment(ctx context.Context) error {
	m.mu.Lock()
	if m.step != StepFailed && m.step != StepCancelled {
		m.mu.Unlock()
		return ErrRetryNotAllowed
	}
	m.step = StepProcessingPayment
	m.err = nil
	m.recs = nil
	req := m.orderRequestLocked()
	m.mu.Unlock()

	return m.submit(ctx, req)
}

// CancelCheckout moves any non-terminal step to cancelled. Returns false
// once a terminal step has been reached.
func (m *Machine) CancelCheckout() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.step.Terminal() {
		return false
	}
	m.step = StepCancelled
	return true
}

func (m *Machine) submit(ctx context.Context, req OrderRequest) error {
	order, err := m.client.CreateOrder(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()

	// The session may have been cancelled while the collaborator was in
	// flight; the losing outcome must not overwrite the cancellation.
	if m.step != StepProcessingPayment {
		return ErrCheckoutCancelled
	}

	if err != nil {
		m.step = StepFailed
		m.err = err
		m.recs = m.advice.For(err)
		return err
	}

	m.step = StepSuccess
	m.order = &order
	return nil
}

func (m *Machine) orderRequestLocked() OrderRequest {
	req := OrderRequest{
		IdempotencyKey: m.idempotencyKey,
		Items:          append([]Item(nil), m.items...),
		PaymentMethod:  m.payment,
		Subtotal:       itemsSubtotal(m.items),
	}
	if m.address != nil {
		req.Address = *m.address
	}
	if m.discount != nil {
		req.DiscountCode = m.discount.Code
		req.DiscountAmount = req.Subtotal * m.discount.Percentage
	}
	req.Total = req.Subtotal - req.DiscountAmount
	return req
}

// Step returns the current step.
func (m *Machine) Step() Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// Err returns the last validation or processing error, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Items returns a copy of the cart lines.
func (m *Machine) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Item(nil), m.items...)
}

// SelectedAddress returns the chosen address, if set.
func (m *Machine) SelectedAddress() (Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.address == nil {
		return Address{}, false
	}
	return *m.address, true
}

// PaymentMethod returns the selected payment method.
func (m *Machine) PaymentMethod() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payment
}

// AppliedDiscount returns the active discount, if any.
func (m *Machine) AppliedDiscount() (Discount, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discount == nil {
		return Discount{}, false
	}
	return *m.discount, true
}

// CreatedOrder returns the order recorded on success.
func (m *Machine) CreatedOrder() (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.order == nil {
		return Order{}, false
	}
	return *m.order, true
}

// Recommendations returns user-facing suggestions for the last payment
// failure.
func (m *Machine) Recommendations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.recs...)
}

// Subtotal is the sum of unit price times quantity over the cart.
func (m *Machine) Subtotal() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return itemsSubtotal(m.items)
}

// DiscountAmount is subtotal times the applied percentage, zero without a
// discount.
func (m *Machine) DiscountAmount() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discountAmountLocked()
}

// Total is subtotal minus discount.
func (m *Machine) Total() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return itemsSubtotal(m.items) - m.discountAmountLocked()
}

// QuoteWith prices the current cart using the given pricing variant.
func (m *Machine) QuoteWith(p Pricer) Quote {
	m.mu.Lock()
	items := append([]Item(nil), m.items...)
	discount := m.discount
	m.mu.Unlock()
	return p.Quote(items, discount)
}

func (m *Machine) discountAmountLocked() float64 {
	if m.discount == nil {
		return 0
	}
	return itemsSubtotal(m.items) * m.discount.Percentage
}

func itemsSubtotal(items []Item) float64 {
	var sum float64
	for _, it := range items {
		sum += it.UnitPrice * float64(it.Quantity)
	}
	return sum
}
