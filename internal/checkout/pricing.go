package checkout

// Quote is a priced view of a cart.
type Quote struct {
	Subtotal       float64 `json:"subtotal"`
	DiscountAmount float64 `json:"discount_amount"`
	Tax            float64 `json:"tax"`
	Shipping       float64 `json:"shipping"`
	Total          float64 `json:"total"`
}

// Pricer computes a Quote for a cart and an optional discount. Two pricing
// variants coexist behind this interface; callers choose one, the machine
// does not reconcile them.
type Pricer interface {
	Quote(items []Item, discount *Discount) Quote
}

// FlatPricer charges subtotal minus discount with no tax or shipping.
// This matches the machine's own derived totals.
type FlatPricer struct{}

func (FlatPricer) Quote(items []Item, discount *Discount) Quote {
	q := Quote{Subtotal: itemsSubtotal(items)}
	if discount != nil {
		q.DiscountAmount = q.Subtotal * discount.Percentage
	}
	q.Total = q.Subtotal - q.DiscountAmount
	return q
}

// GSTPricer applies GST on the discounted subtotal and a flat shipping fee
// waived once the discounted subtotal crosses the free-shipping threshold.
type GSTPricer struct {
	Rate              float64
	ShippingFee       float64
	FreeShippingAbove float64
}

// NewGSTPricer returns the variant observed in production: 18% GST, a 49
// shipping fee waived above 999.
func NewGSTPricer() GSTPricer {
	return GSTPricer{
		Rate:              0.18,
		ShippingFee:       49,
		FreeShippingAbove: 999,
	}
}

func (p GSTPricer) Quote(items []Item, discount *Discount) Quote {
	q := Quote{Subtotal: itemsSubtotal(items)}
	if discount != nil {
		q.DiscountAmount = q.Subtotal * discount.Percentage
	}

	base := q.Subtotal - q.DiscountAmount
	q.Tax = base * p.Rate
	if base < p.FreeShippingAbove {
		q.Shipping = p.ShippingFee
	}
	q.Total = base + q.Tax + q.Shipping
	return q
}
