package checkout

// DiscountResolver looks up a promotional code and returns its percentage
// as a fraction of subtotal.
type DiscountResolver interface {
	Resolve(code string) (float64, bool)
}

// StaticDiscounts is an immutable code table injected at construction.
type StaticDiscounts map[string]float64

func (d StaticDiscounts) Resolve(code string) (float64, bool) {
	pct, ok := d[code]
	return pct, ok
}

// DefaultDiscounts returns the promotional codes currently running.
func DefaultDiscounts() StaticDiscounts {
	return StaticDiscounts{
		"WELCOME10": 0.10,
		"FESTIVE20": 0.20,
		"TRYON5":    0.05,
	}
}
